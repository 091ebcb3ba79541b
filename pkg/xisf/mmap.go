package xisf

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile is a read-only memory mapping of an input file.
type mappedFile struct {
	data []byte
}

func mapFile(f *os.File, size int64) (*mappedFile, error) {
	if size <= 0 || size > int64(int(^uint(0)>>1)) {
		return nil, errors.New("file size not mappable")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
