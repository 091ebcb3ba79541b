package xisf

import (
	"bytes"
	"fmt"
	"io"
)

// blockState tracks what part of an input block is resident in memory.
type blockState uint8

const (
	blockEmpty      blockState = iota // no payload
	blockUnloaded                     // attachment, nothing resident
	blockCompressed                   // compressed subblocks resident
	blockLoaded                       // uncompressed little-endian data resident
)

func (s blockState) String() string {
	switch s {
	case blockUnloaded:
		return "unloaded"
	case blockCompressed:
		return "compressed"
	case blockLoaded:
		return "loaded"
	}
	return "empty"
}

type subblockInfo struct {
	compressedSize   uint64
	uncompressedSize uint64
}

// inputBlock is a data block of an input unit. Payloads are loaded on
// demand and may be dropped again with unload.
type inputBlock struct {
	state    blockState
	position uint64 // nonzero for attachments
	size     uint64 // stored size: file bytes or decoded inline bytes

	codec    Codec
	itemSize int // shuffle item size
	subInfo  []subblockInfo

	checksum Checksum
	verified bool

	bigEndian bool
	unitSize  int // byte order conversion unit

	data []byte     // blockLoaded
	sub  []Subblock // blockCompressed
}

func (b *inputBlock) isAttachment() bool { return b.position > 0 }

func (b *inputBlock) isCompressed() bool { return b.codec != CodecNone }

func (b *inputBlock) isEmpty() bool { return b.state == blockEmpty }

// dataSize is the uncompressed payload size.
func (b *inputBlock) dataSize() uint64 {
	switch {
	case b.state == blockEmpty:
		return 0
	case b.state == blockLoaded:
		return uint64(len(b.data))
	case b.isCompressed():
		var n uint64
		for _, si := range b.subInfo {
			n += si.uncompressedSize
		}
		return n
	}
	return b.size
}

// setInline installs decoded inline or embedded data. Compressed data is
// split into its subblocks; plain data is verified and converted to
// little-endian right away.
func (b *inputBlock) setInline(data []byte) error {
	b.size = uint64(len(data))
	if len(data) == 0 {
		b.state = blockEmpty
		return nil
	}
	if !b.isCompressed() {
		if err := b.verifyResident(data); err != nil {
			return err
		}
		b.data = data
		b.applyByteOrder(b.data)
		b.state = blockLoaded
		return nil
	}
	if len(b.subInfo) == 1 && b.subInfo[0].compressedSize == 0 {
		b.subInfo[0].compressedSize = uint64(len(data))
	}
	var off uint64
	b.sub = b.sub[:0]
	for _, si := range b.subInfo {
		if off+si.compressedSize > uint64(len(data)) {
			return fmt.Errorf("%w: invalid or corrupted compressed block data", ErrCorruptFile)
		}
		b.sub = append(b.sub, Subblock{Data: data[off : off+si.compressedSize], UncompressedSize: si.uncompressedSize})
		off += si.compressedSize
	}
	if err := b.verifyResident(data); err != nil {
		return err
	}
	b.state = blockCompressed
	return nil
}

func (b *inputBlock) verifyResident(stored []byte) error {
	if b.checksum.Algorithm == ChecksumNone || b.verified {
		return nil
	}
	b.verified = true
	return b.checksum.verify(stored)
}

// verify checks the checksum of the stored bytes once per block.
func (b *inputBlock) verify(src io.ReaderAt) error {
	if b.checksum.Algorithm == ChecksumNone || b.verified {
		return nil
	}
	switch {
	case b.isAttachment():
		h := b.checksum.Algorithm.newHash()
		if _, err := io.Copy(h, io.NewSectionReader(src, int64(b.position), int64(b.size))); err != nil {
			return fmt.Errorf("read block: %w", err)
		}
		b.verified = true
		if got := h.Sum(nil); !bytes.Equal(got, b.checksum.Digest) {
			return fmt.Errorf("%w: Block %s checksum mismatch: Expected %x, got %x",
				ErrChecksumMismatch, b.checksum.Algorithm, b.checksum.Digest, got)
		}
		return nil
	case b.state == blockCompressed:
		parts := make([][]byte, len(b.sub))
		for i, sb := range b.sub {
			parts[i] = sb.Data
		}
		b.verified = true
		return b.checksum.verify(parts...)
	}
	return nil
}

// load makes the uncompressed payload resident. It reports whether this
// call read or decompressed anything.
func (b *inputBlock) load(src io.ReaderAt) (bool, error) {
	switch b.state {
	case blockEmpty:
		return false, fmt.Errorf("%w: empty data block", ErrInvalidAccess)
	case blockLoaded:
		return false, nil
	}
	if err := b.verify(src); err != nil {
		return false, err
	}
	if b.state == blockUnloaded {
		if b.isCompressed() {
			if err := b.loadCompressed(src); err != nil {
				return false, err
			}
		} else {
			data := make([]byte, b.size)
			if _, err := src.ReadAt(data, int64(b.position)); err != nil {
				return false, fmt.Errorf("read block at %d: %w", b.position, err)
			}
			b.applyByteOrder(data)
			b.data = data
			b.state = blockLoaded
			return true, nil
		}
	}
	data, err := Decompress(b.codec, b.itemSize, b.sub)
	if err != nil {
		return false, err
	}
	b.applyByteOrder(data)
	b.data = data
	b.sub = nil
	b.state = blockLoaded
	return true, nil
}

func (b *inputBlock) loadCompressed(src io.ReaderAt) error {
	off := int64(b.position)
	b.sub = make([]Subblock, 0, len(b.subInfo))
	for _, si := range b.subInfo {
		d := make([]byte, si.compressedSize)
		if _, err := src.ReadAt(d, off); err != nil {
			return fmt.Errorf("read compressed subblock at %d: %w", off, err)
		}
		b.sub = append(b.sub, Subblock{Data: d, UncompressedSize: si.uncompressedSize})
		off += int64(si.compressedSize)
	}
	if len(b.sub) == 0 {
		return fmt.Errorf("%w: invalid or corrupted compressed subblock data", ErrCorruptFile)
	}
	b.state = blockCompressed
	return nil
}

// readAt copies len(dst) uncompressed bytes starting at off. Compressed
// attachments must be loaded first.
func (b *inputBlock) readAt(src io.ReaderAt, dst []byte, off uint64) error {
	if b.state == blockEmpty {
		return fmt.Errorf("%w: empty data block", ErrInvalidAccess)
	}
	if b.state == blockUnloaded && b.isCompressed() {
		return ErrIncrementalCompressed
	}
	if b.state == blockCompressed {
		if _, err := b.load(src); err != nil {
			return err
		}
	}
	if off+uint64(len(dst)) > b.dataSize() {
		return fmt.Errorf("%w: read of %d bytes at %d exceeds block size %d", ErrInvalidAccess, len(dst), off, b.dataSize())
	}
	if b.state == blockLoaded {
		copy(dst, b.data[off:])
		return nil
	}
	if err := b.verify(src); err != nil {
		return err
	}
	if _, err := src.ReadAt(dst, int64(b.position+off)); err != nil {
		return fmt.Errorf("read block at %d: %w", b.position+off, err)
	}
	b.applyByteOrder(dst)
	return nil
}

// unload drops resident attachment data. Inline payloads come from the
// header and stay resident.
func (b *inputBlock) unload() {
	if !b.isAttachment() || b.state == blockEmpty {
		return
	}
	b.data = nil
	b.sub = nil
	b.state = blockUnloaded
}

func (b *inputBlock) applyByteOrder(p []byte) {
	if b.bigEndian {
		swapBytes(p, b.unitSize)
	}
}

// swapBytes reverses the byte order of each unit-sized word of p.
func swapBytes(p []byte, unit int) {
	if unit < 2 {
		return
	}
	for i := 0; i+unit <= len(p); i += unit {
		w := p[i : i+unit]
		for l, r := 0, unit-1; l < r; l, r = l+1, r-1 {
			w[l], w[r] = w[r], w[l]
		}
	}
}
