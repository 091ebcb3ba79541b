package xisf

import (
	"encoding/binary"
	"fmt"
)

// Signature is the fixed 16-byte prefix of a monolithic XISF file:
// "XISF0100", the little-endian header length and a reserved zero word.
type Signature struct {
	HeaderLength uint32
	Reserved     uint32
}

// AppendSignature appends the encoded signature for a header of the given
// length to dst.
func AppendSignature(dst []byte, headerLength uint32) []byte {
	dst = append(dst, Magic...)
	dst = binary.LittleEndian.AppendUint32(dst, headerLength)
	return binary.LittleEndian.AppendUint32(dst, 0)
}

// DecodeSignature decodes and validates a file signature.
func DecodeSignature(b []byte) (Signature, error) {
	if len(b) < SignatureSize {
		return Signature{}, fmt.Errorf("%w: truncated signature", ErrCorruptFile)
	}
	if string(b[0:4]) != Magic[0:4] {
		return Signature{}, ErrNotXISF
	}
	if string(b[4:8]) != Magic[4:8] {
		return Signature{}, ErrUnsupportedVersion
	}
	s := Signature{
		HeaderLength: binary.LittleEndian.Uint32(b[8:12]),
		Reserved:     binary.LittleEndian.Uint32(b[12:16]),
	}
	return s, s.Validate()
}

// Validate checks the header length and reserved field.
func (s Signature) Validate() error {
	if s.HeaderLength < MinHeaderLength {
		return fmt.Errorf("%w: header length %d", ErrCorruptFile, s.HeaderLength)
	}
	if s.Reserved != 0 {
		return fmt.Errorf("%w: nonzero reserved signature field", ErrCorruptFile)
	}
	return nil
}
