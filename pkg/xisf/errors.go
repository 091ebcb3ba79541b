package xisf

import (
	"errors"
	"fmt"
)

var (
	ErrNotXISF               = errors.New("not a monolithic XISF file")
	ErrUnsupportedVersion    = errors.New("not an XISF version 1.0 file")
	ErrCorruptFile           = errors.New("invalid or corrupted XISF file")
	ErrInvalidHeader         = errors.New("invalid XISF header")
	ErrInvalidAccess         = errors.New("xisf: invalid access")
	ErrImageIndex            = errors.New("xisf: image index out of range")
	ErrNoImages              = errors.New("xisf: the file contains no readable image")
	ErrUnsupportedLocation   = errors.New("xisf: unsupported block location")
	ErrUnsupportedEncoding   = errors.New("xisf: unsupported data encoding")
	ErrUnsupportedCodec      = errors.New("xisf: unsupported compression codec")
	ErrUnsupportedChecksum   = errors.New("xisf: unsupported checksum algorithm")
	ErrUnsupportedFormat     = errors.New("xisf: unsupported sample format")
	ErrDecompression         = errors.New("xisf: decompression failed")
	ErrCompression           = errors.New("xisf: compression failed")
	ErrBlockTooLarge         = errors.New("xisf: block too large for compression")
	ErrChecksumMismatch      = errors.New("xisf: block checksum mismatch")
	ErrIncrementalCompressed = errors.New("xisf: incremental access is incompatible with compression")
	ErrPixelStorage          = errors.New("xisf: incremental access requires planar pixel storage")
	ErrRowRange              = errors.New("xisf: invalid row range")
	ErrSampleType            = errors.New("xisf: sample type does not match the image sample format")
	ErrNoIncrementalImage    = errors.New("xisf: no incremental image has been created")
	ErrInvalidProperty       = errors.New("xisf: invalid property")
	ErrPropertyNotFound      = errors.New("xisf: property not found")
	ErrInvalidIdentifier     = errors.New("xisf: invalid identifier")
	ErrThumbnail             = errors.New("xisf: invalid thumbnail")
	ErrFixupDiverged         = errors.New("xisf: attachment offsets did not converge")
	ErrWarning               = errors.New("xisf: warning treated as error")
)

// ParseError is an error raised while processing the XML header. Line and
// Column are 1-based positions in the header text.
type ParseError struct {
	Line   int
	Column int
	Msg    string
	Err    error

	// Fatal errors abort Open; the others are recovered by skipping the
	// offending element.
	Fatal bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (line=%d, column=%d)", e.Msg, e.Line, e.Column)
}

func (e *ParseError) Unwrap() error { return e.Err }

// recoverable reports whether err may be downgraded to a warning.
func recoverable(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && !pe.Fatal
}
