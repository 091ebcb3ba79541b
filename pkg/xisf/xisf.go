// Package xisf implements the monolithic Extensible Image Serialization
// Format (XISF 1.0) container.
//
// A monolithic XISF unit is a 16-byte signature, a UTF-8 XML header and a
// sequence of attached data blocks addressed by absolute byte offsets from
// the header. Small blocks may instead travel inside the header as base64 or
// hex text.
package xisf

// Format constants. These never change for XISF 1.0.
const (
	// Magic is the signature prefix of every monolithic XISF 1.0 file.
	Magic = "XISF0100"

	// SignatureSize is the size in bytes of the file signature.
	SignatureSize = 16

	// MinHeaderLength is the smallest header length accepted by the reader.
	MinHeaderLength = 245

	// InternalPrefix is the namespace reserved for properties generated by
	// XISF implementations.
	InternalPrefix = "XISF:"

	// FITSPrefix is the namespace of properties imported from FITS keywords.
	FITSPrefix = "FITS:"

	// MaxThumbnailSize bounds both dimensions of an image thumbnail.
	MaxThumbnailSize = 1024

	// MaxCompressionLevel is the highest codec-independent compression level.
	MaxCompressionLevel = 100
)

// Writer defaults.
const (
	DefaultBlockAlignmentSize = 4096
	DefaultMaxInlineBlockSize = 3072
	DefaultOutputLowerBound   = 0.0
	DefaultOutputUpperBound   = 1.0
)

const (
	namespaceURI      = "http://www.pixinsight.com/xisf"
	schemaInstanceURI = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation    = "http://www.pixinsight.com/xisf http://pixinsight.com/xisf/xisf-1.0.xsd"

	// unwindMax bounds the number of element levels skipped while recovering
	// from a malformed header element.
	unwindMax = 8

	// maxFixupPasses bounds the attachment offset fix-up loop.
	maxFixupPasses = 8

	// Longest string values written as element text when compression is on.
	maxInlineStringSize   = 80
	maxInlineString16Size = 160
)
