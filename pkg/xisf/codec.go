package xisf

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a block compression codec.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZlib
	CodecLZ4
	CodecLZ4HC
	CodecZlibSh
	CodecLZ4Sh
	CodecLZ4HCSh
)

var codecIDs = [...]string{
	CodecNone:    "",
	CodecZlib:    "zlib",
	CodecLZ4:     "lz4",
	CodecLZ4HC:   "lz4hc",
	CodecZlibSh:  "zlib+sh",
	CodecLZ4Sh:   "lz4+sh",
	CodecLZ4HCSh: "lz4hc+sh",
}

func (c Codec) String() string {
	if int(c) < len(codecIDs) {
		if c == CodecNone {
			return "none"
		}
		return codecIDs[c]
	}
	return fmt.Sprintf("Codec(%d)", uint8(c))
}

// ParseCodec maps a codec id to a Codec. Matching is case-insensitive.
func ParseCodec(id string) (Codec, error) {
	id = foldID(strings.TrimSpace(id))
	if id == "" || id == "none" {
		return CodecNone, nil
	}
	for c, s := range codecIDs {
		if s != "" && s == id {
			return Codec(c), nil
		}
	}
	return CodecNone, fmt.Errorf("%w: '%s'", ErrUnsupportedCodec, id)
}

// Shuffled reports whether the codec applies byte shuffling.
func (c Codec) Shuffled() bool { return c >= CodecZlibSh }

// withShuffle returns the shuffling or plain variant of c.
func (c Codec) withShuffle(on bool) Codec {
	switch {
	case on && c >= CodecZlib && c <= CodecLZ4HC:
		return c + 3
	case !on && c.Shuffled():
		return c - 3
	}
	return c
}

func (c Codec) base() Codec { return c.withShuffle(false) }

// Level maps an abstract compression level in [0, MaxCompressionLevel] to
// the codec's native scale. Zero selects the codec default.
func (c Codec) Level(level int) int {
	var def, maxLevel int
	switch c.base() {
	case CodecZlib:
		def, maxLevel = 6, 9
	case CodecLZ4:
		def, maxLevel = 64, 64
	case CodecLZ4HC:
		def, maxLevel = 9, 16
	default:
		return 0
	}
	if level <= 0 {
		return def
	}
	level = min(level, MaxCompressionLevel)
	return max(1, int(math.Round(float64(level)/MaxCompressionLevel*float64(maxLevel))))
}

// Subblock is one independently compressed piece of a block.
type Subblock struct {
	Data             []byte
	UncompressedSize uint64
}

// maxSubblockSize bounds the uncompressed size of one subblock. LZ4 block
// compression cannot take inputs much above 2 GiB.
const maxSubblockSize = 1 << 30

// Compress compresses data with the given codec and abstract level. An item
// size below 2 disables shuffling. The returned codec is CodecNone, with no
// subblocks, when compression does not reduce the size.
func Compress(data []byte, codec Codec, level, itemSize int) (Codec, []Subblock, error) {
	if codec == CodecNone || len(data) == 0 {
		return CodecNone, nil, nil
	}
	if uint64(len(data)) > math.MaxUint32 {
		return CodecNone, nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(data))
	}
	if itemSize < 2 {
		codec = codec.base()
	} else if !codec.Shuffled() {
		itemSize = 1
	}
	src := data
	if codec.Shuffled() {
		src = shuffle(data, itemSize)
	}
	native := codec.Level(level)

	var (
		subblocks []Subblock
		total     int
	)
	for off := 0; off < len(src); off += maxSubblockSize {
		chunk := src[off:min(off+maxSubblockSize, len(src))]
		out, err := compressChunk(codec.base(), chunk, native)
		if err != nil {
			return CodecNone, nil, err
		}
		if out == nil {
			return CodecNone, nil, nil
		}
		subblocks = append(subblocks, Subblock{Data: out, UncompressedSize: uint64(len(chunk))})
		total += len(out)
	}
	if total >= len(data) {
		return CodecNone, nil, nil
	}
	return codec, subblocks, nil
}

// compressChunk returns nil when the codec reports incompressible input.
func compressChunk(codec Codec, src []byte, level int) ([]byte, error) {
	switch codec {
	case CodecZlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		if _, err := zw.Write(src); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		return buf.Bytes(), nil
	case CodecLZ4, CodecLZ4HC:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var (
			n   int
			err error
		)
		if codec == CodecLZ4HC {
			n, err = lz4.CompressBlockHC(src, dst, lz4HCLevel(level), nil, nil)
		} else {
			n, err = lz4.CompressBlock(src, dst, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
}

var lz4HCLevels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func lz4HCLevel(level int) lz4.CompressionLevel {
	return lz4HCLevels[min(max(level, 1), len(lz4HCLevels))-1]
}

// maxExpansion bounds the uncompressed size of a subblock of n compressed
// bytes. Deflate cannot expand by more than 1032:1 and LZ4 by more than
// 255:1.
func maxExpansion(codec Codec, n int) uint64 {
	ratio := uint64(1032)
	if b := codec.base(); b == CodecLZ4 || b == CodecLZ4HC {
		ratio = 255
	}
	return uint64(n)*ratio + 1024
}

// Decompress reverses Compress. The output must have exactly the declared
// uncompressed size of every subblock.
func Decompress(codec Codec, itemSize int, subblocks []Subblock) ([]byte, error) {
	var want uint64
	for _, sb := range subblocks {
		if sb.UncompressedSize == 0 || sb.UncompressedSize > math.MaxUint32 {
			return nil, fmt.Errorf("%w: invalid uncompressed subblock size %d", ErrDecompression, sb.UncompressedSize)
		}
		if sb.UncompressedSize > maxExpansion(codec, len(sb.Data)) {
			return nil, fmt.Errorf("%w: %d compressed bytes cannot hold %d bytes", ErrDecompression, len(sb.Data), sb.UncompressedSize)
		}
		want += sb.UncompressedSize
	}
	if want > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, want)
	}
	out := make([]byte, 0, want)
	for i, sb := range subblocks {
		chunk, err := decompressChunk(codec.base(), sb)
		if err != nil {
			return nil, fmt.Errorf("subblock %d: %w", i, err)
		}
		out = append(out, chunk...)
	}
	if uint64(len(out)) != want {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrDecompression, len(out), want)
	}
	if codec.Shuffled() && itemSize > 1 {
		out = unshuffle(out, itemSize)
	}
	return out, nil
}

func decompressChunk(codec Codec, sb Subblock) ([]byte, error) {
	switch codec {
	case CodecZlib:
		zr, err := zlib.NewReader(bytes.NewReader(sb.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
		}
		defer func() { _ = zr.Close() }()
		out := make([]byte, sb.UncompressedSize)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
		}
		// Trailing data past the declared size is a size mismatch.
		if n, _ := zr.Read(make([]byte, 1)); n != 0 {
			return nil, fmt.Errorf("%w: uncompressed size exceeds %d bytes", ErrDecompression, sb.UncompressedSize)
		}
		return out, nil
	case CodecLZ4, CodecLZ4HC:
		out := make([]byte, sb.UncompressedSize)
		n, err := lz4.UncompressBlock(sb.Data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
		}
		if uint64(n) != sb.UncompressedSize {
			return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrDecompression, n, sb.UncompressedSize)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
}

// shuffle groups byte j of every item together. Trailing bytes that do not
// fill an item are copied unchanged.
func shuffle(src []byte, itemSize int) []byte {
	dst := make([]byte, len(src))
	n := len(src) / itemSize
	for i := range n {
		for j := range itemSize {
			dst[j*n+i] = src[i*itemSize+j]
		}
	}
	copy(dst[n*itemSize:], src[n*itemSize:])
	return dst
}

func unshuffle(src []byte, itemSize int) []byte {
	dst := make([]byte, len(src))
	n := len(src) / itemSize
	for i := range n {
		for j := range itemSize {
			dst[i*itemSize+j] = src[j*n+i]
		}
	}
	copy(dst[n*itemSize:], src[n*itemSize:])
	return dst
}

// compressionAttr formats the compression attribute of a block.
func compressionAttr(codec Codec, uncompressed uint64, itemSize int) string {
	s := fmt.Sprintf("%s:%d", codec, uncompressed)
	if codec.Shuffled() {
		s += fmt.Sprintf(":%d", itemSize)
	}
	return s
}

// subblocksAttr formats the subblocks attribute, empty for a single
// subblock.
func subblocksAttr(subblocks []Subblock) string {
	if len(subblocks) < 2 {
		return ""
	}
	parts := make([]string, len(subblocks))
	for i, sb := range subblocks {
		parts[i] = fmt.Sprintf("%d,%d", len(sb.Data), sb.UncompressedSize)
	}
	return strings.Join(parts, ":")
}
