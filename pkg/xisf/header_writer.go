package xisf

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// xmlNode is an element of the header under construction.
type xmlNode struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []*xmlNode
}

func (n *xmlNode) child(name string) *xmlNode {
	c := &xmlNode{name: name}
	n.children = append(n.children, c)
	return c
}

func (n *xmlNode) set(name, value string) {
	n.attrs = append(n.attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

func (n *xmlNode) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: n.name}, Attr: n.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.text != "" {
		if err := enc.EncodeToken(xml.CharData(n.text)); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func newRootNode() *xmlNode {
	root := &xmlNode{name: "xisf"}
	root.set("version", "1.0")
	root.set("xmlns", namespaceURI)
	root.set("xmlns:xsi", schemaInstanceURI)
	root.set("xsi:schemaLocation", schemaLocation)
	return root
}

const headerComment = "\nExtensible Image Serialization Format - XISF version 1.0\nCreated with xisf-go\n"

// serializeHeader renders the complete XML header document.
func serializeHeader(root *xmlNode) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "   ")
	if err := enc.EncodeToken(xml.Comment(headerComment)); err != nil {
		return "", err
	}
	if err := root.encode(enc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// outputBlock is a data block waiting to be attached after the header.
// Its location attribute holds a unique placeholder until the final
// offsets are known.
type outputBlock struct {
	token    string
	codec    Codec
	itemSize int
	data     []byte     // uncompressed payload
	sub      []Subblock // compressed payload
	checksum Checksum
	position uint64
}

func newOutputBlock(data []byte) *outputBlock {
	id := uuid.New()
	return &outputBlock{
		token:    "attachment:" + hex.EncodeToString(id[:8]),
		codec:    CodecNone,
		itemSize: 1,
		data:     data,
	}
}

// parts returns the stored byte sequences of the block.
func (b *outputBlock) parts() [][]byte {
	if b.codec == CodecNone {
		return [][]byte{b.data}
	}
	parts := make([][]byte, len(b.sub))
	for i, sb := range b.sub {
		parts[i] = sb.Data
	}
	return parts
}

// size is the stored size of the block.
func (b *outputBlock) size() int {
	n := 0
	for _, p := range b.parts() {
		n += len(p)
	}
	return n
}

func (b *outputBlock) uncompressedSize() uint64 {
	var n uint64
	for _, sb := range b.sub {
		n += sb.UncompressedSize
	}
	return n
}

func (b *outputBlock) stored() []byte {
	if b.codec == CodecNone {
		return b.data
	}
	return bytes.Join(b.parts(), nil)
}

func (b *outputBlock) writeTo(w io.Writer) (int64, error) {
	var n int64
	for _, p := range b.parts() {
		m, err := w.Write(p)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// setAttrs writes the compression, subblocks and checksum attributes of b
// on n.
func (b *outputBlock) setAttrs(n *xmlNode) {
	if b.codec != CodecNone {
		n.set("compression", compressionAttr(b.codec, b.uncompressedSize(), b.itemSize))
		if s := subblocksAttr(b.sub); s != "" {
			n.set("subblocks", s)
		}
	}
	if b.checksum.Algorithm != ChecksumNone {
		n.set("checksum", b.checksum.String())
	}
}

// alignedPosition rounds pos up to the next multiple of align. An align
// below 2 disables alignment.
func alignedPosition(pos uint64, align int) uint64 {
	if align < 2 {
		return pos
	}
	a := uint64(align)
	return (pos + a - 1) / a * a
}

// resolveAttachments replaces the placeholder of every block in the
// header template with its final file offset. The header length depends on
// the offsets written into it, so the substitution is repeated from the
// template until the length is stable.
func resolveAttachments(template string, blocks []*outputBlock, align int) (string, error) {
	if len(blocks) == 0 {
		return template, nil
	}
	n := len(template)
	repl := make([]string, 0, 2*len(blocks))
	for range maxFixupPasses {
		pos := alignedPosition(SignatureSize+uint64(n), align)
		repl = repl[:0]
		for _, b := range blocks {
			b.position = pos
			repl = append(repl, b.token, "attachment:"+strconv.FormatUint(pos, 10))
			pos = alignedPosition(pos+uint64(b.size()), align)
		}
		text := strings.NewReplacer(repl...).Replace(template)
		if len(text) == n {
			return text, nil
		}
		n = len(text)
	}
	return "", fmt.Errorf("%w after %d passes", ErrFixupDiverged, maxFixupPasses)
}
