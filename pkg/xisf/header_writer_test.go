package xisf

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAlignedPosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos   uint64
		align int
		want  uint64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{777, 0, 777},
		{777, 1, 777},
		{777, 16, 784},
	}
	for _, tt := range tests {
		if got := alignedPosition(tt.pos, tt.align); got != tt.want {
			t.Fatalf("alignedPosition(%d, %d) = %d, want %d", tt.pos, tt.align, got, tt.want)
		}
	}
}

func TestResolveAttachments(t *testing.T) {
	t.Parallel()

	for _, align := range []int{1, 16, 4096} {
		// Padding puts the unresolved offsets just past a decimal digit
		// boundary, so the header shrinks while offsets are resolved.
		for pad := 940; pad < 1000; pad += 7 {
			blocks := []*outputBlock{
				newOutputBlock(make([]byte, 100)),
				newOutputBlock(make([]byte, 9000)),
				newOutputBlock(make([]byte, 1)),
			}
			var sb strings.Builder
			sb.WriteString(strings.Repeat(" ", pad))
			for _, b := range blocks {
				fmt.Fprintf(&sb, `<Image location="%s:%d"/>`, b.token, b.size())
			}
			template := sb.String()

			header, err := resolveAttachments(template, blocks, align)
			if err != nil {
				t.Fatalf("align %d pad %d: %v", align, pad, err)
			}
			pos := alignedPosition(SignatureSize+uint64(len(header)), align)
			for i, b := range blocks {
				if strings.Contains(header, b.token) {
					t.Fatalf("align %d pad %d: block %d placeholder left in header", align, pad, i)
				}
				if b.position != pos {
					t.Fatalf("align %d pad %d: block %d at %d, want %d", align, pad, i, b.position, pos)
				}
				want := fmt.Sprintf(`location="attachment:%d:%d"`, b.position, b.size())
				if !strings.Contains(header, want) {
					t.Fatalf("align %d pad %d: header lacks %s", align, pad, want)
				}
				pos = alignedPosition(pos+uint64(b.size()), align)
			}
		}
	}
}

func TestResolveAttachmentsNoBlocks(t *testing.T) {
	t.Parallel()

	got, err := resolveAttachments("<xisf/>", nil, 4096)
	if err != nil || got != "<xisf/>" {
		t.Fatalf("got %q, %v", got, err)
	}
	if errors.Is(err, ErrFixupDiverged) {
		t.Fatalf("unexpected divergence")
	}
}

func TestSerializeHeader(t *testing.T) {
	t.Parallel()

	root := newRootNode()
	img := root.child("Image")
	img.set("geometry", "1:1:1")
	p := img.child("Property")
	p.set("id", "Note")
	p.set("type", "String")
	p.text = `a <b> & "c"`

	s, err := serializeHeader(root)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<xisf version="1.0" xmlns="http://www.pixinsight.com/xisf"`,
		`<Property id="Note" type="String">a &lt;b&gt; &amp; &#34;c&#34;</Property>`,
		`</xisf>`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("header lacks %q:\n%s", want, s)
		}
	}
	if strings.Index(s, "<!--") > strings.Index(s, "<xisf") {
		t.Fatalf("comment must precede the root element")
	}
}
