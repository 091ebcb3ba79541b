package xisf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"slices"
	"strconv"
	"time"
)

type outputProperty struct {
	id    string
	value Value
}

func (p *outputProperty) propertyID() string { return p.id }

// XISF: properties generated by the writer itself.
var autoPropertyIDs = []string{
	"CreationTime", "CreatorApplication", "CreatorModule", "CreatorOS",
	"BlockAlignmentSize", "MaxInlineBlockSize", "CompressionCodecs",
	"CompressionLevel", "ChecksumAlgorithms", "OutputHints",
}

// pendingImage collects the data of the next Image element.
type pendingImage struct {
	info     ImageInfo
	id       string
	rgbws    RGBWorkingSpace
	df       DisplayFunction
	cfa      ColorFilterArray
	keywords []FITSKeyword
	icc      []byte
	thumb    *Image
	props    propertySet[*outputProperty]

	// incremental holds the planar sample bytes between CreateImage and
	// the end of the image.
	incremental []byte
}

func newPendingImage() pendingImage {
	return pendingImage{rgbws: SRGBWorkingSpace(), df: IdentityDisplayFunction()}
}

// Writer encodes a monolithic XISF unit. The header and every attached
// block are emitted by Close. A Writer is not safe for concurrent use.
type Writer struct {
	opts  Options
	diag  Diagnostics
	hints string

	dst  io.Writer
	file *os.File
	path string

	root         *xmlNode
	blocks       []*outputBlock
	props        propertySet[*outputProperty]
	lastKeywords []FITSKeyword

	options ImageOptions
	img     pendingImage

	// maxCompressSize is the largest block handed to the codec. Larger
	// blocks are stored uncompressed.
	maxCompressSize uint64
}

// NewWriter returns a closed writer configured with opts.
func NewWriter(opts Options) *Writer {
	return &Writer{
		opts:    opts,
		diag:    opts.diagnostics(),
		options: DefaultImageOptions(),
		img:     newPendingImage(),

		maxCompressSize: math.MaxUint32,
	}
}

// SetHints sets the format hints recorded as XISF:OutputHints.
func (w *Writer) SetHints(hints string) { w.hints = hints }

// Create starts a new unit written to the file at path.
func (w *Writer) Create(path string) error {
	if w.IsOpen() {
		return fmt.Errorf("%w: a file is already open", ErrInvalidAccess)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w.start(f, path)
	w.file = f
	return nil
}

// CreateTo starts a new unit written to dst when the writer is closed.
func (w *Writer) CreateTo(dst io.Writer, name string) error {
	if w.IsOpen() {
		return fmt.Errorf("%w: a file is already open", ErrInvalidAccess)
	}
	w.start(dst, name)
	return nil
}

func (w *Writer) start(dst io.Writer, name string) {
	w.reset()
	w.diag.reset()
	w.dst, w.path = dst, name
	w.root = newRootNode()
}

func (w *Writer) reset() {
	w.dst, w.file, w.path = nil, nil, ""
	w.root, w.blocks = nil, nil
	w.props = propertySet[*outputProperty]{}
	w.img = newPendingImage()
}

func (w *Writer) IsOpen() bool { return w.root != nil }

// Path returns the output path or name of the unit being written.
func (w *Writer) Path() string { return w.path }

// Warnings returns the warnings raised since the last unit was created.
// They remain available after Close.
func (w *Writer) Warnings() []string { return w.diag.Warnings() }

// LastKeywords returns the FITS keywords embedded in the last image, as
// normalized on output.
func (w *Writer) LastKeywords() []FITSKeyword { return slices.Clone(w.lastKeywords) }

func (w *Writer) check() error {
	if !w.IsOpen() {
		return fmt.Errorf("%w: no file has been created", ErrInvalidAccess)
	}
	return nil
}

func (w *Writer) ImageOptions() ImageOptions { return w.options }

// SetImageOptions sets the format independent options of the following
// images. The sample format selects the stored sample type.
func (w *Writer) SetImageOptions(opts ImageOptions) error {
	if !opts.SampleFormat.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.SampleFormat)
	}
	if opts.CFAType != "" && !validCFAType(opts.CFAType) {
		return fmt.Errorf("%w: invalid CFA type '%s'", ErrInvalidIdentifier, opts.CFAType)
	}
	w.options = opts
	return nil
}

// SetImageID sets the identifier of the next image.
func (w *Writer) SetImageID(id string) error {
	if id != "" && !IsValidIdentifier(id) {
		return fmt.Errorf("%w: image identifier '%s'", ErrInvalidIdentifier, id)
	}
	w.img.id = id
	return nil
}

func (w *Writer) SetKeywords(keywords []FITSKeyword) { w.img.keywords = slices.Clone(keywords) }

func (w *Writer) SetICCProfile(profile []byte) { w.img.icc = slices.Clone(profile) }

func (w *Writer) SetRGBWorkingSpace(ws RGBWorkingSpace) { w.img.rgbws = ws }

func (w *Writer) SetDisplayFunction(df DisplayFunction) { w.img.df = df }

func (w *Writer) SetColorFilterArray(cfa ColorFilterArray) { w.img.cfa = cfa }

// SetThumbnail sets the thumbnail of the next image. 16-bit thumbnails are
// reduced to 8 bits. A thumbnail larger than MaxThumbnailSize in either
// dimension is dropped with a warning.
func (w *Writer) SetThumbnail(th *Image) error {
	if th == nil {
		w.img.thumb = nil
		return nil
	}
	if th.Width > MaxThumbnailSize || th.Height > MaxThumbnailSize {
		w.img.thumb = nil
		return w.diag.Warn(fmt.Sprintf("Ignoring too big image thumbnail (%dx%d)", th.Width, th.Height))
	}
	switch th.Format {
	case FormatUInt8:
	case FormatUInt16:
		th = toUInt8(th)
	default:
		return fmt.Errorf("%w: thumbnails must be 8-bit or 16-bit integer images", ErrThumbnail)
	}
	if th.ColorSpace == ColorSpaceCIELab {
		return fmt.Errorf("%w: thumbnails must be RGB or grayscale images", ErrThumbnail)
	}
	w.img.thumb = th
	return nil
}

func checkPropertyValue(id string, v Value) error {
	if !IsValidPropertyID(id) {
		return fmt.Errorf("%w: property identifier '%s'", ErrInvalidIdentifier, id)
	}
	if !v.IsValid() {
		return fmt.Errorf("%w: invalid value for property '%s'", ErrInvalidProperty, id)
	}
	if t, ok := v.v.(time.Time); ok && t.IsZero() {
		return fmt.Errorf("%w: invalid TimePoint value for property '%s'", ErrInvalidProperty, id)
	}
	if d := v.Dimensions(); v.typ.IsMatrix() && (d[0] < 1 || d[1] < 1) {
		return fmt.Errorf("%w: empty %dx%d matrix for property '%s'", ErrInvalidProperty, d[0], d[1], id)
	}
	return nil
}

// SetImageProperty creates or replaces a property of the next image.
// Reserved XISF: properties cannot be attached to images and are ignored
// with a warning.
func (w *Writer) SetImageProperty(id string, v Value) error {
	if err := checkPropertyValue(id, v); err != nil {
		return err
	}
	if IsInternalPropertyID(id) {
		return w.diag.Warn(fmt.Sprintf("Ignoring attempt to associate a reserved XISF property '%s' with an image.", id))
	}
	if w.img.props.put(&outputProperty{id: id, value: v}) {
		w.diag.debug("redefining image property", "id", id)
	}
	return nil
}

// SetProperty creates or replaces a property of the unit. XISF:
// properties go to the Metadata element, except those generated by the
// writer, which are ignored with a warning.
func (w *Writer) SetProperty(id string, v Value) error {
	if err := checkPropertyValue(id, v); err != nil {
		return err
	}
	if IsInternalPropertyID(id) && slices.Contains(autoPropertyIDs, id[len(InternalPrefix):]) {
		return w.diag.Warn(fmt.Sprintf("Ignoring attempt to define auto-generated reserved property '%s'", id))
	}
	if w.props.put(&outputProperty{id: id, value: v}) {
		w.diag.debug("redefining property", "id", id)
	}
	return nil
}

// WriteImage adds an Image element for img. Samples are converted to the
// sample format of the current image options when they differ.
func (w *Writer) WriteImage(img *Image) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := w.closeImage(); err != nil {
		return err
	}
	if img.Format != w.options.SampleFormat {
		c, err := convertImage(img, w.options.SampleFormat)
		if err != nil {
			return err
		}
		img = c
	}
	w.img.info = img.ImageInfo
	w.diag.debug("writing image", "id", w.img.id, "width", img.Width, "height", img.Height,
		"channels", img.Channels, "colorSpace", img.ColorSpace, "format", img.Format)

	n := w.root.child("Image")
	w.imageAttrs(n)
	if err := w.newBlock(n, img.Bytes(), img.Format.SampleSize(), false, true); err != nil {
		return err
	}
	if err := w.imageElements(n); err != nil {
		return err
	}
	w.img = newPendingImage()
	return nil
}

// CreateImage starts an image written incrementally with WriteSamples.
// The pixel block is always an uncompressed attachment.
func (w *Writer) CreateImage(info ImageInfo) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := w.closeImage(); err != nil {
		return err
	}
	if !info.Valid() {
		return fmt.Errorf("%w: invalid image geometry %dx%dx%d (%s)", ErrInvalidAccess, info.Width, info.Height, info.Channels, info.ColorSpace)
	}
	size, ok := info.ByteSize(w.options.SampleFormat.SampleSize())
	if !ok {
		return fmt.Errorf("%w: image geometry %dx%dx%d is too large", ErrInvalidAccess, info.Width, info.Height, info.Channels)
	}
	w.img.info = info
	w.img.incremental = make([]byte, size)
	return nil
}

// WriteSamples stores rowCount rows of one channel of the image started
// by CreateImage. T must match the sample format of the image options.
func WriteSamples[T Sample](w *Writer, src []T, startRow, rowCount, channel int) error {
	if err := w.check(); err != nil {
		return err
	}
	if w.img.incremental == nil {
		return ErrNoIncrementalImage
	}
	info, f := w.img.info, w.options.SampleFormat
	if formatOf[T]() != f {
		return fmt.Errorf("%w: image holds %s samples", ErrSampleType, f)
	}
	if rowCount < 1 || startRow < 0 || startRow+rowCount > info.Height {
		return fmt.Errorf("%w: rows [%d, %d) of %d", ErrRowRange, startRow, startRow+rowCount, info.Height)
	}
	if channel < 0 || channel >= info.Channels {
		return fmt.Errorf("%w: channel %d of %d", ErrInvalidAccess, channel, info.Channels)
	}
	n := rowCount * info.Width
	if len(src) < n {
		return fmt.Errorf("%w: buffer holds %d samples, need %d", ErrInvalidAccess, len(src), n)
	}
	off := f.SampleSize() * (channel*info.Width*info.Height + startRow*info.Width)
	_, err := binary.Encode(w.img.incremental[off:], binary.LittleEndian, src[:n])
	return err
}

// closeImage completes a pending incremental image.
func (w *Writer) closeImage() error {
	if w.img.incremental == nil {
		return nil
	}
	if w.opts.Compression != CodecNone {
		if err := w.diag.Warn("Incrementally written image data is stored uncompressed."); err != nil {
			return err
		}
	}
	w.diag.debug("writing image", "id", w.img.id, "width", w.img.info.Width, "height", w.img.info.Height,
		"channels", w.img.info.Channels, "colorSpace", w.img.info.ColorSpace, "format", w.options.SampleFormat)
	n := w.root.child("Image")
	w.imageAttrs(n)
	if err := w.attachBlock(n, newOutputBlock(w.img.incremental)); err != nil {
		return err
	}
	if err := w.imageElements(n); err != nil {
		return err
	}
	w.img = newPendingImage()
	return nil
}

func (w *Writer) imageAttrs(n *xmlNode) {
	f := w.options.SampleFormat
	if w.img.id != "" {
		n.set("id", w.img.id)
	}
	n.set("geometry", fmt.Sprintf("%d:%d:%d", w.img.info.Width, w.img.info.Height, w.img.info.Channels))
	n.set("sampleFormat", f.String())
	if f.IsFloat() && !f.IsComplex() {
		lo, hi := w.opts.OutputLowerBound, w.opts.OutputUpperBound
		if hi < lo {
			lo, hi = hi, lo
		}
		n.set("bounds", fmt.Sprintf("%.16g:%.16g", lo, hi))
	}
	n.set("colorSpace", w.img.info.ColorSpace.String())
	if w.options.CFAType != "" {
		n.set("cfaType", w.options.CFAType)
	}
}

func (w *Writer) imageElements(n *xmlNode) error {
	img, opts := &w.img, w.options
	if w.opts.StoreFITSKeywords && len(img.keywords) > 0 {
		w.lastKeywords = slices.Clone(img.keywords)
		for i := range w.lastKeywords {
			k := &w.lastKeywords[i]
			k.Trim()
			k.FixValueDelimiters()
			c := n.child("FITSKeyword")
			c.set("name", k.Name)
			c.set("value", k.Value)
			c.set("comment", k.Comment)
		}
	}
	if opts.EmbedCFA && !img.cfa.IsEmpty() {
		c := n.child("ColorFilterArray")
		c.set("pattern", img.cfa.Pattern)
		c.set("width", strconv.Itoa(img.cfa.Width))
		c.set("height", strconv.Itoa(img.cfa.Height))
		if img.cfa.Name != "" {
			c.set("name", img.cfa.Name)
		}
	}
	if opts.EmbedRGBWorkingSpace && !img.rgbws.IsSRGB() {
		ws := img.rgbws
		c := n.child("RGBWorkingSpace")
		if ws.SRGB {
			c.set("gamma", "sRGB")
		} else {
			c.set("gamma", formatFloat32(ws.Gamma))
		}
		for _, a := range []struct {
			name string
			v    float32
		}{
			{"xr", ws.X[0]}, {"xg", ws.X[1]}, {"xb", ws.X[2]},
			{"yr", ws.Y[0]}, {"yg", ws.Y[1]}, {"yb", ws.Y[2]},
			{"Yr", ws.L[0]}, {"Yg", ws.L[1]}, {"Yb", ws.L[2]},
		} {
			c.set(a.name, formatFloat32(a.v))
		}
	}
	if opts.EmbedDisplayFunction && !img.df.IsIdentity() {
		c := n.child("DisplayFunction")
		c.set("m", formatDisplayParams(img.df.M))
		c.set("s", formatDisplayParams(img.df.S))
		c.set("h", formatDisplayParams(img.df.H))
		c.set("l", formatDisplayParams(img.df.L))
		c.set("r", formatDisplayParams(img.df.R))
	}
	if opts.EmbedResolution && opts.XResolution > 0 && opts.YResolution > 0 {
		c := n.child("Resolution")
		c.set("horizontal", strconv.FormatFloat(opts.XResolution, 'g', -1, 64))
		c.set("vertical", strconv.FormatFloat(opts.YResolution, 'g', -1, 64))
		if opts.MetricResolution {
			c.set("unit", "cm")
		} else {
			c.set("unit", "inch")
		}
	}
	if opts.EmbedICCProfile && len(img.icc) > 0 {
		if err := w.newBlock(n.child("ICCProfile"), img.icc, 1, true, true); err != nil {
			return err
		}
	}
	if opts.EmbedProperties {
		for _, p := range img.props.items {
			if err := w.propertyElement(n, p.id, p.value); err != nil {
				return err
			}
		}
	}
	if opts.EmbedThumbnail && img.thumb != nil {
		th := img.thumb
		c := n.child("Thumbnail")
		c.set("geometry", fmt.Sprintf("%d:%d:%d", th.Width, th.Height, th.Channels))
		c.set("sampleFormat", FormatUInt8.String())
		if th.ColorSpace == ColorSpaceRGB {
			c.set("colorSpace", "RGB")
		} else {
			c.set("colorSpace", "Gray")
		}
		if err := w.newBlock(c, th.Bytes(), 1, false, true); err != nil {
			return err
		}
	}
	return nil
}

// propertyElement appends a Property element for v to parent.
func (w *Writer) propertyElement(parent *xmlNode, id string, v Value) error {
	n := parent.child("Property")
	n.set("id", id)
	n.set("type", v.typ.String())
	t := v.typ
	switch {
	case t.IsScalar() || t.IsComplex() || t == TypeTimePoint:
		s, _ := v.attrString()
		n.set("value", s)
	case t == TypeString:
		if w.opts.Compression == CodecNone || v.BlockSize() <= maxInlineStringSize {
			n.text = v.v.(string)
			return nil
		}
		return w.newBlock(n, v.Bytes(), 1, true, true)
	case t == TypeString16:
		if w.opts.Compression == CodecNone || v.BlockSize() <= maxInlineString16Size {
			n.text = v.v.(string)
			return nil
		}
		return w.newBlock(n, v.Bytes(), 2, true, true)
	case t.IsVector():
		n.set("length", strconv.Itoa(v.Dimensions()[0]))
		return w.newBlock(n, v.Bytes(), t.elementSize(), true, true)
	case t.IsMatrix():
		d := v.Dimensions()
		n.set("rows", strconv.Itoa(d[0]))
		n.set("columns", strconv.Itoa(d[1]))
		return w.newBlock(n, v.Bytes(), t.elementSize(), true, true)
	default:
		return fmt.Errorf("%w: invalid data type '%s' for property '%s'", ErrInvalidProperty, t, id)
	}
	return nil
}

// newBlock stores data for element n. Compression is applied first, then
// the checksum. Small blocks travel in the header, as element text when
// canInline is set or else as an embedded Data child. Larger blocks become
// attachments.
func (w *Writer) newBlock(n *xmlNode, data []byte, itemSize int, canInline, compress bool) error {
	b := newOutputBlock(data)
	if compress && w.opts.Compression != CodecNone {
		var (
			codec Codec
			sub   []Subblock
			err   error
		)
		if uint64(len(data)) > w.maxCompressSize {
			err = fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(data))
		} else {
			codec, sub, err = Compress(data, w.opts.Compression, w.opts.CompressionLevel, itemSize)
		}
		if errors.Is(err, ErrBlockTooLarge) {
			if err := w.diag.Warn(fmt.Sprintf("Storing an uncompressed block of %d bytes: too large for %s compression.", len(data), w.opts.Compression)); err != nil {
				return err
			}
			codec, err = CodecNone, nil
		}
		if err != nil {
			return err
		}
		if codec != CodecNone {
			b.codec, b.sub, b.itemSize, b.data = codec, sub, itemSize, nil
		}
		w.diag.debug("compressed block", "codec", codec, "level", w.opts.Compression.Level(w.opts.CompressionLevel),
			"size", len(data), "compressed", b.size())
	}
	if w.opts.Checksum != ChecksumNone {
		b.checksum = Checksum{Algorithm: w.opts.Checksum, Digest: w.opts.Checksum.Sum(b.parts()...)}
	}
	if b.size() > w.opts.MaxInlineBlockSize {
		return w.attachBlock(n, b)
	}
	text, err := EncodeBlockText(b.stored(), "base64")
	if err != nil {
		return err
	}
	if canInline {
		b.setAttrs(n)
		n.set("location", "inline:base64")
		n.text = text
		return nil
	}
	n.set("location", "embedded")
	d := n.child("Data")
	b.setAttrs(d)
	d.set("encoding", "base64")
	d.text = text
	return nil
}

func (w *Writer) attachBlock(n *xmlNode, b *outputBlock) error {
	if w.opts.Checksum != ChecksumNone && b.checksum.Algorithm == ChecksumNone {
		b.checksum = Checksum{Algorithm: w.opts.Checksum, Digest: w.opts.Checksum.Sum(b.parts()...)}
	}
	b.setAttrs(n)
	n.set("location", b.token+":"+strconv.Itoa(b.size()))
	w.blocks = append(w.blocks, b)
	return nil
}

// alignment is the effective block alignment. Compression disables it.
func (w *Writer) alignment() int {
	if w.opts.Compression != CodecNone {
		return 1
	}
	return w.opts.BlockAlignmentSize
}

func creatorOS() string {
	switch runtime.GOOS {
	case "linux":
		return "Linux"
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "freebsd":
		return "FreeBSD"
	}
	return runtime.GOOS
}

// metadata appends the Metadata element and the unit properties.
func (w *Writer) metadata() error {
	md := w.root.child("Metadata")
	add := func(id string, v any) error {
		val, err := NewValue(v)
		if err != nil {
			return err
		}
		return w.propertyElement(md, InternalPrefix+id, val)
	}
	app := w.opts.CreatorApplication
	if app == "" {
		if err := w.diag.Warn("Mandatory XISF:CreatorApplication metadata property value undefined."); err != nil {
			return err
		}
		app = "(unknown)"
	}
	if err := add("CreationTime", time.Now().UTC().Truncate(time.Second)); err != nil {
		return err
	}
	if err := add("CreatorApplication", app); err != nil {
		return err
	}
	if w.opts.CreatorModule != "" {
		if err := add("CreatorModule", w.opts.CreatorModule); err != nil {
			return err
		}
	}
	if err := add("CreatorOS", creatorOS()); err != nil {
		return err
	}
	if w.opts.Compression == CodecNone {
		if err := add("BlockAlignmentSize", int32(w.opts.BlockAlignmentSize)); err != nil {
			return err
		}
		if err := add("MaxInlineBlockSize", int32(w.opts.MaxInlineBlockSize)); err != nil {
			return err
		}
	} else {
		if err := add("CompressionCodecs", w.opts.Compression.String()); err != nil {
			return err
		}
		if err := add("CompressionLevel", int32(w.opts.CompressionLevel)); err != nil {
			return err
		}
	}
	if w.opts.Checksum != ChecksumNone {
		if err := add("ChecksumAlgorithms", w.opts.Checksum.String()); err != nil {
			return err
		}
	}
	if w.hints != "" {
		if err := add("OutputHints", w.hints); err != nil {
			return err
		}
	}
	for _, p := range w.props.items {
		parent := w.root
		if IsInternalPropertyID(p.id) {
			parent = md
		}
		if err := w.propertyElement(parent, p.id, p.value); err != nil {
			return err
		}
	}
	return nil
}

// Close completes the unit: it finishes a pending incremental image,
// generates the metadata, resolves the attachment offsets and writes the
// signature, the header and every attached block. Closing a closed writer
// is a no-op.
func (w *Writer) Close() error {
	if !w.IsOpen() {
		return nil
	}
	defer w.reset()
	err := w.finish()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) finish() error {
	if err := w.closeImage(); err != nil {
		return err
	}
	if err := w.metadata(); err != nil {
		return err
	}
	template, err := serializeHeader(w.root)
	if err != nil {
		return fmt.Errorf("serialize header: %w", err)
	}
	align := w.alignment()
	header, err := resolveAttachments(template, w.blocks, align)
	if err != nil {
		return err
	}
	w.diag.debug("resolved attachments", "blocks", len(w.blocks), "headerLength", len(header))

	out := bufio.NewWriterSize(w.dst, 1<<20)
	sig := AppendSignature(make([]byte, 0, SignatureSize), uint32(len(header)))
	if _, err := out.Write(sig); err != nil {
		return err
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}
	pos := uint64(SignatureSize + len(header))
	for _, b := range w.blocks {
		if b.position > pos {
			if _, err := out.Write(make([]byte, b.position-pos)); err != nil {
				return err
			}
		}
		n, err := b.writeTo(out)
		if err != nil {
			return err
		}
		pos = b.position + uint64(n)
	}
	return out.Flush()
}
