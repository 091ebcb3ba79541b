package xisf

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// Reader decodes a monolithic XISF unit. Image and property data blocks
// are loaded on demand. A Reader is not safe for concurrent use.
type Reader struct {
	opts  Options
	diag  Diagnostics
	hints string

	src    io.ReaderAt
	closer io.Closer
	path   string
	size   int64

	images   []*imageData
	props    propertySet[*inputProperty]
	selected int
}

// NewReader returns a closed reader configured with opts.
func NewReader(opts Options) *Reader {
	return &Reader{opts: opts, diag: opts.diagnostics()}
}

// SetHints sets the format hints recorded as XISF:InputHints.
func (r *Reader) SetHints(hints string) { r.hints = hints }

// Open opens the file at path and parses its header. A failed Open leaves
// the reader closed.
func (r *Reader) Open(path string) error {
	_ = r.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	var (
		src    io.ReaderAt = f
		closer io.Closer   = f
	)
	if r.opts.MemoryMap {
		if m, err := mapFile(f, st.Size()); err == nil {
			_ = f.Close()
			src, closer = m, m
		} else {
			r.diag.debug("memory mapping unavailable, using ReadAt", "path", path, "err", err)
		}
	}
	if err := r.open(src, st.Size(), abs); err != nil {
		_ = closer.Close()
		return err
	}
	r.closer = closer
	return nil
}

// OpenReaderAt parses a unit held by a random-access source of the given
// size. name, when not empty, is reported as the resource URL.
func (r *Reader) OpenReaderAt(src io.ReaderAt, size int64, name string) error {
	_ = r.Close()
	return r.open(src, size, name)
}

func (r *Reader) open(src io.ReaderAt, size int64, name string) error {
	r.reset()
	if size < SignatureSize {
		return fmt.Errorf("%w: file too short", ErrNotXISF)
	}
	sig := make([]byte, SignatureSize)
	if _, err := src.ReadAt(sig, 0); err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	s, err := DecodeSignature(sig)
	if err != nil {
		return err
	}
	if int64(SignatureSize)+int64(s.HeaderLength) > size {
		return fmt.Errorf("%w: header length %d exceeds file size %d", ErrCorruptFile, s.HeaderLength, size)
	}
	header := make([]byte, s.HeaderLength)
	if _, err := src.ReadAt(header, SignatureSize); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	p := newHeaderParser(header, uint64(size), r.opts, &r.diag)
	if err := p.parse(); err != nil {
		r.reset()
		return err
	}
	if len(p.images) == 0 {
		r.reset()
		return ErrNoImages
	}
	r.images, r.props = p.images, p.props
	r.src, r.size, r.path = src, size, name

	if r.opts.AutoMetadata {
		if err := r.addAutoMetadata(); err != nil {
			r.reset()
			return err
		}
	}
	for _, img := range r.images {
		for _, gp := range r.props.items {
			if !img.props.has(gp.id) {
				img.props.put(gp)
			}
		}
	}
	r.diag.debug("opened XISF unit", "path", name, "size", size, "headerLength", s.HeaderLength, "images", len(r.images))
	return nil
}

func (r *Reader) addAutoMetadata() error {
	add := func(id string, v Value) error {
		prop := &inputProperty{id: InternalPrefix + id, typ: v.typ, value: v}
		if r.props.put(prop) {
			return r.diag.Warn(fmt.Sprintf("Redefining property '%s'", prop.id))
		}
		return nil
	}
	if r.path != "" {
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(r.path)}
		if err := add("ResourceURL", Value{typ: TypeString, v: u.String()}); err != nil {
			return err
		}
	}
	if err := add("LoadTime", Value{typ: TypeTimePoint, v: time.Now().UTC()}); err != nil {
		return err
	}
	if r.hints != "" {
		return add("InputHints", Value{typ: TypeString, v: r.hints})
	}
	return nil
}

func (r *Reader) reset() {
	r.src, r.closer = nil, nil
	r.path, r.size = "", 0
	r.images, r.props = nil, propertySet[*inputProperty]{}
	r.selected = 0
	r.diag.reset()
}

// Close releases the input source. Closing a closed reader is a no-op.
func (r *Reader) Close() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
	}
	r.reset()
	return err
}

// IsOpen reports whether a unit is open.
func (r *Reader) IsOpen() bool { return r.src != nil }

// Path returns the absolute path or name of the open unit.
func (r *Reader) Path() string { return r.path }

// Warnings returns the warnings raised since the unit was opened.
func (r *Reader) Warnings() []string { return r.diag.Warnings() }

func (r *Reader) current() (*imageData, error) {
	if !r.IsOpen() {
		return nil, fmt.Errorf("%w: no file has been opened", ErrInvalidAccess)
	}
	return r.images[r.selected], nil
}

// NumberOfImages returns the number of images in the unit.
func (r *Reader) NumberOfImages() (int, error) {
	if !r.IsOpen() {
		return 0, fmt.Errorf("%w: no file has been opened", ErrInvalidAccess)
	}
	return len(r.images), nil
}

// SelectImage makes image i the target of the per-image accessors.
func (r *Reader) SelectImage(i int) error {
	if !r.IsOpen() {
		return fmt.Errorf("%w: no file has been opened", ErrInvalidAccess)
	}
	if i < 0 || i >= len(r.images) {
		return fmt.Errorf("%w: %d of %d", ErrImageIndex, i, len(r.images))
	}
	r.selected = i
	return nil
}

// SelectedImageIndex returns the index of the selected image.
func (r *Reader) SelectedImageIndex() (int, error) {
	if !r.IsOpen() {
		return 0, fmt.Errorf("%w: no file has been opened", ErrInvalidAccess)
	}
	return r.selected, nil
}

func (r *Reader) ImageInfo() (ImageInfo, error) {
	img, err := r.current()
	if err != nil {
		return ImageInfo{}, err
	}
	return img.info, nil
}

func (r *Reader) ImageOptions() (ImageOptions, error) {
	img, err := r.current()
	if err != nil {
		return ImageOptions{}, err
	}
	return img.options, nil
}

// SetImageOptions applies the reader-side options of opts to the selected
// image. Only ReadNormalized is honored; the other fields describe the
// stored image and cannot change.
func (r *Reader) SetImageOptions(opts ImageOptions) error {
	img, err := r.current()
	if err != nil {
		return err
	}
	img.options.ReadNormalized = opts.ReadNormalized
	return nil
}

// ImageID returns the identifier of the selected image, or "".
func (r *Reader) ImageID() (string, error) {
	img, err := r.current()
	if err != nil {
		return "", err
	}
	return img.id, nil
}

// NormalPixelStorage reports whether the selected image is stored pixel
// interleaved ("normal") rather than planar.
func (r *Reader) NormalPixelStorage() (bool, error) {
	img, err := r.current()
	if err != nil {
		return false, err
	}
	return img.normal, nil
}

func (r *Reader) Keywords() ([]FITSKeyword, error) {
	img, err := r.current()
	if err != nil {
		return nil, err
	}
	return slices.Clone(img.keywords), nil
}

func (r *Reader) RGBWorkingSpace() (RGBWorkingSpace, error) {
	img, err := r.current()
	if err != nil {
		return RGBWorkingSpace{}, err
	}
	return img.rgbws, nil
}

func (r *Reader) DisplayFunction() (DisplayFunction, error) {
	img, err := r.current()
	if err != nil {
		return DisplayFunction{}, err
	}
	return img.df, nil
}

func (r *Reader) ColorFilterArray() (ColorFilterArray, error) {
	img, err := r.current()
	if err != nil {
		return ColorFilterArray{}, err
	}
	return img.cfa, nil
}

// ICCProfile returns the embedded ICC profile of the selected image, or nil.
func (r *Reader) ICCProfile() ([]byte, error) {
	img, err := r.current()
	if err != nil {
		return nil, err
	}
	if img.icc.isEmpty() {
		return nil, nil
	}
	loaded, err := img.icc.load(r.src)
	if err != nil {
		return nil, fmt.Errorf("load ICC profile: %w", err)
	}
	out := slices.Clone(img.icc.data)
	if loaded {
		img.icc.unload()
	}
	return out, nil
}

// Thumbnail returns the 8-bit thumbnail of the selected image, or nil.
func (r *Reader) Thumbnail() (*Image, error) {
	img, err := r.current()
	if err != nil {
		return nil, err
	}
	th := &img.thumb
	if th.block.isEmpty() {
		return nil, nil
	}
	loaded, err := th.block.load(r.src)
	if err != nil {
		return nil, fmt.Errorf("load thumbnail: %w", err)
	}
	if loaded {
		defer th.block.unload()
	}
	out, err := NewImage(th.info, th.format)
	if err != nil {
		return nil, err
	}
	b := th.block.data
	if th.normal {
		b = deinterleave(b, th.info.Width*th.info.Height, th.info.Channels, th.format.SampleSize())
	}
	if err := out.setBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrThumbnail, err)
	}
	return toUInt8(out), nil
}

// Properties describes the properties of the selected image, including
// those inherited from the unit.
func (r *Reader) Properties() ([]PropertyDescription, error) {
	img, err := r.current()
	if err != nil {
		return nil, err
	}
	out := make([]PropertyDescription, 0, img.props.len())
	for _, p := range img.props.items {
		out = append(out, PropertyDescription{ID: p.id, Type: p.typ})
	}
	return out, nil
}

// Property returns the value of property id of the selected image.
func (r *Reader) Property(id string) (Value, error) {
	img, err := r.current()
	if err != nil {
		return Value{}, err
	}
	p, ok := img.props.get(id)
	if !ok {
		return Value{}, fmt.Errorf("%w: '%s'", ErrPropertyNotFound, id)
	}
	return r.propertyValue(p)
}

func (r *Reader) propertyValue(p *inputProperty) (Value, error) {
	if p.value.IsValid() {
		return p.value, nil
	}
	var data []byte
	if !p.block.isEmpty() {
		loaded, err := p.block.load(r.src)
		if err != nil {
			return Value{}, fmt.Errorf("load property '%s': %w", p.id, err)
		}
		data = p.block.data
		if loaded {
			defer p.block.unload()
		}
	}
	v, err := decodeBlockValue(p.typ, p.dims, data)
	if err != nil {
		return Value{}, fmt.Errorf("property '%s': %w", p.id, err)
	}
	p.value = v
	return v, nil
}

// ReadImage decodes the selected image. Samples are rescaled from the
// stored bounds when ReadNormalized is set.
func (r *Reader) ReadImage() (*Image, error) {
	img, err := r.current()
	if err != nil {
		return nil, err
	}
	loaded, err := img.block.load(r.src)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	if loaded {
		defer img.block.unload()
		r.diag.debug("loaded image block", "index", r.selected, "bytes", len(img.block.data), "codec", img.block.codec)
	}
	out, err := NewImage(img.info, img.options.SampleFormat)
	if err != nil {
		return nil, err
	}
	b := img.block.data
	if img.normal {
		b = deinterleave(b, img.info.Width*img.info.Height, img.info.Channels, img.options.SampleFormat.SampleSize())
	}
	if err := out.setBytes(b); err != nil {
		return nil, err
	}
	if img.options.ReadNormalized {
		normalizeSamples(out.pix, img.options.LowerBound, img.options.UpperBound)
	}
	return out, nil
}

// ReadSamples reads rowCount rows of one channel of the selected image,
// starting at startRow, into dst. T must match the image sample format.
// Compressed attachments cannot be read incrementally.
func ReadSamples[T Sample](r *Reader, dst []T, startRow, rowCount, channel int) error {
	img, err := r.current()
	if err != nil {
		return err
	}
	info, f := img.info, img.options.SampleFormat
	if formatOf[T]() != f {
		return fmt.Errorf("%w: image holds %s samples", ErrSampleType, f)
	}
	if img.normal {
		return ErrPixelStorage
	}
	if rowCount < 1 || startRow < 0 || startRow+rowCount > info.Height {
		return fmt.Errorf("%w: rows [%d, %d) of %d", ErrRowRange, startRow, startRow+rowCount, info.Height)
	}
	if channel < 0 || channel >= info.Channels {
		return fmt.Errorf("%w: channel %d of %d", ErrInvalidAccess, channel, info.Channels)
	}
	n := rowCount * info.Width
	if len(dst) < n {
		return fmt.Errorf("%w: buffer holds %d samples, need %d", ErrInvalidAccess, len(dst), n)
	}
	ss := f.SampleSize()
	off := uint64(ss) * uint64(channel*info.Width*info.Height+startRow*info.Width)
	buf := make([]byte, n*ss)
	if err := img.block.readAt(r.src, buf, off); err != nil {
		return err
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, dst[:n]); err != nil {
		return err
	}
	if img.options.ReadNormalized {
		normalizeSamples(dst[:n], img.options.LowerBound, img.options.UpperBound)
	}
	return nil
}
