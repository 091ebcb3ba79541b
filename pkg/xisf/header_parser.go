package xisf

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// inputProperty is a property declared in the header. Block backed values
// are materialized on first access.
type inputProperty struct {
	id    string
	typ   PropertyType
	dims  []int
	value Value
	block inputBlock
}

func (p *inputProperty) propertyID() string { return p.id }

type thumbnailData struct {
	info   ImageInfo
	format SampleFormat
	normal bool
	block  inputBlock
}

// imageData is everything the header declares about one image.
type imageData struct {
	info     ImageInfo
	options  ImageOptions
	normal   bool // pixel interleaved storage
	id       string
	rgbws    RGBWorkingSpace
	df       DisplayFunction
	cfa      ColorFilterArray
	keywords []FITSKeyword
	block    inputBlock
	icc      inputBlock
	thumb    thumbnailData
	props    propertySet[*inputProperty]
}

type position struct{ line, col int }

type element struct {
	name  string
	attrs []xml.Attr
	pos   position
}

func newElement(se xml.StartElement, at position) element {
	return element{name: se.Name.Local, attrs: se.Attr, pos: at}
}

func (e element) lookup(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// attr returns the value of an unqualified attribute, or "".
func (e element) attr(name string) string {
	v, _ := e.lookup(name)
	return v
}

func (e element) has(name string) bool {
	_, ok := e.lookup(name)
	return ok
}

type dataElement struct {
	element
	text string
}

// headerParser deserializes the XML header of a monolithic unit.
type headerParser struct {
	dec   *xml.Decoder
	depth int
	opts  Options
	diag  *Diagnostics
	fits  fitsImporter

	fileSize    uint64
	minBlockPos uint64

	images []*imageData
	props  propertySet[*inputProperty]
}

func newHeaderParser(header []byte, fileSize uint64, opts Options, diag *Diagnostics) *headerParser {
	return &headerParser{
		dec:         xml.NewDecoder(bytes.NewReader(header)),
		opts:        opts,
		diag:        diag,
		fileSize:    fileSize,
		minBlockPos: SignatureSize + uint64(len(header)),
	}
}

func (p *headerParser) pos() position {
	l, c := p.dec.InputPos()
	return position{l, c}
}

func (p *headerParser) next() (xml.Token, error) {
	tok, err := p.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, p.fatal(p.pos(), fmt.Errorf("%w: %w", ErrInvalidHeader, err))
	}
	switch tok.(type) {
	case xml.StartElement:
		p.depth++
	case xml.EndElement:
		p.depth--
	}
	return tok, nil
}

// skip consumes the rest of the innermost open element.
func (p *headerParser) skip() error {
	if err := p.dec.Skip(); err != nil {
		return p.fatal(p.pos(), fmt.Errorf("%w: %w", ErrInvalidHeader, err))
	}
	p.depth--
	return nil
}

// unwind skips forward until the element opened at depth base is closed.
func (p *headerParser) unwind(base int) error {
	for range unwindMax {
		if p.depth < base {
			return nil
		}
		if err := p.skip(); err != nil {
			return err
		}
	}
	if p.depth < base {
		return nil
	}
	return p.fatal(p.pos(), fmt.Errorf("%w: unable to recover from malformed XML content", ErrInvalidHeader))
}

func (p *headerParser) fatal(at position, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Line: at.line, Column: at.col, Msg: err.Error(), Err: err, Fatal: true}
}

func (p *headerParser) fatalf(at position, format string, args ...any) error {
	return &ParseError{Line: at.line, Column: at.col, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidHeader, Fatal: true}
}

func (p *headerParser) errorf(at position, format string, args ...any) error {
	return &ParseError{Line: at.line, Column: at.col, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidHeader}
}

// warn emits a positioned warning. It returns an error only when warnings
// are promoted to errors.
func (p *headerParser) warn(at position, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err := p.diag.Warn(fmt.Sprintf("%s (line=%d, column=%d)", msg, at.line, at.col)); err != nil {
		return &ParseError{Line: at.line, Column: at.col, Msg: msg, Err: ErrWarning, Fatal: true}
	}
	return nil
}

// guard runs fn on the element just opened and then skips whatever fn left
// unread. Recoverable errors are reported as warnings.
func (p *headerParser) guard(fn func() error) error {
	base := p.depth
	err := fn()
	if err != nil && !recoverable(err) {
		return p.fatal(p.pos(), err)
	}
	if uerr := p.unwind(base); uerr != nil {
		return uerr
	}
	if err == nil {
		return nil
	}
	var pe *ParseError
	errors.As(err, &pe)
	return p.warn(position{pe.Line, pe.Column}, "%s", pe.Msg)
}

// readBody consumes the content of e up to its end tag. It returns the
// element text and, when allowed, its Data children. Other child elements
// are skipped with a warning.
func (p *headerParser) readBody(e element, allowData bool) (string, []dataElement, error) {
	var (
		text strings.Builder
		data []dataElement
	)
	for {
		tok, err := p.next()
		if err != nil {
			return "", nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return text.String(), data, nil
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			ce := newElement(t, p.pos())
			if allowData && ce.name == "Data" {
				dt, _, err := p.readBody(ce, false)
				if err != nil {
					return "", nil, err
				}
				data = append(data, dataElement{ce, dt})
				continue
			}
			if err := p.warn(ce.pos, "Skipping unknown '%s' %s child element.", ce.name, e.name); err != nil {
				return "", nil, err
			}
			if err := p.skip(); err != nil {
				return "", nil, err
			}
		}
	}
}

func isSpace(b []byte) bool { return len(bytes.TrimSpace(b)) == 0 }

// parse reads the root element and all of its children.
func (p *headerParser) parse() error {
	var root element
	for root.name == "" {
		tok, err := p.next()
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = newElement(se, p.pos())
		}
	}
	if root.name != "xisf" || root.attr("version") != "1.0" {
		return p.fatal(root.pos, fmt.Errorf("%w: missing <xisf version=\"1.0\"> root element", ErrUnsupportedVersion))
	}
	for {
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.CharData:
			if !isSpace(t) {
				if err := p.warn(p.pos(), "Ignoring unexpected XML root child node of text type."); err != nil {
					return err
				}
			}
		case xml.StartElement:
			if err := p.rootChild(newElement(t, p.pos())); err != nil {
				return err
			}
		}
	}
}

func (p *headerParser) rootChild(e element) error {
	switch e.name {
	case "Image":
		return p.parseImage(e)
	case "Property":
		if p.opts.IgnoreProperties {
			return p.skip()
		}
		return p.guard(func() error { return p.parseProperty(e, &p.props, false) })
	case "Metadata":
		return p.guard(func() error { return p.parseMetadata(e) })
	}
	if err := p.warn(e.pos, "Skipping unknown '%s' element.", e.name); err != nil {
		return err
	}
	return p.skip()
}

// parseMetadata reads the reserved XISF: properties of the unit.
func (p *headerParser) parseMetadata(e element) error {
	for {
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nil
		case xml.CharData:
			if !isSpace(t) {
				if err := p.warn(p.pos(), "Ignoring unexpected Metadata child node of text type."); err != nil {
					return err
				}
			}
		case xml.StartElement:
			ce := newElement(t, p.pos())
			if ce.name == "Property" {
				if err := p.guard(func() error { return p.parseProperty(ce, &p.props, true) }); err != nil {
					return err
				}
				continue
			}
			if err := p.warn(ce.pos, "Skipping unexpected '%s' Metadata child element.", ce.name); err != nil {
				return err
			}
			if err := p.skip(); err != nil {
				return err
			}
		}
	}
}

func (p *headerParser) addProperty(set *propertySet[*inputProperty], prop *inputProperty, at position) error {
	if set.put(prop) {
		return p.warn(at, "Redefining property '%s'", prop.id)
	}
	return nil
}

func (p *headerParser) parseProperty(e element, set *propertySet[*inputProperty], internal bool) error {
	id := e.attr("id")
	if id == "" {
		return p.errorf(e.pos, "Missing property id attribute.")
	}
	if !IsValidPropertyID(id) {
		return p.errorf(e.pos, "Invalid XISF property identifier '%s'", id)
	}
	if IsInternalPropertyID(id) != internal {
		if internal {
			return p.errorf(e.pos, "Expected a reserved property in the 'XISF:' namespace: '%s'", id)
		}
		return p.errorf(e.pos, "Use of the 'XISF:' reserved namespace is forbidden here: '%s'", id)
	}
	ts := e.attr("type")
	if ts == "" {
		return p.errorf(e.pos, "Missing property type attribute.")
	}
	t, err := ParsePropertyType(ts)
	if err != nil {
		return p.fatal(e.pos, err)
	}

	prop := &inputProperty{id: id, typ: t}
	switch {
	case t.IsScalar() || t.IsComplex() || t == TypeTimePoint:
		vs := e.attr("value")
		if vs == "" {
			return p.errorf(e.pos, "Missing value attribute for %s property '%s'", t, id)
		}
		v, err := parseScalarValue(t, vs)
		if err != nil {
			return p.errorf(e.pos, "%v", err)
		}
		prop.value = v
		if _, _, err := p.readBody(e, false); err != nil {
			return err
		}

	case t.IsString():
		text, data, err := p.readBody(e, true)
		if err != nil {
			return err
		}
		if !e.has("location") {
			prop.value = Value{typ: t, v: text}
			break
		}
		unit := 1
		if t == TypeString16 {
			unit = 2
		}
		if err := p.parseBlock(&prop.block, e, text, data, unit); err != nil {
			return err
		}
		if prop.block.isEmpty() {
			prop.value = Value{typ: t, v: ""}
		}

	case t.IsVector():
		ls := e.attr("length")
		if ls == "" {
			return p.errorf(e.pos, "Missing vector length attribute.")
		}
		n, err := strconv.Atoi(strings.TrimSpace(ls))
		if err != nil || n < 0 {
			return p.errorf(e.pos, "Invalid vector length: %s", ls)
		}
		prop.dims = []int{n}
		if err := p.propertyBlock(prop, e); err != nil {
			return err
		}

	case t.IsMatrix():
		dims := make([]int, 0, 2)
		for _, name := range []string{"rows", "columns"} {
			s := e.attr(name)
			if s == "" {
				return p.errorf(e.pos, "Missing matrix %s attribute.", name)
			}
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n <= 0 {
				return p.errorf(e.pos, "Invalid matrix dimension: %s", s)
			}
			dims = append(dims, n)
		}
		prop.dims = dims
		if err := p.propertyBlock(prop, e); err != nil {
			return err
		}
	}
	return p.addProperty(set, prop, e.pos)
}

func (p *headerParser) propertyBlock(prop *inputProperty, e element) error {
	text, data, err := p.readBody(e, true)
	if err != nil {
		return err
	}
	if err := p.parseBlock(&prop.block, e, text, data, prop.typ.componentSize()); err != nil {
		return err
	}
	n := 1
	for _, d := range prop.dims {
		n *= d
	}
	if prop.block.isEmpty() && n > 0 {
		return p.errorf(e.pos, "Missing data for property '%s'", prop.id)
	}
	return nil
}

// parseBlock resolves the location attribute of e into b. text and data
// are the element text and Data children, used by inline and embedded
// locations. unit is the byte order conversion unit.
func (p *headerParser) parseBlock(b *inputBlock, e element, text string, data []dataElement, unit int) error {
	*b = inputBlock{unitSize: unit}
	ls := e.attr("location")
	if ls == "" {
		return p.fatalf(e.pos, "Missing block location attribute.")
	}
	loc, err := ParseLocation(ls)
	if err != nil {
		return p.fatal(e.pos, err)
	}
	switch loc.Kind {
	case LocationAttachment:
		if loc.Position < p.minBlockPos || loc.Position >= p.fileSize {
			return p.fatal(e.pos, fmt.Errorf("%w: invalid block position: %s", ErrCorruptFile, ls))
		}
		if loc.Size == 0 || loc.Position+loc.Size > p.fileSize {
			return p.fatal(e.pos, fmt.Errorf("%w: invalid block size: %s", ErrCorruptFile, ls))
		}
		b.position, b.size = loc.Position, loc.Size
		if err := p.blockAttrs(b, e); err != nil {
			return err
		}
		b.state = blockUnloaded
		return nil
	case LocationInline:
		return p.encodedData(b, e, text, loc.Encoding)
	}
	for i, d := range data {
		if i > 0 {
			if err := p.warn(d.pos, "Redefining %s embedded data - previously defined data will be ignored.", e.name); err != nil {
				return err
			}
		}
		if err := p.embeddedData(b, d); err != nil {
			return err
		}
	}
	return nil
}

func (p *headerParser) embeddedData(b *inputBlock, d dataElement) error {
	enc := foldID(strings.TrimSpace(d.attr("encoding")))
	if enc == "" {
		if err := p.warn(d.pos, "Missing data encoding attribute; assuming base64 encoding by default."); err != nil {
			return err
		}
		enc = "base64"
	}
	return p.encodedData(b, d.element, d.text, enc)
}

func (p *headerParser) encodedData(b *inputBlock, e element, text, encoding string) error {
	*b = inputBlock{unitSize: b.unitSize}
	if err := p.blockAttrs(b, e); err != nil {
		return err
	}
	data, err := DecodeBlockText(text, encoding)
	if err != nil {
		return p.fatal(e.pos, err)
	}
	if err := b.setInline(data); err != nil {
		return p.fatal(e.pos, err)
	}
	return nil
}

func splitTrim(s, sep string) []string {
	tokens := strings.Split(s, sep)
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	return tokens
}

// blockAttrs reads the compression, subblocks, checksum and byteOrder
// attributes of a block element.
func (p *headerParser) blockAttrs(b *inputBlock, e element) error {
	b.codec, b.itemSize, b.subInfo = CodecNone, 1, nil
	if s := e.attr("compression"); s != "" {
		tokens := splitTrim(s, ":")
		if len(tokens) < 2 || len(tokens) > 3 {
			return p.fatalf(e.pos, "Malformed block compression attribute: '%s'", s)
		}
		if tokens[0] == "" {
			return p.fatalf(e.pos, "Missing data compression algorithm: %s", s)
		}
		codec, err := ParseCodec(tokens[0])
		if err != nil || codec == CodecNone {
			return p.fatal(e.pos, fmt.Errorf("%w: unknown/unsupported data compression algorithm '%s'", ErrUnsupportedCodec, tokens[0]))
		}
		usize, err := strconv.ParseUint(tokens[1], 10, 64)
		if err != nil || usize == 0 || usize > math.MaxUint32 {
			return p.fatalf(e.pos, "Invalid uncompressed block size: %s", s)
		}
		if len(tokens) == 3 {
			n, err := strconv.Atoi(tokens[2])
			if err != nil || n < 1 || n > 16 {
				return p.fatalf(e.pos, "Invalid uncompressed item size: %s", s)
			}
			b.itemSize = n
		}
		if sb := e.attr("subblocks"); sb != "" {
			var total, utotal uint64
			for _, tok := range splitTrim(sb, ":") {
				items := splitTrim(tok, ",")
				if len(items) != 2 {
					return p.fatalf(e.pos, "Malformed compression subblocks attribute: '%s'", sb)
				}
				cs, err1 := strconv.ParseUint(items[0], 10, 64)
				us, err2 := strconv.ParseUint(items[1], 10, 64)
				if err1 != nil || err2 != nil || cs == 0 || us == 0 || us > math.MaxUint32 {
					return p.fatalf(e.pos, "Invalid compression subblock parameters: '%s'", tok)
				}
				b.subInfo = append(b.subInfo, subblockInfo{compressedSize: cs, uncompressedSize: us})
				total += cs
				utotal += us
			}
			if b.size > 0 && total > b.size {
				return p.fatalf(e.pos, "Invalid compression subblock parameters: '%s'", sb)
			}
			if utotal != usize {
				return p.fatalf(e.pos, "Compression subblocks hold %d bytes, expected %d: '%s'", utotal, usize, sb)
			}
		} else {
			b.subInfo = []subblockInfo{{compressedSize: b.size, uncompressedSize: usize}}
		}
		b.codec = codec
	}
	if s := e.attr("checksum"); s != "" {
		c, err := parseChecksumAttr(s)
		if err != nil {
			return p.fatal(e.pos, fmt.Errorf("%w: %w", ErrUnsupportedChecksum, err))
		}
		b.checksum = c
	}
	if s := e.attr("byteOrder"); s != "" {
		switch s {
		case "big":
			b.bigEndian = true
		case "little":
		default:
			return p.fatalf(e.pos, "Invalid block byte order specification '%s'", s)
		}
		if b.unitSize <= 1 {
			if err := p.warn(e.pos, "The byteOrder attribute should not be specified for unstructured byte sequences."); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseGeometry decodes geometry="w:h:n".
func parseGeometry(s string) (ImageInfo, error) {
	tokens := splitTrim(s, ":")
	switch {
	case len(tokens) < 2:
		return ImageInfo{}, fmt.Errorf("Insufficient image geometry parameters: '%s'", s)
	case len(tokens) < 3:
		return ImageInfo{}, fmt.Errorf("One-dimensional images are not supported by this XISF implementation: '%s'", s)
	case len(tokens) > 3:
		return ImageInfo{}, fmt.Errorf("This XISF implementation only supports two-dimensional images: '%s'", s)
	}
	return geometryValues(tokens[0], tokens[1], tokens[2])
}

func geometryValues(ws, hs, ns string) (ImageInfo, error) {
	var info ImageInfo
	var err error
	if info.Width, err = strconv.Atoi(strings.TrimSpace(ws)); err != nil || info.Width < 1 || info.Width > MaxImageDimension {
		return ImageInfo{}, fmt.Errorf("Invalid image width: %s", ws)
	}
	if info.Height, err = strconv.Atoi(strings.TrimSpace(hs)); err != nil || info.Height < 1 || info.Height > MaxImageDimension {
		return ImageInfo{}, fmt.Errorf("Invalid image height: %s", hs)
	}
	if info.Channels, err = strconv.Atoi(strings.TrimSpace(ns)); err != nil || info.Channels < 1 || info.Channels > MaxImageDimension {
		return ImageInfo{}, fmt.Errorf("Invalid number of image channels: %s", ns)
	}
	return info, nil
}

// imageGeometry reconciles the geometry attribute with the legacy width,
// height and numberOfChannels attributes. geometry wins.
func (p *headerParser) imageGeometry(e element) (ImageInfo, error) {
	legacy := e.has("width") || e.has("height") || e.has("numberOfChannels")
	if g := e.attr("geometry"); g != "" {
		if legacy {
			if err := p.warn(e.pos, "Ignoring legacy width/height/numberOfChannels Image attributes superseded by the geometry attribute."); err != nil {
				return ImageInfo{}, err
			}
		}
		info, err := parseGeometry(g)
		if err != nil {
			return ImageInfo{}, p.fatal(e.pos, fmt.Errorf("%w: %w", ErrInvalidHeader, err))
		}
		return info, nil
	}
	if !legacy {
		return ImageInfo{}, p.fatalf(e.pos, "Missing image geometry attribute.")
	}
	n := e.attr("numberOfChannels")
	if n == "" {
		n = "1"
	}
	info, err := geometryValues(e.attr("width"), e.attr("height"), n)
	if err != nil {
		return ImageInfo{}, p.fatal(e.pos, fmt.Errorf("%w: %w", ErrInvalidHeader, err))
	}
	return info, nil
}

// imageBounds reconciles bounds with the legacy lowerBound and upperBound
// attributes and validates the result against the sample format.
func (p *headerParser) imageBounds(e element, opts *ImageOptions) error {
	f := opts.SampleFormat
	opts.LowerBound, opts.UpperBound = defaultBounds(f)

	s := e.attr("bounds")
	lower, hasLower := e.lookup("lowerBound")
	upper, hasUpper := e.lookup("upperBound")
	if s != "" && (hasLower || hasUpper) {
		if err := p.warn(e.pos, "Ignoring legacy lowerBound/upperBound Image attributes superseded by the bounds attribute."); err != nil {
			return err
		}
	} else if s == "" && (hasLower || hasUpper) {
		if !hasLower || !hasUpper {
			return p.fatalf(e.pos, "Incomplete lowerBound/upperBound Image attributes.")
		}
		s = lower + ":" + upper
	}

	if s == "" {
		if f.IsFloat() && !f.IsComplex() {
			return p.fatalf(e.pos, "Missing bounds Image attribute, which is mandatory for a floating point real image.")
		}
		return nil
	}
	if f.IsComplex() {
		return p.warn(e.pos, "Ignoring bounds Image attribute, which is unsupported for complex images.")
	}

	tokens := splitTrim(s, ":")
	if len(tokens) < 2 {
		return p.fatalf(e.pos, "Malformed bounds Image attribute: '%s'", s)
	}
	lo, err1 := strconv.ParseFloat(tokens[0], 64)
	hi, err2 := strconv.ParseFloat(tokens[1], 64)
	if err1 != nil || err2 != nil || !finite(lo) || !finite(hi) {
		if err := p.warn(e.pos, "Non-numeric bounds Image attribute value(s)."); err != nil {
			return err
		}
		return nil
	}
	if len(tokens) > 2 {
		if err := p.warn(e.pos, "Ignoring excess image bounds data: '%s'", s); err != nil {
			return err
		}
	}
	if !f.IsFloat() {
		limit := math.Ldexp(1, f.BitsPerSample())
		if lo < 0 || lo >= limit {
			return p.fatalf(e.pos, "Invalid %d-bit integer lower bound: %s", f.BitsPerSample(), s)
		}
		if hi < 0 || hi >= limit {
			return p.fatalf(e.pos, "Invalid %d-bit integer upper bound: %s", f.BitsPerSample(), s)
		}
	}
	if hi < lo {
		lo, hi = hi, lo
		if err := p.warn(e.pos, "Swapping unordered lower and upper bound attribute values"); err != nil {
			return err
		}
	}
	if 1 == 1+hi-lo {
		if err := p.warn(e.pos, "Empty or infinitesimal pixel sample range."); err != nil {
			return err
		}
	}
	opts.LowerBound, opts.UpperBound = lo, hi
	return nil
}

// imageAttrs decodes the Image element attributes. Every failure here is
// fatal.
func (p *headerParser) imageAttrs(img *imageData, e element) error {
	info, err := p.imageGeometry(e)
	if err != nil {
		return err
	}
	img.info = info

	s := e.attr("sampleFormat")
	if s == "" {
		return p.fatalf(e.pos, "Missing Image sampleFormat attribute.")
	}
	f, err := ParseSampleFormat(s)
	if err != nil {
		return p.fatal(e.pos, err)
	}
	img.options.SampleFormat = f
	if err := p.imageBounds(e, &img.options); err != nil {
		return err
	}

	s = e.attr("colorSpace")
	if s == "" {
		img.info.ColorSpace = ColorSpaceGray
		if err := p.warn(e.pos, "Missing colorSpace Image attribute: Assuming the grayscale color space."); err != nil {
			return err
		}
	} else if img.info.ColorSpace, err = ParseColorSpace(s); err != nil {
		return p.fatal(e.pos, fmt.Errorf("%w: %w", ErrInvalidHeader, err))
	}
	if !img.info.Valid() {
		return p.fatalf(e.pos, "Invalid/unsupported image parameters.")
	}

	switch s = foldID(e.attr("pixelStorage")); s {
	case "", "planar":
	case "normal":
		img.normal = true
	default:
		return p.fatalf(e.pos, "Unknown/unsupported pixel storage model '%s'", s)
	}

	if s = e.attr("cfaType"); s != "" {
		if validCFAType(s) {
			img.options.CFAType = s
		} else if err := p.warn(e.pos, "Ignoring invalid cfaType Image attribute '%s'", s); err != nil {
			return err
		}
	}

	if img.id = e.attr("id"); img.id != "" {
		if IsValidIdentifier(img.id) {
			prop := &inputProperty{id: InternalPrefix + "ImageIdentifier", typ: TypeString, value: Value{typ: TypeString, v: img.id}}
			if err := p.addProperty(&img.props, prop, e.pos); err != nil {
				return err
			}
		} else {
			if err := p.warn(e.pos, "Ignoring invalid image identifier '%s'", img.id); err != nil {
				return err
			}
			img.id = ""
		}
	}
	return nil
}

func (p *headerParser) parseImage(e element) error {
	img := &imageData{
		options: DefaultImageOptions(),
		rgbws:   SRGBWorkingSpace(),
		df:      IdentityDisplayFunction(),
	}
	if err := p.imageAttrs(img, e); err != nil {
		return err
	}
	unit := img.options.SampleFormat.componentSize()

	if e.attr("location") == "" {
		return p.fatalf(e.pos, "Missing block location attribute.")
	}
	loc, err := ParseLocation(e.attr("location"))
	if err != nil {
		return p.fatal(e.pos, err)
	}
	if loc.Kind == LocationAttachment {
		if err := p.parseBlock(&img.block, e, "", nil, unit); err != nil {
			return err
		}
	} else {
		img.block = inputBlock{unitSize: unit}
	}

	p.diag.debug("loading image", "id", img.id, "width", img.info.Width, "height", img.info.Height,
		"channels", img.info.Channels, "colorSpace", img.info.ColorSpace, "format", img.options.SampleFormat)

	var text strings.Builder
	for done := false; !done; {
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			done = true
		case xml.CharData:
			if loc.Kind == LocationInline {
				text.Write(t)
			} else if !isSpace(t) {
				if err := p.warn(p.pos(), "Ignoring unexpected Image child node of text type."); err != nil {
					return err
				}
			}
		case xml.StartElement:
			ce := newElement(t, p.pos())
			if ce.name == "Data" {
				if loc.Kind != LocationEmbedded || !img.block.isEmpty() {
					if err := p.warn(ce.pos, "Ignoring unexpected Image embedded data."); err != nil {
						return err
					}
					if err := p.skip(); err != nil {
						return err
					}
					continue
				}
				dt, _, err := p.readBody(ce, false)
				if err != nil {
					return err
				}
				if err := p.embeddedData(&img.block, dataElement{ce, dt}); err != nil {
					return err
				}
				continue
			}
			if err := p.imageChild(img, ce); err != nil {
				return err
			}
		}
	}
	if loc.Kind == LocationInline {
		if err := p.parseBlock(&img.block, e, text.String(), nil, unit); err != nil {
			return err
		}
	}
	if img.block.isEmpty() {
		return p.fatalf(e.pos, "Missing image data block.")
	}
	want, ok := img.info.ByteSize(img.options.SampleFormat.SampleSize())
	if !ok {
		return p.fatal(e.pos, fmt.Errorf("%w: image geometry %dx%dx%d is too large", ErrCorruptFile, img.info.Width, img.info.Height, img.info.Channels))
	}
	if img.block.dataSize() != want {
		return p.fatal(e.pos, fmt.Errorf("%w: image block size %d does not match the image geometry (%d bytes)", ErrCorruptFile, img.block.dataSize(), want))
	}
	if img.props.len() > 0 {
		p.diag.debug("image properties", "count", img.props.len())
	}
	p.images = append(p.images, img)
	return nil
}

func (p *headerParser) imageChild(img *imageData, e element) error {
	embedded := !p.opts.IgnoreEmbeddedData
	switch e.name {
	case "Property":
		if !p.opts.IgnoreProperties {
			return p.guard(func() error { return p.parseProperty(e, &img.props, false) })
		}
	case "FITSKeyword":
		if !p.opts.IgnoreFITSKeywords {
			return p.guard(func() error { return p.parseFITSKeyword(img, e) })
		}
	case "RGBWorkingSpace":
		if embedded {
			return p.guard(func() error { return p.parseRGBWS(img, e) })
		}
	case "DisplayFunction":
		if embedded {
			return p.guard(func() error { return p.parseDisplayFunction(img, e) })
		}
	case "ColorFilterArray":
		if embedded {
			return p.guard(func() error { return p.parseCFA(img, e) })
		}
	case "Resolution":
		if embedded {
			return p.guard(func() error { return p.parseResolution(img, e) })
		}
	case "ICCProfile":
		if embedded {
			return p.guard(func() error { return p.parseICCProfile(img, e) })
		}
	case "Thumbnail":
		if embedded {
			return p.guard(func() error { return p.parseThumbnail(img, e) })
		}
	default:
		if err := p.warn(e.pos, "Skipping unknown '%s' Image child element.", e.name); err != nil {
			return err
		}
	}
	return p.skip()
}

func (p *headerParser) parseFITSKeyword(img *imageData, e element) error {
	k := FITSKeyword{Name: e.attr("name"), Value: e.attr("value"), Comment: e.attr("comment")}
	if _, _, err := p.readBody(e, false); err != nil {
		return err
	}
	k.FixValueDelimiters()
	img.keywords = append(img.keywords, k)
	if !p.opts.ImportFITSKeywords {
		return nil
	}
	id, v, ok := p.fits.property(k)
	if !ok {
		return nil
	}
	return p.addProperty(&img.props, &inputProperty{id: id, typ: v.typ, value: v}, e.pos)
}

func (p *headerParser) parseRGBWS(img *imageData, e element) error {
	names := [...]string{"gamma", "xr", "xg", "xb", "yr", "yg", "yb", "Yr", "Yg", "Yb"}
	var vals [len(names)]float32
	for i, name := range names {
		s := strings.TrimSpace(e.attr(name))
		if s == "" {
			return p.errorf(e.pos, "Missing required RGBWS parameter(s).")
		}
		if i == 0 && foldID(s) == "srgb" {
			continue
		}
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return p.errorf(e.pos, "Invalid RGBWS '%s' parameter: %s", name, s)
		}
		vals[i] = float32(f)
	}
	ws := RGBWorkingSpace{
		Gamma: vals[0],
		X:     [3]float32{vals[1], vals[2], vals[3]},
		Y:     [3]float32{vals[4], vals[5], vals[6]},
		L:     [3]float32{vals[7], vals[8], vals[9]},
	}
	if foldID(strings.TrimSpace(e.attr("gamma"))) == "srgb" {
		ws.Gamma, ws.SRGB = 2.2, true
	}
	if ws.Gamma <= 0 {
		return p.errorf(e.pos, "Invalid RGBWS gamma: %s", e.attr("gamma"))
	}
	img.rgbws = ws
	_, _, err := p.readBody(e, false)
	return err
}

func (p *headerParser) parseDisplayFunction(img *imageData, e element) error {
	var df DisplayFunction
	params := []struct {
		name   string
		dst    *[4]float64
		lo, hi float64
	}{
		{"m", &df.M, 0, 1},
		{"s", &df.S, 0, 1},
		{"h", &df.H, 0, 1},
		{"l", &df.L, math.MinInt32, 0},
		{"r", &df.R, 1, math.MaxInt32},
	}
	for _, prm := range params {
		s := e.attr(prm.name)
		if s == "" {
			return p.errorf(e.pos, "Missing DisplayFunction '%s' attribute.", prm.name)
		}
		v, err := parseDisplayParams(s, prm.lo, prm.hi)
		if err != nil {
			return p.errorf(e.pos, "Invalid DisplayFunction '%s' attribute: %v", prm.name, err)
		}
		*prm.dst = v
	}
	img.df = df
	_, _, err := p.readBody(e, false)
	return err
}

func (p *headerParser) parseCFA(img *imageData, e element) error {
	cfa := ColorFilterArray{Pattern: e.attr("pattern"), Name: e.attr("name")}
	if cfa.Pattern == "" {
		return p.errorf(e.pos, "Missing pattern ColorFilterArray attribute.")
	}
	for _, d := range []struct {
		name string
		dst  *int
	}{{"width", &cfa.Width}, {"height", &cfa.Height}} {
		s := e.attr(d.name)
		if s == "" {
			return p.errorf(e.pos, "Missing %s ColorFilterArray attribute.", d.name)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return p.errorf(e.pos, "Invalid ColorFilterArray %s: %s", d.name, s)
		}
		*d.dst = n
	}
	img.cfa = cfa
	_, _, err := p.readBody(e, false)
	return err
}

func (p *headerParser) parseResolution(img *imageData, e element) error {
	var xy [2]float64
	for i, name := range []string{"horizontal", "vertical"} {
		s := e.attr(name)
		if s == "" {
			return p.errorf(e.pos, "Missing %s Resolution attribute.", name)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || f <= 0 || !finite(f) {
			return p.errorf(e.pos, "Invalid %s resolution: %s", name, s)
		}
		xy[i] = f
	}
	metric := img.options.MetricResolution
	switch u := foldID(e.attr("unit")); u {
	case "":
	case "cm", "metric":
		metric = true
	case "inch", "english":
		metric = false
	default:
		return p.errorf(e.pos, "Unknown/unsupported resolution unit '%s'", u)
	}
	img.options.XResolution, img.options.YResolution = xy[0], xy[1]
	img.options.MetricResolution = metric
	_, _, err := p.readBody(e, false)
	return err
}

func (p *headerParser) parseICCProfile(img *imageData, e element) error {
	if !img.icc.isEmpty() {
		if err := p.warn(e.pos, "Redefining ICCProfile Image child element - previously defined ICC profile will be ignored."); err != nil {
			return err
		}
	}
	if e.has("byteOrder") {
		return p.errorf(e.pos, "The byteOrder attribute is forbidden for ICCProfile core elements.")
	}
	text, data, err := p.readBody(e, true)
	if err != nil {
		return err
	}
	var icc inputBlock
	if err := p.parseBlock(&icc, e, text, data, 1); err != nil {
		return err
	}
	if icc.isEmpty() {
		return p.errorf(e.pos, "Missing ICC profile data.")
	}
	img.icc = icc
	return nil
}

func (p *headerParser) parseThumbnail(img *imageData, e element) error {
	if !img.thumb.block.isEmpty() {
		if err := p.warn(e.pos, "Redefining Thumbnail Image child element - previously defined thumbnail will be ignored."); err != nil {
			return err
		}
	}
	info, err := parseGeometry(e.attr("geometry"))
	if err != nil {
		return p.errorf(e.pos, "%v", err)
	}
	th := thumbnailData{format: FormatUInt8}
	switch s := foldID(e.attr("sampleFormat")); s {
	case "", "uint8":
	case "uint16":
		th.format = FormatUInt16
	default:
		return p.errorf(e.pos, "Invalid/unsupported Thumbnail sampleFormat attribute: Must be either UInt8 or UInt16.")
	}
	info.ColorSpace = ColorSpaceGray
	if s := e.attr("colorSpace"); s != "" {
		cs, err := ParseColorSpace(s)
		if err != nil {
			return p.errorf(e.pos, "Invalid/unknown thumbnail color space '%s'", s)
		}
		if cs != ColorSpaceRGB && cs != ColorSpaceGray {
			return p.errorf(e.pos, "Unsupported thumbnail color space '%s'. Must be either RGB or grayscale.", s)
		}
		info.ColorSpace = cs
	}
	switch s := foldID(e.attr("pixelStorage")); s {
	case "", "planar":
	case "normal":
		th.normal = true
	default:
		return p.errorf(e.pos, "Unknown/unsupported pixel storage model '%s'", s)
	}
	if !info.Valid() {
		return p.errorf(e.pos, "Invalid/unsupported thumbnail parameters.")
	}
	th.info = info

	text, data, err := p.readBody(e, true)
	if err != nil {
		return err
	}
	if err := p.parseBlock(&th.block, e, text, data, th.format.componentSize()); err != nil {
		return err
	}
	if info.Width > MaxThumbnailSize || info.Height > MaxThumbnailSize {
		img.thumb = thumbnailData{}
		return p.warn(e.pos, "Ignoring too big image thumbnail (%dx%d)", info.Width, info.Height)
	}
	if want, _ := info.ByteSize(th.format.SampleSize()); th.block.dataSize() != want {
		return p.errorf(e.pos, "Inconsistent thumbnail block size: %d bytes, expected %d", th.block.dataSize(), want)
	}
	img.thumb = th
	return nil
}
