package xisf

// Options configures a Reader or Writer.
type Options struct {
	// Reader options.
	IgnoreFITSKeywords bool // do not load FITSKeyword elements
	ImportFITSKeywords bool // expose FITS keywords as FITS: properties
	IgnoreEmbeddedData bool // skip ICC profiles, thumbnails and color metadata
	IgnoreProperties   bool // skip Property elements
	AutoMetadata       bool // generate XISF: metadata properties
	MemoryMap          bool // map input files read-only when possible

	// Writer options.
	StoreFITSKeywords  bool
	Compression        Codec
	CompressionLevel   int // 0 selects the codec default, else 1..100
	Checksum           ChecksumAlgorithm
	BlockAlignmentSize int
	MaxInlineBlockSize int
	OutputLowerBound   float64 // bounds written for floating point images
	OutputUpperBound   float64
	CreatorApplication string
	CreatorModule      string

	NoWarnings        bool
	WarningsAreErrors bool
	Logger            Logger
}

// DefaultOptions returns the default reader and writer options.
func DefaultOptions() Options {
	return Options{
		AutoMetadata:       true,
		StoreFITSKeywords:  true,
		BlockAlignmentSize: DefaultBlockAlignmentSize,
		MaxInlineBlockSize: DefaultMaxInlineBlockSize,
		OutputLowerBound:   DefaultOutputLowerBound,
		OutputUpperBound:   DefaultOutputUpperBound,
		CreatorApplication: "xisf-go",
	}
}

func (o Options) diagnostics() Diagnostics {
	return Diagnostics{
		NoWarnings:        o.NoWarnings,
		WarningsAreErrors: o.WarningsAreErrors,
		Log:               o.Logger,
	}
}

// ImageOptions are the format independent parameters of one image.
type ImageOptions struct {
	SampleFormat SampleFormat
	LowerBound   float64
	UpperBound   float64
	CFAType      string

	XResolution      float64
	YResolution      float64
	MetricResolution bool // pixels per centimeter instead of per inch

	// ReadNormalized rescales samples from [LowerBound, UpperBound] to the
	// native range of the sample format.
	ReadNormalized bool

	EmbedICCProfile      bool
	EmbedThumbnail       bool
	EmbedProperties      bool
	EmbedRGBWorkingSpace bool
	EmbedDisplayFunction bool
	EmbedCFA             bool
	EmbedResolution      bool
}

// DefaultImageOptions returns options for a 32-bit float image with every
// metadata item embedded.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		SampleFormat:         FormatFloat32,
		LowerBound:           0,
		UpperBound:           1,
		XResolution:          72,
		YResolution:          72,
		ReadNormalized:       true,
		EmbedICCProfile:      true,
		EmbedThumbnail:       true,
		EmbedProperties:      true,
		EmbedRGBWorkingSpace: true,
		EmbedDisplayFunction: true,
		EmbedCFA:             true,
		EmbedResolution:      true,
	}
}

// defaultBounds returns the implicit sample range of format f.
func defaultBounds(f SampleFormat) (lo, hi float64) {
	if f.IsFloat() {
		return 0, 1
	}
	return 0, f.MaxSampleValue()
}
