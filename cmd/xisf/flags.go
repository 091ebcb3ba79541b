package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/xisf/internal/version"
	"github.com/samcharles93/xisf/pkg/xisf"
)

var (
	configFile string
	config     Config

	logLevel  string
	logFormat string
	debug     bool

	strict         bool
	noWarnings     bool
	ignoreKeywords bool
	importFITS     bool
	noMmap         bool

	compression      string
	compressionLevel int
	checksum         string
	blockAlignment   int
	maxInline        int
	creatorModule    string
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func readerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "treat warnings as errors",
			Destination: &strict,
		},
		&cli.BoolFlag{
			Name:        "no-warnings",
			Usage:       "suppress warnings",
			Destination: &noWarnings,
		},
		&cli.BoolFlag{
			Name:        "ignore-keywords",
			Usage:       "do not load FITS keywords",
			Destination: &ignoreKeywords,
		},
		&cli.BoolFlag{
			Name:        "import-fits",
			Usage:       "expose FITS keywords as FITS: properties",
			Destination: &importFITS,
		},
		&cli.BoolFlag{
			Name:        "no-mmap",
			Usage:       "read files instead of memory mapping them",
			Destination: &noMmap,
		},
	}
}

func writerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "compression",
			Aliases:     []string{"z"},
			Usage:       "compression codec (none, zlib, lz4, lz4hc, with optional +sh)",
			Destination: &compression,
		},
		&cli.IntFlag{
			Name:        "compression-level",
			Usage:       "compression level, 1-100 (0 = codec default)",
			Destination: &compressionLevel,
		},
		&cli.StringFlag{
			Name:        "checksum",
			Usage:       "block checksum algorithm (none, sha1, sha256, sha512)",
			Destination: &checksum,
		},
		&cli.IntFlag{
			Name:        "block-alignment",
			Usage:       "alignment of attached blocks in bytes",
			Value:       xisf.DefaultBlockAlignmentSize,
			Destination: &blockAlignment,
		},
		&cli.IntFlag{
			Name:        "max-inline",
			Usage:       "largest block in bytes stored inside the header",
			Value:       xisf.DefaultMaxInlineBlockSize,
			Destination: &maxInline,
		},
		&cli.StringFlag{
			Name:        "creator-module",
			Usage:       "value recorded as XISF:CreatorModule",
			Destination: &creatorModule,
		},
	}
}

// readOptions builds reader options from flags, falling back to the config
// file for anything not given on the command line.
func readOptions(cmd *cli.Command) xisf.Options {
	opts := xisf.DefaultOptions()
	opts.WarningsAreErrors = strict || (!cmd.IsSet("strict") && config.Strict)
	opts.NoWarnings = noWarnings
	opts.IgnoreFITSKeywords = ignoreKeywords
	opts.ImportFITSKeywords = importFITS
	opts.MemoryMap = !noMmap
	return opts
}

// writeOptions builds writer options from flags and the config file.
func writeOptions(cmd *cli.Command) (xisf.Options, error) {
	opts := xisf.DefaultOptions()
	opts.CreatorApplication = version.Creator()
	opts.WarningsAreErrors = strict || (!cmd.IsSet("strict") && config.Strict)
	opts.NoWarnings = noWarnings

	codec := compression
	if !cmd.IsSet("compression") && config.Compression != "" {
		codec = config.Compression
	}
	c, err := xisf.ParseCodec(codec)
	if err != nil {
		return opts, err
	}
	opts.Compression = c

	level := compressionLevel
	if !cmd.IsSet("compression-level") && config.CompressionLevel != nil {
		level = *config.CompressionLevel
	}
	if level < 0 || level > xisf.MaxCompressionLevel {
		return opts, fmt.Errorf("compression level %d out of range [0, %d]", level, xisf.MaxCompressionLevel)
	}
	opts.CompressionLevel = level

	alg := checksum
	if !cmd.IsSet("checksum") && config.Checksum != "" {
		alg = config.Checksum
	}
	a, err := xisf.ParseChecksumAlgorithm(alg)
	if err != nil {
		return opts, err
	}
	opts.Checksum = a

	opts.BlockAlignmentSize = blockAlignment
	if !cmd.IsSet("block-alignment") && config.BlockAlignment != nil {
		opts.BlockAlignmentSize = *config.BlockAlignment
	}
	opts.MaxInlineBlockSize = maxInline
	if !cmd.IsSet("max-inline") && config.MaxInline != nil {
		opts.MaxInlineBlockSize = *config.MaxInline
	}
	if opts.BlockAlignmentSize < 0 || opts.MaxInlineBlockSize < 0 {
		return opts, fmt.Errorf("block alignment and inline size must not be negative")
	}
	opts.CreatorModule = creatorModule
	if !cmd.IsSet("creator-module") && config.CreatorModule != "" {
		opts.CreatorModule = config.CreatorModule
	}
	return opts, nil
}
