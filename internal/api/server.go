package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/xisf/internal/inspect"
	"github.com/samcharles93/xisf/internal/logger"
	"github.com/samcharles93/xisf/internal/transcode"
	"github.com/samcharles93/xisf/pkg/xisf"
)

// Config configures a Server.
type Config struct {
	// ReadOptions and WriteOptions are the xisf options used for uploaded
	// units and for conversion output.
	ReadOptions  xisf.Options
	WriteOptions xisf.Options
	// MaxUploadBytes bounds the size of an uploaded unit.
	MaxUploadBytes int64
	// MaxUnits bounds the number of units held in memory.
	MaxUnits int
	Logger   logger.Logger
}

func DefaultConfig() Config {
	return Config{
		ReadOptions:    xisf.DefaultOptions(),
		WriteOptions:   xisf.DefaultOptions(),
		MaxUploadBytes: 512 << 20,
		MaxUnits:       16,
	}
}

// Server exposes XISF inspection and conversion over HTTP.
type Server struct {
	store *UnitStore
	cfg   Config
	log   logger.Logger
	clock func() time.Time
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	return &Server{
		store: NewUnitStore(cfg.MaxUnits),
		cfg:   cfg,
		log:   log,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/units", s.handleUpload)
	e.GET("/v1/units", s.handleList)
	e.GET("/v1/units/:id", s.handleGet)
	e.DELETE("/v1/units/:id", s.handleDelete)
	e.GET("/v1/units/:id/images/:index/pixels", s.handlePixels)
	e.GET("/v1/units/:id/images/:index/properties/:property", s.handleProperty)
	e.POST("/v1/units/:id/convert", s.handleConvert)
}

// openUnit opens a reader over stored unit data.
func (s *Server) openUnit(rec *unitRecord) (*xisf.Reader, error) {
	opts := s.cfg.ReadOptions
	opts.Logger = s.log.With("unit", rec.Unit.ID)
	r := xisf.NewReader(opts)
	if err := r.OpenReaderAt(bytes.NewReader(rec.Data), int64(len(rec.Data)), rec.Unit.Name); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Server) handleUpload(c *echo.Context) error {
	data, err := readBody(c, s.cfg.MaxUploadBytes)
	if err != nil {
		return writeFailure(c, err)
	}
	name := c.QueryParam("name")
	if name == "" {
		name = "upload.xisf"
	}
	report, err := inspect.Bytes(data, name, s.cfg.ReadOptions, inspect.DefaultOptions())
	if err != nil {
		s.log.Debug("rejected upload", "name", name, "bytes", len(data), "err", err)
		return writeFailure(c, err)
	}
	unit := s.store.Create(name, data, report, s.clock())
	s.log.Info("stored unit", "id", unit.ID, "name", name, "images", len(report.Images), "bytes", len(data))
	return c.JSON(http.StatusCreated, unit)
}

func (s *Server) handleList(c *echo.Context) error {
	return c.JSON(http.StatusOK, UnitList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGet(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "unit not found")
	}
	return c.JSON(http.StatusOK, rec.Unit)
}

func (s *Server) handleDelete(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "unit not found")
	}
	return c.JSON(http.StatusOK, DeletedObject{ID: id, Object: "xisf.unit.deleted", Deleted: true})
}

// handlePixels returns the planar little-endian samples of one image.
func (s *Server) handlePixels(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "unit not found")
	}
	index, err := pathIndex(c, "index")
	if err != nil {
		return writeFailure(c, err)
	}
	r, err := s.openUnit(rec)
	if err != nil {
		return writeFailure(c, err)
	}
	defer func() { _ = r.Close() }()
	if err := r.SelectImage(index); err != nil {
		return writeFailure(c, err)
	}
	iopts, err := r.ImageOptions()
	if err != nil {
		return writeFailure(c, err)
	}
	iopts.ReadNormalized = c.QueryParam("normalized") == "true"
	if err := r.SetImageOptions(iopts); err != nil {
		return writeFailure(c, err)
	}
	img, err := r.ReadImage()
	if err != nil {
		return writeFailure(c, err)
	}
	return writeBinary(c, img.Bytes(), map[string]string{
		"X-XISF-Geometry":      fmt.Sprintf("%d:%d:%d", img.Width, img.Height, img.Channels),
		"X-XISF-Sample-Format": img.Format.String(),
		"X-XISF-Color-Space":   img.ColorSpace.String(),
	})
}

func (s *Server) handleProperty(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "unit not found")
	}
	index, err := pathIndex(c, "index")
	if err != nil {
		return writeFailure(c, err)
	}
	r, err := s.openUnit(rec)
	if err != nil {
		return writeFailure(c, err)
	}
	defer func() { _ = r.Close() }()
	if err := r.SelectImage(index); err != nil {
		return writeFailure(c, err)
	}
	id := c.Param("property")
	v, err := r.Property(id)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, PropertyObject{
		ID:         id,
		Object:     "xisf.property",
		Type:       v.Type().String(),
		Value:      v.String(),
		Dimensions: v.Dimensions(),
	})
}

// handleConvert transcodes a stored unit and returns the new unit.
func (s *Server) handleConvert(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "unit not found")
	}
	req, err := decodeJSON[ConvertRequest](c.Request().Body)
	if err != nil {
		return writeFailure(c, err)
	}
	wopts, topts, err := s.convertOptions(req)
	if err != nil {
		return writeFailure(c, err)
	}

	ropts := s.cfg.ReadOptions
	ropts.AutoMetadata = false
	ropts.ImportFITSKeywords = false
	r := xisf.NewReader(ropts)
	if err := r.OpenReaderAt(bytes.NewReader(rec.Data), int64(len(rec.Data)), rec.Unit.Name); err != nil {
		return writeFailure(c, err)
	}
	defer func() { _ = r.Close() }()

	var out bytes.Buffer
	w := xisf.NewWriter(wopts)
	if err := w.CreateTo(&out, rec.Unit.Name); err != nil {
		return writeFailure(c, err)
	}
	if err := transcode.Unit(c.Request().Context(), r, w, topts); err != nil {
		_ = w.Close()
		return writeFailure(c, err)
	}
	if err := w.Close(); err != nil {
		return writeFailure(c, err)
	}
	s.log.Info("converted unit", "id", rec.Unit.ID, "codec", wopts.Compression, "bytes", out.Len())
	return writeBinary(c, out.Bytes(), map[string]string{
		"X-XISF-Warnings": strconv.Itoa(len(w.Warnings())),
	})
}

func (s *Server) convertOptions(req ConvertRequest) (xisf.Options, transcode.Options, error) {
	wopts := s.cfg.WriteOptions
	wopts.Logger = s.log
	topts := transcode.DefaultOptions()
	if req.Compression != "" {
		codec, err := xisf.ParseCodec(req.Compression)
		if err != nil {
			return wopts, topts, err
		}
		wopts.Compression = codec
	}
	if req.Level != nil {
		if *req.Level < 0 || *req.Level > xisf.MaxCompressionLevel {
			return wopts, topts, newInvalidRequest(fmt.Sprintf("compression_level must be in [0, %d]", xisf.MaxCompressionLevel))
		}
		wopts.CompressionLevel = *req.Level
	}
	if req.Checksum != "" {
		alg, err := xisf.ParseChecksumAlgorithm(req.Checksum)
		if err != nil {
			return wopts, topts, err
		}
		wopts.Checksum = alg
	}
	if req.SampleFormat != "" {
		f, err := xisf.ParseSampleFormat(req.SampleFormat)
		if err != nil {
			return wopts, topts, newInvalidRequest(err.Error())
		}
		topts.Format = f
	}
	topts.Images = req.Images
	if req.Properties != nil {
		topts.Properties = *req.Properties
	}
	return wopts, topts, nil
}
