package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the xisf configuration file (~/.config/xisf/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Output
	Compression      string `yaml:"compression"`
	CompressionLevel *int   `yaml:"compression_level"`
	Checksum         string `yaml:"checksum"`
	BlockAlignment   *int   `yaml:"block_alignment"`
	MaxInline        *int   `yaml:"max_inline"`
	CreatorModule    string `yaml:"creator_module"`
	OutputDir        string `yaml:"output_dir"`

	// Input
	Strict bool `yaml:"strict"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Batch commands
	Workers *int `yaml:"workers"`

	// Server
	ServerAddress  string `yaml:"server_address"`
	MaxUploadBytes *int64 `yaml:"max_upload_bytes"`
	MaxUnits       *int   `yaml:"max_units"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "xisf", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
