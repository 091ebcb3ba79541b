package xisf

import (
	"fmt"
	"slices"
)

// Logger receives diagnostic output. internal/logger.Logger and
// *slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Diagnostics collects warnings raised while reading or writing a unit and
// optionally echoes them to a Logger.
type Diagnostics struct {
	NoWarnings        bool
	WarningsAreErrors bool
	Log               Logger

	warnings []string
}

// Warn records a warning. With WarningsAreErrors set it returns the warning
// as an error instead.
func (d *Diagnostics) Warn(msg string) error {
	if d.WarningsAreErrors {
		return fmt.Errorf("%w: %s", ErrWarning, msg)
	}
	if d.NoWarnings {
		return nil
	}
	d.warnings = append(d.warnings, msg)
	if d.Log != nil {
		d.Log.Warn(msg)
	}
	return nil
}

// Warnings returns the warnings recorded so far.
func (d *Diagnostics) Warnings() []string {
	return slices.Clone(d.warnings)
}

func (d *Diagnostics) debug(msg string, args ...any) {
	if d.Log != nil {
		d.Log.Debug(msg, args...)
	}
}

func (d *Diagnostics) reset() { d.warnings = nil }
