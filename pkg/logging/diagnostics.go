package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDiagnosticsPath is the diagnostics log used when none is configured.
const DefaultDiagnosticsPath = "blueprint-errors.log"

// Diagnostics is an append-only, uncoloured log of failed tasks.
type Diagnostics struct {
	zerolog.Logger
	closer io.Closer
}

// OpenDiagnostics opens path for appending, creating it and its directory
// when missing.
func OpenDiagnostics(path string) (*Diagnostics, error) {
	if path == "" {
		path = DefaultDiagnosticsPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create diagnostics directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics log: %w", err)
	}
	return NewDiagnostics(f), nil
}

// NewDiagnostics writes diagnostics to w. w is closed by Close when it is an io.Closer.
func NewDiagnostics(w io.Writer) *Diagnostics {
	out := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(w),
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}
	d := &Diagnostics{Logger: zerolog.New(out).With().Timestamp().Logger()}
	if c, ok := w.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// Close releases the underlying file.
func (d *Diagnostics) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
