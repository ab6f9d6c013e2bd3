package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Renderer periodically draws a Reporter.
//
// On a terminal it redraws one line in place. Otherwise (pipes, CI logs)
// it emits a structured log entry per interval so output stays line-based.
type Renderer struct {
	reporter *Reporter
	out      io.Writer
	logger   zerolog.Logger
	interval time.Duration
	tty      bool
	width    int
}

// RendererOption customises a Renderer.
type RendererOption func(*Renderer)

// WithInterval sets the redraw interval.
func WithInterval(d time.Duration) RendererOption {
	return func(r *Renderer) { r.interval = d }
}

// WithTerminal forces terminal or log mode regardless of out.
func WithTerminal(tty bool, width int) RendererOption {
	return func(r *Renderer) {
		r.tty = tty
		r.width = width
	}
}

// NewRenderer creates a renderer writing to out. Terminal mode is detected
// when out is an *os.File attached to a TTY.
func NewRenderer(reporter *Reporter, out io.Writer, logger zerolog.Logger, opts ...RendererOption) *Renderer {
	r := &Renderer{
		reporter: reporter,
		out:      out,
		logger:   logger,
	}

	if f, ok := out.(*os.File); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			r.tty = true
			if w, _, err := term.GetSize(fd); err == nil {
				r.width = w
			}
		}
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Second
		if r.tty {
			r.interval = 200 * time.Millisecond
		}
	}
	return r
}

// Run draws until ctx is done, then draws the final state once more.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.draw(true)
			return
		case <-ticker.C:
			r.draw(false)
		}
	}
}

func (r *Renderer) draw(final bool) {
	if r.tty {
		line := r.reporter.Render(r.width - 1)
		fmt.Fprintf(r.out, "\r\033[K%s", line)
		if final {
			fmt.Fprintln(r.out)
		}
		return
	}

	snap := r.reporter.Snapshot()
	event := r.logger.Info().Bool("final", final)
	fields := make(map[string]any, len(snap.Metrics))
	for k, v := range snap.Metrics {
		fields[k] = v
	}
	event.
		Str("status", snap.Description).
		Int("completed", snap.Completed).
		Int("total", snap.Total).
		Str("percent", fmt.Sprintf("%.1f", snap.Percent())).
		Dur("elapsed", snap.Elapsed).
		Fields(fields).
		Msg("Progress")
}
