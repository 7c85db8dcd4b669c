package merge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/silentoxygen/kpl/internal/metrics"
	"github.com/silentoxygen/kpl/internal/types"
)

// Config controls output formatting. Color is resolved by the caller
// (TTY detection, --no-color, JSON-always-disables-color) per spec.md
// §4.4 before constructing a Merger.
type Config struct {
	Mode       Mode
	Timestamps bool
	Color      bool
	ColorBy    ColorBy
}

// Merger is the sole owner of the output writer (spec.md §4.4). It
// consumes LogEvents from a bounded channel and writes one formatted line
// per event, flushing after every line so a piped reader (e.g. `| head`)
// sees output promptly.
type Merger struct {
	w   *bufio.Writer
	cfg Config
}

// New constructs a Merger writing to w.
func New(w io.Writer, cfg Config) *Merger {
	return &Merger{w: bufio.NewWriter(w), cfg: cfg}
}

// Run consumes events until the channel is closed (returning nil) or a
// write fails. A broken-pipe write returns an error wrapping
// types.ErrDownstreamClosed, which the caller treats as a clean exit; any
// other writer failure returns an error wrapping types.ErrWriterError.
func (m *Merger) Run(events <-chan types.LogEvent) error {
	for ev := range events {
		metrics.EventChannelDepth.Set(float64(len(events)))

		line, err := m.format(ev)
		if err != nil {
			// A formatting failure is not a writer failure; skip the
			// line rather than abort the whole stream.
			continue
		}

		if _, err := m.w.WriteString(line); err != nil {
			return classifyWriteErr(err)
		}
		if err := m.w.WriteByte('\n'); err != nil {
			return classifyWriteErr(err)
		}
		if err := m.w.Flush(); err != nil {
			return classifyWriteErr(err)
		}
		metrics.LinesWritten.Inc()
	}
	return nil
}

func (m *Merger) format(ev types.LogEvent) (string, error) {
	switch m.cfg.Mode {
	case JSON:
		return FormatJSON(ev)
	default:
		line := FormatHuman(ev, m.cfg.Timestamps)
		if m.cfg.Color {
			line = Colorize(line, ev, m.cfg.ColorBy)
		}
		return line, nil
	}
}

func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %v", types.ErrDownstreamClosed, err)
	}
	return fmt.Errorf("%w: %v", types.ErrWriterError, err)
}
