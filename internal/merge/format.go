// Package merge is the sole owner of the output sink (spec.md §4.4): it
// formats LogEvents as human-readable or NDJSON lines and writes them in
// channel-arrival order, making no attempt to reorder by event time.
package merge

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/silentoxygen/kpl/internal/types"
)

// Mode selects the output format.
type Mode int

const (
	// Human renders "<ts?> <pod>/<container> | <message>".
	Human Mode = iota
	// JSON renders one NDJSON object per line.
	JSON
)

// ColorBy selects which identity feeds the stable color hash.
type ColorBy int

const (
	// ColorByPod derives color from the pod name alone.
	ColorByPod ColorBy = iota
	// ColorByContainer derives color from pod+container together.
	ColorByContainer
)

// prefixWidth is the recommended fixed column width for the pod/container
// prefix (spec.md §4.4); longer prefixes are not truncated.
const prefixWidth = 36

// ansiCodes is the 12-variant palette (11 named variants plus one extra
// basic color to round out the readable 8-bit ANSI set), grounded
// verbatim in _examples/original_source/src/merge/format.rs's CODES
// array.
var ansiCodes = [12]uint8{31, 32, 33, 34, 35, 36, 91, 92, 93, 94, 95, 96}

// jsonEvent is the NDJSON wire shape (spec.md §4.4): keys ts, namespace,
// pod, container, message, stable across releases.
type jsonEvent struct {
	TS        string `json:"ts"`
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Container string `json:"container"`
	Message   string `json:"message"`
}

// FormatJSON renders ev as one NDJSON line (no trailing newline).
func FormatJSON(ev types.LogEvent) (string, error) {
	out := jsonEvent{
		TS:        ev.TS.Format(time.RFC3339Nano),
		Namespace: ev.Namespace,
		Pod:       ev.Pod,
		Container: ev.Container,
		Message:   ev.Message,
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal log event: %w", err)
	}
	return string(b), nil
}

// FormatHuman renders ev as "<ts?> <pod>/<container> | <message>", with
// the pod/container prefix padded to prefixWidth columns.
func FormatHuman(ev types.LogEvent, withTimestamps bool) string {
	prefix := ev.Pod + "/" + ev.Container
	if len(prefix) < prefixWidth {
		prefix += spaces(prefixWidth - len(prefix))
	}

	if withTimestamps {
		return ev.TS.Format(time.RFC3339Nano) + " " + prefix + " | " + ev.Message
	}
	return prefix + " | " + ev.Message
}

// Colorize wraps line in an ANSI SGR sequence whose color is derived from
// a stable hash of either the pod name or the pod+container pair.
func Colorize(line string, ev types.LogEvent, by ColorBy) string {
	code := ansiCodes[stableHash(ev, by)%uint64(len(ansiCodes))]
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", code, line)
}

func stableHash(ev types.LogEvent, by ColorBy) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ev.Pod))
	if by == ColorByContainer {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(ev.Container))
	}
	return h.Sum64()
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
