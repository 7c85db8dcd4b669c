package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silentoxygen/kpl/internal/config"
	"github.com/silentoxygen/kpl/internal/merge"
)

// syncBuffer is a concurrency-safe io.Writer, since Run's merger writes
// from its own goroutine while the test reads the accumulated output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// devConfig builds a minimally-valid dev-backend Config: no cluster, no
// metrics/health server, a fast line rate and a restart phase long
// enough it never fires within a test's lifetime.
func devConfig(mode merge.Mode) config.Config {
	return config.Config{
		Namespace:      "default",
		Backend:        config.BackendDev,
		Output:         merge.Config{Mode: mode, Timestamps: true, Color: false, ColorBy: merge.ColorByPod},
		BufferSize:     64,
		ReconnectMinMs: 200,
		ReconnectMaxMs: 5000,
		DevRateMs:      5,
		DevPhase:       60,
		MetricsAddr:    "",
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// TestRunDevBackendJSONProducesValidNDJSON covers spec.md §9's "Simulator
// smoke / JSON" scenario: every stdout line must be valid JSON carrying
// the five documented keys, and a context-cancelled run must exit 0.
func TestRunDevBackendJSONProducesValidNDJSON(t *testing.T) {
	out := &syncBuffer{}
	cfg := devConfig(merge.JSON)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, cfg, out)
	require.NoError(t, err, "a context-cancelled shutdown must exit cleanly")

	lines := nonEmptyLines(out.String())
	require.NotEmpty(t, lines, "expected at least one NDJSON line")

	for _, line := range lines {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &v), "line must be valid JSON: %s", line)
		for _, key := range []string{"ts", "namespace", "pod", "container", "message"} {
			assert.Contains(t, v, key, "missing key %s in %s", key, line)
		}
	}
}

// TestRunDevBackendHumanProducesPrefixedLines covers spec.md §9's
// "Simulator smoke / human" scenario.
func TestRunDevBackendHumanProducesPrefixedLines(t *testing.T) {
	out := &syncBuffer{}
	cfg := devConfig(merge.Human)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, cfg, out)
	require.NoError(t, err)

	lines := nonEmptyLines(out.String())
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Contains(t, line, "dev-pod-1")
		assert.Contains(t, line, "log line")
	}
}

// slowWriter sleeps on every Write, simulating a slow downstream consumer
// so a one-slot event buffer must exert backpressure instead of dropping
// lines (spec.md §9 "Backpressure").
type slowWriter struct {
	mu    sync.Mutex
	delay time.Duration
	lines []string
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	w.mu.Lock()
	w.lines = append(w.lines, string(p))
	w.mu.Unlock()
	return len(p), nil
}

func (w *slowWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lines)
}

func (w *slowWriter) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

func parseLineNumber(msg string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(msg, "log line "))
}

// TestRunAppliesBackpressureWithoutDroppingLines covers spec.md §9's
// "Backpressure" scenario: with a buffer of 1 and a writer far slower
// than the producers, every line must still arrive, in order, once the
// slow consumer catches up — never silently dropped.
func TestRunAppliesBackpressureWithoutDroppingLines(t *testing.T) {
	w := &slowWriter{delay: 100 * time.Millisecond}
	cfg := devConfig(merge.JSON)
	cfg.BufferSize = 1
	cfg.DevRateMs = 5

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- Run(ctx, cfg, w) }()

	require.Eventually(t, func() bool { return w.count() >= 12 }, 4*time.Second, 10*time.Millisecond,
		"a slow downstream must still eventually receive every line, never drop it")
	elapsed := time.Since(start)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond,
		"a buffer of 1 against a 100ms-per-line writer must force producers to wait, not drop")

	perContainer := map[string][]int{}
	for _, raw := range w.snapshot() {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var v struct {
			Container string `json:"container"`
			Message   string `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(raw), &v))
		n, err := parseLineNumber(v.Message)
		require.NoError(t, err)
		perContainer[v.Container] = append(perContainer[v.Container], n)
	}

	require.NotEmpty(t, perContainer)
	for container, nums := range perContainer {
		for i, n := range nums {
			assert.Equal(t, i+1, n, "container %s must receive every line in order with no gaps (got %v)", container, nums)
		}
	}
}

// TestRunExitsCleanlyOnBrokenPipe covers spec.md §9's "Broken pipe"
// scenario: a downstream reader that goes away must end the run with a
// nil error (exit 0), not a fatal writer error.
func TestRunExitsCleanlyOnBrokenPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	cfg := devConfig(merge.Human)
	cfg.DevRateMs = 5

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, w) }()

	buf := make([]byte, 64)
	_, err = r.Read(buf)
	require.NoError(t, err, "expected to read at least one line before closing")
	require.NoError(t, r.Close())

	select {
	case runErr := <-done:
		assert.NoError(t, runErr, "a downstream broken pipe must be a clean shutdown, not a fatal error")
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the downstream pipe broke")
	}

	_ = w.Close()
}
