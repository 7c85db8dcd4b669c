// Package config resolves CLI flags (optionally overridden by a YAML
// config file) into the fully-validated Config the orchestrator runs
// from. Grounded in the teacher's traefikOfficerConfig/loadConfig pair
// (_examples/kahf-infra-traefik-officer/pkg/config.go) — JSON there,
// YAML here via viper, the idiomatic pairing for a cobra-based CLI
// (grounded in _examples/rnjava-gonzo's go.mod, which carries both).
package config

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/silentoxygen/kpl/internal/merge"
	"github.com/silentoxygen/kpl/internal/types"
)

// Backend selects which PodSource/LogOpener pair the orchestrator wires
// up. Represented as a tagged variant (spec.md §9 "dynamic dispatch on
// backend") rather than an interface, since only the orchestrator needs
// to choose between them.
type Backend int

const (
	// BackendCluster talks to a live Kubernetes API server.
	BackendCluster Backend = iota
	// BackendDev runs the in-memory pod/log simulator.
	BackendDev
	// BackendReplay tails a local file as a single synthetic pod.
	BackendReplay
)

// Config is the fully-resolved, validated runtime configuration.
type Config struct {
	Namespace        string
	Selector         string
	Backend          Backend
	ReplayPath       string
	Kubeconfig       string
	ContainersFilter []string

	Output merge.Config

	BufferSize     int
	SinceSeconds   *int64
	TailLines      *int64
	ReconnectMinMs int64
	ReconnectMaxMs int64

	DevRateMs uint64
	DevLines  uint64
	DevPhase  int64 // seconds

	MetricsAddr string
}

// Validate enforces spec.md §7's Configuration error class: empty
// selector (unless dev/replay), zero buffer, invalid numeric bounds are
// all fatal at startup.
func (c Config) Validate() error {
	if c.Backend == BackendCluster && c.Selector == "" {
		return fmt.Errorf("%w: --selector is required", types.ErrConfiguration)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: --buffer must be > 0", types.ErrConfiguration)
	}
	if c.ReconnectMinMs <= 0 || c.ReconnectMaxMs <= 0 {
		return fmt.Errorf("%w: reconnect bounds must be > 0", types.ErrConfiguration)
	}
	if c.ReconnectMinMs > c.ReconnectMaxMs {
		return fmt.Errorf("%w: --reconnect-min-ms must be <= --reconnect-max-ms", types.ErrConfiguration)
	}
	if c.Backend == BackendReplay && c.ReplayPath == "" {
		return fmt.Errorf("%w: --replay requires a path", types.ErrConfiguration)
	}
	return nil
}

// ResolveColor implements spec.md §4.4's color rule: JSON mode always
// disables color; otherwise color is enabled unless explicitly
// suppressed or stdout is not a terminal. stdoutIsTerminal is injected
// for testability (StdoutIsTerminal in production, passed in by
// internal/cli).
func ResolveColor(jsonMode, noColor bool, stdoutIsTerminal func() bool) bool {
	if jsonMode || noColor {
		return false
	}
	return stdoutIsTerminal()
}

// StdoutIsTerminal is the production TTY check, grounded in the Rust
// original's std::io::IsTerminal usage (config.rs) — golang.org/x/term is
// the idiomatic Go equivalent and was already an indirect dependency of
// the teacher's k8s.io/client-go stack.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
