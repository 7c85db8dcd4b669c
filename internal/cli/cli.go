// Package cli defines kpl's cobra command surface (SPEC_FULL.md §6),
// grounded in the cobra idiom from
// _examples/other_examples/f534e5eb_stephenc-pod-watcher__main.go.go:
// package-level flag variables bound in init(), a root RunE that hands the
// command's context (made signal-aware by cmd/kpl) to the orchestrator.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/silentoxygen/kpl/internal/config"
	"github.com/silentoxygen/kpl/internal/merge"
	"github.com/silentoxygen/kpl/internal/orchestrator"
)

var (
	namespace      string
	selector       string
	dev            bool
	replayPath     string
	kubeconfig     string
	jsonOutput     bool
	noTimestamps   bool
	noColor        bool
	colorBy        string
	bufferSize     int
	containers     []string
	sinceSeconds   int64
	tailLines      int64
	reconnectMinMs int64
	reconnectMaxMs int64
	devRateMs      uint64
	devLines       uint64
	devPhaseSecs   int64
	configFile     string
	metricsAddr    string
)

// RootCmd is kpl's entry-point command.
var RootCmd = &cobra.Command{
	Use:   "kpl",
	Short: "Tail and merge logs from multiple Kubernetes pods",
	Long: `kpl watches pods matching a label selector and streams every
matched container's logs to stdout, merged into one ordered-by-arrival
stream, reconnecting automatically as pods come and go.

Examples:
  kpl --namespace prod --selector app=checkout
  kpl --selector app=checkout --json --container app
  kpl --dev
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	flags := RootCmd.Flags()
	flags.StringVarP(&namespace, "namespace", "n", "default", "Kubernetes namespace to watch")
	flags.StringVarP(&selector, "selector", "l", "", "Label selector for pods to watch (required unless --dev or --replay)")
	flags.BoolVar(&dev, "dev", false, "Run against the in-memory pod/log simulator instead of a real cluster")
	flags.StringVar(&replayPath, "replay", "", "Tail a local file as a single synthetic pod instead of a real cluster")
	flags.StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (defaults to in-cluster config, then ~/.kube/config)")

	flags.BoolVar(&jsonOutput, "json", false, "Emit newline-delimited JSON instead of human-readable lines")
	flags.BoolVar(&noTimestamps, "no-timestamps", false, "Omit timestamps from human-readable output")
	flags.BoolVar(&noColor, "no-color", false, "Disable ANSI color even on a terminal")
	flags.StringVar(&colorBy, "color-by", "pod", `Color grouping: "pod" or "container"`)

	flags.IntVar(&bufferSize, "buffer", 1024, "Capacity of the bounded channel between followers and the merger")
	flags.StringArrayVar(&containers, "container", nil, "Restrict streaming to this container (repeatable); default is all containers")
	flags.Int64Var(&sinceSeconds, "since-seconds", 0, "Only show logs newer than this many seconds on first connect (0 means unset)")
	flags.Int64Var(&tailLines, "tail", 0, "Only show this many most-recent lines on first connect (0 means unset)")
	flags.Int64Var(&reconnectMinMs, "reconnect-min-ms", 200, "Minimum reconnect backoff in milliseconds")
	flags.Int64Var(&reconnectMaxMs, "reconnect-max-ms", 5000, "Maximum reconnect backoff in milliseconds")

	flags.Uint64Var(&devRateMs, "dev-rate-ms", 500, "Simulated log line interval in dev mode, milliseconds")
	flags.Uint64Var(&devLines, "dev-lines", 0, "Stop simulated containers after this many lines (0 means unbounded)")
	flags.Int64Var(&devPhaseSecs, "dev-phase-seconds", 5, "Seconds before the simulated pod restart in dev mode")

	flags.StringVar(&configFile, "config-file", "", "Optional YAML file overriding any of the above flags")
	flags.StringVar(&metricsAddr, "metrics-addr", ":9090", "Address to serve /metrics and /health on (empty disables it)")
}

func run(ctx context.Context) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	return orchestrator.Run(ctx, cfg, os.Stdout)
}

// buildConfig resolves flags (optionally overridden by --config-file, the
// viper/YAML pairing grounded in _examples/rnjava-gonzo's go.mod, which
// carries both spf13/cobra and spf13/viper) into a validated
// config.Config.
func buildConfig() (config.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	bindFlagDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	backend := config.BackendCluster
	switch {
	case v.GetBool("dev"):
		backend = config.BackendDev
	case v.GetString("replay") != "":
		backend = config.BackendReplay
	}

	var since, tail *int64
	if s := v.GetInt64("since-seconds"); s > 0 {
		since = &s
	}
	if t := v.GetInt64("tail"); t > 0 {
		tail = &t
	}

	colorByMode := merge.ColorByPod
	if v.GetString("color-by") == "container" {
		colorByMode = merge.ColorByContainer
	}

	mode := merge.Human
	if v.GetBool("json") {
		mode = merge.JSON
	}

	cfg := config.Config{
		Namespace:        v.GetString("namespace"),
		Selector:         v.GetString("selector"),
		Backend:          backend,
		ReplayPath:       v.GetString("replay"),
		Kubeconfig:       v.GetString("kubeconfig"),
		ContainersFilter: v.GetStringSlice("container"),

		Output: merge.Config{
			Mode:       mode,
			Timestamps: !v.GetBool("no-timestamps"),
			Color:      config.ResolveColor(v.GetBool("json"), v.GetBool("no-color"), config.StdoutIsTerminal),
			ColorBy:    colorByMode,
		},

		BufferSize:     v.GetInt("buffer"),
		SinceSeconds:   since,
		TailLines:      tail,
		ReconnectMinMs: v.GetInt64("reconnect-min-ms"),
		ReconnectMaxMs: v.GetInt64("reconnect-max-ms"),

		DevRateMs:   uint64(v.GetInt64("dev-rate-ms")),
		DevLines:    uint64(v.GetInt64("dev-lines")),
		DevPhase:    v.GetInt64("dev-phase-seconds"),
		MetricsAddr: v.GetString("metrics-addr"),
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func bindFlagDefaults(v *viper.Viper) {
	v.SetDefault("namespace", namespace)
	v.SetDefault("selector", selector)
	v.SetDefault("dev", dev)
	v.SetDefault("replay", replayPath)
	v.SetDefault("kubeconfig", kubeconfig)
	v.SetDefault("json", jsonOutput)
	v.SetDefault("no-timestamps", noTimestamps)
	v.SetDefault("no-color", noColor)
	v.SetDefault("color-by", colorBy)
	v.SetDefault("buffer", bufferSize)
	v.SetDefault("container", containers)
	v.SetDefault("since-seconds", sinceSeconds)
	v.SetDefault("tail", tailLines)
	v.SetDefault("reconnect-min-ms", reconnectMinMs)
	v.SetDefault("reconnect-max-ms", reconnectMaxMs)
	v.SetDefault("dev-rate-ms", devRateMs)
	v.SetDefault("dev-lines", devLines)
	v.SetDefault("dev-phase-seconds", devPhaseSecs)
	v.SetDefault("metrics-addr", metricsAddr)
}
