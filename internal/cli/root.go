// Package cli wires the sdb subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/acolita/sdb/internal/config"
	"github.com/acolita/sdb/internal/logging"
	"github.com/acolita/sdb/internal/theme"
)

// Version information - set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// globalOptions are the flags every subcommand accepts.
type globalOptions struct {
	configPath string
	logLevel   string
	lookupEnv  func(string) (string, bool)
}

// Execute runs sdb with args and returns the process exit status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, theme.Failure.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{lookupEnv: os.LookupEnv}

	root := &cobra.Command{
		Use:   "sdb",
		Short: "Remote interactive debugger for Go programs",
		Long: `sdb runs a Go program under Delve and opens a debugger session every
time it stops.

Usage:
  sdb serve <program> [args...]   Debug remotely; connect with "sdb connect" or telnet
  sdb run <program> [args...]     Debug on this terminal
  sdb listen                      Open a client for every announced session
  sdb connect <port|host:port>    Open a client for one session`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to configuration file (default $SDB_CONFIG or ~/.config/sdb/config.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")

	root.AddCommand(
		newDebugCommand(g, false),
		newDebugCommand(g, true),
		newListenCommand(g),
		newConnectCommand(g),
		newConfigCommand(g),
	)
	return root
}

// resolvedConfigPath picks the flag, then $SDB_CONFIG, then the default path.
func (g *globalOptions) resolvedConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	if v, ok := g.lookupEnv("SDB_CONFIG"); ok && v != "" {
		return v
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, applies environment and flag overrides,
// validates the result and installs the default logger.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	path := g.resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(g.lookupEnv); err != nil {
		return nil, err
	}
	g.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)
	slog.Debug("configuration loaded", slog.String("path", path))
	return cfg, nil
}

func (g *globalOptions) applyFlags(cfg *config.Config) {
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
}

// watchConfig hot-reloads the config file into onChange. A missing file
// disables reloading.
func (g *globalOptions) watchConfig(onChange func(*config.Config)) *config.Watcher {
	path := g.resolvedConfigPath()
	if path == "" {
		return nil
	}
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		g.applyFlags(cfg)
		onChange(cfg)
	}, config.WithLookupEnv(g.lookupEnv))
	if err != nil {
		slog.Debug("config hot-reload disabled", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("config hot-reload enabled", slog.String("path", path))
	return w
}
