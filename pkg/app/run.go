// Package app provides the shared entry point for the convoq commands: it
// loads the configuration, provisions modules and runs the server loop.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/convoq/internal/reload"
)

const shutdownTimeout = 10 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// WatchInterval is how often the config file is polled for changes.
	// Zero uses the watcher default; negative disables watching.
	WatchInterval time.Duration
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP and file-change events reload the parts of the
// configuration that can change in place.
func Run(params RunParams) error {
	env, err := Load(context.Background(), Options{
		ConfigPath: params.ConfigPath,
		DataDir:    params.DataDir,
		Version:    params.Version,
	})
	if err != nil {
		return err
	}
	logger := env.Logger

	if err := env.Start(); err != nil {
		env.Close()
		return err
	}
	defer env.Close()
	logger.Info("convoq started",
		"version", params.Version,
		"commit", params.Commit,
		"config", env.ConfigPath,
		"data_dir", env.DataDir,
	)

	handler := reload.NewHandler(env.Config, env.Level, env.Manager, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var events <-chan reload.Event
	if params.WatchInterval >= 0 {
		watcher := reload.NewWatcher(env.ConfigPath, params.WatchInterval)
		go watcher.Run(watchCtx)
		events = watcher.Events()
	}

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if _, err := handler.HandleReload(watchCtx, env.ConfigPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			return nil
		case evt := <-events:
			logger.Info("config file changed, reloading", "path", evt.Path)
			if _, err := handler.HandleReload(watchCtx, env.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/convoq/convoq.yaml → ~/.config/convoq/convoq.yaml → ./convoq.yaml
func ResolveConfigPath() (string, error) {
	candidates := ConfigCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// ConfigCandidates lists the locations ResolveConfigPath checks, in order.
func ConfigCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "convoq", "convoq.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "convoq", "convoq.yaml"))
	}
	return append(candidates, "convoq.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/convoq if set, otherwise ~/.local/share/convoq.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "convoq")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "convoq")
}
