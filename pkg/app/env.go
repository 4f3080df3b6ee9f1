package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/metrics"
	"github.com/flemzord/convoq/internal/runner"
	"github.com/flemzord/convoq/internal/security"
	"github.com/flemzord/convoq/internal/telemetry"
	"github.com/flemzord/convoq/internal/tool"
)

// Service keys published on the AppContext before modules load.
const (
	ServiceManager     = "conversation.manager"
	ServiceRegistry    = "tool.registry"
	ServiceMetrics     = "metrics"
	ServiceCredentials = "security.credentials"
	ServiceAssistant   = "assistant.service"
	ServiceStore       = "conversation.store"
	ServiceRecorder    = "runner.recorder"
)

// ErrNoAssistant is returned when no configured module publishes an
// assistant service.
var ErrNoAssistant = errors.New("no assistant module configured")

// Options selects what Load builds.
type Options struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// DataDir overrides both data_dir in the file and DefaultDataDir.
	DataDir string

	// Version is reported to the tracing backend.
	Version string

	// Skip lists module IDs that are configured but not loaded, such as
	// the gateway for one-shot commands.
	Skip []string

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Env is a loaded application: configuration, modules and the
// conversation manager built on top of them.
type Env struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
	Logger     *slog.Logger
	Level      *slog.LevelVar

	App         *core.App
	Manager     *conversation.Manager
	Registry    *tool.Registry
	Metrics     *metrics.Metrics
	Credentials *security.CredentialStore
	Redactor    *security.Redactor

	// History is nil unless a module records query interactions.
	History runner.InteractionHistory

	shutdownTelemetry telemetry.ShutdownFunc
	auditFile         *os.File
	started           bool
}

// Load reads and validates the configuration, provisions every configured
// module and builds the conversation manager. Nothing is started yet.
func Load(ctx context.Context, opts Options) (*Env, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	redactor := security.NewRedactor(cfg.Logging.Redact...)
	logger, level := NewLogger(out, cfg.Logging, redactor)

	mt := metrics.New()
	env := &Env{
		Config:      cfg,
		ConfigPath:  cfgPath,
		DataDir:     dataDir,
		Logger:      logger,
		Level:       level,
		Registry:    tool.NewRegistry(tool.WithLogger(logger), tool.WithObserver(mt.ObserveTool)),
		Metrics:     mt,
		Credentials: security.NewCredentialStore(),
		Redactor:    redactor,
	}

	env.shutdownTelemetry, err = telemetry.Setup(ctx, cfg.Telemetry, opts.Version, logger)
	if err != nil {
		return nil, err
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(ServiceRegistry, env.Registry)
	appCtx.RegisterService(ServiceMetrics, env.Metrics)
	appCtx.RegisterService(ServiceCredentials, env.Credentials)
	appCtx.RegisterService("config.path", cfgPath)

	env.App = core.NewApp(appCtx)
	ids := slices.DeleteFunc(config.Resolve(cfg), func(id string) bool {
		return slices.Contains(opts.Skip, id)
	})
	if err := env.App.LoadModules(ids); err != nil {
		env.abort()
		return nil, err
	}

	if err := env.wire(ctx, appCtx); err != nil {
		env.abort()
		return nil, err
	}
	redactor.SyncCredentials(env.Credentials)
	return env, nil
}

// Start starts every module in load order.
func (e *Env) Start() error {
	if err := e.App.Start(); err != nil {
		return err
	}
	e.started = true
	// Modules may register credentials while starting.
	e.Redactor.SyncCredentials(e.Credentials)
	return nil
}

// Close stops the modules and flushes telemetry. When the server was
// started and a snapshot path is configured, a final snapshot is written
// first, while stores are still open.
func (e *Env) Close() {
	if e.started && e.Config.Snapshot.Schedule != "" {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		n, err := e.Manager.SaveSnapshotFile(ctx, e.SnapshotPath())
		cancel()
		if err != nil {
			e.Logger.Error("final snapshot failed", "error", err)
		} else {
			e.Logger.Info("final snapshot written", "conversations", n)
		}
	}
	e.App.Stop()
	e.abort()
}

// abort releases what Load acquired outside the module system.
func (e *Env) abort() {
	if e.auditFile != nil {
		if err := e.auditFile.Close(); err != nil {
			e.Logger.Warn("closing audit log failed", "error", err)
		}
		e.auditFile = nil
	}
	if e.shutdownTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.shutdownTelemetry(ctx); err != nil {
		e.Logger.Warn("telemetry shutdown failed", "error", err)
	}
	e.shutdownTelemetry = nil
}

// SnapshotPath resolves snapshot.path against the data directory.
func (e *Env) SnapshotPath() string {
	p := e.Config.Snapshot.Path
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.DataDir, p)
}

func lookup[T any](ctx *core.AppContext, key string) (T, bool) {
	var zero T
	svc, ok := ctx.Service(key)
	if !ok {
		return zero, false
	}
	v, ok := svc.(T)
	return v, ok
}

