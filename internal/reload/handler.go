package reload

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/conversation"
)

// Handler applies reloaded configuration.
type Handler struct {
	level   *slog.LevelVar
	manager *conversation.Manager
	logger  *slog.Logger

	mu      sync.Mutex
	current *config.Config
}

// NewHandler starts from the configuration the server booted with. level
// and manager may be nil.
func NewHandler(current *config.Config, level *slog.LevelVar, manager *conversation.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		level:   level,
		manager: manager,
		logger:  logger.With("component", "reload"),
		current: current,
	}
}

// HandleReload loads and validates path, then applies it.
func (h *Handler) HandleReload(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("reload cancelled: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return Result{}, fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return Result{}, fmt.Errorf("validating config: %w", err)
	}
	return h.Apply(cfg), nil
}

// Result lists what a reload changed.
type Result struct {
	Applied         []string
	RestartRequired []string
}

// Apply applies cfg, which must already be validated.
func (h *Handler) Apply(cfg *config.Config) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res Result
	old := h.current

	if old.Logging.Level != cfg.Logging.Level && h.level != nil {
		h.level.Set(cfg.Logging.SlogLevel())
		res.Applied = append(res.Applied, "logging.level")
	}

	oldConv, newConv := old.Conversation, cfg.Conversation
	if oldConv.Recover() != newConv.Recover() || oldConv.MaxRecoveries != newConv.MaxRecoveries {
		if h.manager != nil {
			h.manager.SetConfig(conversation.Config{AutoRecover: newConv.Recover(), MaxRecoveries: newConv.MaxRecoveries})
			res.Applied = append(res.Applied, "conversation.auto_recover")
		}
	}

	// Everything the runner, modules and jobs captured at startup.
	oldConv.AutoRecover, newConv.AutoRecover = nil, nil
	oldConv.MaxRecoveries, newConv.MaxRecoveries = 0, 0
	checks := []struct {
		name    string
		changed bool
	}{
		{"logging.format", old.Logging.Format != cfg.Logging.Format},
		{"logging.redact", !slices.Equal(old.Logging.Redact, cfg.Logging.Redact)},
		{"data_dir", old.DataDir != cfg.DataDir},
		{"conversation", !reflect.DeepEqual(oldConv, newConv)},
		{"budget", old.Budget != cfg.Budget},
		{"cache", old.Cache != cfg.Cache},
		{"telemetry", !reflect.DeepEqual(old.Telemetry, cfg.Telemetry)},
		{"snapshot", old.Snapshot != cfg.Snapshot},
		{"audit", old.Audit != cfg.Audit},
		{"modules", !modulesEqual(old, cfg)},
	}
	for _, c := range checks {
		if c.changed {
			res.RestartRequired = append(res.RestartRequired, c.name)
		}
	}

	h.current = cfg
	if len(res.Applied) > 0 {
		h.logger.Info("configuration reloaded", "applied", res.Applied)
	}
	if len(res.RestartRequired) > 0 {
		h.logger.Warn("configuration changes need a restart", "sections", res.RestartRequired)
	}
	return res
}

// modulesEqual compares module sections by their re-encoded YAML.
func modulesEqual(a, b *config.Config) bool {
	if !slices.Equal(slices.Sorted(maps.Keys(a.Modules)), slices.Sorted(maps.Keys(b.Modules))) {
		return false
	}
	for id, na := range a.Modules {
		nb := b.Modules[id]
		var va, vb any
		if na.Decode(&va) != nil || nb.Decode(&vb) != nil || !reflect.DeepEqual(va, vb) {
			return false
		}
	}
	return true
}
