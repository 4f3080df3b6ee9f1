package core

import (
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// services is shared by every AppContext derived from the same root so that
// a service published by one module is visible to the others.
type services struct {
	mu    sync.RWMutex
	byKey map[string]any
}

// AppContext carries the resources modules need while provisioning.
type AppContext struct {
	// Logger is scoped to the current module when obtained via ForModule.
	Logger *slog.Logger

	// DataDir is where modules keep persistent files (databases, snapshots).
	DataDir string

	root          *slog.Logger
	moduleConfigs map[string]yaml.Node
	services      *services
}

// NewAppContext returns a root context. A nil logger falls back to slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:   logger,
		DataDir:  dataDir,
		root:     logger,
		services: &services{byKey: make(map[string]any)},
	}
}

// WithModuleConfigs returns a copy carrying the per-module YAML sections.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.moduleConfigs = configs
	return &cp
}

// ForModule returns a context whose logger is tagged with the module ID.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	cp := *ctx
	cp.Logger = ctx.root.With("module", string(id))
	return &cp
}

// RegisterService publishes a value under key. A later registration with
// the same key replaces the earlier one.
func (ctx *AppContext) RegisterService(key string, svc any) {
	ctx.services.mu.Lock()
	defer ctx.services.mu.Unlock()
	ctx.services.byKey[key] = svc
}

// Service returns the value published under key.
func (ctx *AppContext) Service(key string) (any, bool) {
	ctx.services.mu.RLock()
	defer ctx.services.mu.RUnlock()
	svc, ok := ctx.services.byKey[key]
	return svc, ok
}

// LoadModule instantiates a registered module and runs
// New → Configure → Provision → Validate on it.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}

	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, exists := ctx.moduleConfigs[id]; exists {
			if err := c.Configure(&node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return mod, nil
}
