// Package sqlite implements the store.sqlite module: durable conversations
// and query interaction history in a single SQLite database, using
// modernc.org/sqlite (pure Go, no CGO).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/internal/runner"

	_ "modernc.org/sqlite" // driver registration
)

// Service keys the module publishes.
const (
	ServiceStore    = "conversation.store"
	ServiceRecorder = "runner.recorder"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ conversation.Store         = (*Store)(nil)
	_ runner.InteractionRecorder = (*Store)(nil)
	_ runner.InteractionHistory  = (*Store)(nil)
	_ core.Configurable          = (*Module)(nil)
	_ core.Provisioner           = (*Module)(nil)
	_ core.Validator             = (*Module)(nil)
	_ core.Stopper               = (*Module)(nil)
)

// Module owns the database and publishes the Store.
type Module struct {
	config Config
	logger *slog.Logger
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger.With("component", "store.sqlite")

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}
	store, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.store = store

	ctx.RegisterService(ServiceStore, store)
	if m.config.recording() {
		ctx.RegisterService(ServiceRecorder, store)
	}
	m.logger.Info("sqlite store provisioned", "path", m.config.Path, "wal", m.config.walEnabled())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.store.db.PingContext(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	m.logger.Info("sqlite store stopping")
	return m.store.Close()
}

// Store returns the opened store.
func (m *Module) Store() *Store { return m.store }

// Open opens or creates the database at cfg.Path and migrates it. SQLite
// serialises writers, so the pool holds a single connection and every
// PRAGMA applies to it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout),
	}
	if cfg.walEnabled() {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	codec, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, codec: codec}, nil
}
