// Package config handles YAML configuration loading, environment variable
// expansion, secret resolution and structural validation for convoq.
package config

import (
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/convoq/internal/budget"
	"github.com/flemzord/convoq/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir overrides the default persistent data directory.
	DataDir string `yaml:"data_dir,omitempty"`

	Logging      LoggingConfig      `yaml:"logging"`
	Conversation ConversationConfig `yaml:"conversation"`
	Budget       budget.Limits      `yaml:"budget"`
	Cache        CacheConfig        `yaml:"cache"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Audit        AuditConfig        `yaml:"audit"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "assistant.openai").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text (default) or json.
	Format string `yaml:"format"`

	// Redact lists literal values masked in every log line.
	Redact []string `yaml:"redact,omitempty"`
}

// SlogLevel returns the configured level, info when unset or unknown.
func (l LoggingConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ConversationConfig drives runs and overflow recovery.
type ConversationConfig struct {
	AssistantID  string `yaml:"assistant_id"`
	Model        string `yaml:"model,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`

	// AutoRecover defaults to true when omitted.
	AutoRecover   *bool `yaml:"auto_recover,omitempty"`
	MaxRecoveries int   `yaml:"max_recoveries"`

	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`

	QueryTool   string   `yaml:"query_tool"`
	ParserTools []string `yaml:"parser_tools,omitempty"`

	// PushTools sends the registry's definitions with every run.
	PushTools bool `yaml:"push_tools"`

	ParallelTools bool `yaml:"parallel_tools"`
	MaxParallel   int  `yaml:"max_parallel"`

	// MaxMessageChars rejects longer user messages. Zero disables the check.
	MaxMessageChars int `yaml:"max_message_chars"`

	// RedactReplies masks known secrets in assistant replies.
	RedactReplies bool `yaml:"redact_replies"`
}

// Recover reports whether automatic overflow recovery is enabled.
func (c ConversationConfig) Recover() bool {
	return c.AutoRecover == nil || *c.AutoRecover
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	Disabled bool          `yaml:"disabled"`
	TTL      time.Duration `yaml:"ttl"`
}

// SnapshotConfig configures periodic export of all conversations.
type SnapshotConfig struct {
	// Path of the JSON snapshot. Relative paths live under the data dir.
	Path string `yaml:"path"`

	// Schedule is a cron expression; empty disables periodic export.
	Schedule string `yaml:"schedule"`

	// Restore loads Path on startup.
	Restore bool `yaml:"restore"`

	// PruneIdle drops conversations idle for longer than this on every
	// scheduled export. Zero keeps everything.
	PruneIdle time.Duration `yaml:"prune_idle"`
}

// AuditConfig configures the JSON Lines record of every exchange.
type AuditConfig struct {
	// Path of the audit file; empty disables auditing. Relative paths live
	// under the data dir.
	Path string `yaml:"path"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultSnapshotPath = "snapshot.json"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// ApplyDefaults fills unset fields. Component defaults (poll interval, max
// wait, budget limits) are left to the components themselves.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = DefaultSnapshotPath
	}
	c.Budget = c.Budget.WithDefaults()
}
