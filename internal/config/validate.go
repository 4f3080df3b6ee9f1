package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/convoq/internal/core"
)

// Validate checks the structural validity of a Config and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateLogging(cfg.Logging)...)
	errs = append(errs, validateConversation(cfg.Conversation)...)

	if cfg.Cache.TTL < 0 {
		errs = append(errs, errors.New("config: cache.ttl must not be negative"))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio %v is outside [0, 1]", r))
	}
	if cfg.Snapshot.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Snapshot.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: snapshot.schedule: %w", err))
		}
	}
	if cfg.Snapshot.PruneIdle < 0 {
		errs = append(errs, errors.New("config: snapshot.prune_idle must not be negative"))
	}

	return errors.Join(errs...)
}

func validateLogging(l LoggingConfig) []error {
	var errs []error
	if l.Level != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, l.Level) {
		errs = append(errs, fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", l.Level))
	}
	if l.Format != "" && l.Format != "text" && l.Format != "json" {
		errs = append(errs, fmt.Errorf("config: logging.format %q must be text or json", l.Format))
	}
	return errs
}

func validateConversation(c ConversationConfig) []error {
	var errs []error
	if c.AssistantID == "" {
		errs = append(errs, errors.New("config: conversation.assistant_id is required"))
	}
	if c.MaxRecoveries < 0 {
		errs = append(errs, errors.New("config: conversation.max_recoveries must not be negative"))
	}
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("config: conversation.poll_interval must not be negative"))
	}
	if c.MaxParallel < 0 {
		errs = append(errs, errors.New("config: conversation.max_parallel must not be negative"))
	}
	if c.MaxMessageChars < 0 {
		errs = append(errs, errors.New("config: conversation.max_message_chars must not be negative"))
	}
	return errs
}
