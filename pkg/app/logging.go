package app

import (
	"io"
	"log/slog"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/security"
)

// NewLogger builds the process logger: a text or JSON handler behind the
// redacting handler. The returned LevelVar lets a reload change the level.
func NewLogger(w io.Writer, cfg config.LoggingConfig, redactor *security.Redactor) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(cfg.SlogLevel())

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor)), level
}
