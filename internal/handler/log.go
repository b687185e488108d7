package handler

import (
	"context"
	"log/slog"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
)

type logHandler struct {
	name   string
	level  slog.Level
	logger *slog.Logger
}

// NewLog builds a handler that writes each line to the daemon log.
func NewLog(cfg config.Handler, deps Deps) (Handler, error) {
	return &logHandler{
		name:   nameOf(cfg),
		level:  logging.ParseLevel(cfg.Level),
		logger: logging.NewComponentLogger(deps.Logger, "line"),
	}, nil
}

func (h *logHandler) Name() string { return h.name }

func (h *logHandler) Init(context.Context) error { return nil }

func (h *logHandler) Handle(ctx context.Context, line Line) error {
	h.logger.Log(ctx, h.level, line.Text,
		logging.LogFile(line.Path()),
		logging.Line(line.Number),
		logging.String("pattern", line.Pattern),
	)
	return nil
}

func nameOf(cfg config.Handler) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}
