package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
)

// fileHandler mirrors lines into <target>/<file>, rotating by size.
type fileHandler struct {
	name       string
	target     string
	maxSizeMB  int
	maxBackups int

	mu      sync.Mutex
	writers map[string]*lumberjack.Logger
}

// NewFile builds a handler that appends lines to rotating mirror files.
func NewFile(cfg config.Handler, _ Deps) (Handler, error) {
	if cfg.Target == "" {
		return nil, errors.New("target is required")
	}
	return &fileHandler{
		name:       nameOf(cfg),
		target:     cfg.Target,
		maxSizeMB:  cfg.MaxSizeMB,
		maxBackups: cfg.MaxBackups,
		writers:    make(map[string]*lumberjack.Logger),
	}, nil
}

func (h *fileHandler) Name() string { return h.name }

func (h *fileHandler) Init(context.Context) error {
	if err := os.MkdirAll(h.target, 0o755); err != nil {
		return fmt.Errorf("create mirror directory: %w", err)
	}
	return nil
}

func (h *fileHandler) Handle(_ context.Context, line Line) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.writers[line.File]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   filepath.Join(h.target, line.File),
			MaxSize:    h.maxSizeMB,
			MaxBackups: h.maxBackups,
			LocalTime:  true,
		}
		h.writers[line.File] = w
	}
	buf := make([]byte, 0, len(line.Text)+1)
	buf = append(buf, line.Text...)
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write mirror %s: %w", w.Filename, err)
	}
	return nil
}

func (h *fileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, w := range h.writers {
		errs = append(errs, w.Close())
		delete(h.writers, name)
	}
	return errors.Join(errs...)
}
