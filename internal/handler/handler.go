package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"
)

// Line is one complete log line delivered to handlers.
type Line struct {
	Dir     string
	File    string
	Text    string
	Number  int
	Pattern string
}

// Path returns the full path of the source log file.
func (l Line) Path() string {
	return filepath.Join(l.Dir, l.File)
}

// Handler consumes lines. Handle must be safe for concurrent use because one
// handler instance can serve several watchers.
type Handler interface {
	// Name identifies the handler in offset records when it fails.
	Name() string
	Init(ctx context.Context) error
	Handle(ctx context.Context, line Line) error
}

// Deps carries shared collaborators handed to factories.
type Deps struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Invoke runs h on line, converting a panic into an error.
func Invoke(ctx context.Context, h Handler, line Line) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Handle(ctx, line)
}

// Close releases h's resources when it holds any.
func Close(h Handler) error {
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
