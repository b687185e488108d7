// Package transfer ships newly appended lines of one log file through the
// handler chain of the first matching route, recording one offset record per
// line so restarts resume where the previous run stopped.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/offset"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

// OpenError reports that a log file or its offset file could not be opened.
// It ends the watcher that triggered the transfer.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Result summarizes one Transfer call.
type Result struct {
	Matched bool
	// Shipped counts lines dispatched to the handler chain.
	Shipped int
	// Skipped counts lines already recorded by a previous run.
	Skipped int
	// Failed counts shipped lines with at least one handler failure.
	Failed int
}

// Engine runs transfers against a shared tracker table.
type Engine struct {
	table  *tracker.Table
	logger *slog.Logger
}

// New builds an engine.
func New(table *tracker.Table, logger *slog.Logger) *Engine {
	return &Engine{table: table, logger: logging.NewComponentLogger(logger, "transfer")}
}

// Transfer processes every complete line of path not yet shipped. Paths that
// match no route are ignored. Handler failures are recorded and logged, never
// returned; open failures are returned as *OpenError.
func (e *Engine) Transfer(ctx context.Context, spec *watchspec.Spec, path string) (Result, error) {
	var res Result
	route, ok := spec.Match(path)
	if !ok {
		return res, nil
	}
	res.Matched = true

	file, created, err := e.table.Acquire(path)
	if err != nil {
		return res, &OpenError{Path: path, Err: err}
	}
	defer file.Unlock()

	logger := logging.WithContext(ctx, e.logger).With(logging.LogFile(path))
	if created {
		logger.Debug("tracking file",
			logging.String("offset_file", file.OffsetPath()),
			logging.Int("resume", file.Resume()),
		)
	}

	dir, name := filepath.Dir(path), filepath.Base(path)
	for ctx.Err() == nil {
		raw, ok, err := file.ReadLine()
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		if !ok {
			break
		}
		number := file.NextLine()
		if number <= file.Resume() {
			res.Skipped++
			continue
		}

		text, err := spec.Decode(raw)
		if err != nil {
			logging.WarnWithContext(logger, "line decode failed; shipping raw bytes", "line_decode_failed",
				logging.Line(number),
				logging.Error(err),
				logging.String(logging.FieldImpact, "handlers receive undecoded text"),
			)
			text = string(raw)
		}

		line := handler.Line{Dir: dir, File: name, Text: text, Number: number, Pattern: route.Raw()}
		failed := e.dispatch(ctx, logger, route.Handlers, line)
		if err := file.Record(offset.Record{Line: number, Failed: failed}); err != nil {
			return res, fmt.Errorf("record offset for %s line %d: %w", path, number, err)
		}
		res.Shipped++
		if len(failed) > 0 {
			res.Failed++
		}
	}
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, handlers []handler.Handler, line handler.Line) []string {
	var failed []string
	for _, h := range handlers {
		if err := handler.Invoke(ctx, h, line); err != nil {
			failed = append(failed, h.Name())
			logging.WarnWithContext(logger, "handler failed", "handler_failed",
				logging.Line(line.Number),
				logging.String("handler", h.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the offset file for failed lines"),
				logging.String(logging.FieldImpact, "line recorded as failed for this handler"),
			)
		}
	}
	return failed
}
