package testsupport

import (
	"context"
	"sync"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
)

// Recorder is a handler that keeps every line it receives. Fail, when set,
// decides whether a line is rejected.
type Recorder struct {
	name string
	Fail func(handler.Line) error

	mu     sync.Mutex
	lines  []handler.Line
	inited int
	closed bool
}

// NewRecorder returns a recorder identified by name.
func NewRecorder(name string) *Recorder {
	return &Recorder{name: name}
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) Init(context.Context) error {
	r.mu.Lock()
	r.inited++
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Handle(_ context.Context, line handler.Line) error {
	if r.Fail != nil {
		if err := r.Fail(line); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Lines returns a copy of the received lines.
func (r *Recorder) Lines() []handler.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]handler.Line(nil), r.lines...)
}

// Texts returns the text of each received line.
func (r *Recorder) Texts() []string {
	var out []string
	for _, line := range r.Lines() {
		out = append(out, line.Text)
	}
	return out
}

// Inits reports how many times Init ran.
func (r *Recorder) Inits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inited
}

// Closed reports whether Close ran.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// RecorderRegistry returns a registry whose "record" type hands out the
// recorder registered under the handler's name, creating it on first use.
type RecorderRegistry struct {
	*handler.Registry

	mu        sync.Mutex
	recorders map[string]*Recorder
}

// NewRecorderRegistry builds the default registry plus a "record" type.
func NewRecorderRegistry() *RecorderRegistry {
	rr := &RecorderRegistry{Registry: handler.DefaultRegistry(), recorders: make(map[string]*Recorder)}
	rr.Register("record", func(cfg config.Handler, _ handler.Deps) (handler.Handler, error) {
		return rr.Recorder(cfg.Name), nil
	})
	return rr
}

// Recorder returns the recorder named name, creating it when absent.
func (rr *RecorderRegistry) Recorder(name string) *Recorder {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	r, ok := rr.recorders[name]
	if !ok {
		r = NewRecorder(name)
		rr.recorders[name] = r
	}
	return r
}

// RecordPattern is shorthand for a pattern whose handlers are recorders.
func RecordPattern(match string, names ...string) config.Pattern {
	pattern := config.Pattern{Match: match}
	for _, name := range names {
		pattern.Handlers = append(pattern.Handlers, config.Handler{Type: "record", Name: name})
	}
	return pattern
}
