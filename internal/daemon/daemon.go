package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/control"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/logging"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/preflight"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/transfer"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watcher"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/watchspec"
)

// ErrLocked reports that another daemon holds the instance lock.
var ErrLocked = errors.New("another logtransfer daemon instance is already running")

// Options configures a Daemon.
type Options struct {
	// Identifier is reported by status, e.g. "config file: /path".
	Identifier string
	// Address is the control server host:port.
	Address string
	// LockPath enables single-instance locking when set.
	LockPath  string
	StopGrace time.Duration
	Idle      time.Duration
	// Exit is the shared exit flag; a private one is used when nil.
	Exit  *atomic.Bool
	Clock func() time.Time
}

// OptionsFromConfig derives daemon options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Identifier: cfg.Identifier(),
		Address:    cfg.Address(),
		LockPath:   cfg.LockPath(),
		StopGrace:  cfg.StopGrace(),
		Idle:       cfg.IdleWindow(),
	}
}

// Daemon is the explicit runtime state of one logtransfer process.
type Daemon struct {
	opts   Options
	specs  []*watchspec.Spec
	logger *slog.Logger

	exit   *atomic.Bool
	table  *tracker.Table
	engine *transfer.Engine
	lock   *flock.Flock

	mu        sync.Mutex
	active    []*watchspec.Spec
	cancel    context.CancelFunc
	addr      net.Addr
	startedAt time.Time
	running   atomic.Bool
	stopOnce  sync.Once
	ready     chan struct{}
}

// New constructs a daemon for the compiled specs.
func New(specs []*watchspec.Spec, opts Options, logger *slog.Logger) (*Daemon, error) {
	if len(specs) == 0 {
		return nil, errors.New("daemon requires at least one watch")
	}
	if opts.Address == "" {
		return nil, errors.New("daemon requires a control address")
	}
	if opts.Exit == nil {
		opts.Exit = new(atomic.Bool)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	table := tracker.NewTable(opts.Idle, tracker.WithClock(opts.Clock), tracker.WithLogger(logger))
	d := &Daemon{
		opts:   opts,
		specs:  specs,
		logger: logger,
		exit:   opts.Exit,
		table:  table,
		engine: transfer.New(table, logger),
		ready:  make(chan struct{}),
	}
	if opts.LockPath != "" {
		d.lock = flock.New(opts.LockPath)
	}
	return d, nil
}

// Start runs a daemon for specs on host:port with the caller's exit flag,
// blocking until it stops.
func Start(ctx context.Context, exit *atomic.Bool, specs []*watchspec.Spec, host string, port int, logger *slog.Logger) error {
	d, err := New(specs, Options{
		Identifier: "config file: (embedded)",
		Address:    net.JoinHostPort(host, strconv.Itoa(port)),
		Exit:       exit,
	}, logger)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// Ready is closed once the control server listens and every watcher has
// registered its directory tree.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the bound control address, or nil before Run listens.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Exiting reports whether stop was requested.
func (d *Daemon) Exiting() bool { return d.exit.Load() }

// Table exposes the tracked file table.
func (d *Daemon) Table() *tracker.Table { return d.table }

// Run starts the watchers and control server and blocks until they finish.
// A Daemon runs once; Stop is final.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	active := d.usableSpecs()
	handlers := handlersOf(active)
	if err := d.initHandlers(ctx, handlers); err != nil {
		return err
	}
	defer d.closeHandlers(handlers)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := control.Listen(d.opts.Address, d, d.logger)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.active = active
	d.addr = server.Addr()
	d.startedAt = d.opts.Clock()
	d.mu.Unlock()
	if d.exit.Load() {
		cancel()
	}

	d.logger.Info("daemon is starting.",
		logging.String("control", server.Addr().String()),
		logging.Int("watches", len(active)),
		logging.Int("skipped", len(d.specs)-len(active)),
		logging.Int("handlers", len(handlers)),
		logging.String("config", d.opts.Identifier),
	)

	var g errgroup.Group
	g.Go(func() error { return server.Serve(workerCtx) })
	watchers := make([]*watcher.Watcher, 0, len(active))
	for _, spec := range active {
		w := watcher.New(spec, d.engine, d.exit, d.logger)
		watchers = append(watchers, w)
		g.Go(func() error {
			if err := w.Run(workerCtx); err != nil {
				return fmt.Errorf("watch %s: %w", spec.Root, err)
			}
			return nil
		})
	}
	go func() {
		for _, w := range watchers {
			select {
			case <-w.Ready():
			case <-workerCtx.Done():
				return
			}
		}
		close(d.ready)
	}()

	runErr := g.Wait()
	if runErr != nil {
		logging.ErrorWithContext(d.logger, "worker stopped with error", "daemon_worker_failed",
			logging.Error(runErr),
			logging.String(logging.FieldErrorHint, "fix the reported file and restart the daemon"),
		)
	}

	if err := d.table.CloseAll(); err != nil {
		logging.WarnWithContext(d.logger, "close tracked files", "tracker_close_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "last offset records may not be flushed"),
		)
	}
	d.logger.Info("daemon stopped")
	return runErr
}

// Stop requests shutdown: set the exit flag, create a sentinel file in each
// root so blocked watchers wake, wait the grace delay, remove the sentinels,
// and cancel the worker context. Only the first call has effect.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.exit.Store(true)
		d.logger.Info("daemon is exiting.")

		d.mu.Lock()
		active := d.active
		d.mu.Unlock()

		var created []string
		for _, spec := range active {
			path := spec.SentinelPath()
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				logging.WarnWithContext(d.logger, "create stop sentinel", "sentinel_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldImpact, "watcher relies on cancellation to stop"),
				)
				continue
			}
			created = append(created, path)
		}
		if d.opts.StopGrace > 0 {
			time.Sleep(d.opts.StopGrace)
		}
		for _, path := range created {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				d.logger.Debug("remove stop sentinel", logging.String("path", path), logging.Error(err))
			}
		}

		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Status reclaims idle entries and reports the tracked files.
func (d *Daemon) Status() control.Report {
	d.table.ReclaimNow()
	return control.Report{Identifier: d.opts.Identifier, Files: d.table.Snapshot()}
}

// usableSpecs drops specs whose root cannot be listed. A bad root only
// disables its own watcher.
func (d *Daemon) usableSpecs() []*watchspec.Spec {
	active := make([]*watchspec.Spec, 0, len(d.specs))
	for _, spec := range d.specs {
		if result := preflight.CheckReadableDirectory("watch root", spec.Root); !result.Passed {
			logging.WarnWithContext(d.logger, "watch root unusable, skipping", "watch_root_skipped",
				logging.Watch(spec.Root),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldImpact, "files under this root are not shipped"),
				logging.String(logging.FieldErrorHint, "run `logtransfer config validate` and restart the daemon"),
			)
			continue
		}
		active = append(active, spec)
	}
	return active
}

func (d *Daemon) acquireLock() error {
	if d.lock == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.opts.LockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

func handlersOf(specs []*watchspec.Spec) []handler.Handler {
	seen := make(map[handler.Handler]struct{})
	var out []handler.Handler
	for _, spec := range specs {
		for _, h := range spec.Handlers() {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

func (d *Daemon) initHandlers(ctx context.Context, handlers []handler.Handler) error {
	for i, h := range handlers {
		if err := h.Init(ctx); err != nil {
			d.closeHandlers(handlers[:i])
			return fmt.Errorf("init handler %s: %w", h.Name(), err)
		}
	}
	return nil
}

func (d *Daemon) closeHandlers(handlers []handler.Handler) {
	for _, h := range handlers {
		if err := handler.Close(h); err != nil {
			d.logger.Warn("close handler", logging.String("handler", h.Name()), logging.Error(err))
		}
	}
}
