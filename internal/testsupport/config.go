package testsupport

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test:
// a work dir, a free control port on 127.0.0.1, and one watch rooted at
// <base>/logs routing every file to a log handler.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "logs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir watch root: %v", err)
	}

	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "work")
	cfgVal.Logging.File = filepath.Join(base, "work", "daemon.log")
	cfgVal.Control.Host = "127.0.0.1"
	cfgVal.Control.Port = FreePort(t)
	cfgVal.Control.StopGraceMillis = 20
	cfgVal.Watches = []config.Watch{{
		Path:     root,
		Encoding: "utf-8",
		Patterns: []config.Pattern{{Match: ".*", Handlers: []config.Handler{{Type: "log", Name: "log"}}}},
	}}

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithPatterns replaces the first watch's pattern routes.
func WithPatterns(patterns ...config.Pattern) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watches[0].Patterns = patterns
	}
}

// WithExtraWatch adds a second watch root named dir under the base directory.
func WithExtraWatch(dir string, patterns ...config.Pattern) ConfigOption {
	return func(b *configBuilder) {
		root := filepath.Join(b.baseDir, dir)
		if err := os.MkdirAll(root, 0o755); err != nil {
			b.t.Fatalf("mkdir watch root: %v", err)
		}
		b.cfg.Watches = append(b.cfg.Watches, config.Watch{Path: root, Encoding: "utf-8", Patterns: patterns})
	}
}

// WatchRoot returns the first watch root of cfg.
func WatchRoot(cfg *config.Config) string {
	return cfg.Watches[0].Path
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

// FreePort returns a TCP port on 127.0.0.1 that was free at the time of the call.
func FreePort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// WriteConfig marshals cfg to <base>/config.toml and returns the path.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
