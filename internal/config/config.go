package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrConfigMissing reports that no configuration file exists at the resolved path.
var ErrConfigMissing = errors.New("config file does not exist")

// MissingError carries the resolved path of an absent configuration file.
// It matches ErrConfigMissing with errors.Is.
type MissingError struct {
	Path string
}

func (e *MissingError) Error() string {
	return "config file: " + e.Path + " no exist!"
}

func (e *MissingError) Is(target error) bool {
	return target == ErrConfigMissing
}

// Control contains the control server bind address.
type Control struct {
	Host            string `toml:"host" yaml:"host"`
	Port            int    `toml:"port" yaml:"port"`
	StopGraceMillis int    `toml:"stop_grace_ms" yaml:"stop_grace_ms"`
}

// Paths contains daemon working locations.
type Paths struct {
	WorkDir string `toml:"work_dir" yaml:"work_dir"`
	LogDir  string `toml:"log_dir" yaml:"log_dir"`
}

// Logging contains configuration for the daemon's own log stream.
type Logging struct {
	Format     string `toml:"format" yaml:"format"`
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// Tracker tunes the tracked file table.
type Tracker struct {
	// IdleSeconds is how long a file pair may stay open before the reclaimer
	// closes it. Default: 86400.
	IdleSeconds int `toml:"idle_seconds" yaml:"idle_seconds"`
}

// Handler describes one line handler in a pattern's chain. Only the fields
// relevant to Type are read.
type Handler struct {
	Type string `toml:"type" yaml:"type"`
	// Name overrides the identity recorded in offset files when this handler
	// fails. Defaults to Type.
	Name string `toml:"name" yaml:"name"`

	// log
	Level string `toml:"level" yaml:"level"`

	// file
	Target     string `toml:"target" yaml:"target"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`

	// webhook
	URL            string            `toml:"url" yaml:"url"`
	Headers        map[string]string `toml:"headers,omitempty" yaml:"headers,omitempty"`
	TimeoutSeconds int               `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     *int              `toml:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// sqlite
	Database string `toml:"database" yaml:"database"`
	Table    string `toml:"table" yaml:"table"`
}

// Pattern binds a path regular expression to an ordered handler chain.
type Pattern struct {
	Match    string    `toml:"match" yaml:"match"`
	Handlers []Handler `toml:"handler" yaml:"handler"`
}

// Watch describes one watched root and its filters.
type Watch struct {
	Path         string    `toml:"path" yaml:"path"`
	DirDisallow  []string  `toml:"dir_disallow" yaml:"dir_disallow"`
	FileDisallow []string  `toml:"file_disallow" yaml:"file_disallow"`
	FileAllow    []string  `toml:"file_allow" yaml:"file_allow"`
	Encoding     string    `toml:"encoding" yaml:"encoding"`
	Patterns     []Pattern `toml:"pattern" yaml:"pattern"`
}

// Config encapsulates all configuration values for logtransfer.
//
// Configuration sections:
//   - Control: control server host/port and stop grace delay
//   - Paths: work directory for the lock, pid and daemon log files
//   - Logging: daemon log format, level and rotation
//   - Tracker: idle window for open file pairs
//   - Watches: ordered watch descriptors (root, filters, pattern chains)
type Config struct {
	Control Control `toml:"control" yaml:"control"`
	Paths   Paths   `toml:"paths" yaml:"paths"`
	Logging Logging `toml:"logging" yaml:"logging"`
	Tracker Tracker `toml:"tracker" yaml:"tracker"`
	Watches []Watch `toml:"watch" yaml:"watch"`

	source string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/logtransfer/" + defaultConfigFileName)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. When the file does not
// exist the defaults are validated as-is, which fails because no watch is
// configured; callers that need to distinguish that case check exists.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := decode(resolvedPath, data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.source = resolvedPath

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, resolvedPath, exists, err
	}

	return &cfg, resolvedPath, exists, nil
}

// LoadExisting behaves like Load but reports ErrConfigMissing when the file is absent.
func LoadExisting(path string) (*Config, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &MissingError{Path: resolved}
	}
	cfg, _, _, err := Load(resolved)
	return cfg, err
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		return decoder.Decode(cfg)
	default:
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		return decoder.Decode(cfg)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if value, ok := os.LookupEnv("LOGTRANSFER_CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	candidates := []string{defaultPath}
	for _, local := range []string{"logtransfer.toml", "config.yaml"} {
		projectPath, err := filepath.Abs(local)
		if err != nil {
			return "", false, err
		}
		candidates = append(candidates, projectPath)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}

	return defaultPath, false, nil
}

// Source returns the resolved path the configuration was loaded from.
func (c *Config) Source() string {
	return c.source
}

// Identifier is the line the control server reports to identify the active configuration.
func (c *Config) Identifier() string {
	return "config file: " + c.source
}

// Address returns the control server host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Control.Host, c.Control.Port)
}

// StopGrace returns the delay between creating and removing stop sentinels.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Control.StopGraceMillis) * time.Millisecond
}

// IdleWindow returns how long a tracked file may stay open.
func (c *Config) IdleWindow() time.Duration {
	return time.Duration(c.Tracker.IdleSeconds) * time.Second
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return c.Logging.File
}

// LockPath returns the daemon instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkDir, "logtransfer.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.WorkDir, "logtransfer.pid")
}

// EnsureDirectories creates the work and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env") into
// the process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file: %w", err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
