package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// HandlerTypes lists the handler type names the registry knows how to build.
var HandlerTypes = []string{"log", "file", "webhook", "sqlite"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateControl(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if len(c.Watches) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/logtransfer/config.toml"
		}
		return fmt.Errorf("at least one [[watch]] entry is required. Edit %s (create with 'logtransfer config init')", defaultPath)
	}
	for i := range c.Watches {
		if err := c.Watches[i].validate(); err != nil {
			return fmt.Errorf("watch[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) validateControl() error {
	if c.Control.Port < 1 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port must be between 1 and 65535, got %d", c.Control.Port)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (w *Watch) validate() error {
	if w.Path == "" {
		return errors.New("path must be set")
	}
	if !filepath.IsAbs(w.Path) {
		return fmt.Errorf("path %q must be absolute", w.Path)
	}
	if _, err := htmlindex.Get(w.Encoding); err != nil {
		return fmt.Errorf("encoding %q: %w", w.Encoding, err)
	}
	for _, group := range []struct {
		name     string
		patterns []string
	}{
		{"dir_disallow", w.DirDisallow},
		{"file_disallow", w.FileDisallow},
		{"file_allow", w.FileAllow},
	} {
		for _, expr := range group.patterns {
			if _, err := regexp.Compile(expr); err != nil {
				return fmt.Errorf("%s %q: %w", group.name, expr, err)
			}
		}
	}
	if len(w.Patterns) == 0 {
		return errors.New("at least one pattern is required")
	}
	for i, pattern := range w.Patterns {
		if _, err := regexp.Compile(pattern.Match); err != nil {
			return fmt.Errorf("pattern[%d] %q: %w", i, pattern.Match, err)
		}
		names := make(map[string]int, len(pattern.Handlers))
		for j, h := range pattern.Handlers {
			if err := h.validate(); err != nil {
				return fmt.Errorf("pattern[%d].handler[%d]: %w", i, j, err)
			}
			name := h.effectiveName()
			if prev, dup := names[name]; dup {
				return fmt.Errorf("pattern[%d].handler[%d]: name %q already used by handler[%d]; set distinct names", i, j, name, prev)
			}
			names[name] = j
		}
	}
	return nil
}

// effectiveName is the name recorded in offset files for failed deliveries.
func (h Handler) effectiveName() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	return strings.ToLower(strings.TrimSpace(h.Type))
}

func (h Handler) validate() error {
	if strings.ContainsAny(h.Name, ",[]\r\n") {
		return fmt.Errorf("name %q must not contain ',', '[', ']' or line breaks", h.Name)
	}
	switch h.Type {
	case "":
		return errors.New("type must be set")
	case "log":
		switch strings.ToLower(h.Level) {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log level %q is not supported", h.Level)
		}
	case "file":
		if h.Target == "" {
			return errors.New("file handler requires target")
		}
	case "webhook":
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("webhook url %q must be http or https", h.URL)
		}
		if h.MaxRetries != nil && *h.MaxRetries < 0 {
			return errors.New("webhook max_retries must be non-negative")
		}
	case "sqlite":
		if h.Database == "" {
			return errors.New("sqlite handler requires database")
		}
		if h.Table != "" && !sqlIdentifier.MatchString(h.Table) {
			return fmt.Errorf("sqlite table %q is not a valid identifier", h.Table)
		}
	default:
		return fmt.Errorf("unknown handler type %q (known: %s)", h.Type, strings.Join(HandlerTypes, ", "))
	}
	return nil
}

var sqlIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
