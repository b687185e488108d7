package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvOverrides()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeControl()
	c.normalizeLogging()
	if c.Tracker.IdleSeconds <= 0 {
		c.Tracker.IdleSeconds = defaultIdleSeconds
	}
	for i := range c.Watches {
		if err := c.Watches[i].normalize(); err != nil {
			return fmt.Errorf("watch[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if value, ok := os.LookupEnv("LOGTRANSFER_CONTROL_HOST"); ok && strings.TrimSpace(value) != "" {
		c.Control.Host = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("LOGTRANSFER_CONTROL_PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Control.Port = port
		}
	}
	if value, ok := os.LookupEnv("LOGTRANSFER_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = c.Paths.WorkDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = filepath.Join(c.Paths.LogDir, defaultLogFileName)
	}
	if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}

func (c *Config) normalizeControl() {
	c.Control.Host = strings.TrimSpace(c.Control.Host)
	if c.Control.Host == "" {
		c.Control.Host = defaultControlHost
	}
	if c.Control.Port == 0 {
		c.Control.Port = defaultControlPort
	}
	if c.Control.StopGraceMillis < 0 {
		c.Control.StopGraceMillis = 0
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
}

func (w *Watch) normalize() error {
	path := strings.TrimSpace(w.Path)
	if path != "" && (strings.HasPrefix(path, "~") || filepath.IsAbs(path)) {
		expanded, err := expandPath(path)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		path = expanded
	}
	w.Path = path

	encoding := strings.ToLower(strings.TrimSpace(w.Encoding))
	if encoding == "" {
		encoding = defaultEncoding
	}
	w.Encoding = encoding

	for i := range w.Patterns {
		for j := range w.Patterns[i].Handlers {
			h := &w.Patterns[i].Handlers[j]
			h.Type = strings.ToLower(strings.TrimSpace(h.Type))
			h.Name = strings.TrimSpace(h.Name)
			if h.Name == "" {
				h.Name = h.Type
			}
			if h.Target != "" {
				expanded, err := expandPath(h.Target)
				if err != nil {
					return fmt.Errorf("pattern[%d].handler[%d].target: %w", i, j, err)
				}
				h.Target = expanded
			}
			if h.Database != "" {
				expanded, err := expandPath(h.Database)
				if err != nil {
					return fmt.Errorf("pattern[%d].handler[%d].database: %w", i, j, err)
				}
				h.Database = expanded
			}
		}
	}
	return nil
}
