// Package watchspec compiles watch configuration into immutable
// specifications: a root directory, path filters, and ordered pattern routes
// bound to handler chains. Regular expressions are compiled once here.
package watchspec

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/handler"
)

// SentinelName is the file created in each root to wake its watcher on stop.
const SentinelName = ".sync_cmd_stop"

// Route binds a compiled path pattern to its handler chain.
type Route struct {
	Pattern  *regexp.Regexp
	Handlers []handler.Handler
}

// Raw returns the pattern source.
func (r *Route) Raw() string { return r.Pattern.String() }

// Spec is one compiled watch specification.
type Spec struct {
	Root         string
	DirDisallow  []*regexp.Regexp
	FileDisallow []*regexp.Regexp
	FileAllow    []*regexp.Regexp
	Routes       []Route
	// Encoding is nil for UTF-8 sources.
	Encoding encoding.Encoding
}

// Match returns the first route whose pattern matches path.
func (s *Spec) Match(path string) (*Route, bool) {
	for i := range s.Routes {
		if s.Routes[i].Pattern.MatchString(path) {
			return &s.Routes[i], true
		}
	}
	return nil, false
}

// AllowDir reports whether the directory at path should be watched.
// Directories whose name ends in "loc", offset directories included, are
// never watched.
func (s *Spec) AllowDir(path string) bool {
	if strings.HasSuffix(filepath.Base(path), "loc") {
		return false
	}
	return !matchAny(s.DirDisallow, path)
}

// AllowFile reports whether events for the file named name are processed.
// An empty allow list admits every file that is not disallowed.
func (s *Spec) AllowFile(name string) bool {
	if matchAny(s.FileDisallow, name) {
		return false
	}
	if name == SentinelName || len(s.FileAllow) == 0 {
		return true
	}
	return matchAny(s.FileAllow, name)
}

// SentinelPath returns the stop sentinel location for this root.
func (s *Spec) SentinelPath() string {
	return filepath.Join(s.Root, SentinelName)
}

// Decode converts raw line bytes to UTF-8 text.
func (s *Spec) Decode(raw []byte) (string, error) {
	if s.Encoding == nil {
		return string(raw), nil
	}
	out, err := s.Encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode line: %w", err)
	}
	return string(out), nil
}

// Handlers returns every distinct handler referenced by the spec's routes.
func (s *Spec) Handlers() []handler.Handler {
	seen := make(map[handler.Handler]struct{})
	var out []handler.Handler
	for _, route := range s.Routes {
		for _, h := range route.Handlers {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// Build compiles one watch entry, constructing its handlers from registry.
func Build(watch config.Watch, registry *handler.Registry, deps handler.Deps) (*Spec, error) {
	if registry == nil {
		return nil, errors.New("handler registry is required")
	}
	spec := &Spec{Root: filepath.Clean(watch.Path)}

	var err error
	if spec.DirDisallow, err = compileAll(watch.DirDisallow); err != nil {
		return nil, fmt.Errorf("dir_disallow: %w", err)
	}
	if spec.FileDisallow, err = compileAll(watch.FileDisallow); err != nil {
		return nil, fmt.Errorf("file_disallow: %w", err)
	}
	if spec.FileAllow, err = compileAll(watch.FileAllow); err != nil {
		return nil, fmt.Errorf("file_allow: %w", err)
	}
	if spec.Encoding, err = lookupEncoding(watch.Encoding); err != nil {
		return nil, err
	}

	for i, pattern := range watch.Patterns {
		re, err := regexp.Compile(pattern.Match)
		if err != nil {
			return nil, fmt.Errorf("pattern[%d]: %w", i, err)
		}
		route := Route{Pattern: re}
		for j, hc := range pattern.Handlers {
			h, err := registry.Build(hc, deps)
			if err != nil {
				return nil, fmt.Errorf("pattern[%d].handler[%d]: %w", i, j, err)
			}
			route.Handlers = append(route.Handlers, h)
		}
		spec.Routes = append(spec.Routes, route)
	}
	return spec, nil
}

// BuildAll compiles every watch entry in cfg.
func BuildAll(cfg *config.Config, registry *handler.Registry, deps handler.Deps) ([]*Spec, error) {
	specs := make([]*Spec, 0, len(cfg.Watches))
	for i, watch := range cfg.Watches {
		spec, err := Build(watch, registry, deps)
		if err != nil {
			return nil, fmt.Errorf("watch[%d] %s: %w", i, watch.Path, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
