package preflight

import (
	"context"
	"path/filepath"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every check applicable to cfg: watch roots, the work
// directory, and the destinations of file, sqlite and webhook handlers.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	for _, watch := range cfg.Watches {
		results = append(results, CheckWatchRoot("Watch root", watch.Path))
	}

	seen := make(map[string]struct{})
	for _, watch := range cfg.Watches {
		for _, pattern := range watch.Patterns {
			for _, h := range pattern.Handlers {
				key := h.Type + "|" + h.Name
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				switch h.Type {
				case "file":
					results = append(results, CheckDirectoryAccess("File handler "+h.Name, h.Target))
				case "sqlite":
					results = append(results, CheckDirectoryAccess("SQLite handler "+h.Name, filepath.Dir(h.Database)))
				case "webhook":
					results = append(results, CheckWebhook(ctx, "Webhook handler "+h.Name, h.URL))
				}
			}
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
