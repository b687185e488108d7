package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const webhookCheckTimeout = 5 * time.Second

func pass(name, format string, args ...any) Result {
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// CheckWebhook sends a HEAD request to url. The probe has no body, so any
// status below 500 counts as reachable.
func CheckWebhook(ctx context.Context, name, url string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return fail(name, "missing url")
	}
	ctx, cancel := context.WithTimeout(ctx, webhookCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fail(name, "%s: %v", url, err)
	}
	resp, err := (&http.Client{Timeout: webhookCheckTimeout}).Do(req)
	if err != nil {
		return fail(name, "%s: %s", url, summarizeNetError(err))
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fail(name, "%s: HTTP %d", url, resp.StatusCode)
	}
	return pass(name, "%s reachable (HTTP %d)", url, resp.StatusCode)
}

// CheckDirectoryAccess requires path to be a directory the daemon can list
// and write into.
func CheckDirectoryAccess(name, path string) Result {
	if msg := accessProblem(path, unix.R_OK|unix.W_OK|unix.X_OK); msg != "" {
		return fail(name, "%s: %s", path, msg)
	}
	return pass(name, "%s writable", path)
}

// CheckReadableDirectory requires path to be a directory the daemon can list.
func CheckReadableDirectory(name, path string) Result {
	if msg := accessProblem(path, unix.R_OK|unix.X_OK); msg != "" {
		return fail(name, "%s: %s", path, msg)
	}
	return pass(name, "%s readable", path)
}

// CheckWatchRoot requires root to be listable and its parent writable, since
// the offset directory of root sits next to it as root+".loc".
func CheckWatchRoot(name, root string) Result {
	if msg := accessProblem(root, unix.R_OK|unix.X_OK); msg != "" {
		return fail(name, "%s: %s", root, msg)
	}
	parent := filepath.Dir(filepath.Clean(root))
	if msg := accessProblem(parent, unix.W_OK|unix.X_OK); msg != "" {
		return fail(name, "%s: parent %s: %s", root, parent, msg)
	}
	return pass(name, "%s readable, offsets under %s", root, parent)
}

func accessProblem(path string, mode uint32) string {
	if strings.TrimSpace(path) == "" {
		return "path not set"
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "does not exist"
	case err != nil:
		return err.Error()
	case !info.IsDir():
		return "not a directory"
	}
	if err := unix.Access(path, mode); err != nil {
		return "permission denied: " + err.Error()
	}
	return ""
}

func summarizeNetError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timed out"
	}
	return err.Error()
}
