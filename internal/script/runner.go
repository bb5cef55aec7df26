// Package script runs the shell scripts backing the MODULE_SCRIPT local
// module (§4.6 MD_TO_RAW, script branch).
package script

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mapnull/mqtt-serial-bridge/internal/bridgeerrors"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
)

// runTimeout bounds how long a single script may run before the bridge
// gives up on it; the loop cannot afford to block indefinitely on a
// misbehaving script.
const runTimeout = 5 * time.Second

// Runner executes named scripts out of a configured folder. Matches the
// dispatch.ScriptRunner interface.
type Runner struct {
	dir string
}

// NewRunner returns a Runner rooted at dir. dir == "" means no scripts
// folder was configured; Run then returns ok=false without running anything.
func NewRunner(dir string) *Runner {
	return &Runner{dir: dir}
}

// validName reports whether name is safe to join onto dir and exec: only
// letters, digits, '-', '_' and '.', ending in ".sh".
func validName(name string) bool {
	if !strings.HasSuffix(name, ".sh") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Run executes <dir>/<name>, where name is the payload's script name, and
// returns its captured stdout. ok is false when the name is rejected or
// the script cannot be found; err is only set for unexpected execution
// failures (the original bridge treats a missing/non-executable script as
// a silent no-op, not a frame error).
func (r *Runner) Run(name string) (output string, ok bool, err error) {
	if r.dir == "" {
		return "", false, nil
	}
	if !validName(name) {
		return "", false, nil
	}

	path := filepath.Join(r.dir, name)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path).Output()
	if err != nil {
		var execErr *exec.Error
		var pathErr *fs.PathError
		if errors.As(err, &execErr) || errors.As(err, &pathErr) {
			// Not found or not executable: matches the original's
			// access(X_OK) check, a no-op rather than an error.
			return "", false, nil
		}
		logger.LogWarn("script: %s: %v", name, err)
		return "", false, bridgeerrors.NewScriptError(name, err)
	}

	return strings.TrimRight(string(out), "\r\n"), true, nil
}
