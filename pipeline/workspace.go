package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"mediarender/logging"
)

const (
	jobDirPrefix = "job_"
	lockFileName = ".mediarender.lock"
)

// Workspace is the scratch area of one job. Everything the job writes lives
// under Dir. Output is set only once the job has published its own rendered
// file elsewhere, so Release never removes a file the job did not create.
type Workspace struct {
	Dir    string
	Output string
}

// NewWorkspace creates <root>/job_<jobID>. The directory must not exist yet.
func NewWorkspace(root, jobID string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir := filepath.Join(root, jobDirPrefix+jobID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Path joins name onto the job directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Release removes the job directory and the rendered output. Paths that are
// already gone are not an error, so Release may be called any number of times.
func (w *Workspace) Release() error {
	var errs []error
	if w.Dir != "" {
		if err := os.RemoveAll(w.Dir); err != nil {
			errs = append(errs, err)
		}
	}
	if w.Output != "" {
		if err := os.Remove(w.Output); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LockRoot takes an exclusive lock on root so a single process owns it, then
// removes job directories left behind by a previous run. The caller releases
// the lock with Unlock on shutdown.
func LockRoot(root string, log *slog.Logger) (*flock.Flock, error) {
	log = logging.WithComponent(log, "workspace")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}

	lock := flock.New(filepath.Join(root, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock work root: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("work root %s is in use by another process", root)
	}

	purged, err := purgeStale(root)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if purged > 0 {
		log.Warn("removed stale job directories", "root", root, "count", purged)
	}
	return lock, nil
}

func purgeStale(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("scan work root: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), jobDirPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return n, fmt.Errorf("remove stale %s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}
