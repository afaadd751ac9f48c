package coord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	aliveSuffix = ".alive"
	doneSuffix  = ".done"
)

// LivenessChannel is the cross-process signaling medium. Every worker
// announces ALIVE on startup and DONE when its shutdown countdown resolves;
// AllDone is the drain predicate the last worker uses before notifying the
// master. Reads are advisory snapshots; the predicate only needs eventual
// consistency.
type LivenessChannel interface {
	AnnounceAlive(workerID string) error
	AnnounceDone(workerID string) error
	AllDone() (bool, error)
	WaitAllDone(ctx context.Context, poll time.Duration) error
}

// LivenessDir implements LivenessChannel over a shared directory. Each worker
// owns exactly two files, worker-<id>.alive and worker-<id>.done, and never
// writes another worker's markers. Workers never delete markers either;
// cleanup belongs to the master via Purge.
type LivenessDir struct {
	dir string
}

// NewLivenessDir creates the coordination directory if needed and returns the
// channel handle.
func NewLivenessDir(dir string) (*LivenessDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create coordination dir %s: %w", dir, err)
	}
	return &LivenessDir{dir: dir}, nil
}

// Dir returns the coordination directory path.
func (l *LivenessDir) Dir() string {
	return l.dir
}

// WorkerID derives this process's worker identifier from its pid.
func WorkerID() string {
	return fmt.Sprintf("%d", os.Getpid())
}

func (l *LivenessDir) markerPath(workerID, suffix string) string {
	return filepath.Join(l.dir, "worker-"+workerID+suffix)
}

// AnnounceAlive creates or overwrites the ALIVE marker for the worker.
func (l *LivenessDir) AnnounceAlive(workerID string) error {
	if err := os.WriteFile(l.markerPath(workerID, aliveSuffix), []byte("alive"), 0o644); err != nil {
		return fmt.Errorf("write alive marker for worker %s: %w", workerID, err)
	}
	return nil
}

// AnnounceDone creates or overwrites the DONE marker for the worker,
// superseding its ALIVE marker.
func (l *LivenessDir) AnnounceDone(workerID string) error {
	if err := os.WriteFile(l.markerPath(workerID, doneSuffix), []byte("done"), 0o644); err != nil {
		return fmt.Errorf("write done marker for worker %s: %w", workerID, err)
	}
	return nil
}

func (l *LivenessDir) listWorkers(suffix string) (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "worker-*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("list %s markers: %w", suffix, err)
	}

	workers := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		name := filepath.Base(match)
		id := strings.TrimSuffix(strings.TrimPrefix(name, "worker-"), suffix)
		workers[id] = struct{}{}
	}
	return workers, nil
}

// AliveWorkers returns the identifiers of every worker that has announced ALIVE.
func (l *LivenessDir) AliveWorkers() ([]string, error) {
	alive, err := l.listWorkers(aliveSuffix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(alive))
	for id := range alive {
		ids = append(ids, id)
	}
	return ids, nil
}

// AllDone reports whether every worker that ever announced ALIVE has a
// matching DONE marker. A worker that crashed without announcing DONE keeps
// the predicate false; there is no lease or expiry.
func (l *LivenessDir) AllDone() (bool, error) {
	alive, err := l.listWorkers(aliveSuffix)
	if err != nil {
		return false, err
	}

	done, err := l.listWorkers(doneSuffix)
	if err != nil {
		return false, err
	}

	for id := range alive {
		if _, ok := done[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// WaitAllDone polls the medium until every ALIVE worker has announced DONE or
// the context expires. The deliberate blocking keeps a finished worker's
// process alive so the process manager does not treat it as exited while
// siblings are still draining.
func (l *LivenessDir) WaitAllDone(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 5 * time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		done, err := l.AllDone()
		if err != nil {
			zap.S().Warnf("Liveness check failed: %v", err)
		} else if done {
			zap.S().Info("All workers completed graceful shutdown")
			return nil
		} else {
			alive, aliveErr := l.listWorkers(aliveSuffix)
			finished, doneErr := l.listWorkers(doneSuffix)
			if aliveErr == nil && doneErr == nil {
				zap.S().Infof("Waiting for workers: done %d/%d", len(finished), len(alive))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Purge removes every marker and the directory itself. It exists for the
// master process to reset the medium before spawning a fresh worker
// generation; workers must never call it.
func (l *LivenessDir) Purge() error {
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("purge coordination dir %s: %w", l.dir, err)
	}
	return os.MkdirAll(l.dir, 0o755)
}
