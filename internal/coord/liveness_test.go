package coord

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLiveness(t *testing.T) *LivenessDir {
	t.Helper()
	liveness, err := NewLivenessDir(filepath.Join(t.TempDir(), "coordination"))
	require.NoError(t, err)
	return liveness
}

// TestAnnounceAliveCreatesMarker verifies the ALIVE marker file layout.
func TestAnnounceAliveCreatesMarker(t *testing.T) {
	liveness := newTestLiveness(t)

	require.NoError(t, liveness.AnnounceAlive("41"))

	_, err := os.Stat(filepath.Join(liveness.Dir(), "worker-41.alive"))
	assert.NoError(t, err)

	ids, err := liveness.AliveWorkers()
	require.NoError(t, err)
	assert.Equal(t, []string{"41"}, ids)
}

// TestAnnounceAliveIsIdempotent verifies announcing twice overwrites rather
// than fails.
func TestAnnounceAliveIsIdempotent(t *testing.T) {
	liveness := newTestLiveness(t)

	require.NoError(t, liveness.AnnounceAlive("41"))
	require.NoError(t, liveness.AnnounceAlive("41"))

	ids, err := liveness.AliveWorkers()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

// TestAllDoneTracksMarkerPairs walks the predicate through the full worker
// lifecycle: false while any ALIVE worker lacks DONE, true once every ALIVE
// worker reported DONE, and false again when a new ALIVE worker appears.
func TestAllDoneTracksMarkerPairs(t *testing.T) {
	liveness := newTestLiveness(t)

	// Empty medium: trivially true.
	done, err := liveness.AllDone()
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, liveness.AnnounceAlive("1"))
	require.NoError(t, liveness.AnnounceAlive("2"))

	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, liveness.AnnounceDone("1"))
	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.False(t, done, "one worker still lacks a DONE marker")

	require.NoError(t, liveness.AnnounceDone("2"))
	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.True(t, done)

	// A late-arriving worker flips the predicate back to false.
	require.NoError(t, liveness.AnnounceAlive("3"))
	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, liveness.AnnounceDone("3"))
	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.True(t, done)
}

// TestAllDoneStallsOnCrashedWorker documents the accepted limitation: a
// worker that announced ALIVE and crashed without DONE keeps the predicate
// false forever.
func TestAllDoneStallsOnCrashedWorker(t *testing.T) {
	liveness := newTestLiveness(t)

	require.NoError(t, liveness.AnnounceAlive("1"))
	require.NoError(t, liveness.AnnounceDone("1"))
	require.NoError(t, liveness.AnnounceAlive("crashed"))

	done, err := liveness.AllDone()
	require.NoError(t, err)
	assert.False(t, done)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, liveness.WaitAllDone(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}

// TestWaitAllDoneReturnsWhenSiblingsFinish verifies the poll loop observes a
// DONE marker written while it waits.
func TestWaitAllDoneReturnsWhenSiblingsFinish(t *testing.T) {
	liveness := newTestLiveness(t)

	require.NoError(t, liveness.AnnounceAlive("1"))
	require.NoError(t, liveness.AnnounceAlive("2"))
	require.NoError(t, liveness.AnnounceDone("1"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = liveness.AnnounceDone("2")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, liveness.WaitAllDone(ctx, 10*time.Millisecond))
}

// TestPurgeResetsMedium verifies the master-side reset leaves an empty,
// usable directory behind.
func TestPurgeResetsMedium(t *testing.T) {
	liveness := newTestLiveness(t)

	require.NoError(t, liveness.AnnounceAlive("1"))
	require.NoError(t, liveness.Purge())

	ids, err := liveness.AliveWorkers()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, liveness.AnnounceAlive("2"))
}

// TestWorkerIDIsPidDerived verifies the worker identity comes from the
// process id.
func TestWorkerIDIsPidDerived(t *testing.T) {
	assert.NotEmpty(t, WorkerID())
	assert.Equal(t, WorkerID(), WorkerID())
}
