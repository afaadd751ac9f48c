package coord

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is an in-memory stand-in for the hub.
type fakeRegistry struct {
	mu        sync.Mutex
	count     int
	messages  []string
	closedAll bool
}

func (f *fakeRegistry) Broadcast(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, string(message))
}

func (f *fakeRegistry) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeRegistry) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAll = true
	f.count = 0
}

func (f *fakeRegistry) setCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = n
}

func (f *fakeRegistry) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedAll
}

func (f *fakeRegistry) countMessages(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.messages {
		if msg == text {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, registry ConnectionRegistry, opts Options) *Coordinator {
	t.Helper()

	liveness, err := NewLivenessDir(filepath.Join(t.TempDir(), "coordination"))
	require.NoError(t, err)

	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.NotifyMaster == nil {
		opts.NotifyMaster = func() error { return nil }
	}
	return NewCoordinator("test-worker", registry, liveness, opts)
}

func waitForDone(t *testing.T, c *Coordinator, within time.Duration) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(within):
		t.Fatalf("coordinator did not terminate within %s (state=%s)", within, c.State())
	}
}

// TestCoordinatorDrainBeatsTimeout starts a one second countdown against a
// registry that empties after 400ms: the coordinator must resolve as DRAINED
// before the deadline, without force-closing anything.
func TestCoordinatorDrainBeatsTimeout(t *testing.T) {
	registry := &fakeRegistry{count: 3}
	c := newTestCoordinator(t, registry, Options{})

	go func() {
		time.Sleep(400 * time.Millisecond)
		registry.setCount(0)
	}()

	start := time.Now()
	c.Begin(time.Second, 200*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	assert.Equal(t, StateDrained, c.Outcome())
	assert.Equal(t, StateTerminated, c.State())
	assert.False(t, registry.closed(), "drained shutdown must not force-close connections")
	assert.Less(t, time.Since(start), time.Second, "drain must beat the deadline")
}

// TestCoordinatorTimeoutForcesClose runs a 300ms countdown against a registry
// that never empties: the coordinator must resolve as TIMED_OUT no earlier
// than the deadline and forcibly close the stragglers.
func TestCoordinatorTimeoutForcesClose(t *testing.T) {
	registry := &fakeRegistry{count: 2}

	var notified atomic.Int32
	c := newTestCoordinator(t, registry, Options{
		NotifyMaster: func() error {
			notified.Add(1)
			return nil
		},
	})

	start := time.Now()
	c.Begin(300*time.Millisecond, 200*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	assert.Equal(t, StateTimedOut, c.Outcome())
	assert.True(t, registry.closed(), "remaining connections must be force-closed")
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.EqualValues(t, 1, notified.Load(), "last worker standing notifies the master")
}

// TestCoordinatorBeginIsIdempotent fires Begin repeatedly and verifies only
// one countdown loop runs: the warning broadcast count matches one loop's
// cadence, not several overlapping ones.
func TestCoordinatorBeginIsIdempotent(t *testing.T) {
	registry := &fakeRegistry{count: 1}
	c := newTestCoordinator(t, registry, Options{})

	for i := 0; i < 5; i++ {
		go c.Begin(400*time.Millisecond, 100*time.Millisecond)
	}
	c.Begin(400*time.Millisecond, 100*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	warnings := registry.countMessages(ShutdownNotice)
	assert.GreaterOrEqual(t, warnings, 2, "countdown should have broadcast warnings")
	assert.LessOrEqual(t, warnings, 6, "overlapping countdown loops detected")
}

// TestCoordinatorHeartbeatStopsOnBegin verifies the heartbeat broadcasts
// while running and is cancelled the moment shutdown begins.
func TestCoordinatorHeartbeatStopsOnBegin(t *testing.T) {
	registry := &fakeRegistry{count: 0}
	c := newTestCoordinator(t, registry, Options{
		HeartbeatInterval: 20 * time.Millisecond,
	})

	c.Start()
	time.Sleep(150 * time.Millisecond)
	require.GreaterOrEqual(t, registry.countMessages(HeartbeatNotice), 2,
		"heartbeat should broadcast while running")

	c.Begin(time.Second, 50*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	settled := registry.countMessages(HeartbeatNotice)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, registry.countMessages(HeartbeatNotice),
		"heartbeat must stop once shutdown begins")
}

// TestCoordinatorWaitsForSiblings verifies a finished worker does not notify
// the master while a sibling is still draining, and does once the sibling
// reports DONE.
func TestCoordinatorWaitsForSiblings(t *testing.T) {
	liveness, err := NewLivenessDir(filepath.Join(t.TempDir(), "coordination"))
	require.NoError(t, err)

	require.NoError(t, liveness.AnnounceAlive("self"))
	require.NoError(t, liveness.AnnounceAlive("sibling"))

	var notified atomic.Int32
	registry := &fakeRegistry{count: 0}
	c := NewCoordinator("self", registry, liveness, Options{
		PollInterval: 10 * time.Millisecond,
		NotifyMaster: func() error {
			notified.Add(1)
			return nil
		},
	})

	c.Begin(time.Second, 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, notified.Load(), "must not notify while the sibling is draining")

	require.NoError(t, liveness.AnnounceDone("sibling"))
	waitForDone(t, c, 3*time.Second)
	assert.EqualValues(t, 1, notified.Load())
}

// TestCoordinatorGivesUpOnStalledSibling verifies the bounded wait: a sibling
// that never reports DONE stalls the master notification but not this
// worker's own termination.
func TestCoordinatorGivesUpOnStalledSibling(t *testing.T) {
	liveness, err := NewLivenessDir(filepath.Join(t.TempDir(), "coordination"))
	require.NoError(t, err)

	require.NoError(t, liveness.AnnounceAlive("self"))
	require.NoError(t, liveness.AnnounceAlive("crashed"))

	var notified atomic.Int32
	registry := &fakeRegistry{count: 0}
	c := NewCoordinator("self", registry, liveness, Options{
		ShutdownTimeout: 200 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		NotifyMaster: func() error {
			notified.Add(1)
			return nil
		},
	})

	c.Begin(100*time.Millisecond, 20*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	assert.Equal(t, StateTerminated, c.State())
	assert.EqualValues(t, 0, notified.Load(), "master must not be notified without all-done")
}

// TestCoordinatorWritesMarkers verifies the ALIVE and DONE announcements run
// at the expected lifecycle points.
func TestCoordinatorWritesMarkers(t *testing.T) {
	liveness, err := NewLivenessDir(filepath.Join(t.TempDir(), "coordination"))
	require.NoError(t, err)

	registry := &fakeRegistry{count: 0}
	c := NewCoordinator("w1", registry, liveness, Options{
		HeartbeatInterval: time.Hour,
		PollInterval:      10 * time.Millisecond,
		NotifyMaster:      func() error { return nil },
	})

	c.Start()
	ids, err := liveness.AliveWorkers()
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, ids)

	done, err := liveness.AllDone()
	require.NoError(t, err)
	assert.False(t, done)

	c.Begin(time.Second, 20*time.Millisecond)
	waitForDone(t, c, 3*time.Second)

	done, err = liveness.AllDone()
	require.NoError(t, err)
	assert.True(t, done)
}
