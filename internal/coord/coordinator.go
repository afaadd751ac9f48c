package coord

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Notification strings broadcast to connected clients. Sibling
// implementations key off the exact wording, so it must not change.
const (
	HeartbeatNotice = "Server is running..."
	ShutdownNotice  = "Server is shutting down, please disconnect."
)

// ConnectionRegistry is the view of the hub the coordinator needs: broadcast
// for the heartbeat and warning notices, count for drain detection, and a
// forced close for the timeout path.
type ConnectionRegistry interface {
	Broadcast(message []byte)
	Count() int
	CloseAll()
}

// Options configures a Coordinator. Zero values fall back to the production
// defaults; tests inject sub-second intervals.
type Options struct {
	ShutdownTimeout   time.Duration
	WarningInterval   time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	NotifyMaster      func() error
}

func (o Options) withDefaults() Options {
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Minute
	}
	if o.WarningInterval <= 0 {
		o.WarningInterval = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.NotifyMaster == nil {
		o.NotifyMaster = notifyParent
	}
	return o
}

// notifyParent sends SIGTERM to the master process. Best-effort: signaling a
// master that is already exiting fails, and the caller swallows that.
func notifyParent() error {
	proc, err := os.FindProcess(os.Getppid())
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// Coordinator drives one worker's shutdown state machine. It owns the
// heartbeat loop while running, the warning countdown once shutdown begins,
// and the DONE handoff through the liveness channel when the countdown
// resolves.
type Coordinator struct {
	workerID string
	registry ConnectionRegistry
	liveness LivenessChannel
	opts     Options

	machine       stateMachine
	outcome       atomic.Int32
	heartbeatCtx  context.Context
	heartbeatStop context.CancelFunc
	startOnce     sync.Once
	beginOnce     sync.Once
	done          chan struct{}
}

// NewCoordinator wires a coordinator to its registry and liveness channel.
func NewCoordinator(workerID string, registry ConnectionRegistry, liveness LivenessChannel, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		workerID:      workerID,
		registry:      registry,
		liveness:      liveness,
		opts:          opts.withDefaults(),
		heartbeatCtx:  ctx,
		heartbeatStop: cancel,
		done:          make(chan struct{}),
	}
}

// State returns the current shutdown state.
func (c *Coordinator) State() State {
	return c.machine.current()
}

// Done is closed once the coordinator reaches TERMINATED.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome reports which terminal countdown branch was taken: StateDrained,
// StateTimedOut, or StateRunning while the countdown has not resolved yet.
func (c *Coordinator) Outcome() State {
	return State(c.outcome.Load())
}

// Start announces this worker as ALIVE and launches the heartbeat loop. A
// marker write failure is logged but does not prevent the worker from
// serving; it may stall the master's all-done view later.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		if err := c.liveness.AnnounceAlive(c.workerID); err != nil {
			zap.S().Errorf("Failed to announce worker %s alive: %v", c.workerID, err)
		}
		go c.heartbeatLoop()
	})
}

func (c *Coordinator) heartbeatLoop() {
	zap.S().Infof("Heartbeat started for worker %s", c.workerID)
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.heartbeatCtx.Done():
			zap.S().Infof("Heartbeat stopped for worker %s", c.workerID)
			return
		case <-ticker.C:
			c.registry.Broadcast([]byte(HeartbeatNotice))
		}
	}
}

// Begin transitions RUNNING to SHUTTING_DOWN and starts the countdown loop.
// It is idempotent: a repeated termination signal never produces a second
// countdown. Zero arguments fall back to the configured defaults.
func (c *Coordinator) Begin(timeout, warningInterval time.Duration) {
	c.beginOnce.Do(func() {
		if timeout <= 0 {
			timeout = c.opts.ShutdownTimeout
		}
		if warningInterval <= 0 {
			warningInterval = c.opts.WarningInterval
		}

		if !c.machine.advance(StateShuttingDown) {
			return
		}

		c.heartbeatStop()
		zap.S().Infof("Graceful shutdown started (worker=%s, timeout=%s)", c.workerID, timeout)

		go c.countdown(timeout, warningInterval)
	})
}

// countdown broadcasts the shutdown warning every interval and watches for
// drain. Whichever terminal condition lands first wins; TIMED_OUT is never
// rewritten by a later drain.
func (c *Coordinator) countdown(timeout, warningInterval time.Duration) {
	start := time.Now()

	for {
		elapsed := time.Since(start)

		if c.registry.Count() == 0 {
			zap.S().Infof("No active connections, worker %s drained", c.workerID)
			if c.machine.advance(StateDrained) {
				c.outcome.Store(int32(StateDrained))
			}
			break
		}

		if elapsed > timeout {
			zap.S().Warnf("Shutdown timeout reached for worker %s, forcing close", c.workerID)
			if c.machine.advance(StateTimedOut) {
				c.outcome.Store(int32(StateTimedOut))
				c.registry.CloseAll()
			}
			break
		}

		c.registry.Broadcast([]byte(ShutdownNotice))
		zap.S().Infof("Active connections: %d", c.registry.Count())
		zap.S().Infof("Time left: %s", timeout-elapsed)

		time.Sleep(warningInterval)
	}

	c.finalize()
}

// finalize writes the DONE marker, waits for the sibling workers, and, if
// every ALIVE worker has reported DONE, notifies the master. More than one
// worker may attempt the notification; it is idempotent by design.
func (c *Coordinator) finalize() {
	if err := c.liveness.AnnounceDone(c.workerID); err != nil {
		zap.S().Errorf("Failed to announce worker %s done: %v", c.workerID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()

	if err := c.liveness.WaitAllDone(ctx, c.opts.PollInterval); err != nil {
		zap.S().Warnf("Gave up waiting for sibling workers: %v", err)
	} else {
		if err := c.opts.NotifyMaster(); err != nil {
			zap.S().Warnf("Failed to notify master: %v", err)
		}
	}

	c.machine.advance(StateTerminated)
	zap.S().Infof("Worker %s completed graceful shutdown", c.workerID)
	close(c.done)
}
