package coord

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// BindLifecycle starts the coordinator (ALIVE marker plus heartbeat) and
// binds the interrupt and terminate signals to Begin. Duplicate signals are
// coalesced by Begin's idempotency. The returned function unbinds the
// signal handler.
func BindLifecycle(c *Coordinator, timeout, warningInterval time.Duration) func() {
	c.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigs {
			zap.S().Infof("Shutdown signal received: %s (worker=%s)", sig, c.workerID)
			c.Begin(timeout, warningInterval)
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(sigs)
	}
}
