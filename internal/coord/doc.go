// Package coord implements shutdown coordination across the worker processes
// that share the Flockcast listening port.
//
// Each worker runs one Coordinator, a monotonic state machine that drives the
// shutdown countdown: periodic warning broadcasts, drain detection, and a
// bounded timeout after which remaining connections are forcibly closed.
// Workers share no memory; they coordinate through a LivenessDir, a directory
// of per-worker ALIVE/DONE marker files visible to every sibling and to the
// master process. The last worker to observe that every ALIVE worker has
// written DONE notifies the master to exit.
package coord
