// Package sensorengine implements the sensor scheduler: it ticks each node
// at its own sampling interval and pushes a sensor_update through a
// broadcast hook. Scheduling is modelled as one long-running loop per node
// rather than a global timing wheel; rescheduling is always
// cancel-then-start-fresh, never an in-place re-arm.
package sensorengine

import (
	"sync"
	"time"

	"github.com/vebjomy/greenhouse-server/environment"
	"github.com/vebjomy/greenhouse-server/node"
	"github.com/vebjomy/greenhouse-server/worker"
)

// tickDeltaSeconds is the simulation time delta applied on every scheduled
// tick.
const tickDeltaSeconds = 1.0

// NodeProvider is the subset of node.Manager the engine depends on — the
// engine only needs these two operations, not the whole manager.
type NodeProvider interface {
	TickNode(nodeID string, dt float64, noise environment.NoiseFunc) (node.Snapshot, bool)
	SamplingMs(nodeID string) (int, bool)
}

// BroadcastFunc hands a freshly-ticked snapshot to the Client Registry (or
// whatever the caller wires in). It must not block for long — it runs inside
// a worker-pool goroutine shared by every scheduled node.
type BroadcastFunc func(nodeID string, snap node.Snapshot)

type task struct {
	cancel chan struct{}
}

// Engine schedules one tick loop per node, keyed by nodeId, executing each
// tick's body on a small shared worker pool so a slow tick never blocks the
// accept loop, a session reader, or another node's ticks.
type Engine struct {
	provider  NodeProvider
	broadcast BroadcastFunc
	pool      *worker.WorkerPool

	mu     sync.Mutex
	tasks  map[string]*task
	wg     sync.WaitGroup
	closed bool
}

// New creates an Engine. pool is the shared worker pool tick bodies submit
// onto; provider supplies the tick/sampling operations; broadcast is called
// with every fresh snapshot.
func New(provider NodeProvider, pool *worker.WorkerPool, broadcast BroadcastFunc) *Engine {
	return &Engine{
		provider:  provider,
		pool:      pool,
		broadcast: broadcast,
		tasks:     make(map[string]*task),
	}
}

// ScheduleNode cancels any existing task for nodeID, then starts a new
// fixed-rate task at the runtime's clamped sampling interval with an initial
// delay of 0.
func (e *Engine) ScheduleNode(nodeID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.cancelLocked(nodeID)

	intervalMs, ok := e.provider.SamplingMs(nodeID)
	if !ok {
		e.mu.Unlock()
		return
	}
	if intervalMs < node.MinSamplingMs {
		intervalMs = node.MinSamplingMs
	}

	t := &task{cancel: make(chan struct{})}
	e.tasks[nodeID] = t
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(nodeID, time.Duration(intervalMs)*time.Millisecond, t.cancel)
}

// CancelNode stops nodeID's task without interrupting a currently running
// tick body.
func (e *Engine) CancelNode(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(nodeID)
}

func (e *Engine) cancelLocked(nodeID string) {
	if t, ok := e.tasks[nodeID]; ok {
		delete(e.tasks, nodeID)
		close(t.cancel)
	}
}

// RescheduleNode is cancel+schedule, never an in-place re-arm, so a loop is
// never observed with half-updated timing state.
func (e *Engine) RescheduleNode(nodeID string) {
	e.CancelNode(nodeID)
	e.ScheduleNode(nodeID)
}

// OnNodeAdded binds to the Node Manager's add hook.
func (e *Engine) OnNodeAdded(nodeID string) { e.ScheduleNode(nodeID) }

// OnNodeRemoved binds to the Node Manager's remove hook.
func (e *Engine) OnNodeRemoved(nodeID string) { e.CancelNode(nodeID) }

func (e *Engine) run(nodeID string, interval time.Duration, cancel chan struct{}) {
	defer e.wg.Done()

	e.tick(nodeID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			e.tick(nodeID)
		}
	}
}

func (e *Engine) tick(nodeID string) {
	// TrySubmit rather than Submit: when the pool is saturated, dropping this
	// tick keeps the node's loop (and every other node's) on schedule.
	// The tick body holds its own wg count so Close also waits for it. This
	// Add is safe: the calling run loop still holds a count of its own.
	e.wg.Add(1)
	submitted := e.pool.TrySubmit(func() {
		defer e.wg.Done()
		snap, ok := e.provider.TickNode(nodeID, tickDeltaSeconds, nil)
		if !ok {
			// Node was deleted out from under a still-running loop; stop
			// rather than ticking a node that no longer exists.
			e.CancelNode(nodeID)
			return
		}
		e.broadcast(nodeID, snap)
	})
	if !submitted {
		e.wg.Done()
	}
}

// Close stops accepting new ticks, waits up to 5s for in-flight ticks, then
// returns regardless.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id := range e.tasks {
		e.cancelLocked(id)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
