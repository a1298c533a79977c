package sensorengine_test

import (
	"sync"
	"testing"
	"time"

	"github.com/vebjomy/greenhouse-server/environment"
	"github.com/vebjomy/greenhouse-server/node"
	"github.com/vebjomy/greenhouse-server/sensorengine"
	"github.com/vebjomy/greenhouse-server/worker"
)

type fakeProvider struct {
	mu         sync.Mutex
	ticks      map[string]int
	intervalMs int
	removed    map[string]bool
}

func newFakeProvider(intervalMs int) *fakeProvider {
	return &fakeProvider{ticks: make(map[string]int), intervalMs: intervalMs, removed: make(map[string]bool)}
}

func (f *fakeProvider) TickNode(nodeID string, dt float64, noise environment.NoiseFunc) (node.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed[nodeID] {
		return node.Snapshot{}, false
	}
	f.ticks[nodeID]++
	return node.Snapshot{}, true
}

func (f *fakeProvider) SamplingMs(nodeID string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removed[nodeID] {
		return 0, false
	}
	return f.intervalMs, true
}

func (f *fakeProvider) count(nodeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks[nodeID]
}

func (f *fakeProvider) remove(nodeID string) {
	f.mu.Lock()
	f.removed[nodeID] = true
	f.mu.Unlock()
}

func TestScheduleNode_TicksImmediatelyAndRepeatedly(t *testing.T) {
	provider := newFakeProvider(node.MinSamplingMs)
	pool := worker.NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	var broadcasts int
	var mu sync.Mutex
	eng := sensorengine.New(provider, pool, func(nodeID string, snap node.Snapshot) {
		mu.Lock()
		broadcasts++
		mu.Unlock()
	})

	eng.ScheduleNode("node-1")
	time.Sleep(50 * time.Millisecond) // initial tick, delay 0
	if provider.count("node-1") < 1 {
		t.Error("expected at least one immediate tick")
	}

	time.Sleep(500 * time.Millisecond)
	eng.CancelNode("node-1")

	if provider.count("node-1") < 2 {
		t.Errorf("expected repeated ticks at 200ms over 500ms, got %d", provider.count("node-1"))
	}

	mu.Lock()
	defer mu.Unlock()
	if broadcasts < 2 {
		t.Errorf("expected broadcast hook invoked per tick, got %d", broadcasts)
	}
}

func TestCancelNode_StopsFurtherTicks(t *testing.T) {
	provider := newFakeProvider(node.MinSamplingMs)
	pool := worker.NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	eng := sensorengine.New(provider, pool, func(string, node.Snapshot) {})
	eng.ScheduleNode("node-1")
	time.Sleep(50 * time.Millisecond)
	eng.CancelNode("node-1")

	countAfterCancel := provider.count("node-1")
	time.Sleep(300 * time.Millisecond)
	if provider.count("node-1") != countAfterCancel {
		t.Errorf("expected no further ticks after cancel: before=%d after=%d", countAfterCancel, provider.count("node-1"))
	}
}

func TestTickNode_NodeRemovedMidFlightStopsScheduling(t *testing.T) {
	provider := newFakeProvider(node.MinSamplingMs)
	pool := worker.NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	eng := sensorengine.New(provider, pool, func(string, node.Snapshot) {})
	eng.ScheduleNode("node-1")
	time.Sleep(50 * time.Millisecond)
	provider.remove("node-1")
	time.Sleep(400 * time.Millisecond)

	countAfterRemoval := provider.count("node-1")
	time.Sleep(300 * time.Millisecond)
	if provider.count("node-1") != countAfterRemoval {
		t.Error("expected scheduling to stop once the node disappears")
	}
}

func TestClose_WaitsForInFlightTicks(t *testing.T) {
	provider := newFakeProvider(node.MinSamplingMs)
	pool := worker.NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	eng := sensorengine.New(provider, pool, func(string, node.Snapshot) {})
	eng.ScheduleNode("node-1")
	eng.ScheduleNode("node-2")
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		eng.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("Close did not return within its 5s budget")
	}
}
