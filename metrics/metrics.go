// Package metrics provides lightweight, lock-free counters using atomic
// operations so they impose minimal overhead on the hot paths they
// instrument (session dispatch, sensor ticks, broadcast fan-out).
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the greenhouse server.
//
// All counters are accessed exclusively through atomic operations: there is
// no mutex contention even with many concurrent sessions and per-node tick
// goroutines.
type Metrics struct {
	SessionsConnected uint64
	SessionsTotal     uint64
	MessagesReceived  uint64
	MessagesDropped   uint64
	TicksExecuted     uint64
	SensorBroadcasts  uint64
	NodeChangeEvents  uint64
	DispatchErrors    uint64

	startTime time.Time
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncSessionConnected() {
	atomic.AddUint64(&m.SessionsConnected, 1)
	atomic.AddUint64(&m.SessionsTotal, 1)
}

func (m *Metrics) DecSessionConnected() {
	atomic.AddUint64(&m.SessionsConnected, ^uint64(0))
}

func (m *Metrics) IncMessagesReceived() { atomic.AddUint64(&m.MessagesReceived, 1) }
func (m *Metrics) IncMessagesDropped()  { atomic.AddUint64(&m.MessagesDropped, 1) }
func (m *Metrics) IncTicksExecuted()    { atomic.AddUint64(&m.TicksExecuted, 1) }
func (m *Metrics) IncSensorBroadcasts() { atomic.AddUint64(&m.SensorBroadcasts, 1) }
func (m *Metrics) IncNodeChangeEvents() { atomic.AddUint64(&m.NodeChangeEvents, 1) }
func (m *Metrics) IncDispatchErrors()   { atomic.AddUint64(&m.DispatchErrors, 1) }

// TicksPerSecond returns the average tick rate since the Metrics instance was
// created.
func (m *Metrics) TicksPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.TicksExecuted)) / elapsed
}

// Snapshot is a point-in-time copy of every counter, suitable for JSON
// encoding on the dashboard.
type Snapshot struct {
	Timestamp         int64   `json:"timestamp"`
	SessionsConnected uint64  `json:"sessionsConnected"`
	SessionsTotal     uint64  `json:"sessionsTotal"`
	MessagesReceived  uint64  `json:"messagesReceived"`
	MessagesDropped   uint64  `json:"messagesDropped"`
	TicksExecuted     uint64  `json:"ticksExecuted"`
	TicksPerSecond    float64 `json:"ticksPerSecond"`
	SensorBroadcasts  uint64  `json:"sensorBroadcasts"`
	NodeChangeEvents  uint64  `json:"nodeChangeEvents"`
	DispatchErrors    uint64  `json:"dispatchErrors"`
}

// Snapshot returns a consistent-enough snapshot of the counters. Because the
// individual loads are not performed under a single lock, the snapshot may be
// very slightly inconsistent at nanosecond granularity, which is acceptable
// for monitoring purposes.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:         time.Now().UnixMilli(),
		SessionsConnected: atomic.LoadUint64(&m.SessionsConnected),
		SessionsTotal:     atomic.LoadUint64(&m.SessionsTotal),
		MessagesReceived:  atomic.LoadUint64(&m.MessagesReceived),
		MessagesDropped:   atomic.LoadUint64(&m.MessagesDropped),
		TicksExecuted:     atomic.LoadUint64(&m.TicksExecuted),
		TicksPerSecond:    m.TicksPerSecond(),
		SensorBroadcasts:  atomic.LoadUint64(&m.SensorBroadcasts),
		NodeChangeEvents:  atomic.LoadUint64(&m.NodeChangeEvents),
		DispatchErrors:    atomic.LoadUint64(&m.DispatchErrors),
	}
}
