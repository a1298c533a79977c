// Package server implements the TCP listener and per-connection session
// handlers: it binds the port, accepts connections, owns every other
// component's lifetime, and drives the line-delimited JSON protocol over each
// connection. Shutdown closes the listening socket first, waits for session
// handlers to finish, then drains the sensor engine and its worker pool.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/vebjomy/greenhouse-server/config"
	"github.com/vebjomy/greenhouse-server/logger"
	"github.com/vebjomy/greenhouse-server/metrics"
	"github.com/vebjomy/greenhouse-server/node"
	"github.com/vebjomy/greenhouse-server/protocol"
	"github.com/vebjomy/greenhouse-server/registry"
	"github.com/vebjomy/greenhouse-server/sensorengine"
	"github.com/vebjomy/greenhouse-server/userstore"
	"github.com/vebjomy/greenhouse-server/worker"
)

// demoNodeDraft is the seeded node.Draft created at startup.
var demoNodeDraft = node.Draft{
	Name:      "Demo Greenhouse",
	Location:  "Central",
	IP:        "127.0.0.1",
	Sensors:   []string{"temperature", "humidity", "light", "ph"},
	Actuators: []string{"fan", "water_pump", "co2", "window"},
}

// Listener owns the codec, user store, node manager, client registry and
// sensor engine, and coordinates their shutdown. No component it owns holds
// a back-reference to Listener itself.
type Listener struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	Manager  *node.Manager
	Registry *registry.Registry
	Users    *userstore.Store
	engine   *sensorengine.Engine
	pool     *worker.WorkerPool

	ln        net.Listener
	ready     chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
	sessWG    sync.WaitGroup
}

// New wires every component together. The Node Manager's onNodeAdded/
// onNodeRemoved hooks call into the Sensor Engine, and its onChange hook
// broadcasts a node_change via the Client Registry — the
// Manager/Engine/Registry cycle is resolved by letting the hook closures
// capture a forward-declared engine variable assigned after construction,
// since Manager's hooks must exist before Engine can be built from Manager.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, users *userstore.Store) *Listener {
	l := &Listener{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		Users:    users,
		Registry: registry.New(),
		pool:     worker.NewWorkerPool(cfg.SensorWorkerCount),
		closing:  make(chan struct{}),
		ready:    make(chan struct{}),
	}

	var eng *sensorengine.Engine
	l.Manager = node.New(
		cfg.MinSamplingMs,
		cfg.DefaultSamplingMs,
		func(ev node.ChangeEvent) { l.broadcastNodeChange(ev) },
		func(nodeID string) {
			if eng != nil {
				eng.OnNodeAdded(nodeID)
			}
		},
		func(nodeID string) {
			if eng != nil {
				eng.OnNodeRemoved(nodeID)
			}
		},
	)
	eng = sensorengine.New(l.Manager, l.pool, func(nodeID string, snap node.Snapshot) {
		l.metrics.IncTicksExecuted()
		l.broadcastSensorUpdate(nodeID, snap)
	})
	l.engine = eng

	l.pool.Start()
	return l
}

func (l *Listener) broadcastNodeChange(ev node.ChangeEvent) {
	l.metrics.IncNodeChangeEvents()
	msg := protocol.NodeChange{Type: "node_change", Op: ev.Op, NodeID: ev.NodeID, Node: ev.Node}
	line, err := protocol.EncodeLine(msg)
	if err != nil {
		l.log.Errorf("server: encode node_change: %v", err)
		return
	}
	l.Registry.BroadcastNodeChange(line)
}

func (l *Listener) broadcastSensorUpdate(nodeID string, snap node.Snapshot) {
	l.metrics.IncSensorBroadcasts()
	msg := protocol.SensorUpdate{
		Type:      "sensor_update",
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
		Data:      snap,
	}
	line, err := protocol.EncodeLine(msg)
	if err != nil {
		l.log.Errorf("server: encode sensor_update: %v", err)
		return
	}
	l.Registry.BroadcastSensorUpdate(nodeID, line)
}

// Addr blocks until Start has bound its listening socket and returns its
// address. Mainly useful in tests that bind to ":0" and need the assigned
// port.
func (l *Listener) Addr() net.Addr {
	<-l.ready
	return l.ln.Addr()
}

// Start schedules the seeded demo node, binds addr, and accepts connections
// until Close is called. It blocks the caller; run it in its own goroutine.
func (l *Listener) Start(addr string) error {
	l.Manager.AddNode(demoNodeDraft)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.ln = ln
	close(l.ready)
	l.log.Infof("server: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.closing:
				return nil
			default:
				l.log.Errorf("server: accept: %v", err)
				continue
			}
		}
		l.sessWG.Add(1)
		go func() {
			defer l.sessWG.Done()
			newSessionHandler(l, conn).run()
		}()
	}
}

// Close stops accepting new connections, waits up to 10s for session
// handlers to finish, then closes the sensor engine (≤5s). Idempotent.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
		if l.ln != nil {
			_ = l.ln.Close()
		}

		done := make(chan struct{})
		go func() {
			l.sessWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			l.log.Warn("server: timed out waiting for sessions to close")
		}

		l.engine.Close()
		l.pool.Stop()
	})
}
