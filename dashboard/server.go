// Package dashboard provides a read-only HTTP operator surface for the
// greenhouse server: SSE log streaming, node topology/snapshots, aggregate
// metrics, and a gorilla/websocket live feed of the same
// sensor_update/node_change events the TCP protocol broadcasts. The
// dashboard never mutates node or user state; it is a Client Registry
// subscriber like any other session, not a privileged shortcut around the
// fan-out.
package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vebjomy/greenhouse-server/logger"
	"github.com/vebjomy/greenhouse-server/metrics"
	"github.com/vebjomy/greenhouse-server/node"
	"github.com/vebjomy/greenhouse-server/registry"
)

// LogEntry is a structured log line streamed to /api/logs/stream.
type LogEntry struct {
	Timestamp int64  `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// nodeView joins a node's static configuration with its live snapshot for
// the /api/nodes response.
type nodeView struct {
	node.Node
	Snapshot node.Snapshot `json:"snapshot"`
}

const maxLogs = 10_000

// Server is the dashboard's HTTP surface.
type Server struct {
	manager  *node.Manager
	registry *registry.Registry
	metrics  *metrics.Metrics
	log      *logger.Logger

	upgrader websocket.Upgrader
	router   *mux.Router

	logMu sync.Mutex
	logs  []LogEntry

	logSubMu sync.Mutex
	logSubs  map[chan LogEntry]struct{}
}

// New creates a dashboard Server over manager, reg and m. Call
// ListenAndServe to start accepting connections.
func New(manager *node.Manager, reg *registry.Registry, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		manager:  manager,
		registry: reg,
		metrics:  m,
		log:      log,
		router:   mux.NewRouter(),
		logs:     make([]LogEntry, 0, 512),
		logSubs:  make(map[chan LogEntry]struct{}),
		upgrader: websocket.Upgrader{
			// The dashboard is an operator tool on a separate port, not the
			// greenhouse wire protocol itself, so the origin check stays
			// permissive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/nodes", s.handleNodes).Methods(http.MethodGet)
	s.router.HandleFunc("/api/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.handleWSEvents)
	s.router.HandleFunc("/api/logs/stream", s.handleLogsStream).Methods(http.MethodGet)
}

// ListenAndServe starts the HTTP server on addr and blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE/WS streams are long-lived and unbounded
		IdleTimeout:  120 * time.Second,
	}
	s.log.Infof("dashboard: listening on %s", addr)
	return srv.ListenAndServe()
}

// AddLog appends a structured log entry to the ring buffer and fans it out to
// every active /api/logs/stream subscriber.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{Timestamp: time.Now().UnixMilli(), Level: level, Message: message}

	s.logMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
	s.logMu.Unlock()

	s.logSubMu.Lock()
	for ch := range s.logSubs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber: drop rather than block log producers.
		}
	}
	s.logSubMu.Unlock()
}

// ─── /api/nodes ────────────────────────────────────────────────────────────

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.manager.GetAllNodes()
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		snap, err := s.manager.Snapshot(n.ID)
		if err != nil {
			continue
		}
		views = append(views, nodeView{Node: n, Snapshot: snap})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.log.Errorf("dashboard: encode nodes: %v", err)
	}
}

// ─── /api/metrics ──────────────────────────────────────────────────────────

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.metrics.Snapshot()); err != nil {
		s.log.Errorf("dashboard: encode metrics: %v", err)
	}
}

// ─── /ws/events ────────────────────────────────────────────────────────────

// handleWSEvents upgrades to a websocket connection and registers it as an
// ordinary Client Registry session subscribed to every sensor_update and
// node_change event — it receives exactly what a TCP client subscribing with
// nodes:["*"] would.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("dashboard: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	session := s.registry.AddSession(func(line []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, line)
	})
	defer s.registry.RemoveSession(session)

	session.Subscribe([]string{"sensor_update", "node_change"}, []string{"*"})

	// Block on reads purely to detect the client going away; the dashboard
	// never sends anything meaningful over this socket.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ─── /api/logs/stream ──────────────────────────────────────────────────────

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logMu.Lock()
	history := make([]LogEntry, len(s.logs))
	copy(history, s.logs)
	s.logMu.Unlock()

	for _, entry := range history {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ch := make(chan LogEntry, 256)
	s.logSubMu.Lock()
	s.logSubs[ch] = struct{}{}
	s.logSubMu.Unlock()

	defer func() {
		s.logSubMu.Lock()
		delete(s.logSubs, ch)
		s.logSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
	return err
}
