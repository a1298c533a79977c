package node

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/vebjomy/greenhouse-server/environment"
)

// Errors returned by Manager operations; the Session Handler maps these onto
// the wire error codes (NOT_FOUND, INVALID_ARG).
var (
	ErrNotFound        = errors.New("node: not found")
	ErrUnsupportedKind = errors.New("node: unsupported component kind")
)

type entry struct {
	node    Node
	runtime *Runtime
}

// Manager is the authoritative registry of nodes and their runtimes. All
// structural mutations (add/update/delete, and the config half of a node)
// serialise behind mu; the environment/actuator half of each node is
// additionally guarded by that node's own Runtime mutex, so ticks on
// different nodes still run in parallel.
type Manager struct {
	mu        sync.RWMutex
	nodes     map[string]*entry
	nextID    int
	minMs     int
	defaultMs int

	onChange      func(ChangeEvent)
	onNodeAdded   func(nodeID string)
	onNodeRemoved func(nodeID string)
}

// New creates an empty Manager. onChange is invoked synchronously, after the
// structural lock has been released, whenever a node is added, updated or
// removed —
// callers normally use it to translate the event into a wire message and
// broadcast it via the Client Registry. onNodeAdded/onNodeRemoved are the
// Sensor Engine's scheduling hooks; wiring them in is the caller's job so
// Manager never imports the engine.
func New(minSamplingMs, defaultSamplingMs int, onChange func(ChangeEvent), onNodeAdded, onNodeRemoved func(string)) *Manager {
	if minSamplingMs < MinSamplingMs {
		minSamplingMs = MinSamplingMs
	}
	if onChange == nil {
		onChange = func(ChangeEvent) {}
	}
	if onNodeAdded == nil {
		onNodeAdded = func(string) {}
	}
	if onNodeRemoved == nil {
		onNodeRemoved = func(string) {}
	}
	return &Manager{
		nodes:         make(map[string]*entry),
		minMs:         minSamplingMs,
		defaultMs:     defaultSamplingMs,
		onChange:      onChange,
		onNodeAdded:   onNodeAdded,
		onNodeRemoved: onNodeRemoved,
	}
}

// AddNode installs a fresh node + runtime and returns its assigned id.
// Null component lists are normalised to empty slices.
func (m *Manager) AddNode(draft Draft) string {
	if draft.Sensors == nil {
		draft.Sensors = []string{}
	}
	if draft.Actuators == nil {
		draft.Actuators = []string{}
	}

	m.mu.Lock()
	m.nextID++
	id := "node-" + strconv.Itoa(m.nextID)
	n := Node{
		ID:        id,
		Name:      draft.Name,
		Location:  draft.Location,
		IP:        draft.IP,
		Sensors:   draft.Sensors,
		Actuators: draft.Actuators,
	}
	m.nodes[id] = &entry{node: n, runtime: NewRuntime(m.defaultMs)}
	m.mu.Unlock()

	m.onNodeAdded(id)
	cp := n
	m.onChange(ChangeEvent{Op: "added", NodeID: id, Node: &cp})
	return id
}

// GetAllNodes returns a snapshot copy of every node's configuration, safe to
// iterate without further locking.
func (m *Manager) GetAllNodes() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, m.nodes[id].node)
	}
	return out
}

// UpdateNode applies patch to nodeId's configuration. Unknown keys never
// reach Patch (the caller only sets the fields it parsed), so there is
// nothing to ignore here beyond a nil field meaning "unchanged".
func (m *Manager) UpdateNode(nodeID string, patch Patch) error {
	m.mu.Lock()
	e, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if patch.Name != nil {
		e.node.Name = *patch.Name
	}
	if patch.Location != nil {
		e.node.Location = *patch.Location
	}
	if patch.IP != nil {
		e.node.IP = *patch.IP
	}
	if patch.Sensors != nil {
		e.node.Sensors = *patch.Sensors
	}
	if patch.Actuators != nil {
		e.node.Actuators = *patch.Actuators
	}
	cp := e.node
	m.mu.Unlock()

	m.onChange(ChangeEvent{Op: "updated", NodeID: nodeID, Node: &cp})
	return nil
}

// DeleteNode removes a node and its runtime. Unknown ids return ErrNotFound;
// the Session Handler surfaces that as NOT_FOUND.
func (m *Manager) DeleteNode(nodeID string) error {
	m.mu.Lock()
	_, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	delete(m.nodes, nodeID)
	m.mu.Unlock()

	m.onNodeRemoved(nodeID)
	m.onChange(ChangeEvent{Op: "removed", NodeID: nodeID})
	return nil
}

// SetSampling clamps intervalMs and stores it on the node's runtime. The
// caller is responsible for then asking the Sensor Engine to reschedule the
// node.
func (m *Manager) SetSampling(nodeID string, intervalMs int) (int, error) {
	m.mu.RLock()
	e, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if intervalMs < m.minMs {
		intervalMs = m.minMs
	}
	return e.runtime.SetSamplingMs(intervalMs), nil
}

// CommandParams is the already-decoded actuator payload for ExecuteCommand.
// Exactly one of On/Level is meaningful depending on target.
type CommandParams struct {
	On    *bool
	Level *string
}

// ExecuteCommand mutates the target actuator on nodeID. Unknown actuator
// names and unrecognised window levels are silently dropped; applied reports
// whether any actuator actually changed, so callers can skip pushing a fresh
// sensor_update when nothing did.
func (m *Manager) ExecuteCommand(nodeID, target string, params CommandParams) (applied bool, err error) {
	m.mu.RLock()
	e, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}

	switch target {
	case "fan", "water_pump", "co2":
		on := params.On != nil && *params.On
		e.runtime.SetBoolActuator(target, on)
		return true, nil
	case "window":
		if params.Level == nil {
			return false, nil
		}
		w, ok := environment.ParseWindow(*params.Level)
		if !ok {
			return false, nil
		}
		e.runtime.SetWindow(w)
		return true, nil
	default:
		return false, nil
	}
}

// ErrAlreadyExists is returned by AddComponent when name is already present
// in the requested component list; duplicates are not permitted.
var ErrAlreadyExists = errors.New("node: component already exists")

// AddComponent appends name to nodeID's sensors or actuators list (kind must
// be "sensors" or "actuators"), rejecting duplicates. Backs the legacy
// add_component message.
func (m *Manager) AddComponent(nodeID, kind, name string) error {
	m.mu.Lock()
	e, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	list, err := componentList(&e.node, kind)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, existing := range *list {
		if existing == name {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
	}
	*list = append(*list, name)
	cp := e.node
	m.mu.Unlock()

	m.onChange(ChangeEvent{Op: "updated", NodeID: nodeID, Node: &cp})
	return nil
}

// RemoveComponent removes name from nodeID's sensors or actuators list, if
// present; removing an absent name is a no-op.
func (m *Manager) RemoveComponent(nodeID, kind, name string) error {
	m.mu.Lock()
	e, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	list, err := componentList(&e.node, kind)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	out := make([]string, 0, len(*list))
	for _, existing := range *list {
		if existing != name {
			out = append(out, existing)
		}
	}
	*list = out
	cp := e.node
	m.mu.Unlock()

	m.onChange(ChangeEvent{Op: "updated", NodeID: nodeID, Node: &cp})
	return nil
}

func componentList(n *Node, kind string) (*[]string, error) {
	switch kind {
	case "sensors":
		return &n.Sensors, nil
	case "actuators":
		return &n.Actuators, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

// Snapshot returns the current sensor/actuator reading for nodeID without
// advancing its simulation.
func (m *Manager) Snapshot(nodeID string) (Snapshot, error) {
	m.mu.RLock()
	e, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	return e.runtime.Snapshot(), nil
}

// TickNode advances nodeID's environment by dt seconds and returns the fresh
// snapshot. It satisfies the Sensor Engine's NodeProvider interface. ok is
// false if the node no longer exists, signalling the caller to stop
// scheduling it.
func (m *Manager) TickNode(nodeID string, dt float64, noise environment.NoiseFunc) (Snapshot, bool) {
	m.mu.RLock()
	e, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return e.runtime.Tick(dt, noise), true
}

// SamplingMs satisfies the Sensor Engine's NodeProvider interface.
func (m *Manager) SamplingMs(nodeID string) (int, bool) {
	m.mu.RLock()
	e, ok := m.nodes[nodeID]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return e.runtime.SamplingMs(), true
}
