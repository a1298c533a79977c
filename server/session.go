package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/vebjomy/greenhouse-server/node"
	"github.com/vebjomy/greenhouse-server/protocol"
	"github.com/vebjomy/greenhouse-server/registry"
	"github.com/vebjomy/greenhouse-server/userstore"
)

// maxLineBytes bounds a single protocol line, guarding against a
// misbehaving client streaming an unbounded amount of data without a
// newline.
const maxLineBytes = 1 << 20

// sessionHandler drives one accepted connection through its state machine:
// ACCEPTED → write welcome → READY → read/dispatch loop → CLOSED on I/O
// error or EOF.
type sessionHandler struct {
	l       *Listener
	conn    net.Conn
	session *registry.Session
}

func newSessionHandler(l *Listener, conn net.Conn) *sessionHandler {
	return &sessionHandler{l: l, conn: conn}
}

func (h *sessionHandler) run() {
	defer h.conn.Close()

	h.session = h.l.Registry.AddSession(func(line []byte) error {
		_, err := h.conn.Write(line)
		return err
	})
	h.l.metrics.IncSessionConnected()

	defer func() {
		h.l.Registry.RemoveSession(h.session)
		h.l.metrics.DecSessionConnected()
	}()

	h.send(protocol.Welcome{Type: "welcome", Server: "GreenhouseServer", Version: "1.0"})

	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		h.l.metrics.IncMessagesReceived()
		h.dispatch(append([]byte(nil), line...))
	}
	// scanner.Err() == nil on a clean EOF; either way the connection is
	// done and is treated as "connection closed" without further noise.
}

// send encodes v and writes it directly to this session, bypassing the
// subscription filter (welcome/ack/error/… are point-to-point).
func (h *sessionHandler) send(v interface{}) {
	line, err := protocol.EncodeLine(v)
	if err != nil {
		h.l.log.Errorf("session: encode reply: %v", err)
		return
	}
	if err := h.session.Send(line); err != nil {
		h.l.log.Debugf("session: write failed, connection likely closed: %v", err)
	}
}

func (h *sessionHandler) replyError(id string, code protocol.Code, format string, args ...interface{}) {
	h.l.metrics.IncDispatchErrors()
	h.send(protocol.ErrorMessageFrom(id, protocol.NewError(code, format, args...)))
}

func (h *sessionHandler) dispatch(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		h.l.metrics.IncMessagesDropped()
		h.l.metrics.IncDispatchErrors()
		h.send(protocol.ErrorMessage{Type: "error", Code: protocol.CodeInvalidArg, Message: err.Error()})
		return
	}

	switch msg.Type {
	case "hello":
		h.handleHello(msg)
	case "ping":
		h.send(protocol.Pong{Type: "pong", ID: msg.ID})
	case "get_topology":
		h.handleGetTopology(msg)
	case "create_node":
		h.handleCreateNode(msg)
	case "update_node":
		h.handleUpdateNode(msg)
	case "delete_node":
		h.handleDeleteNode(msg)
	case "add_component":
		h.handleComponent(msg, h.l.Manager.AddComponent)
	case "remove_component":
		h.handleComponent(msg, h.l.Manager.RemoveComponent)
	case "set_sampling":
		h.handleSetSampling(msg)
	case "subscribe":
		h.handleSubscribe(msg, h.session.Subscribe)
	case "unsubscribe":
		h.handleSubscribe(msg, h.session.Unsubscribe)
	case "command":
		h.handleCommand(msg)
	case "auth":
		h.handleAuth(msg)
	case "register":
		h.handleRegister(msg)
	case "get_users":
		h.handleGetUsers(msg)
	case "update_user":
		h.handleUpdateUser(msg)
	case "delete_user":
		h.handleDeleteUser(msg)
	default:
		h.l.log.Debugf("session: unknown message type %q", msg.Type)
	}
}

func (h *sessionHandler) handleHello(msg *protocol.Message) {
	var req struct {
		ClientID string `json:"clientId"`
	}
	_ = msg.Field("clientId", &req.ClientID)
	h.session.SetClientID(req.ClientID)
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleGetTopology(msg *protocol.Message) {
	nodes := h.l.Manager.GetAllNodes()
	h.send(protocol.Topology{Type: "topology", ID: msg.ID, Nodes: nodes})
}

func (h *sessionHandler) handleCreateNode(msg *protocol.Message) {
	var req struct {
		Node node.Draft `json:"node"`
	}
	if err := msg.Field("node", &req.Node); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "create_node: missing or malformed node")
		return
	}
	id := h.l.Manager.AddNode(req.Node)
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok", NodeID: id})
}

// nodePatchWire is the wire shape of update_node's patch object: a nil field
// means "leave unchanged", matching node.Patch.
type nodePatchWire struct {
	Name      *string   `json:"name"`
	Location  *string   `json:"location"`
	IP        *string   `json:"ip"`
	Sensors   *[]string `json:"sensors"`
	Actuators *[]string `json:"actuators"`
}

func (h *sessionHandler) handleUpdateNode(msg *protocol.Message) {
	var req struct {
		NodeID string        `json:"nodeId"`
		Patch  nodePatchWire `json:"patch"`
	}
	if err := msg.Field("nodeId", &req.NodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "update_node: missing nodeId")
		return
	}
	_ = msg.Field("patch", &req.Patch)

	err := h.l.Manager.UpdateNode(req.NodeID, node.Patch{
		Name:      req.Patch.Name,
		Location:  req.Patch.Location,
		IP:        req.Patch.IP,
		Sensors:   req.Patch.Sensors,
		Actuators: req.Patch.Actuators,
	})
	if err != nil {
		h.replyError(msg.ID, protocol.CodeNotFound, "node %s not found", req.NodeID)
		return
	}
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleDeleteNode(msg *protocol.Message) {
	var nodeID string
	if err := msg.Field("nodeId", &nodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "delete_node: missing nodeId")
		return
	}
	if err := h.l.Manager.DeleteNode(nodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeNotFound, "node %s not found", nodeID)
		return
	}
	h.l.engineOnNodeRemoved(nodeID)
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleComponent(msg *protocol.Message, op func(nodeID, kind, name string) error) {
	var req struct {
		NodeID string `json:"nodeId"`
		Kind   string `json:"kind"`
		Name   string `json:"name"`
	}
	if err := msg.Field("nodeId", &req.NodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "missing nodeId")
		return
	}
	_ = msg.Field("kind", &req.Kind)
	_ = msg.Field("name", &req.Name)

	if err := op(req.NodeID, req.Kind, req.Name); err != nil {
		switch {
		case errors.Is(err, node.ErrNotFound):
			h.replyError(msg.ID, protocol.CodeNotFound, "node %s not found", req.NodeID)
		default:
			h.replyError(msg.ID, protocol.CodeInvalidArg, "%v", err)
		}
		return
	}
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleSetSampling(msg *protocol.Message) {
	var req struct {
		NodeID     string `json:"nodeId"`
		IntervalMs int    `json:"intervalMs"`
	}
	if err := msg.Field("nodeId", &req.NodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "set_sampling: missing nodeId")
		return
	}
	_ = msg.Field("intervalMs", &req.IntervalMs)

	if _, err := h.l.Manager.SetSampling(req.NodeID, req.IntervalMs); err != nil {
		h.replyError(msg.ID, protocol.CodeNotFound, "node %s not found", req.NodeID)
		return
	}
	h.l.engineReschedule(req.NodeID)
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleSubscribe(msg *protocol.Message, op func(events, nodes []string)) {
	var req struct {
		Events []string `json:"events"`
		Nodes  []string `json:"nodes"`
	}
	_ = msg.Field("events", &req.Events)
	_ = msg.Field("nodes", &req.Nodes)
	op(req.Events, req.Nodes)
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
}

func (h *sessionHandler) handleCommand(msg *protocol.Message) {
	var req struct {
		NodeID string `json:"nodeId"`
		Target string `json:"target"`
		Params struct {
			On    json.RawMessage `json:"on"`
			Level *string         `json:"level"`
		} `json:"params"`
	}
	if err := msg.Field("nodeId", &req.NodeID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "command: missing nodeId")
		return
	}
	if err := msg.Field("target", &req.Target); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "command: missing target")
		return
	}
	_ = msg.Field("params", &req.Params)

	applied, err := h.l.Manager.ExecuteCommand(req.NodeID, req.Target, node.CommandParams{
		On:    parseOnParam(req.Params.On),
		Level: req.Params.Level,
	})
	if err != nil {
		h.replyError(msg.ID, protocol.CodeNotFound, "node %s not found", req.NodeID)
		return
	}

	// Unknown targets and unrecognised window levels are silently dropped;
	// the command still acks.
	h.send(protocol.Ack{Type: "ack", ID: msg.ID, Status: "ok"})
	if !applied {
		return
	}

	// Immediate push so the UI reflects the actuator change without waiting
	// for the next tick.
	if snap, err := h.l.Manager.Snapshot(req.NodeID); err == nil {
		h.l.broadcastSensorUpdate(req.NodeID, snap)
	}
}

// parseOnParam accepts params.on in both shapes clients send it: a JSON bool,
// or the case-insensitive string "true".
func parseOnParam(raw json.RawMessage) *bool {
	if len(raw) == 0 {
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v := strings.EqualFold(s, "true")
		return &v
	}
	return nil
}

func (h *sessionHandler) handleAuth(msg *protocol.Message) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = msg.Field("username", &req.Username)
	_ = msg.Field("password", &req.Password)

	if !h.l.Users.Validate(req.Username, req.Password) {
		h.send(protocol.AuthResponse{Type: "auth_response", ID: msg.ID, Success: false, Message: "invalid credentials"})
		return
	}
	id, _ := h.l.Users.GetUserID(req.Username)
	role, _ := h.l.Users.GetUserRole(req.Username)
	h.session.SetAuthRole(role)
	h.send(protocol.AuthResponse{Type: "auth_response", ID: msg.ID, Success: true, UserID: id, Role: role})
}

func (h *sessionHandler) handleRegister(msg *protocol.Message) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	_ = msg.Field("username", &req.Username)
	_ = msg.Field("password", &req.Password)
	_ = msg.Field("role", &req.Role)

	id, err := h.l.Users.Register(req.Username, req.Password, req.Role)
	if err != nil {
		h.send(protocol.RegisterResponse{Type: "register_response", ID: msg.ID, Success: false, Message: err.Error()})
		return
	}
	h.send(protocol.RegisterResponse{Type: "register_response", ID: msg.ID, Success: true, UserID: id})
}

func (h *sessionHandler) handleGetUsers(msg *protocol.Message) {
	users := h.l.Users.GetAll()
	h.send(protocol.UsersList{Type: "users_list", ID: msg.ID, Success: true, Users: users})
}

func (h *sessionHandler) handleUpdateUser(msg *protocol.Message) {
	var req struct {
		UserID   int    `json:"userId"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := msg.Field("userId", &req.UserID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "update_user: missing userId")
		return
	}
	_ = msg.Field("username", &req.Username)
	_ = msg.Field("role", &req.Role)

	err := h.l.Users.Update(req.UserID, req.Username, req.Role, h.session.AuthRole())
	h.replyUserMutation(msg.ID, err)
}

func (h *sessionHandler) handleDeleteUser(msg *protocol.Message) {
	var userID int
	if err := msg.Field("userId", &userID); err != nil {
		h.replyError(msg.ID, protocol.CodeInvalidArg, "delete_user: missing userId")
		return
	}
	err := h.l.Users.Delete(userID, h.session.AuthRole())
	h.replyUserMutation(msg.ID, err)
}

func (h *sessionHandler) replyUserMutation(id string, err error) {
	switch {
	case err == nil:
		h.send(protocol.Ack{Type: "ack", ID: id, Status: "ok"})
	case errors.Is(err, userstore.ErrForbidden):
		h.replyError(id, protocol.CodeForbidden, "caller is not an admin")
	default:
		h.replyError(id, protocol.CodeNotFound, "user not found")
	}
}

// engineOnNodeRemoved/engineReschedule expose the Listener's otherwise
// unexported sensor engine to the session handler without leaking the
// engine type itself into the dispatch table above.
func (l *Listener) engineOnNodeRemoved(nodeID string) { l.engine.CancelNode(nodeID) }
func (l *Listener) engineReschedule(nodeID string)    { l.engine.RescheduleNode(nodeID) }
