// Package protocol implements the wire codec: a bidirectional mapping
// between one line of UTF-8 JSON and a typed message value. Decoding never
// rejects an unknown message type — it hands back a generic parsed form and
// leaves the dispatch decision to the caller.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParse is returned by Decode when a line is not well-formed JSON. The
// Session Handler treats this as a protocol error for that line only; the
// line is never partially applied.
var ErrParse = errors.New("protocol: malformed JSON")

// ErrFieldMissing is returned by Message.Field when the requested field is
// absent from the decoded object.
var ErrFieldMissing = errors.New("protocol: field missing")

// Message is the generic parsed form of one decoded line. Type and ID are
// pulled out eagerly because almost every dispatch path needs them; every
// other field is reached on demand via Field, so the codec never needs to
// know the full shape of every message type up front.
type Message struct {
	Type string
	ID   string

	raw map[string]json.RawMessage
}

// Decode parses one line of JSON into a Message. Unknown top-level fields are
// simply left in raw, available via Field; unknown message types are not an
// error here, only at dispatch.
func Decode(line []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	m := &Message{raw: raw}
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &m.Type); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrParse, err)
		}
	}
	if id, ok := raw["id"]; ok {
		// id may be a string or a number in the wild; normalise both to a
		// string so callers never have to care.
		var s string
		if err := json.Unmarshal(id, &s); err == nil {
			m.ID = s
		} else {
			var n json.Number
			if err := json.Unmarshal(id, &n); err == nil {
				m.ID = n.String()
			}
		}
	}
	return m, nil
}

// Field decodes the named top-level field into v. It returns ErrFieldMissing
// if the field was absent from the original line.
func (m *Message) Field(name string, v interface{}) error {
	raw, ok := m.raw[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldMissing, name)
	}
	return json.Unmarshal(raw, v)
}

// Has reports whether the decoded line contained a top-level field named
// name, whatever its value.
func (m *Message) Has(name string) bool {
	_, ok := m.raw[name]
	return ok
}

// EncodeLine marshals v into one JSON object followed by '\n' — exactly the
// line this protocol puts on the wire, and the shape the Client Registry
// fans out verbatim to every matching session.
func EncodeLine(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// ─── Error taxonomy ───────────────────────────────────────────────────────

// Code is one of the fixed error strings carried in an Error message's code
// field.
type Code string

const (
	CodeInvalidArg    Code = "INVALID_ARG"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeUnsupported   Code = "UNSUPPORTED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeInternal      Code = "INTERNAL"
)

// Error is a protocol-level failure carrying one of the wire codes. The Session
// Handler constructs one of these whenever a component-level sentinel error
// (node.ErrNotFound, userstore.ErrForbidden, …) crosses the dispatch boundary,
// and turns it directly into an ErrorMessage reply.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NewError constructs a protocol Error.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ─── Server → client message shapes ───────────────────────────────────────

type Welcome struct {
	Type    string `json:"type"`
	Server  string `json:"server"`
	Version string `json:"version"`
}

type Pong struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type Topology struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Nodes interface{} `json:"nodes"`
}

type SensorUpdate struct {
	Type      string      `json:"type"`
	NodeID    string      `json:"nodeId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type NodeChange struct {
	Type   string      `json:"type"`
	Op     string      `json:"op"`
	NodeID string      `json:"nodeId"`
	Node   interface{} `json:"node,omitempty"`
}

type Ack struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	NodeID string `json:"nodeId,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

type AuthResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	UserID  int    `json:"userId,omitempty"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

type RegisterResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	UserID  int    `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

type UsersList struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Success bool        `json:"success"`
	Users   interface{} `json:"users"`
}

// ErrorMessageFrom builds a wire ErrorMessage from a protocol Error, echoing
// id when known.
func ErrorMessageFrom(id string, err *Error) ErrorMessage {
	return ErrorMessage{Type: "error", ID: id, Code: err.Code, Message: err.Message}
}
