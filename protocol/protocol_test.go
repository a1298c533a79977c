package protocol_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/vebjomy/greenhouse-server/protocol"
)

func TestDecode_ExtractsTypeAndID(t *testing.T) {
	m, err := protocol.Decode([]byte(`{"type":"ping","id":"c-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Type != "ping" || m.ID != "c-1" {
		t.Errorf("got type=%q id=%q, want ping/c-1", m.Type, m.ID)
	}
}

func TestDecode_NumericID(t *testing.T) {
	m, err := protocol.Decode([]byte(`{"type":"ping","id":42}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != "42" {
		t.Errorf("got id=%q, want 42", m.ID)
	}
}

func TestDecode_UnknownFieldsTolerated(t *testing.T) {
	m, err := protocol.Decode([]byte(`{"type":"future_thing","id":"c-2","weird":{"nested":1}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Type != "future_thing" {
		t.Errorf("got type=%q", m.Type)
	}
	var weird map[string]int
	if err := m.Field("weird", &weird); err != nil {
		t.Fatalf("Field(weird): %v", err)
	}
	if weird["nested"] != 1 {
		t.Errorf("got weird.nested=%d, want 1", weird["nested"])
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := protocol.Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestMessage_FieldMissing(t *testing.T) {
	m, err := protocol.Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v string
	if err := m.Field("nodeId", &v); err == nil {
		t.Fatal("expected ErrFieldMissing")
	}
}

func TestEncodeLine_OneLineTerminatedJSON(t *testing.T) {
	out, err := protocol.EncodeLine(protocol.Pong{Type: "pong", ID: "c-1"})
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		t.Fatalf("expected newline-terminated output, got %q", out)
	}
	if bytes.Count(out, []byte("\n")) != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(out[:len(out)-1], &decoded); err != nil {
		t.Fatalf("round-tripped output is not valid JSON: %v", err)
	}
	if decoded["type"] != "pong" || decoded["id"] != "c-1" {
		t.Errorf("got %v, want type=pong id=c-1", decoded)
	}
}

func TestErrorMessageFrom_EchoesID(t *testing.T) {
	msg := protocol.ErrorMessageFrom("c-9", protocol.NewError(protocol.CodeNotFound, "node %s not found", "node-9"))
	if msg.ID != "c-9" || msg.Code != protocol.CodeNotFound {
		t.Errorf("got %+v", msg)
	}
}
