package registry_test

import (
	"sync"
	"testing"

	"github.com/vebjomy/greenhouse-server/registry"
)

func TestSubscribe_WildcardMatchesAnyNode(t *testing.T) {
	r := registry.New()
	var got [][]byte
	var mu sync.Mutex
	s := r.AddSession(func(line []byte) error {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
		return nil
	})
	s.Subscribe([]string{"sensor_update"}, []string{"*"})

	r.BroadcastSensorUpdate("node-7", []byte(`{"type":"sensor_update"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}
}

func TestSubscribe_UnmatchedEventNeverDelivered(t *testing.T) {
	r := registry.New()
	delivered := false
	s := r.AddSession(func(line []byte) error {
		delivered = true
		return nil
	})
	s.Subscribe([]string{"node_change"}, []string{"*"})

	r.BroadcastSensorUpdate("node-1", []byte(`{}`))

	if delivered {
		t.Error("session subscribed only to node_change must not receive sensor_update")
	}
}

func TestSubscribe_SpecificNodeFiltering(t *testing.T) {
	r := registry.New()
	var deliveries []string
	var mu sync.Mutex
	s := r.AddSession(func(line []byte) error {
		mu.Lock()
		deliveries = append(deliveries, string(line))
		mu.Unlock()
		return nil
	})
	s.Subscribe([]string{"sensor_update"}, []string{"node-1"})

	r.BroadcastSensorUpdate("node-1", []byte("a"))
	r.BroadcastSensorUpdate("node-2", []byte("b"))

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 1 || deliveries[0] != "a" {
		t.Errorf("got %v, want exactly one delivery for node-1", deliveries)
	}
}

func TestSubscribeTwice_IsIdempotent(t *testing.T) {
	r := registry.New()
	count := 0
	s := r.AddSession(func(line []byte) error {
		count++
		return nil
	})
	s.Subscribe([]string{"sensor_update"}, []string{"node-1"})
	s.Subscribe([]string{"sensor_update"}, []string{"node-1"})

	r.BroadcastSensorUpdate("node-1", []byte("x"))

	if count != 1 {
		t.Errorf("got %d deliveries, want 1 (set semantics)", count)
	}
}

func TestUnsubscribe_RemovesMatch(t *testing.T) {
	r := registry.New()
	count := 0
	s := r.AddSession(func(line []byte) error {
		count++
		return nil
	})
	s.Subscribe([]string{"sensor_update"}, []string{"node-1"})
	s.Unsubscribe([]string{"sensor_update"}, []string{"node-1"})

	r.BroadcastSensorUpdate("node-1", []byte("x"))

	if count != 0 {
		t.Errorf("got %d deliveries after unsubscribe, want 0", count)
	}
}

func TestRemoveSession_NeverTargetedAgain(t *testing.T) {
	r := registry.New()
	count := 0
	s := r.AddSession(func(line []byte) error {
		count++
		return nil
	})
	s.Subscribe([]string{"sensor_update"}, []string{"*"})

	r.RemoveSession(s)
	r.BroadcastSensorUpdate("node-1", []byte("x"))

	if count != 0 {
		t.Errorf("got %d deliveries after RemoveSession, want 0", count)
	}
	if r.Count() != 0 {
		t.Errorf("got Count()=%d, want 0", r.Count())
	}
}

func TestBroadcastNodeChange_RequiresWildcard(t *testing.T) {
	r := registry.New()
	count := 0
	s := r.AddSession(func(line []byte) error {
		count++
		return nil
	})
	s.Subscribe([]string{"node_change"}, []string{"node-1"})
	r.BroadcastNodeChange([]byte("x"))
	if count != 0 {
		t.Errorf("node_change subscription without wildcard must not match, got %d", count)
	}

	s.Subscribe([]string{"node_change"}, []string{"*"})
	r.BroadcastNodeChange([]byte("x"))
	if count != 1 {
		t.Errorf("got %d deliveries after wildcard subscribe, want 1", count)
	}
}
