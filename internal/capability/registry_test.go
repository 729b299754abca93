package capability

import (
	"testing"

	"github.com/avlonitis/synapse/internal/bus"
)

func TestRegisterReplacesSet(t *testing.T) {
	r := NewRegistry(bus.New())

	r.Register("n1", []Capability{Process, Analyze}, nil)
	if !r.Has("n1", Process) || !r.Has("n1", Analyze) {
		t.Fatal("expected registered capabilities")
	}

	r.Register("n1", []Capability{Route}, nil)
	if r.Has("n1", Process) {
		t.Error("register must replace, not merge")
	}
	if !r.Has("n1", Route) {
		t.Error("expected route after re-register")
	}
}

func TestAddRemove(t *testing.T) {
	r := NewRegistry(bus.New())

	r.Add("n1", Execute)
	if !r.Has("n1", Execute) {
		t.Fatal("expected capability after add")
	}
	r.Remove("n1", Execute)
	if r.Has("n1", Execute) {
		t.Fatal("expected capability removed")
	}
}

func TestUnknownCapabilityIgnored(t *testing.T) {
	r := NewRegistry(bus.New())

	r.Add("n1", Capability("teleport"))
	if len(r.Of("n1")) != 0 {
		t.Error("unknown capability must not be stored")
	}
}

func TestNodesWith(t *testing.T) {
	r := NewRegistry(bus.New())

	r.Register("w1", []Capability{Process}, nil)
	r.Register("w2", []Capability{Process, Monitor}, nil)
	r.Register("c1", []Capability{Route}, nil)

	nodes := r.NodesWith(Process)
	if len(nodes) != 2 || nodes[0] != "w1" || nodes[1] != "w2" {
		t.Fatalf("expected [w1 w2], got %v", nodes)
	}
}

func TestUnregisterClearsAndBroadcasts(t *testing.T) {
	b := bus.New()
	r := NewRegistry(b)

	var events []bus.Message
	b.Subscribe("watcher", []bus.EventType{bus.EventCapability}, func(m bus.Message) {
		events = append(events, m)
	})

	r.Register("n1", []Capability{Process}, nil)
	r.Unregister("n1")

	if r.Has("n1", Process) {
		t.Fatal("expected entries cleared on unregister")
	}
	if len(r.NodesWith(Process)) != 0 {
		t.Fatal("reverse lookup must not list an unregistered node")
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 capability events, got %d", len(events))
	}
	if events[0].Meta.Action != "register" || events[1].Meta.Action != "unregister" {
		t.Errorf("unexpected actions: %s, %s", events[0].Meta.Action, events[1].Meta.Action)
	}
}
