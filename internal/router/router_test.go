package router

import (
	"context"
	"testing"

	"github.com/avlonitis/synapse/internal/backend"
	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/mesh"
)

type pickGen struct {
	pick string
}

func (g *pickGen) Generate(_ context.Context, _ backend.Request) (*backend.Response, error) {
	return &backend.Response{Text: g.pick}, nil
}

func newTestRouter(t *testing.T) (*Router, *mesh.Mesh) {
	t.Helper()
	m := mesh.New(mesh.Options{Backend: &pickGen{pick: "done"}})
	m.Spawn("general", nil, "agent")
	m.Spawn("coder", nil, "agent")

	rtr := New(m, config.RouterConfig{DefaultNode: "general"})
	rtr.Describe("general", "General assistant")
	rtr.Describe("coder", "Code specialist")
	return rtr, m
}

func TestRouteWithAtPrefix(t *testing.T) {
	rtr, m := newTestRouter(t)

	nodeID, msg, err := rtr.Route(context.Background(), "@coder fix the bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coder, _ := m.NodeByName("coder")
	if nodeID != coder.ID {
		t.Errorf("expected coder's id, got %q", nodeID)
	}
	if msg != "fix the bug" {
		t.Errorf("expected cleaned message 'fix the bug', got %q", msg)
	}
}

func TestRouteWithAtPrefixNoMessage(t *testing.T) {
	rtr, m := newTestRouter(t)

	nodeID, msg, err := rtr.Route(context.Background(), "@coder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coder, _ := m.NodeByName("coder")
	if nodeID != coder.ID {
		t.Errorf("expected coder's id, got %q", nodeID)
	}
	if msg != "" {
		t.Errorf("expected empty cleaned message, got %q", msg)
	}
}

func TestRouteWithUnknownAtPrefix(t *testing.T) {
	rtr, m := newTestRouter(t)

	// Unknown node name falls back to default
	nodeID, msg, err := rtr.Route(context.Background(), "@unknown hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	general, _ := m.NodeByName("general")
	if nodeID != general.ID {
		t.Errorf("expected fallback to general, got %q", nodeID)
	}
	if msg != "@unknown hello" {
		t.Errorf("expected original message preserved, got %q", msg)
	}
}

func TestRouteFallbackToDefault(t *testing.T) {
	rtr, m := newTestRouter(t)

	nodeID, msg, err := rtr.Route(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	general, _ := m.NodeByName("general")
	if nodeID != general.ID {
		t.Errorf("expected default node general, got %q", nodeID)
	}
	if msg != "hello world" {
		t.Errorf("expected message 'hello world', got %q", msg)
	}
}

func TestRouteBackendAssisted(t *testing.T) {
	rtr, m := newTestRouter(t)
	rtr.SetGenerator(&pickGen{pick: "coder"})

	nodeID, msg, err := rtr.Route(context.Background(), "please refactor this function")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coder, _ := m.NodeByName("coder")
	if nodeID != coder.ID {
		t.Errorf("expected backend-picked coder, got %q", nodeID)
	}
	if msg != "please refactor this function" {
		t.Errorf("expected original message, got %q", msg)
	}
}

func TestRouteBackendUnknownPickFallsBack(t *testing.T) {
	rtr, m := newTestRouter(t)
	rtr.SetGenerator(&pickGen{pick: "nonexistent"})

	nodeID, _, err := rtr.Route(context.Background(), "do something")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	general, _ := m.NodeByName("general")
	if nodeID != general.ID {
		t.Errorf("expected fallback to general, got %q", nodeID)
	}
}

func TestRouteNoDefault(t *testing.T) {
	m := mesh.New(mesh.Options{Backend: &pickGen{}})
	rtr := New(m, config.RouterConfig{})

	if _, _, err := rtr.Route(context.Background(), "hello"); err == nil {
		t.Fatal("expected error with no default node")
	}
}

func TestDispatch(t *testing.T) {
	rtr, m := newTestRouter(t)

	if err := rtr.Dispatch(context.Background(), "general", "scheduled prompt"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	m.Drain()

	if err := rtr.Dispatch(context.Background(), "missing", "x"); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
