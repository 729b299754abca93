package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/natsbridge"
)

func newIPCHarness(t *testing.T) (*Scheduler, *natsbridge.Client) {
	t.Helper()
	bridge, err := natsbridge.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bridge.Close)

	server, err := natsbridge.NewClient(bridge)
	if err != nil {
		t.Fatalf("server client: %v", err)
	}
	t.Cleanup(server.Close)

	sched := New(newTestStore(t), &fakeDispatcher{}, nil, config.SchedulerConfig{PollInterval: time.Hour})
	if err := sched.ServeIPC(server); err != nil {
		t.Fatalf("serve ipc: %v", err)
	}
	if err := server.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	caller, err := natsbridge.NewClient(bridge)
	if err != nil {
		t.Fatalf("caller client: %v", err)
	}
	t.Cleanup(caller.Close)
	return sched, caller
}

func ipcCall(t *testing.T, c *natsbridge.Client, subject string, req ipcRequest) ipcResponse {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := c.Request(subject, data, 5*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestIPCLifecycle(t *testing.T) {
	_, caller := newIPCHarness(t)

	// Add
	resp := ipcCall(t, caller, natsbridge.TopicIPCInjectionAdd, ipcRequest{
		Name: "nightly", Node: "hub", Schedule: "0 2 * * *", Prompt: "run maintenance",
	})
	if !resp.OK || resp.ID == "" {
		t.Fatalf("add failed: %+v", resp)
	}
	id := resp.ID

	// List
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionList, ipcRequest{})
	if len(resp.Injections) != 1 {
		t.Fatalf("expected 1 injection, got %d", len(resp.Injections))
	}
	if resp.Injections[0].Status != "active" {
		t.Errorf("expected active, got %q", resp.Injections[0].Status)
	}

	// Pause
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionPause, ipcRequest{ID: id})
	if !resp.OK {
		t.Fatalf("pause failed: %+v", resp)
	}
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionList, ipcRequest{})
	if resp.Injections[0].Status != "paused" {
		t.Errorf("expected paused, got %q", resp.Injections[0].Status)
	}

	// Resume
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionResume, ipcRequest{ID: id})
	if !resp.OK {
		t.Fatalf("resume failed: %+v", resp)
	}

	// Remove
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionRemove, ipcRequest{ID: id})
	if !resp.OK {
		t.Fatalf("remove failed: %+v", resp)
	}
	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionList, ipcRequest{})
	if len(resp.Injections) != 0 {
		t.Errorf("expected empty list after remove, got %d", len(resp.Injections))
	}
}

func TestIPCValidation(t *testing.T) {
	_, caller := newIPCHarness(t)

	resp := ipcCall(t, caller, natsbridge.TopicIPCInjectionAdd, ipcRequest{Name: "incomplete"})
	if resp.Error == "" {
		t.Error("expected error for missing fields")
	}

	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionAdd, ipcRequest{
		Name: "bad", Node: "hub", Schedule: "definitely not cron", Prompt: "x",
	})
	if resp.Error == "" {
		t.Error("expected error for invalid schedule")
	}

	resp = ipcCall(t, caller, natsbridge.TopicIPCInjectionPause, ipcRequest{ID: "missing"})
	if resp.Error == "" {
		t.Error("expected error for unknown injection")
	}
}
