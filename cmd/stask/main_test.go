package main

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/natsbridge"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "single flag",
			args: []string{"--name", "test"},
			want: map[string]string{"name": "test"},
		},
		{
			name: "multiple flags",
			args: []string{"--name", "test", "--schedule", "* * * * *", "--prompt", "hello"},
			want: map[string]string{"name": "test", "schedule": "* * * * *", "prompt": "hello"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--name"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--name", "test"},
			want: map[string]string{"name": "test"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-n", "test"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

func startTestNATS(t *testing.T) *natsbridge.Bridge {
	t.Helper()
	bridge, err := natsbridge.New(config.NATSConfig{
		Port:    0,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bridge.Close)
	return bridge
}

func mockResponder(t *testing.T, bridge *natsbridge.Bridge, subject string, handler func(req ipcRequest) ipcResponse) {
	t.Helper()
	conn, err := nats.Connect(bridge.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)

	_, err = conn.Subscribe(subject, func(msg *nats.Msg) {
		var req ipcRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		resp, _ := json.Marshal(handler(req))
		msg.Respond(resp)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.Flush()
}

func TestSendIPCAdd(t *testing.T) {
	bridge := startTestNATS(t)

	mockResponder(t, bridge, natsbridge.TopicIPCInjectionAdd, func(req ipcRequest) ipcResponse {
		if req.Name != "my injection" {
			t.Errorf("expected name 'my injection', got %q", req.Name)
		}
		if req.Node != "hub" {
			t.Errorf("expected node hub, got %q", req.Node)
		}
		return ipcResponse{OK: true, ID: "inj-123"}
	})

	resp, err := sendIPC(bridge.ClientURL(), natsbridge.TopicIPCInjectionAdd, ipcRequest{
		Name:     "my injection",
		Node:     "hub",
		Schedule: "* * * * *",
		Prompt:   "hello",
	})
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if resp.ID != "inj-123" {
		t.Errorf("expected id inj-123, got %s", resp.ID)
	}
}

func TestSendIPCList(t *testing.T) {
	bridge := startTestNATS(t)

	mockResponder(t, bridge, natsbridge.TopicIPCInjectionList, func(req ipcRequest) ipcResponse {
		return ipcResponse{
			OK: true,
			Injections: []injection{
				{ID: "i1", Name: "one", Node: "hub", Schedule: "* * * * *", Status: "active"},
				{ID: "i2", Name: "two", Node: "hub", Schedule: "0 9 * * *", Status: "paused"},
			},
		}
	})

	resp, err := sendIPC(bridge.ClientURL(), natsbridge.TopicIPCInjectionList, ipcRequest{})
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if len(resp.Injections) != 2 {
		t.Fatalf("expected 2 injections, got %d", len(resp.Injections))
	}
	if resp.Injections[0].ID != "i1" || resp.Injections[1].ID != "i2" {
		t.Errorf("unexpected injection IDs: %v", resp.Injections)
	}
}

func TestSendIPCErrorResponse(t *testing.T) {
	bridge := startTestNATS(t)

	mockResponder(t, bridge, natsbridge.TopicIPCInjectionRemove, func(req ipcRequest) ipcResponse {
		return ipcResponse{Error: "injection not found"}
	})

	resp, err := sendIPC(bridge.ClientURL(), natsbridge.TopicIPCInjectionRemove, ipcRequest{ID: "nonexistent"})
	if err != nil {
		t.Fatalf("sendIPC: %v", err)
	}
	if resp.Error != "injection not found" {
		t.Errorf("expected error 'injection not found', got %q", resp.Error)
	}
}
