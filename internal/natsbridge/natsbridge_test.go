package natsbridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avlonitis/synapse/internal/bus"
	"github.com/avlonitis/synapse/internal/config"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	bridge, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bridge: %v", err)
	}
	t.Cleanup(bridge.Close)
	return bridge
}

func TestBridgeStartStop(t *testing.T) {
	bridge := newTestBridge(t)

	url := bridge.ClientURL()
	if url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bridge := newTestBridge(t)

	client, err := NewClient(bridge)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	bridge := newTestBridge(t)

	client, err := NewClient(bridge)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON("test.json", payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMirrorRepublishesBusTraffic(t *testing.T) {
	bridge := newTestBridge(t)

	client, err := NewClient(bridge)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan bus.Message, 2)
	_, err = client.Subscribe(TopicMeshEventsAll, func(msg *nats.Msg) {
		var m bus.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Errorf("unmarshal mirrored message: %v", err)
			return
		}
		received <- m
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	b := bus.New()
	Mirror(b, client)

	// Directed message with no in-process subscribers still gets
	// mirrored.
	b.Emit(bus.EventTask, bus.Message{
		SenderID:   "node-a",
		ReceiverID: "node-b",
		Content:    "work",
	})
	client.Flush()

	select {
	case m := <-received:
		if m.Type != bus.EventTask {
			t.Errorf("expected task event, got %s", m.Type)
		}
		if m.Content != "work" {
			t.Errorf("expected content 'work', got '%s'", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for mirrored message")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicMeshEvent("task"); got != "mesh.events.task" {
		t.Errorf("expected mesh.events.task, got %s", got)
	}
	if got := TopicMeshNode("n1"); got != "mesh.node.n1" {
		t.Errorf("expected mesh.node.n1, got %s", got)
	}
}
