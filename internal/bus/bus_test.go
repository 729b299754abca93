package bus

import (
	"testing"
)

func TestEmitFillsDefaults(t *testing.T) {
	b := New()
	out := b.Emit(EventTask, Message{SenderID: "a", Content: "hi"})
	if out.ID == "" {
		t.Fatal("expected id to be filled")
	}
	if out.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be filled")
	}
	if out.Status != StatusSent {
		t.Errorf("expected status sent with no subscribers, got %s", out.Status)
	}
}

func TestTypeFilter(t *testing.T) {
	b := New()
	var got []Message
	b.Subscribe("n1", []EventType{EventTask}, func(m Message) {
		got = append(got, m)
	})

	b.Emit(EventResult, Message{SenderID: "n2", Content: "result"})
	if len(got) != 0 {
		t.Fatalf("subscriber for task received %d result messages", len(got))
	}

	b.Emit(EventTask, Message{SenderID: "n2", Content: "task"})
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
}

func TestReceiverFilter(t *testing.T) {
	b := New()
	deliveries := make(map[string]int)
	for _, id := range []string{"sender", "target", "other"} {
		id := id
		b.Subscribe(id, []EventType{EventTask}, func(Message) {
			deliveries[id]++
		})
	}

	out := b.Emit(EventTask, Message{SenderID: "sender", ReceiverID: "target"})
	if deliveries["target"] != 1 {
		t.Errorf("expected target to receive the message, got %d", deliveries["target"])
	}
	if deliveries["sender"] != 0 {
		t.Error("sender must never receive its own message")
	}
	if deliveries["other"] != 0 {
		t.Error("non-addressed subscriber received a directed message")
	}
	if out.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", out.Status)
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	b := New()
	deliveries := make(map[string]int)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		b.Subscribe(id, []EventType{EventConnect}, func(Message) {
			deliveries[id]++
		})
	}

	b.Emit(EventConnect, Message{SenderID: "a"})
	if deliveries["a"] != 0 {
		t.Error("sender received its own broadcast")
	}
	if deliveries["b"] != 1 || deliveries["c"] != 1 {
		t.Errorf("expected b and c to each receive once, got %v", deliveries)
	}
}

func TestTopicFilter(t *testing.T) {
	b := New()
	deliveries := make(map[string]int)
	for _, id := range []string{"in", "out"} {
		id := id
		b.Subscribe(id, []EventType{EventTask}, func(Message) {
			deliveries[id]++
		})
	}
	b.SubscribeTopic("in", "alpha")

	b.Emit(EventTask, Message{SenderID: "src", Topic: "alpha"})
	if deliveries["in"] != 1 {
		t.Errorf("topic subscriber missed the message: %v", deliveries)
	}
	if deliveries["out"] != 0 {
		t.Errorf("non-topic subscriber received a topic message: %v", deliveries)
	}

	// Without a topic the filter does not apply.
	b.Emit(EventTask, Message{SenderID: "src"})
	if deliveries["out"] != 1 {
		t.Errorf("expected plain broadcast to reach everyone: %v", deliveries)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	count := 0
	unsub := b.Subscribe("n1", []EventType{EventTask}, func(Message) { count++ })

	b.Emit(EventTask, Message{SenderID: "n2"})
	unsub()
	unsub() // second call is a no-op
	b.Emit(EventTask, Message{SenderID: "n2"})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if b.Subscribers() != 0 {
		t.Errorf("expected 0 subscriptions, got %d", b.Subscribers())
	}
}

func TestPanicIsolation(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe("bad", []EventType{EventTask}, func(Message) {
		order = append(order, "bad")
		panic("handler exploded")
	})
	b.Subscribe("good", []EventType{EventTask}, func(Message) {
		order = append(order, "good")
	})

	b.Emit(EventTask, Message{SenderID: "src"})

	if len(order) != 2 || order[0] != "bad" || order[1] != "good" {
		t.Fatalf("expected delivery to continue past the panicking handler, got %v", order)
	}
}

func TestSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("n", []EventType{EventTask}, func(Message) {
			order = append(order, i)
		})
	}

	b.Emit(EventTask, Message{SenderID: "src"})
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery out of subscription order: %v", order)
		}
	}
}

func TestHandlerMayUnsubscribeDuringDelivery(t *testing.T) {
	b := New()
	var unsub func()
	count := 0
	unsub = b.Subscribe("n", []EventType{EventTask}, func(Message) {
		count++
		unsub()
	})

	b.Emit(EventTask, Message{SenderID: "src"})
	b.Emit(EventTask, Message{SenderID: "src"})

	if count != 1 {
		t.Errorf("expected handler to run once, got %d", count)
	}
}
