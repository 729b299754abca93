package natsbridge

import (
	"log/slog"

	"github.com/avlonitis/synapse/internal/bus"
)

// Mirror republishes every bus message onto NATS so out-of-process
// consumers see the full mesh traffic, independent of the in-process
// delivery predicate. Messages go out on mesh.events.<type> and, when
// directed, on mesh.node.<receiver> as well.
func Mirror(b *bus.Bus, client *Client) {
	b.Tap(func(msg bus.Message) {
		topic := TopicMeshEvent(string(msg.Type))
		if err := client.PublishJSON(topic, msg); err != nil {
			slog.Debug("mirror publish failed", "topic", topic, "message", msg.ID, "error", err)
			return
		}
		if msg.ReceiverID != "" {
			if err := client.PublishJSON(TopicMeshNode(msg.ReceiverID), msg); err != nil {
				slog.Debug("mirror node publish failed", "receiver", msg.ReceiverID, "error", err)
			}
		}
	})
}
