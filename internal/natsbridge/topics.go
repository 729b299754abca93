package natsbridge

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicMeshEvent carries every mirrored bus message, fanned out by
// event type (mesh.events.task, mesh.events.result, ...).
func TopicMeshEvent(eventType string) string {
	return fmt.Sprintf("mesh.events.%s", eventType)
}

// TopicMeshNode carries directed traffic for one node, keyed by node id.
func TopicMeshNode(nodeID string) string {
	return fmt.Sprintf("mesh.node.%s", nodeID)
}

const (
	TopicMeshEventsAll = "mesh.events.>"

	// IPC subjects served by the gateway for the stask tool.
	TopicIPCInjectionList   = "host.ipc.injections.list"
	TopicIPCInjectionAdd    = "host.ipc.injections.add"
	TopicIPCInjectionRemove = "host.ipc.injections.remove"
	TopicIPCInjectionPause  = "host.ipc.injections.pause"
	TopicIPCInjectionResume = "host.ipc.injections.resume"

	// Scheduler lifecycle events.
	TopicEventsInjectionExecuted = "mesh.events.injection_executed"
)
