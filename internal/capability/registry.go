package capability

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/avlonitis/synapse/internal/bus"
)

// Registry tracks each node's declared capabilities and broadcasts every
// mutation as a capability event so peers can react.
type Registry struct {
	bus *bus.Bus

	mu   sync.RWMutex
	caps map[string]map[Capability]bool // nodeID -> set
	meta map[string]map[string]string
}

func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bus:  b,
		caps: make(map[string]map[Capability]bool),
		meta: make(map[string]map[string]string),
	}
}

// Register replaces the node's full capability set and broadcasts a
// capability event tagged "register".
func (r *Registry) Register(nodeID string, caps []Capability, metadata map[string]string) {
	r.mu.Lock()
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		if !Known(c) {
			slog.Warn("unknown capability ignored", "node", nodeID, "capability", c)
			continue
		}
		set[c] = true
	}
	r.caps[nodeID] = set
	if metadata != nil {
		r.meta[nodeID] = metadata
	}
	r.mu.Unlock()

	r.broadcast(nodeID, "register")
}

// Add declares one more capability for the node.
func (r *Registry) Add(nodeID string, c Capability) {
	if !Known(c) {
		slog.Warn("unknown capability ignored", "node", nodeID, "capability", c)
		return
	}
	r.mu.Lock()
	set, ok := r.caps[nodeID]
	if !ok {
		set = make(map[Capability]bool)
		r.caps[nodeID] = set
	}
	set[c] = true
	r.mu.Unlock()

	r.broadcast(nodeID, "add")
}

// Remove retracts one capability from the node.
func (r *Registry) Remove(nodeID string, c Capability) {
	r.mu.Lock()
	if set, ok := r.caps[nodeID]; ok {
		delete(set, c)
	}
	r.mu.Unlock()

	r.broadcast(nodeID, "remove")
}

// Has reports whether the node declared the capability.
func (r *Registry) Has(nodeID string, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[nodeID][c]
}

// Of returns the node's declared capabilities, sorted.
func (r *Registry) Of(nodeID string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedCaps(r.caps[nodeID])
}

// NodesWith is the reverse lookup used for routing decisions.
func (r *Registry) NodesWith(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes []string
	for id, set := range r.caps {
		if set[c] {
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// Unregister clears every entry for the node and broadcasts
// "unregister". It must run on node teardown; a leaked entry causes
// later routing attempts to a dead node.
func (r *Registry) Unregister(nodeID string) {
	r.mu.Lock()
	delete(r.caps, nodeID)
	delete(r.meta, nodeID)
	r.mu.Unlock()

	r.broadcast(nodeID, "unregister")
}

func (r *Registry) broadcast(nodeID, action string) {
	if r.bus == nil {
		return
	}
	r.mu.RLock()
	caps := sortedCaps(r.caps[nodeID])
	r.mu.RUnlock()

	r.bus.Emit(bus.EventCapability, bus.Message{
		SenderID: nodeID,
		Meta: bus.Meta{
			Kind:         bus.MetaCapability,
			Action:       action,
			Capabilities: Strings(caps),
		},
	})
}

func sortedCaps(set map[Capability]bool) []Capability {
	caps := make([]Capability, 0, len(set))
	for c := range set {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
