// Package topology tracks active node-to-node links and their lifecycle.
// Notification is symmetric (both endpoints see a connect event); the
// parent/child direction lives on the node record, not the edge.
package topology

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avlonitis/synapse/internal/bus"
	"github.com/avlonitis/synapse/internal/capability"
)

// Connection describes one active link from a node's point of view.
type Connection struct {
	RemoteNodeID       string                  `json:"remote_node_id"`
	EstablishedAt      time.Time               `json:"established_at"`
	Active             bool                    `json:"active"`
	RemoteCapabilities []capability.Capability `json:"remote_capabilities"`
}

// Manager owns the connection table and the bus subscriptions each node
// registered through it, so teardown can cancel everything at once.
type Manager struct {
	bus *bus.Bus

	mu     sync.Mutex
	links  map[string]map[string]*Connection // nodeID -> remoteID -> connection
	unsubs map[string][]func()
}

func NewManager(b *bus.Bus) *Manager {
	return &Manager{
		bus:    b,
		links:  make(map[string]map[string]*Connection),
		unsubs: make(map[string][]func()),
	}
}

// Establish records an active link from nodeID to remoteID. Re-invocation
// overwrites with a fresh timestamp; there is never more than one entry
// per remote. A connect event is broadcast so peers can react.
func (m *Manager) Establish(nodeID, remoteID string, remoteCaps []capability.Capability) {
	m.mu.Lock()
	conns, ok := m.links[nodeID]
	if !ok {
		conns = make(map[string]*Connection)
		m.links[nodeID] = conns
	}
	conns[remoteID] = &Connection{
		RemoteNodeID:       remoteID,
		EstablishedAt:      time.Now(),
		Active:             true,
		RemoteCapabilities: remoteCaps,
	}
	m.mu.Unlock()

	slog.Debug("connection established", "node", nodeID, "remote", remoteID)
	if m.bus != nil {
		m.bus.Emit(bus.EventConnect, bus.Message{
			SenderID:   nodeID,
			ReceiverID: remoteID,
			Meta: bus.Meta{
				Kind:         bus.MetaConnect,
				Capabilities: capability.Strings(remoteCaps),
			},
		})
	}
}

// Track registers an unsubscribe func to be invoked when nodeID is torn
// down. Subscriptions must never leak past the node that made them.
func (m *Manager) Track(nodeID string, unsub func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs[nodeID] = append(m.unsubs[nodeID], unsub)
}

// Remove drops the link between nodeID and remoteID (both directions) and
// broadcasts a disconnect event.
func (m *Manager) Remove(nodeID, remoteID string) {
	m.mu.Lock()
	if conns, ok := m.links[nodeID]; ok {
		delete(conns, remoteID)
	}
	if conns, ok := m.links[remoteID]; ok {
		delete(conns, nodeID)
	}
	m.mu.Unlock()

	slog.Debug("connection removed", "node", nodeID, "remote", remoteID)
	if m.bus != nil {
		m.bus.Emit(bus.EventDisconnect, bus.Message{
			SenderID:   nodeID,
			ReceiverID: remoteID,
			Meta:       bus.Meta{Kind: bus.MetaDisconnect},
		})
	}
}

// Teardown removes every link touching nodeID and cancels every
// subscription the node registered through this manager.
func (m *Manager) Teardown(nodeID string) {
	m.mu.Lock()
	remotes := make([]string, 0)
	for remoteID := range m.links[nodeID] {
		remotes = append(remotes, remoteID)
	}
	delete(m.links, nodeID)
	for _, conns := range m.links {
		delete(conns, nodeID)
	}
	unsubs := m.unsubs[nodeID]
	delete(m.unsubs, nodeID)
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}

	if m.bus != nil {
		for _, remoteID := range remotes {
			m.bus.Emit(bus.EventDisconnect, bus.Message{
				SenderID:   nodeID,
				ReceiverID: remoteID,
				Meta:       bus.Meta{Kind: bus.MetaDisconnect},
			})
		}
	}
}

// Connected returns the node's active connections, sorted by remote id.
// Callers use it to decide whether a node has any delegation target.
func (m *Manager) Connected(nodeID string) []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]Connection, 0, len(m.links[nodeID]))
	for _, c := range m.links[nodeID] {
		conns = append(conns, *c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].RemoteNodeID < conns[j].RemoteNodeID })
	return conns
}

// IsConnected reports whether an active link nodeID -> remoteID exists.
func (m *Manager) IsConnected(nodeID, remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.links[nodeID][remoteID]
	return ok && c.Active
}
