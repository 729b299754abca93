// Package mesh wires the bus, registries, and policy into a context that
// hosts node actors and runs the coordinator/worker delegation protocol.
// The context is injected wherever it is needed; there are no package
// globals, so independent meshes (and tests) never share state.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/avlonitis/synapse/internal/backend"
	"github.com/avlonitis/synapse/internal/bus"
	"github.com/avlonitis/synapse/internal/capability"
	"github.com/avlonitis/synapse/internal/policy"
	"github.com/avlonitis/synapse/internal/topology"
)

// UserID is the sender id presentation layers use for user-authored
// messages. It is an endpoint, not a node: nothing on the mesh owns it.
const UserID = "user"

var (
	ErrUnknownNode  = fmt.Errorf("unknown node")
	ErrNotConnected = fmt.Errorf("node not connected")
	ErrDenied       = fmt.Errorf("interaction not allowed by role")
)

// Recorder receives a copy of every protocol message and thread change
// for the presentation layer. Implementations must not block.
type Recorder interface {
	RecordMessage(threadKey string, msg bus.Message)
	RecordThread(t Thread)
}

// ResultListener observes final and intermediate results arriving at the
// root of a delegation, keyed by the node that produced them.
type ResultListener func(nodeID, requester, content string, resolved bool)

type Options struct {
	Bus          *bus.Bus
	Capabilities *capability.Registry
	Topology     *topology.Manager
	Roles        *policy.Registry
	Backend      backend.Generator
	Recorder     Recorder
}

type Mesh struct {
	bus      *bus.Bus
	caps     *capability.Registry
	topo     *topology.Manager
	roles    *policy.Registry
	backend  backend.Generator
	recorder Recorder
	threads  *threadTable

	mu    sync.RWMutex
	nodes map[string]*Node

	listenerMu sync.RWMutex
	listeners  []ResultListener

	calls sync.WaitGroup // outstanding backend calls
}

// New builds a mesh context. Nil registries are constructed on the spot;
// a nil role registry is seeded with the default catalog.
func New(opts Options) *Mesh {
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	caps := opts.Capabilities
	if caps == nil {
		caps = capability.NewRegistry(b)
	}
	topo := opts.Topology
	if topo == nil {
		topo = topology.NewManager(b)
	}
	roles := opts.Roles
	if roles == nil {
		roles = policy.NewRegistry()
		seedRoles(roles)
	}

	return &Mesh{
		bus:      b,
		caps:     caps,
		topo:     topo,
		roles:    roles,
		backend:  opts.Backend,
		recorder: opts.Recorder,
		threads:  newThreadTable(),
		nodes:    make(map[string]*Node),
	}
}

// seedRoles installs the default catalog. The first entry is the
// deterministic default role for unassigned nodes.
func seedRoles(r *policy.Registry) {
	r.AddRole(policy.Role{
		ID:          "agent",
		Name:        "Agent",
		Description: "Independent agent that may initiate any interaction",
		AllowedInteractions: []string{
			policy.InteractTask, policy.InteractResult, policy.InteractAck, policy.InteractConnect,
		},
		SystemPromptTemplate: "You are {name}, an autonomous agent on a mesh.",
	})
	r.AddRole(policy.Role{
		ID:          "coordinator",
		Name:        "Coordinator",
		Description: "Delegates tasks to connected children and acknowledges requesters",
		AllowedInteractions: []string{
			policy.InteractTask, policy.InteractAck, policy.InteractConnect,
		},
		SystemPromptTemplate: "You are {name}, a coordinator. Turn requests into clear, actionable instructions for your workers.",
	})
	r.AddRole(policy.Role{
		ID:          "worker",
		Name:        "Worker",
		Description: "Executes delegated tasks and reports to its parent",
		AllowedInteractions: []string{
			policy.InteractTask, policy.InteractResult, policy.InteractConnect,
		},
		SystemPromptTemplate: "You are {name}, a worker. Complete the task you are given.",
	})
}

func (m *Mesh) Bus() *bus.Bus                       { return m.bus }
func (m *Mesh) Capabilities() *capability.Registry  { return m.caps }
func (m *Mesh) Topology() *topology.Manager         { return m.topo }
func (m *Mesh) Roles() *policy.Registry             { return m.roles }

// OnResult registers a listener for results surfacing at delegation
// roots. Used by the presentation frontends.
func (m *Mesh) OnResult(l ResultListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Mesh) notifyResult(nodeID, requester, content string, resolved bool) {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for _, l := range m.listeners {
		l(nodeID, requester, content, resolved)
	}
}

// Spawn creates a node actor, registers its capabilities, assigns its
// role, and subscribes it to protocol events. Node ids are uuids and are
// never reused while the process runs.
func (m *Mesh) Spawn(name string, caps []capability.Capability, roleID string) *Node {
	if len(caps) == 0 {
		caps = []capability.Capability{capability.Process, capability.Route}
	}

	n := &Node{
		ID:   uuid.New().String(),
		Name: name,
		mesh: m,
	}
	n.initGuard()

	m.mu.Lock()
	m.nodes[n.ID] = n
	m.mu.Unlock()

	m.caps.Register(n.ID, caps, map[string]string{"name": name})
	if roleID != "" {
		if !m.roles.Assign(n.ID, roleID) {
			slog.Warn("unknown role, node keeps the default", "node", n.ID, "role", roleID)
		}
	}

	unsub := m.bus.Subscribe(n.ID,
		[]bus.EventType{bus.EventTask, bus.EventResult, bus.EventConnect, bus.EventDisconnect},
		n.handle)
	m.topo.Track(n.ID, unsub)

	slog.Info("node spawned", "node", n.ID, "name", name, "caps", caps)
	return n
}

// Retire tears a node down: capabilities cleared, connections removed,
// subscriptions cancelled. The id is retired with it.
func (m *Mesh) Retire(nodeID string) error {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	if ok {
		delete(m.nodes, nodeID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	// Clear parent pointers on children before dropping the edges.
	m.mu.RLock()
	for _, other := range m.nodes {
		other.clearParentIf(nodeID)
	}
	m.mu.RUnlock()

	m.topo.Teardown(nodeID)
	m.caps.Unregister(nodeID)
	slog.Info("node retired", "node", nodeID, "name", n.Name)
	return nil
}

// Node looks a node up by id.
func (m *Mesh) Node(nodeID string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[nodeID]
	return n, ok
}

// NodeByName finds a node by its display name.
func (m *Mesh) NodeByName(name string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Nodes lists all live nodes.
func (m *Mesh) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// Connect links parent and child. Notification is symmetric; the
// direction is stored on the child's node record.
func (m *Mesh) Connect(parentID, childID string) error {
	if parentID == childID {
		return fmt.Errorf("node cannot connect to itself")
	}
	parent, ok := m.Node(parentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parentID)
	}
	child, ok := m.Node(childID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, childID)
	}
	if !m.roles.CanInteract(parentID, childID, policy.InteractConnect) {
		return fmt.Errorf("%w: %s -> %s", ErrDenied, parentID, childID)
	}

	m.topo.Establish(parentID, childID, m.caps.Of(childID))
	m.topo.Establish(childID, parentID, m.caps.Of(parentID))
	child.setParent(parentID)

	slog.Info("nodes connected", "parent", parent.Name, "child", child.Name)
	return nil
}

// Disconnect removes the link between two nodes.
func (m *Mesh) Disconnect(aID, bID string) error {
	a, ok := m.Node(aID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, aID)
	}
	b, ok := m.Node(bID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, bID)
	}

	m.topo.Remove(aID, bID)
	a.clearParentIf(bID)
	b.clearParentIf(aID)
	return nil
}

// Threads lists every task thread the mesh has seen this process.
func (m *Mesh) Threads() []Thread {
	return m.threads.list()
}

// Thread returns one thread by key.
func (m *Mesh) Thread(key string) (Thread, bool) {
	t, ok := m.threads.get(key)
	if !ok {
		return Thread{}, false
	}
	cp := *t
	cp.History = append([]string(nil), t.History...)
	return cp, true
}

// Drain blocks until every outstanding backend call has completed. Used
// on shutdown and by tests.
func (m *Mesh) Drain() {
	m.calls.Wait()
}

// go1 runs fn on a tracked goroutine so Drain can wait for it.
func (m *Mesh) go1(fn func()) {
	m.calls.Add(1)
	go func() {
		defer m.calls.Done()
		fn()
	}()
}

func (m *Mesh) record(threadKey string, msg bus.Message) {
	if m.recorder != nil {
		m.recorder.RecordMessage(threadKey, msg)
	}
}

func (m *Mesh) recordThread(key string) {
	if m.recorder == nil {
		return
	}
	if t, ok := m.Thread(key); ok {
		m.recorder.RecordThread(t)
	}
}

func (m *Mesh) generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if m.backend == nil {
		return nil, &backend.ValidationError{Field: "generator"}
	}
	return m.backend.Generate(ctx, req)
}
