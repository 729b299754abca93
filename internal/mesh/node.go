package mesh

import (
	"log/slog"
	"sync"

	"github.com/avlonitis/synapse/internal/bus"
	"github.com/avlonitis/synapse/internal/dedup"
)

// Node is an addressable actor with identity, assigned role, and
// capability set. Its protocol behavior is decided by shape: a node with
// children and no parent coordinates, a node with a parent works, a node
// with neither processes requests on its own.
type Node struct {
	ID   string
	Name string

	mesh  *Mesh
	guard *dedup.Guard

	mu       sync.Mutex
	parentID string
	failures int
}

func (n *Node) initGuard() {
	n.guard = dedup.New()
}

func (n *Node) setParent(parentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parentID = parentID
}

func (n *Node) clearParentIf(parentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parentID == parentID {
		n.parentID = ""
	}
}

// Parent returns the assigned parent node id, or "".
func (n *Node) Parent() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parentID
}

// Failures reports how many backend failures this node has recorded.
func (n *Node) Failures() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failures
}

func (n *Node) countFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures++
}

// Children returns the connected nodes excluding the parent: the
// delegation targets.
func (n *Node) Children() []string {
	parent := n.Parent()
	var children []string
	for _, c := range n.mesh.topo.Connected(n.ID) {
		if c.RemoteNodeID == parent {
			continue
		}
		children = append(children, c.RemoteNodeID)
	}
	return children
}

// handle dispatches bus deliveries. Dedup runs before anything with side
// effects so a redelivered message is processed at most once.
func (n *Node) handle(msg bus.Message) {
	// The bus already excludes the sender; keep the invariant locally too.
	if msg.SenderID == n.ID {
		return
	}

	switch msg.Type {
	case bus.EventTask:
		if n.guard.Seen(msg) {
			slog.Debug("duplicate task dropped", "node", n.ID, "message", msg.ID)
			return
		}
		n.mesh.handleTask(n, msg)
	case bus.EventResult:
		if n.guard.Seen(msg) {
			slog.Debug("duplicate result dropped", "node", n.ID, "message", msg.ID)
			return
		}
		n.mesh.handleResult(n, msg)
	case bus.EventConnect, bus.EventDisconnect:
		slog.Debug("topology event", "node", n.ID, "type", msg.Type, "peer", msg.SenderID)
	}
}
