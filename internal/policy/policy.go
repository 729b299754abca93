// Package policy maps nodes to roles and answers whether a node may
// initiate an interaction. The check is on the source only; it is not a
// per-target ACL.
package policy

import (
	"sync"
)

// Interaction kinds a role may allow.
const (
	InteractTask    = "task"
	InteractResult  = "result"
	InteractAck     = "ack"
	InteractConnect = "connect"
)

// Role describes what a node assigned to it may initiate and how its
// backend prompt is framed.
type Role struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	AllowedInteractions []string `json:"allowed_interactions"`
	SystemPromptTemplate string  `json:"system_prompt_template"`
}

// Registry holds the role catalog and per-node assignments. The first
// registered role is the deterministic default, so every node is
// evaluable before its first message.
type Registry struct {
	mu          sync.RWMutex
	roles       map[string]Role
	order       []string
	assignments map[string]string // nodeID -> roleID
}

func NewRegistry() *Registry {
	return &Registry{
		roles:       make(map[string]Role),
		assignments: make(map[string]string),
	}
}

// AddRole registers a role. Re-adding an id overwrites the definition but
// keeps its position in the default ordering.
func (r *Registry) AddRole(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.ID]; !ok {
		r.order = append(r.order, role.ID)
	}
	r.roles[role.ID] = role
}

// Assign maps a node to a role. Idempotent overwrite; assigning an
// unknown role id is ignored.
func (r *Registry) Assign(nodeID, roleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[roleID]; !ok {
		return false
	}
	r.assignments[nodeID] = roleID
	return true
}

// Unassign drops a node's assignment; the node falls back to the default.
func (r *Registry) Unassign(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, nodeID)
}

// RoleOf resolves a node's effective role: its assignment if set, else
// the first registered role. ok is false only when the catalog is empty.
func (r *Registry) RoleOf(nodeID string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.assignments[nodeID]; ok {
		if role, ok := r.roles[id]; ok {
			return role, true
		}
	}
	if len(r.order) == 0 {
		return Role{}, false
	}
	return r.roles[r.order[0]], true
}

// Roles lists the catalog in registration order.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.roles[id])
	}
	return out
}

// CanInteract reports whether source's effective role allows it to
// initiate interactionType. The target does not participate in the
// decision.
func (r *Registry) CanInteract(sourceID, targetID, interactionType string) bool {
	_ = targetID // source-side capability check only

	role, ok := r.RoleOf(sourceID)
	if !ok {
		return false
	}
	for _, allowed := range role.AllowedInteractions {
		if allowed == interactionType {
			return true
		}
	}
	return false
}
