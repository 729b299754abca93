package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/avlonitis/synapse/internal/backend"
	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/mesh"
)

// Router resolves user text to a mesh node. An @name prefix addresses a
// node directly; otherwise the backend picks one from the node
// descriptions, falling back to the configured default.
type Router struct {
	mesh *mesh.Mesh
	gen  backend.Generator

	mu          sync.RWMutex
	defaultNode string
	descs       map[string]string // node name -> description
}

func New(m *mesh.Mesh, cfg config.RouterConfig) *Router {
	return &Router{
		mesh:        m,
		defaultNode: cfg.DefaultNode,
		descs:       make(map[string]string),
	}
}

// SetGenerator enables backend-assisted routing.
func (r *Router) SetGenerator(gen backend.Generator) {
	r.gen = gen
}

// Describe registers a node description used by backend-assisted
// routing.
func (r *Router) Describe(nodeName, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descs[nodeName] = description
}

// Route resolves a message to a node id and strips any @name prefix.
func (r *Router) Route(ctx context.Context, message string) (nodeID string, cleanedMessage string, err error) {
	// 1. Check for @node_name prefix
	if strings.HasPrefix(message, "@") {
		parts := strings.SplitN(message, " ", 2)
		name := strings.TrimPrefix(parts[0], "@")
		if n, ok := r.mesh.NodeByName(name); ok {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = parts[1]
			}
			return n.ID, cleaned, nil
		}
		// Unknown node name in prefix, fall through to smart routing
	}

	// 2. Try smart routing via the backend
	if r.gen != nil {
		descs := r.descriptions()
		if len(descs) > 1 {
			resp, routeErr := r.gen.Generate(ctx, backend.Request{
				Prompt: buildRoutingPrompt(descs, message),
			})
			if routeErr != nil {
				slog.Debug("route query failed, using default node", "error", routeErr)
			} else {
				picked := strings.TrimSpace(resp.Text)
				if n, ok := r.mesh.NodeByName(picked); ok {
					return n.ID, message, nil
				}
				slog.Debug("route query returned unknown node, using default", "node", picked)
			}
		}
	}

	// 3. Fall back to default node
	def := r.DefaultNode()
	if def == "" {
		return "", message, fmt.Errorf("no default node configured")
	}
	n, ok := r.mesh.NodeByName(def)
	if !ok {
		return "", message, fmt.Errorf("default node %q not found", def)
	}
	return n.ID, message, nil
}

// Deliver routes the message and hands it to the resolved node.
func (r *Router) Deliver(ctx context.Context, message string) (string, error) {
	nodeID, cleaned, err := r.Route(ctx, message)
	if err != nil {
		return "", err
	}
	if _, err := r.mesh.HandleUserMessage(ctx, nodeID, cleaned); err != nil {
		return "", err
	}
	return nodeID, nil
}

// Dispatch delivers a prompt to a named node. Satisfies the scheduler's
// dispatcher contract.
func (r *Router) Dispatch(ctx context.Context, nodeName, prompt string) error {
	n, ok := r.mesh.NodeByName(nodeName)
	if !ok {
		return fmt.Errorf("node %q not found", nodeName)
	}
	_, err := r.mesh.HandleUserMessage(ctx, n.ID, prompt)
	return err
}

func (r *Router) DefaultNode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultNode
}

// SetDefaultNode updates the default node used for routing.
func (r *Router) SetDefaultNode(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultNode = name
}

func (r *Router) descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.descs))
	for k, v := range r.descs {
		out[k] = v
	}
	return out
}

func buildRoutingPrompt(descs map[string]string, message string) string {
	var sb strings.Builder
	sb.WriteString("You are a message router. Given the user's message, determine which node should handle it.\n\n")
	sb.WriteString("Available nodes:\n")
	for name, desc := range descs {
		fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
	}
	sb.WriteString("\nUser message: ")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with ONLY the node name, nothing else.")
	return sb.String()
}
