package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avlonitis/synapse/internal/backend"
	"github.com/avlonitis/synapse/internal/bus"
	"github.com/avlonitis/synapse/internal/capability"
	"github.com/avlonitis/synapse/internal/policy"
)

// TaskResolvedMarker is the literal string a node appends to its output
// to signal task completion.
const TaskResolvedMarker = "TASK_RESOLVED"

// CoordinatorTag marks instructions that were rewritten by a coordinator
// before fan-out.
const CoordinatorTag = "transformed_by_coordinator"

const defaultTemperature = 0.7

// HandleUserMessage is the entry point for user-authored messages from
// the presentation layer. A coordinator acknowledges immediately and
// fans transformed instructions out to its children; any other node
// processes the request itself. The returned message is the recorded
// inbound message; backend work continues asynchronously.
func (m *Mesh) HandleUserMessage(ctx context.Context, nodeID, content string) (bus.Message, error) {
	n, ok := m.Node(nodeID)
	if !ok {
		return bus.Message{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	msg := bus.Message{
		ID:         bus.NewID(),
		SenderID:   UserID,
		ReceiverID: n.ID,
		Type:       bus.EventTask,
		Content:    content,
		Meta: bus.Meta{
			Kind:            bus.MetaTask,
			OriginalRequest: content,
			Requester:       UserID,
		},
	}

	// Duplicate user submissions are a benign no-op.
	if n.guard.Seen(msg) {
		slog.Debug("duplicate user message dropped", "node", n.ID, "message", msg.ID)
		return msg, nil
	}

	key := ThreadKey(UserID, n.ID)
	m.threads.open(key, UserID)
	m.record(key, msg)
	m.threads.update(key, func(t *Thread) { t.State = StateInProgress })

	if len(n.Children()) > 0 && n.Parent() == "" {
		m.coordinate(ctx, n, key, content)
	} else {
		m.processDirect(ctx, n, key, content)
	}
	return msg, nil
}

// coordinate implements the coordinator path: ack the requester now,
// transform the request via the backend, broadcast the same instructions
// to every connected child.
func (m *Mesh) coordinate(ctx context.Context, n *Node, threadKey, request string) {
	if m.roles.CanInteract(n.ID, UserID, policy.InteractAck) {
		ack := m.bus.Emit(bus.EventAck, bus.Message{
			SenderID:   n.ID,
			ReceiverID: UserID,
			Content:    fmt.Sprintf("Request received by %s, delegating to %d workers", n.Name, len(n.Children())),
			Meta:       bus.Meta{Kind: bus.MetaAck, OriginalRequest: request, Requester: UserID},
		})
		m.record(threadKey, ack)
	} else {
		slog.Warn("role denies ack", "node", n.ID)
	}

	m.go1(func() {
		role, _ := m.roles.RoleOf(n.ID)
		resp, err := m.generate(ctx, backend.Request{
			System:      renderRolePrompt(role, n.Name),
			Prompt:      transformPrompt(request),
			Temperature: defaultTemperature,
		})
		if err != nil {
			m.failThread(n, threadKey, UserID, err)
			return
		}

		instructions := resp.Text
		history := appendHistory("", n.ID, instructions)
		m.threads.update(threadKey, func(t *Thread) {
			t.History = append(t.History, historyEntry(n.ID, instructions))
		})
		m.recordThread(threadKey)

		// Identical instructions to every child, unconditionally.
		for _, childID := range n.Children() {
			if childID == n.ID {
				continue
			}
			if !m.roles.CanInteract(n.ID, childID, policy.InteractTask) {
				slog.Warn("role denies delegation", "node", n.ID, "child", childID)
				continue
			}
			task := m.bus.Emit(bus.EventTask, bus.Message{
				SenderID:   n.ID,
				ReceiverID: childID,
				Content:    instructions,
				Meta: bus.Meta{
					Kind:                   bus.MetaTask,
					TaskHistory:            history,
					OriginalRequest:        request,
					Requester:              UserID,
					ProcessingInstructions: CoordinatorTag,
				},
			})
			m.record(ThreadKey(n.ID, childID), task)
		}
	})
}

// processDirect implements the leaf path: run the request against the
// backend with the terminal-marker instruction and answer the requester
// (or report to the parent when one exists).
func (m *Mesh) processDirect(ctx context.Context, n *Node, threadKey, request string) {
	if !m.caps.Has(n.ID, capability.Process) {
		slog.Warn("node lacks process capability, request dropped", "node", n.ID)
		return
	}

	m.go1(func() {
		role, _ := m.roles.RoleOf(n.ID)
		resp, err := m.generate(ctx, backend.Request{
			System:      renderRolePrompt(role, n.Name),
			Prompt:      executePrompt(request, ""),
			Temperature: defaultTemperature,
		})
		if err != nil {
			m.failThread(n, threadKey, UserID, err)
			return
		}

		output := resp.Text
		resolved := strings.Contains(output, TaskResolvedMarker)
		history := appendHistory("", n.ID, output)

		m.threads.update(threadKey, func(t *Thread) {
			t.History = append(t.History, historyEntry(n.ID, output))
			if resolved {
				t.State = StateResolved
			}
		})
		m.recordThread(threadKey)

		dest := n.Parent()
		if dest == "" {
			dest = UserID
			m.notifyResult(n.ID, UserID, output, resolved)
		}
		m.emitResult(n, dest, threadKey, output, history, resolved, "", UserID)
	})
}

// handleTask is the worker path for delegated tasks arriving on the bus.
func (m *Mesh) handleTask(n *Node, msg bus.Message) {
	if !m.caps.Has(n.ID, capability.Process) {
		slog.Warn("node lacks process capability, task dropped", "node", n.ID, "message", msg.ID)
		return
	}

	key := ThreadKey(msg.SenderID, n.ID)
	requester := msg.Meta.Requester
	if requester == "" {
		requester = msg.SenderID
	}
	m.threads.open(key, requester)
	m.record(key, msg)
	m.threads.update(key, func(t *Thread) { t.State = StateInProgress })

	m.go1(func() {
		role, _ := m.roles.RoleOf(n.ID)
		resp, err := m.generate(context.Background(), backend.Request{
			System:      renderRolePrompt(role, n.Name),
			Prompt:      executePrompt(msg.Content, msg.Meta.TaskHistory),
			Temperature: defaultTemperature,
		})
		if err != nil {
			m.failThread(n, key, msg.SenderID, err)
			return
		}

		output := resp.Text
		resolved := strings.Contains(output, TaskResolvedMarker)
		history := appendHistory(msg.Meta.TaskHistory, n.ID, output)

		m.threads.update(key, func(t *Thread) {
			t.History = append(t.History, historyEntry(n.ID, output))
			if resolved {
				t.State = StateResolved
			}
		})
		m.recordThread(key)

		// Always report to the parent; the delegator stands in when no
		// parent is assigned.
		dest := n.Parent()
		if dest == "" {
			dest = msg.SenderID
		}
		if dest != n.ID {
			m.emitResult(n, dest, key, output, history, resolved, msg.Meta.OriginalRequest, requester)
		}

		// Unresolved output continues the thread downward when this node
		// has connections beyond its parent and the delegator.
		if !resolved {
			for _, childID := range n.Children() {
				if childID == msg.SenderID || childID == n.ID {
					continue
				}
				if !m.roles.CanInteract(n.ID, childID, policy.InteractTask) {
					continue
				}
				task := m.bus.Emit(bus.EventTask, bus.Message{
					SenderID:   n.ID,
					ReceiverID: childID,
					Content:    msg.Content,
					Meta: bus.Meta{
						Kind:                   bus.MetaTask,
						TaskHistory:            history,
						OriginalRequest:        msg.Meta.OriginalRequest,
						Requester:              requester,
						ProcessingInstructions: msg.Meta.ProcessingInstructions,
					},
				})
				m.record(ThreadKey(n.ID, childID), task)
			}
		}
	})
}

// handleResult handles a child's report. A resolved result flips the
// thread, climbs toward the root, and stops there.
func (m *Mesh) handleResult(n *Node, msg bus.Message) {
	key := ThreadKey(msg.SenderID, n.ID)
	requester := msg.Meta.Requester
	if requester == "" {
		requester = UserID
	}
	m.threads.open(key, requester)
	m.record(key, msg)

	resolved := msg.Meta.IsTaskResolved
	m.threads.update(key, func(t *Thread) {
		t.History = append(t.History, historyEntry(msg.SenderID, msg.Content))
		if resolved {
			t.State = StateResolved
		} else if t.State == StateCreated {
			t.State = StateInProgress
		}
	})
	m.recordThread(key)

	parent := n.Parent()
	if parent == "" {
		// Root of the delegation: a resolved result is not forwarded
		// further. Surface it to the requester instead.
		m.notifyResult(n.ID, requester, msg.Content, resolved)
		if resolved {
			rootKey := ThreadKey(requester, n.ID)
			m.threads.update(rootKey, func(t *Thread) {
				t.History = append(t.History, historyEntry(msg.SenderID, msg.Content))
				t.State = StateResolved
			})
			m.recordThread(rootKey)
			final := m.bus.Emit(bus.EventResult, bus.Message{
				SenderID:   n.ID,
				ReceiverID: requester,
				Content:    msg.Content,
				Meta: bus.Meta{
					Kind:            bus.MetaResult,
					TaskHistory:     msg.Meta.TaskHistory,
					IsTaskResolved:  true,
					FinalResult:     true,
					OriginalRequest: msg.Meta.OriginalRequest,
					Requester:       requester,
				},
			})
			m.record(rootKey, final)
		}
		return
	}

	if resolved && parent != n.ID {
		up := m.bus.Emit(bus.EventResult, bus.Message{
			SenderID:   n.ID,
			ReceiverID: parent,
			Content:    msg.Content,
			Meta: bus.Meta{
				Kind:            bus.MetaResult,
				TaskHistory:     msg.Meta.TaskHistory,
				IsTaskResolved:  true,
				FinalResult:     true,
				OriginalRequest: msg.Meta.OriginalRequest,
				Requester:       requester,
			},
		})
		m.record(ThreadKey(n.ID, parent), up)
	}
}

// failThread converts a backend failure into a user-visible failed
// message on the same thread. No retry: a new user message restarts it.
func (m *Mesh) failThread(n *Node, threadKey, dest string, err error) {
	n.countFailure()
	slog.Error("backend call failed", "node", n.ID, "thread", threadKey, "error", err)

	content := fmt.Sprintf("Task processing failed: %v", err)
	m.threads.update(threadKey, func(t *Thread) {
		t.Failures++
		t.State = StateFailed
		t.History = append(t.History, historyEntry(n.ID, content))
	})
	m.recordThread(threadKey)

	failed := bus.Message{
		ID:         bus.NewID(),
		SenderID:   n.ID,
		ReceiverID: dest,
		Content:    content,
		Meta:       bus.Meta{Kind: bus.MetaResult, Requester: UserID},
	}
	out := m.bus.Emit(bus.EventResult, failed)
	out.Status = bus.StatusFailed
	m.record(threadKey, out)

	if n.Parent() == "" {
		m.notifyResult(n.ID, UserID, content, false)
	}
}

func (m *Mesh) emitResult(n *Node, dest, threadKey, output, history string, resolved bool, originalRequest, requester string) {
	if !m.roles.CanInteract(n.ID, dest, policy.InteractResult) {
		slog.Warn("role denies result reporting", "node", n.ID, "dest", dest)
		return
	}
	res := m.bus.Emit(bus.EventResult, bus.Message{
		SenderID:   n.ID,
		ReceiverID: dest,
		Content:    output,
		Meta: bus.Meta{
			Kind:            bus.MetaResult,
			TaskHistory:     history,
			IsTaskResolved:  resolved,
			FinalResult:     resolved,
			OriginalRequest: originalRequest,
			Requester:       requester,
		},
	})
	m.record(threadKey, res)
}

func historyEntry(nodeID, output string) string {
	return fmt.Sprintf("Node %s: %s", nodeID, output)
}

func appendHistory(history, nodeID, output string) string {
	entry := historyEntry(nodeID, output)
	if history == "" {
		return entry
	}
	return history + "\n" + entry
}

func renderRolePrompt(role policy.Role, name string) string {
	return strings.ReplaceAll(role.SystemPromptTemplate, "{name}", name)
}

func transformPrompt(request string) string {
	var sb strings.Builder
	sb.WriteString("Transform the following request into clear, actionable instructions for your workers. ")
	sb.WriteString("Respond with the instructions only.\n\nRequest:\n")
	sb.WriteString(request)
	return sb.String()
}

func executePrompt(instructions, history string) string {
	var sb strings.Builder
	sb.WriteString("Work on the following task.\n\nTask:\n")
	sb.WriteString(instructions)
	if history != "" {
		sb.WriteString("\n\nContext from previous nodes:\n")
		sb.WriteString(history)
	}
	sb.WriteString("\n\nIf you judge the task complete, append the literal marker ")
	sb.WriteString(TaskResolvedMarker)
	sb.WriteString(" to the end of your output. Otherwise describe your progress.")
	return sb.String()
}
