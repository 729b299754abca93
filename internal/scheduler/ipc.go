package scheduler

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avlonitis/synapse/internal/natsbridge"
	"github.com/avlonitis/synapse/internal/schedule"
	"github.com/avlonitis/synapse/internal/store"
)

// IPC request/response shapes shared with the stask tool.
type ipcRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Node     string `json:"node,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type ipcResponse struct {
	OK         bool           `json:"ok,omitempty"`
	Error      string         `json:"error,omitempty"`
	ID         string         `json:"id,omitempty"`
	Injections []ipcInjection `json:"injections,omitempty"`
}

type ipcInjection struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Node     string `json:"node"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
}

// ServeIPC answers injection management requests from the stask tool
// over NATS request/reply.
func (s *Scheduler) ServeIPC(client *natsbridge.Client) error {
	handlers := map[string]func(ipcRequest) ipcResponse{
		natsbridge.TopicIPCInjectionList:   s.ipcList,
		natsbridge.TopicIPCInjectionAdd:    s.ipcAdd,
		natsbridge.TopicIPCInjectionRemove: s.ipcRemove,
		natsbridge.TopicIPCInjectionPause:  s.ipcPause,
		natsbridge.TopicIPCInjectionResume: s.ipcResume,
	}

	for subject, handler := range handlers {
		h := handler
		if _, err := client.Subscribe(subject, func(msg *nats.Msg) {
			var req ipcRequest
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &req); err != nil {
					respond(msg, ipcResponse{Error: "invalid request"})
					return
				}
			}
			respond(msg, h(req))
		}); err != nil {
			return err
		}
	}
	return nil
}

func respond(msg *nats.Msg, resp ipcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal ipc response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Debug("ipc respond failed", "subject", msg.Subject, "error", err)
	}
}

func (s *Scheduler) ipcList(_ ipcRequest) ipcResponse {
	injections, err := s.store.ListInjections()
	if err != nil {
		return ipcResponse{Error: err.Error()}
	}
	out := make([]ipcInjection, 0, len(injections))
	for _, inj := range injections {
		out = append(out, ipcInjection{
			ID:       inj.ID,
			Name:     inj.Name,
			Node:     inj.NodeName,
			Schedule: schedule.Describe(inj.Schedule),
			Prompt:   inj.Prompt,
			Status:   inj.Status,
		})
	}
	return ipcResponse{OK: true, Injections: out}
}

func (s *Scheduler) ipcAdd(req ipcRequest) ipcResponse {
	if req.Name == "" || req.Node == "" || req.Schedule == "" || req.Prompt == "" {
		return ipcResponse{Error: "name, node, schedule, and prompt are required"}
	}
	normalized, err := schedule.Normalize(req.Schedule)
	if err != nil {
		return ipcResponse{Error: err.Error()}
	}

	inj := store.Injection{
		ID:        uuid.New().String(),
		NodeName:  req.Node,
		Name:      req.Name,
		Schedule:  normalized,
		Prompt:    req.Prompt,
		Status:    "active",
		NextRunAt: schedule.NextRun(normalized),
	}
	if err := s.store.SaveInjection(&inj); err != nil {
		return ipcResponse{Error: err.Error()}
	}
	return ipcResponse{OK: true, ID: inj.ID}
}

func (s *Scheduler) ipcRemove(req ipcRequest) ipcResponse {
	if req.ID == "" {
		return ipcResponse{Error: "id is required"}
	}
	if err := s.store.DeleteInjection(req.ID); err != nil {
		return ipcResponse{Error: err.Error()}
	}
	return ipcResponse{OK: true}
}

func (s *Scheduler) ipcPause(req ipcRequest) ipcResponse {
	if req.ID == "" {
		return ipcResponse{Error: "id is required"}
	}
	inj, err := s.store.GetInjection(req.ID)
	if err != nil {
		return ipcResponse{Error: err.Error()}
	}
	if inj == nil {
		return ipcResponse{Error: "injection not found"}
	}
	inj.Status = "paused"
	inj.NextRunAt = nil
	if err := s.store.SaveInjection(inj); err != nil {
		return ipcResponse{Error: err.Error()}
	}
	return ipcResponse{OK: true}
}

func (s *Scheduler) ipcResume(req ipcRequest) ipcResponse {
	if req.ID == "" {
		return ipcResponse{Error: "id is required"}
	}
	inj, err := s.store.GetInjection(req.ID)
	if err != nil {
		return ipcResponse{Error: err.Error()}
	}
	if inj == nil {
		return ipcResponse{Error: "injection not found"}
	}
	inj.Status = "active"
	inj.NextRunAt = schedule.NextRun(inj.Schedule)
	if err := s.store.SaveInjection(inj); err != nil {
		return ipcResponse{Error: err.Error()}
	}
	return ipcResponse{OK: true}
}
