package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avlonitis/synapse/internal/capability"
	"github.com/avlonitis/synapse/internal/mesh"
	"github.com/avlonitis/synapse/internal/schedule"
	"github.com/avlonitis/synapse/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Nodes
	mux.HandleFunc("GET /api/nodes", s.listNodes)
	mux.HandleFunc("POST /api/nodes", s.spawnNode)
	mux.HandleFunc("GET /api/nodes/{id}", s.getNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.retireNode)
	mux.HandleFunc("POST /api/nodes/{id}/message", s.messageNode)
	mux.HandleFunc("PUT /api/nodes/{id}/role", s.assignRole)

	// Connections
	mux.HandleFunc("POST /api/connections", s.connectNodes)
	mux.HandleFunc("DELETE /api/connections/{a}/{b}", s.disconnectNodes)

	// Capabilities and roles
	mux.HandleFunc("GET /api/capabilities/{name}", s.nodesWithCapability)
	mux.HandleFunc("GET /api/roles", s.listRoles)

	// Routed user input
	mux.HandleFunc("POST /api/messages", s.deliverMessage)

	// Threads
	mux.HandleFunc("GET /api/threads", s.listThreads)
	mux.HandleFunc("GET /api/threads/{key}", s.getThread)
	mux.HandleFunc("GET /api/threads/{key}/messages", s.getThreadMessages)

	// Injections
	mux.HandleFunc("GET /api/injections", s.listInjections)
	mux.HandleFunc("POST /api/injections", s.createInjection)
	mux.HandleFunc("PUT /api/injections/{id}", s.updateInjection)
	mux.HandleFunc("DELETE /api/injections/{id}", s.deleteInjection)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{id}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) nodeToAPI(id string) map[string]any {
	n, ok := s.mesh.Node(id)
	if !ok {
		return nil
	}
	role, _ := s.mesh.Roles().RoleOf(id)
	conns := s.mesh.Topology().Connected(id)
	peers := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		peers = append(peers, map[string]any{
			"node_id":        c.RemoteNodeID,
			"established_at": c.EstablishedAt,
			"capabilities":   capability.Strings(c.RemoteCapabilities),
		})
	}
	return map[string]any{
		"id":           n.ID,
		"name":         n.Name,
		"role":         role.ID,
		"capabilities": capability.Strings(s.mesh.Capabilities().Of(id)),
		"parent":       n.Parent(),
		"children":     n.Children(),
		"connections":  peers,
		"failures":     n.Failures(),
	}
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.mesh.Nodes()
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, s.nodeToAPI(n.ID))
	}
	jsonResponse(w, out)
}

func (s *Server) spawnNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}
	if _, exists := s.mesh.NodeByName(body.Name); exists {
		jsonError(w, "node name already in use", http.StatusConflict)
		return
	}

	n := s.mesh.Spawn(body.Name, capability.FromStrings(body.Capabilities), body.Role)
	jsonResponse(w, s.nodeToAPI(n.ID))
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	out := s.nodeToAPI(r.PathValue("id"))
	if out == nil {
		jsonError(w, "node not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, out)
}

func (s *Server) retireNode(w http.ResponseWriter, r *http.Request) {
	if err := s.mesh.Retire(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "retired"})
}

func (s *Server) messageNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Content == "" {
		jsonError(w, "content is required", http.StatusBadRequest)
		return
	}

	msg, err := s.mesh.HandleUserMessage(r.Context(), id, body.Content)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "accepted", "message_id": msg.ID})
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		RoleID string `json:"role_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, ok := s.mesh.Node(id); !ok {
		jsonError(w, "node not found", http.StatusNotFound)
		return
	}
	if !s.mesh.Roles().Assign(id, body.RoleID) {
		jsonError(w, "unknown role", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "assigned"})
}

func (s *Server) connectNodes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentID string `json:"parent_id"`
		ChildID  string `json:"child_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.mesh.Connect(body.ParentID, body.ChildID); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "connected"})
}

func (s *Server) disconnectNodes(w http.ResponseWriter, r *http.Request) {
	if err := s.mesh.Disconnect(r.PathValue("a"), r.PathValue("b")); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "disconnected"})
}

func (s *Server) nodesWithCapability(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	nodes := s.mesh.Capabilities().NodesWith(capability.Capability(name))
	jsonResponse(w, map[string]any{"capability": name, "nodes": nodes})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := s.mesh.Roles().Roles()
	out := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		out = append(out, map[string]any{
			"id":                   role.ID,
			"name":                 role.Name,
			"description":          role.Description,
			"allowed_interactions": role.AllowedInteractions,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) deliverMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	nodeID, err := s.router.Deliver(r.Context(), body.Text)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "accepted", "node_id": nodeID})
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads := s.mesh.Threads()
	out := make([]map[string]any, 0, len(threads))
	for _, t := range threads {
		out = append(out, map[string]any{
			"key":        t.Key,
			"requester":  t.Requester,
			"state":      t.State,
			"failures":   t.Failures,
			"updated_at": t.UpdatedAt,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	t, ok := s.mesh.Thread(r.PathValue("key"))
	if !ok {
		jsonError(w, "thread not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, t)
}

func (s *Server) getThreadMessages(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	messages, err := s.store.GetMessages(key, 100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{
			"id":     fmt.Sprintf("%d", m.ID),
			"sender": m.Sender,
			"type":   m.Type,
			"text":   m.Content,
			"time":   formatMessageTime(m.CreatedAt),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) listInjections(w http.ResponseWriter, r *http.Request) {
	injections, err := s.store.ListInjections()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(injections))
	for _, inj := range injections {
		out = append(out, injectionToAPI(inj))
	}
	jsonResponse(w, out)
}

func (s *Server) createInjection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeName string `json:"node_name"`
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.NodeName == "" || body.Name == "" || body.Schedule == "" || body.Prompt == "" {
		jsonError(w, "node_name, name, schedule, and prompt are required", http.StatusBadRequest)
		return
	}

	// Normalize schedule (handles plain cron strings)
	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	inj := store.Injection{
		ID:       uuid.New().String(),
		NodeName: body.NodeName,
		Name:     body.Name,
		Schedule: normalized,
		Prompt:   body.Prompt,
		Status:   status,
	}

	// Calculate initial next_run_at
	if status == "active" {
		inj.NextRunAt = schedule.NextRun(normalized)
	}

	if err := s.store.SaveInjection(&inj); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, injectionToAPI(inj))
}

func (s *Server) updateInjection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.store.GetInjection(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "injection not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Prompt   *string `json:"prompt"`
		NodeName *string `json:"node_name"`
		Enabled  *bool   `json:"enabled"`
		Status   *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Apply updates
	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Prompt != nil {
		existing.Prompt = *body.Prompt
	}
	if body.NodeName != nil {
		existing.NodeName = *body.NodeName
	}

	// Handle enabled bool -> status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	} else if body.Status != nil {
		existing.Status = *body.Status
	}

	// Handle schedule change
	if body.Schedule != nil {
		normalized, err := schedule.Normalize(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.NextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveInjection(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, injectionToAPI(*existing))
}

func (s *Server) deleteInjection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteInjection(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, map[string]any{
			"id":          sec.ID,
			"name":        sec.Name,
			"description": sec.Description,
			"kind":        sec.Kind,
			"created_at":  sec.CreatedAt,
			"updated_at":  sec.UpdatedAt,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Kind        string `json:"kind"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}
	if body.Kind == "" {
		body.Kind = "string"
	}

	sealed, err := s.vault.Seal([]byte(body.Value))
	if err != nil {
		jsonError(w, "encryption failed", http.StatusInternalServerError)
		return
	}

	sec := &store.Secret{
		ID:          body.Name,
		Name:        body.Name,
		Description: body.Description,
		Kind:        body.Kind,
		Value:       sealed.Ciphertext,
		Nonce:       sealed.Nonce,
	}
	if err := s.store.SaveSecret(sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]any{
		"id":          sec.ID,
		"name":        sec.Name,
		"description": sec.Description,
		"kind":        sec.Kind,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSecret(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	nodes := s.mesh.Nodes()
	threads := s.mesh.Threads()
	injections, _ := s.store.ListInjections()

	pendingInjections := 0
	for _, inj := range injections {
		if inj.Status == "active" {
			pendingInjections++
		}
	}

	inProgress := 0
	for _, t := range threads {
		if t.State == mesh.StateInProgress {
			inProgress++
		}
	}

	// Recent messages
	recentMsgs, _ := s.store.GetRecentMessages(10)
	recentOut := make([]map[string]string, 0, len(recentMsgs))
	for _, m := range recentMsgs {
		recentOut = append(recentOut, map[string]string{
			"id":     fmt.Sprintf("%d", m.ID),
			"sender": m.Sender,
			"type":   m.Type,
			"text":   m.Content,
			"time":   formatMessageTime(m.CreatedAt),
		})
	}

	status := map[string]any{
		"status":             "ok",
		"nodes":              len(nodes),
		"threads":            len(threads),
		"threads_in_flight":  inProgress,
		"pending_injections": pendingInjections,
		"uptime":             formatUptime(time.Since(s.startedAt)),
		"recent_messages":    recentOut,
		"timestamp":          time.Now().UTC(),
		"version":            s.version,
	}

	jsonResponse(w, status)
}

func injectionToAPI(inj store.Injection) map[string]any {
	m := map[string]any{
		"id":               inj.ID,
		"name":             inj.Name,
		"schedule":         inj.Schedule,
		"schedule_display": schedule.Describe(inj.Schedule),
		"node_name":        inj.NodeName,
		"prompt":           inj.Prompt,
		"enabled":          inj.Status == "active",
		"status":           inj.Status,
	}
	if inj.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*inj.LastRunAt)
	}
	if inj.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*inj.NextRunAt)
	}
	return m
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
