package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/natsbridge"
	"github.com/avlonitis/synapse/internal/schedule"
	"github.com/avlonitis/synapse/internal/store"
)

// Dispatcher delivers an injection's prompt to a node by display name.
// The router satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, nodeName, prompt string) error
}

// Publisher mirrors scheduler events onto NATS. Optional.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Scheduler polls the store for due injections and feeds them into the
// mesh through the dispatcher.
type Scheduler struct {
	store        *store.Store
	dispatcher   Dispatcher
	events       Publisher
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, d Dispatcher, events Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		dispatcher:   d,
		events:       events,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig updates the poll interval, then signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	injections, err := s.store.GetDueInjections(time.Now())
	if err != nil {
		slog.Error("failed to get due injections", "error", err)
		return
	}

	for _, inj := range injections {
		s.execute(ctx, inj)
	}
}

func (s *Scheduler) execute(ctx context.Context, inj store.Injection) {
	slog.Info("executing injection", "id", inj.ID, "name", inj.Name, "node", inj.NodeName)

	err := s.dispatcher.Dispatch(ctx, inj.NodeName, inj.Prompt)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("injection failed", "id", inj.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	// Calculate next run time
	nextRun := schedule.NextRun(inj.Schedule)

	if err := s.store.UpdateInjectionRun(inj.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update injection run", "id", inj.ID, "error", err)
	}

	s.publishExecutedEvent(inj, lastStatus)

	// Mark one-off injections as completed when they have no next run
	if nextRun == nil {
		slog.Info("no next run, marking one-off injection as completed", "id", inj.ID, "name", inj.Name)
		if err := s.store.UpdateInjectionStatus(inj.ID, "completed"); err != nil {
			slog.Error("failed to complete injection", "id", inj.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecutedEvent(inj store.Injection, status string) {
	if s.events == nil {
		return
	}

	event := map[string]any{
		"type":      "injection_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":     inj.ID,
			"name":   inj.Name,
			"node":   inj.NodeName,
			"status": status,
		},
	}

	if err := s.events.PublishJSON(natsbridge.TopicEventsInjectionExecuted, event); err != nil {
		slog.Debug("publish injection event failed", "id", inj.ID, "error", err)
	}
}
