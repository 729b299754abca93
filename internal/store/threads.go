package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avlonitis/synapse/internal/mesh"
)

type ThreadRow struct {
	Key       string    `json:"key"`
	Requester string    `json:"requester"`
	State     string    `json:"state"`
	History   []string  `json:"history,omitempty"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveThread(t *ThreadRow) error {
	history, err := json.Marshal(t.History)
	if err != nil {
		return fmt.Errorf("marshal thread history: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO threads (key, requester, state, history, failures, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			requester = excluded.requester,
			state = excluded.state,
			history = excluded.history,
			failures = excluded.failures,
			updated_at = CURRENT_TIMESTAMP`,
		t.Key, t.Requester, t.State, string(history), t.Failures)
	if err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

// RecordThread implements mesh.Recorder.
func (s *Store) RecordThread(t mesh.Thread) {
	row := &ThreadRow{
		Key:       t.Key,
		Requester: t.Requester,
		State:     string(t.State),
		History:   t.History,
		Failures:  t.Failures,
	}
	if err := s.SaveThread(row); err != nil {
		slog.Error("record thread", "thread", t.Key, "error", err)
	}
}

func (s *Store) GetThread(key string) (*ThreadRow, error) {
	row := s.db.QueryRow(`
		SELECT key, requester, state, history, failures, updated_at
		FROM threads WHERE key = ?`, key)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (s *Store) ListThreads() ([]ThreadRow, error) {
	rows, err := s.db.Query(`
		SELECT key, requester, state, history, failures, updated_at
		FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []ThreadRow
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

func scanThread(scanner interface {
	Scan(dest ...any) error
}) (*ThreadRow, error) {
	t := &ThreadRow{}
	var history *string
	if err := scanner.Scan(&t.Key, &t.Requester, &t.State, &history, &t.Failures, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if history != nil && *history != "" {
		if err := json.Unmarshal([]byte(*history), &t.History); err != nil {
			return nil, fmt.Errorf("unmarshal thread history: %w", err)
		}
	}
	return t, nil
}
