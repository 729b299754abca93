package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Injection is a scheduled message fed into the mesh when due. NodeName
// targets a node by display name; node ids are not stable across
// restarts.
type Injection struct {
	ID         string     `json:"id"`
	NodeName   string     `json:"node_name"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Prompt     string     `json:"prompt"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanInjection(scanner interface {
	Scan(dest ...any) error
}) (*Injection, error) {
	inj := &Injection{}
	var lastStatus, lastError *string
	err := scanner.Scan(&inj.ID, &inj.NodeName, &inj.Name, &inj.Schedule, &inj.Prompt,
		&inj.Status, &inj.NextRunAt, &inj.LastRunAt, &lastStatus, &lastError, &inj.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		inj.LastStatus = *lastStatus
	}
	if lastError != nil {
		inj.LastError = *lastError
	}
	return inj, nil
}

func (s *Store) SaveInjection(inj *Injection) error {
	_, err := s.db.Exec(`
		INSERT INTO injections (id, node_name, name, schedule, prompt, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			node_name = excluded.node_name,
			name = excluded.name,
			schedule = excluded.schedule,
			prompt = excluded.prompt,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		inj.ID, inj.NodeName, inj.Name, inj.Schedule, inj.Prompt, inj.Status, inj.NextRunAt)
	if err != nil {
		return fmt.Errorf("save injection: %w", err)
	}
	return nil
}

func (s *Store) GetInjection(id string) (*Injection, error) {
	row := s.db.QueryRow(`
		SELECT id, node_name, name, schedule, prompt, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM injections WHERE id = ?`, id)
	inj, err := scanInjection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get injection: %w", err)
	}
	return inj, nil
}

func (s *Store) ListInjections() ([]Injection, error) {
	rows, err := s.db.Query(`
		SELECT id, node_name, name, schedule, prompt, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM injections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list injections: %w", err)
	}
	defer rows.Close()

	var injections []Injection
	for rows.Next() {
		inj, err := scanInjection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan injection: %w", err)
		}
		injections = append(injections, *inj)
	}
	return injections, rows.Err()
}

func (s *Store) ListInjectionsForNode(nodeName string) ([]Injection, error) {
	rows, err := s.db.Query(`
		SELECT id, node_name, name, schedule, prompt, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM injections WHERE node_name = ? ORDER BY created_at`, nodeName)
	if err != nil {
		return nil, fmt.Errorf("list injections for node: %w", err)
	}
	defer rows.Close()

	var injections []Injection
	for rows.Next() {
		inj, err := scanInjection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan injection: %w", err)
		}
		injections = append(injections, *inj)
	}
	return injections, rows.Err()
}

func (s *Store) GetDueInjections(now time.Time) ([]Injection, error) {
	rows, err := s.db.Query(`
		SELECT id, node_name, name, schedule, prompt, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM injections
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due injections: %w", err)
	}
	defer rows.Close()

	var injections []Injection
	for rows.Next() {
		inj, err := scanInjection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan injection: %w", err)
		}
		injections = append(injections, *inj)
	}
	return injections, rows.Err()
}

func (s *Store) UpdateInjectionRun(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE injections
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateInjectionStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE injections SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteInjection(id string) error {
	_, err := s.db.Exec(`DELETE FROM injections WHERE id = ?`, id)
	return err
}
