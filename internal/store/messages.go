package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avlonitis/synapse/internal/bus"
)

type Message struct {
	ID        int64           `json:"id"`
	MessageID string          `json:"message_id"`
	ThreadKey string          `json:"thread_key"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Status    string          `json:"status,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) SaveMessage(msg *Message) error {
	result, err := s.db.Exec(`
		INSERT INTO messages (message_id, thread_key, sender, receiver, topic, type, content, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ThreadKey, msg.Sender, msg.Receiver, msg.Topic,
		msg.Type, msg.Content, msg.Status, msg.Metadata)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

// RecordMessage implements mesh.Recorder. Persistence failures are
// logged, never surfaced into the protocol path.
func (s *Store) RecordMessage(threadKey string, msg bus.Message) {
	meta, err := json.Marshal(msg.Meta)
	if err != nil {
		slog.Error("marshal message metadata", "message", msg.ID, "error", err)
		meta = nil
	}
	row := &Message{
		MessageID: msg.ID,
		ThreadKey: threadKey,
		Sender:    msg.SenderID,
		Receiver:  msg.ReceiverID,
		Topic:     msg.Topic,
		Type:      string(msg.Type),
		Content:   msg.Content,
		Status:    string(msg.Status),
		Metadata:  meta,
	}
	if err := s.SaveMessage(row); err != nil {
		slog.Error("record message", "message", msg.ID, "error", err)
	}
}

func (s *Store) GetMessages(threadKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, message_id, thread_key, sender, receiver, topic, type, content, status, metadata, created_at
		FROM messages
		WHERE thread_key = ?
		ORDER BY id DESC
		LIMIT ?`, threadKey, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (s *Store) GetRecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, message_id, thread_key, sender, receiver, topic, type, content, status, metadata, created_at
		FROM messages
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return messages, rows.Err()
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
}) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var receiver, topic, status, metadata *string
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ThreadKey, &m.Sender, &receiver,
			&topic, &m.Type, &m.Content, &status, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if receiver != nil {
			m.Receiver = *receiver
		}
		if topic != nil {
			m.Topic = *topic
		}
		if status != nil {
			m.Status = *status
		}
		if metadata != nil {
			m.Metadata = json.RawMessage(*metadata)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

type ThreadMessageStats struct {
	ThreadKey    string
	MessageCount int
	LastActive   time.Time
}

func (s *Store) GetThreadMessageStats() (map[string]ThreadMessageStats, error) {
	rows, err := s.db.Query(`
		SELECT thread_key, COUNT(*) as cnt, COALESCE(MAX(created_at), '') as last_active
		FROM messages
		GROUP BY thread_key`)
	if err != nil {
		return nil, fmt.Errorf("get thread message stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]ThreadMessageStats)
	for rows.Next() {
		var ts ThreadMessageStats
		var lastActive string
		if err := rows.Scan(&ts.ThreadKey, &ts.MessageCount, &lastActive); err != nil {
			return nil, fmt.Errorf("scan thread stats: %w", err)
		}
		if lastActive != "" {
			ts.LastActive, _ = time.Parse("2006-01-02 15:04:05", lastActive)
		}
		stats[ts.ThreadKey] = ts
	}
	return stats, rows.Err()
}
