// Package natsgen reaches an out-of-process generator over NATS
// request-reply, mirroring how the gateway talks to external workers.
package natsgen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avlonitis/synapse/internal/backend"
)

// Subject is the request-reply subject a remote generator serves.
const Subject = "gen.request"

const defaultTimeout = 2 * time.Minute

type Generator struct {
	conn    *nats.Conn
	timeout time.Duration
}

func New(conn *nats.Conn) *Generator {
	return &Generator{conn: conn, timeout: defaultTimeout}
}

func NewWithTimeout(conn *nats.Conn, timeout time.Duration) *Generator {
	return &Generator{conn: conn, timeout: timeout}
}

func (g *Generator) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if g.conn == nil {
		return nil, &backend.ValidationError{Field: "nats connection"}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, &backend.BackendError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	msg, err := g.conn.Request(Subject, data, timeout)
	if err != nil {
		return nil, &backend.BackendError{Err: err}
	}

	var resp backend.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, &backend.BackendError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Text == "" {
		return nil, &backend.BackendError{Err: fmt.Errorf("empty generation")}
	}
	return &resp, nil
}
