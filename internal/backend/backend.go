// Package backend abstracts the external text-generation service. The
// service is opaque, possibly slow, possibly failing; every call is an
// asynchronous suspension point for the caller.
package backend

import (
	"context"
	"fmt"
)

// Request is one generation call.
type Request struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Response carries the generated text.
type Response struct {
	Text string `json:"text"`
}

// Generator is implemented by every backend transport.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ValidationError means a required credential or model was missing
// before the call was even attempted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backend not configured: missing %s", e.Field)
}

// BackendError wraps a failed or malformed generation call. It is caught
// at the node boundary and converted to a failed message on the thread;
// it never crashes the bus.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend call failed: %v", e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
