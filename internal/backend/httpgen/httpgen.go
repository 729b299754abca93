// Package httpgen calls a text-generation service over HTTP JSON.
package httpgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avlonitis/synapse/internal/backend"
)

const defaultTimeout = 2 * time.Minute

type Generator struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func New(url, model, apiKey string) *Generator {
	return &Generator{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type wireRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type wireResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (g *Generator) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if g.apiKey == "" {
		return nil, &backend.ValidationError{Field: "api key"}
	}
	if g.model == "" {
		return nil, &backend.ValidationError{Field: "model"}
	}

	body, err := json.Marshal(wireRequest{
		Model:       g.model,
		Prompt:      req.Prompt,
		System:      req.System,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, &backend.BackendError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, &backend.BackendError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &backend.BackendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &backend.BackendError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &backend.BackendError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return nil, &backend.BackendError{Err: fmt.Errorf("service error: %s", out.Error)}
	}
	if out.Text == "" {
		return nil, &backend.BackendError{Err: fmt.Errorf("empty generation")}
	}

	return &backend.Response{Text: out.Text}, nil
}
