// Package llm is the completion-service port. Every backend enforces a
// structured output schema, applies a per-call timeout and reports usage.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quizforge/backend/internal/apperr"
)

// ErrUnknownHandle is returned when a continuation handle is not recognized
// by the backend (expired or never issued). Callers retry without it.
var ErrUnknownHandle = errors.New("llm: unknown continuation handle")

// Schema is the structured-output contract of a call. Properties and
// Required describe the top-level object.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// JSONSchema renders the schema as a strict JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           s.Properties,
		"required":             s.Required,
		"additionalProperties": false,
	}
}

type Request struct {
	Model       string
	System      string
	Prompt      string
	Schema      Schema
	Temperature *float64
	MaxTokens   int64
	// WebSearch lets the model consult web search before answering.
	WebSearch bool
	// ContinueFrom is a handle returned by an earlier call. The system
	// prompt is not re-sent when continuing.
	ContinueFrom string
	// Continuable asks the backend to return a handle for this exchange.
	Continuable bool
}

type Response struct {
	Output       json.RawMessage
	HandleID     string
	InputTokens  int
	OutputTokens int
	Model        string
}

func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Client is implemented by every completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Options are shared by the network backends.
type Options struct {
	Model         string
	Timeout       time.Duration
	MaxTokens     int64
	MaxRetries    int
	WebSearchUses int64
}

func (o Options) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return o.Model
}

func (o Options) maxTokens(req Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 8192
}

// upstream classifies a backend failure. Unknown handles stay distinct so
// the caller can restart the conversation.
func upstream(req Request, err error) error {
	if errors.Is(err, ErrUnknownHandle) {
		return err
	}
	return apperr.Upstream("llm."+req.Schema.Name, "", err)
}

var backoff = func(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// decodeOutput strips markdown fences, checks that the text is a JSON
// object and returns it.
func decodeOutput(text string) (json.RawMessage, error) {
	cleaned := stripCodeFences(text)
	if cleaned == "" {
		return nil, fmt.Errorf("empty structured output")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return nil, fmt.Errorf("structured output is not a JSON object: %w", err)
	}
	return json.RawMessage(cleaned), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
