package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/cache"
	"github.com/quizforge/backend/internal/logger"
)

var testSchema = Schema{
	Name:        "create_choice_questions",
	Description: "Return the generated questions",
	Properties: map[string]any{
		"questions": map[string]any{"type": "array"},
	},
	Required: []string{"questions"},
}

type anthropicStub struct {
	mu       sync.Mutex
	requests []map[string]any
	status   []int
}

func (s *anthropicStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		s.mu.Lock()
		s.requests = append(s.requests, body)
		n := len(s.requests)
		status := http.StatusOK
		if n <= len(s.status) {
			status = s.status[n-1]
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[
				{"type":"text","text":"Here you go"},
				{"type":"tool_use","id":"toolu_1","name":"create_choice_questions","input":{"questions":[]}}
			],
			"stop_reason":"tool_use","stop_sequence":null,
			"usage":{"input_tokens":120,"output_tokens":30}
		}`))
	}
}

func newTestAnthropic(t *testing.T, stub *anthropicStub, retries int) (*AnthropicClient, cache.KV) {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	prev := backoff
	backoff = func(int) time.Duration { return time.Millisecond }
	t.Cleanup(func() { backoff = prev })

	kv := cache.NewMemory()
	c := NewAnthropicClient("test-key", srv.URL, Options{
		Model:      "claude-test",
		Timeout:    5 * time.Second,
		MaxTokens:  1024,
		MaxRetries: retries,
	}, kv, time.Hour, logger.Nop())
	return c, kv
}

func TestAnthropicClient_ForcesSchemaTool(t *testing.T) {
	stub := &anthropicStub{}
	c, _ := newTestAnthropic(t, stub, 0)

	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "make one", Schema: testSchema})
	require.NoError(t, err)

	assert.JSONEq(t, `{"questions":[]}`, string(resp.Output))
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)
	assert.Equal(t, 150, resp.TotalTokens())
	assert.Empty(t, resp.HandleID)

	require.Len(t, stub.requests, 1)
	body := stub.requests[0]
	choice := body["tool_choice"].(map[string]any)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "create_choice_questions", choice["name"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
}

func TestAnthropicClient_WebSearchAddsServerTool(t *testing.T) {
	stub := &anthropicStub{}
	c, _ := newTestAnthropic(t, stub, 0)

	_, err := c.Complete(context.Background(), Request{Prompt: "check", Schema: testSchema, WebSearch: true})
	require.NoError(t, err)

	body := stub.requests[0]
	assert.Equal(t, "any", body["tool_choice"].(map[string]any)["type"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 2)
	assert.Equal(t, "web_search_20250305", tools[0].(map[string]any)["type"])
}

func TestAnthropicClient_ContinuationReplaysTranscript(t *testing.T) {
	stub := &anthropicStub{}
	c, _ := newTestAnthropic(t, stub, 0)
	ctx := context.Background()

	first, err := c.Complete(ctx, Request{System: "sys", Prompt: "first", Schema: testSchema, Continuable: true})
	require.NoError(t, err)
	require.NotEmpty(t, first.HandleID)

	second, err := c.Complete(ctx, Request{Prompt: "second", Schema: testSchema, Continuable: true, ContinueFrom: first.HandleID})
	require.NoError(t, err)
	assert.NotEqual(t, first.HandleID, second.HandleID)

	body := stub.requests[1]
	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	assert.Equal(t, "assistant", messages[1].(map[string]any)["role"])
	last := messages[2].(map[string]any)["content"].([]any)
	assert.Equal(t, "tool_result", last[0].(map[string]any)["type"])
	assert.Equal(t, "toolu_1", last[0].(map[string]any)["tool_use_id"])
	assert.Equal(t, "second", last[1].(map[string]any)["text"])
	system := body["system"].([]any)
	assert.Equal(t, "sys", system[0].(map[string]any)["text"])
}

func TestAnthropicClient_UnknownHandle(t *testing.T) {
	stub := &anthropicStub{}
	c, _ := newTestAnthropic(t, stub, 0)

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema, ContinueFrom: "expired"})
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Empty(t, stub.requests)
}

func TestAnthropicClient_RetriesServerErrors(t *testing.T) {
	stub := &anthropicStub{status: []int{http.StatusInternalServerError}}
	c, _ := newTestAnthropic(t, stub, 2)

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema})
	require.NoError(t, err)
	assert.Len(t, stub.requests, 2)
}

func TestAnthropicClient_ClientErrorIsUpstream(t *testing.T) {
	stub := &anthropicStub{status: []int{http.StatusBadRequest}}
	c, _ := newTestAnthropic(t, stub, 3)

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Len(t, stub.requests, 1)
}
