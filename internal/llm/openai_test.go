package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
)

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prev := backoff
	backoff = func(int) time.Duration { return time.Millisecond }
	t.Cleanup(func() { backoff = prev })

	return NewOpenAIClient("sk-test", srv.URL+"/", Options{Model: "gpt-test", Timeout: 5 * time.Second, MaxRetries: 1}, logger.Nop())
}

const okResponse = `{
	"id":"resp_123","model":"gpt-test",
	"output":[
		{"type":"web_search_call"},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"isValid\":true,\"source\":\"s\",\"suggestion\":null}"}]}
	],
	"usage":{"input_tokens":40,"output_tokens":10,"total_tokens":50}
}`

func TestOpenAIClient_StructuredRequest(t *testing.T) {
	var got responsesRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okResponse))
	})

	resp, err := c.Complete(context.Background(), Request{
		System:      "be strict",
		Prompt:      "check this",
		Schema:      testSchema,
		WebSearch:   true,
		Continuable: true,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"isValid":true,"source":"s","suggestion":null}`, string(resp.Output))
	assert.Equal(t, "resp_123", resp.HandleID)
	assert.Equal(t, 50, resp.TotalTokens())

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, "be strict", got.Instructions)
	assert.True(t, got.Store)
	assert.Equal(t, "json_schema", got.Text.Format["type"])
	assert.Equal(t, true, got.Text.Format["strict"])
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "web_search_preview", got.Tools[0]["type"])
}

func TestOpenAIClient_ContinuationOmitsInstructions(t *testing.T) {
	var got responsesRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okResponse))
	})

	_, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "more", Schema: testSchema, ContinueFrom: "resp_1", Continuable: true})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", got.PreviousResponseID)
	assert.Empty(t, got.Instructions)
}

func TestOpenAIClient_PreviousResponseNotFound(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"previous_response_not_found","message":"gone"}}`))
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "more", Schema: testSchema, ContinueFrom: "resp_old"})
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestOpenAIClient_MalformedOutputIsUpstream(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"not json"}]}]}`))
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	calls := 0
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okResponse))
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestOpenAIClient_Refusal(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r","output":[{"type":"message","role":"assistant","content":[{"type":"refusal","refusal":"no"}]}]}`))
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "x", Schema: testSchema})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model refused")
}
