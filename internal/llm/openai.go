package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/quizforge/backend/internal/logger"
)

// ── OpenAIClient: Responses API ───────────────────────────

// OpenAIClient talks to the Responses API, which keeps conversation state
// server-side: the handle is the response id, passed back as
// previous_response_id.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	opts       Options
	log        *logger.Logger
}

func NewOpenAIClient(apiKey, baseURL string, opts Options, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		opts:       opts,
		log:        log.With("component", "OpenAIClient"),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Instructions       string           `json:"instructions,omitempty"`
	Input              []responsesInput `json:"input"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	MaxOutputTokens    int64            `json:"max_output_tokens,omitempty"`
	Tools              []map[string]any `json:"tools,omitempty"`
	Store              bool             `json:"store"`
	Text               struct {
		Format map[string]any `json:"format"`
	} `json:"text"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.complete(ctx, req)
	if err != nil {
		return nil, upstream(req, err)
	}
	return resp, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (*Response, error) {
	body := responsesRequest{
		Model:              c.opts.model(req),
		Input:              []responsesInput{{Role: "user", Content: req.Prompt}},
		PreviousResponseID: req.ContinueFrom,
		Temperature:        req.Temperature,
		MaxOutputTokens:    c.opts.maxTokens(req),
		Store:              req.Continuable,
	}
	if req.ContinueFrom == "" {
		body.Instructions = req.System
	}
	if req.WebSearch {
		body.Tools = []map[string]any{{"type": "web_search_preview"}}
	}
	body.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   req.Schema.Name,
		"schema": req.Schema.JSONSchema(),
		"strict": true,
	}
	if req.Schema.Description != "" {
		body.Text.Format["description"] = req.Schema.Description
	}

	var out responsesResponse
	if err := c.doWithRetry(ctx, "/v1/responses", body, &out); err != nil {
		var httpErr *openAIHTTPError
		if req.ContinueFrom != "" && asHTTPError(err, &httpErr) && strings.Contains(httpErr.Body, "previous_response_not_found") {
			return nil, ErrUnknownHandle
		}
		return nil, err
	}

	text, refusal := extractOutputText(out)
	if refusal != "" {
		return nil, fmt.Errorf("model refused: %s", refusal)
	}
	output, err := decodeOutput(text)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Output:       output,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Model:        out.Model,
	}
	if req.Continuable {
		resp.HandleID = out.ID
	}
	return resp, nil
}

func asHTTPError(err error, target **openAIHTTPError) bool {
	e, ok := err.(*openAIHTTPError)
	if ok {
		*target = e
	}
	return ok
}

func extractOutputText(resp responsesResponse) (string, string) {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "output_text":
				out.WriteString(part.Text)
			case "refusal":
				return "", part.Refusal
			}
		}
	}
	return out.String(), ""
}

func (c *OpenAIClient) doOnce(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *OpenAIClient) doWithRetry(ctx context.Context, path string, body any, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepFor := backoff(attempt)
			c.log.Warn("OpenAI request retrying", "path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", lastErr)
			if err := sleep(ctx, sleepFor); err != nil {
				return err
			}
		}

		raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryableHTTP(err) {
			return err
		}
	}
	return lastErr
}

func retryableHTTP(err error) bool {
	var httpErr *openAIHTTPError
	if asHTTPError(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}
