package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/google/uuid"

	"github.com/quizforge/backend/internal/cache"
	"github.com/quizforge/backend/internal/logger"
)

const transcriptPrefix = "llm:transcript:"

// ── AnthropicClient: Messages API ─────────────────────────

// AnthropicClient forces structured output through a single tool whose
// input schema is the requested schema. The Messages API is stateless, so
// continuation handles point at transcripts kept in the ephemeral store.
type AnthropicClient struct {
	client        *anthropic.Client
	opts          Options
	transcripts   cache.KV
	transcriptTTL time.Duration
	log           *logger.Logger
}

func NewAnthropicClient(apiKey, baseURL string, opts Options, transcripts cache.KV, transcriptTTL time.Duration, log *logger.Logger) *AnthropicClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{
		client:        &client,
		opts:          opts,
		transcripts:   transcripts,
		transcriptTTL: transcriptTTL,
		log:           log.With("component", "AnthropicClient"),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type transcript struct {
	System string `json:"system"`
	Turns  []turn `json:"turns"`
}

type turn struct {
	Prompt    string          `json:"prompt"`
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	Output    json.RawMessage `json:"output"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.complete(ctx, req)
	if err != nil {
		return nil, upstream(req, err)
	}
	return resp, nil
}

func (c *AnthropicClient) complete(ctx context.Context, req Request) (*Response, error) {
	var history transcript
	if req.ContinueFrom != "" {
		loaded, err := c.loadTranscript(ctx, req.ContinueFrom)
		if err != nil {
			return nil, err
		}
		history = *loaded
	} else {
		history.System = req.System
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.model(req)),
		MaxTokens: c.opts.maxTokens(req),
		Messages:  buildMessages(history, req.Prompt),
		Tools:     c.tools(req),
	}
	if history.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: history.System}}
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.WebSearch {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	} else {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.Schema.Name}}
	}

	message, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	var (
		output    json.RawMessage
		toolUseID string
	)
	for _, block := range message.Content {
		if block.Type == "tool_use" && block.Name == req.Schema.Name {
			output = block.Input
			toolUseID = block.ID
			break
		}
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("anthropic: no %s tool call in response (stop_reason %s)", req.Schema.Name, message.StopReason)
	}
	output, err = decodeOutput(string(output))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Output:       output,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		Model:        string(message.Model),
	}

	if req.Continuable && c.transcripts != nil {
		history.Turns = append(history.Turns, turn{
			Prompt:    req.Prompt,
			ToolUseID: toolUseID,
			ToolName:  req.Schema.Name,
			Output:    output,
		})
		handle, err := c.saveTranscript(ctx, history)
		if err != nil {
			// the answer is still usable; the next call starts fresh
			c.log.Warn("transcript not saved", "error", err)
		} else {
			resp.HandleID = handle
		}
	}

	return resp, nil
}

func (c *AnthropicClient) tools(req Request) []anthropic.ToolUnionParam {
	schemaTool := anthropic.ToolParam{
		Name: req.Schema.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: req.Schema.Properties,
			Required:   req.Schema.Required,
		},
	}
	if req.Schema.Description != "" {
		schemaTool.Description = anthropic.String(req.Schema.Description)
	}
	tools := []anthropic.ToolUnionParam{{OfTool: &schemaTool}}
	if req.WebSearch {
		search := anthropic.WebSearchTool20250305Param{}
		if c.opts.WebSearchUses > 0 {
			search.MaxUses = anthropic.Int(c.opts.WebSearchUses)
		}
		tools = append([]anthropic.ToolUnionParam{{OfWebSearchTool20250305: &search}}, tools...)
	}
	return tools
}

// buildMessages replays the transcript as alternating user/tool_use turns,
// acknowledging each earlier tool call before the next prompt.
func buildMessages(history transcript, prompt string) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pending *turn
	for i := range history.Turns {
		t := history.Turns[i]
		messages = append(messages, userTurn(pending, t.Prompt))
		messages = append(messages, anthropic.NewAssistantMessage(
			anthropic.NewToolUseBlock(t.ToolUseID, t.Output, t.ToolName),
		))
		pending = &history.Turns[i]
	}
	return append(messages, userTurn(pending, prompt))
}

func userTurn(previous *turn, prompt string) anthropic.MessageParam {
	if previous == nil {
		return anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))
	}
	return anthropic.NewUserMessage(
		anthropic.NewToolResultBlock(previous.ToolUseID, "recorded", false),
		anthropic.NewTextBlock(prompt),
	)
}

func (c *AnthropicClient) loadTranscript(ctx context.Context, handle string) (*transcript, error) {
	if c.transcripts == nil {
		return nil, ErrUnknownHandle
	}
	raw, err := c.transcripts.Get(ctx, transcriptPrefix+handle)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrUnknownHandle
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var t transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, ErrUnknownHandle
	}
	return &t, nil
}

func (c *AnthropicClient) saveTranscript(ctx context.Context, t transcript) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	handle := uuid.NewString()
	if err := c.transcripts.Set(ctx, transcriptPrefix+handle, raw, c.transcriptTTL); err != nil {
		return "", err
	}
	return handle, nil
}

func (c *AnthropicClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepDuration := backoff(attempt)
			c.log.Warn("retrying Anthropic API call", "attempt", attempt+1, "sleep", sleepDuration.String(), "error", lastErr)
			if err := sleep(ctx, sleepDuration); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		message, err := c.client.Messages.New(callCtx, params)
		cancel()
		if err == nil {
			return message, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryableAnthropic(err) {
			break
		}
	}
	return nil, fmt.Errorf("anthropic API failed: %w", lastErr)
}

func retryableAnthropic(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
