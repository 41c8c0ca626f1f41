package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLIClient shells out to the claude CLI for local development.
// It has no conversation state: ContinueFrom is ignored and no handle is
// returned, so every generation starts fresh.
type CLIClient struct {
	cliPath string
	opts    Options
}

func NewCLIClient(cliPath string, opts Options) *CLIClient {
	return &CLIClient{cliPath: cliPath, opts: opts}
}

func (c *CLIClient) Name() string { return "cli" }

func (c *CLIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.complete(ctx, req)
	if err != nil {
		return nil, upstream(req, err)
	}
	return resp, nil
}

func (c *CLIClient) complete(ctx context.Context, req Request) (*Response, error) {
	schema, err := json.Marshal(req.Schema.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	system := req.System + "\n\nRespond with a single JSON object and nothing else. It must validate against this JSON Schema:\n" + string(schema)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	args := []string{
		"--print",
		"--output-format", "text",
		"--system-prompt", system,
		"--max-turns", "1",
	}
	if m := c.opts.model(req); m != "" {
		args = append(args, "--model", m)
	}
	cmd := exec.CommandContext(callCtx, c.cliPath, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("claude CLI error: %w\nstderr: %s", err, stderr.String())
	}

	output, err := decodeOutput(stdout.String())
	if err != nil {
		return nil, err
	}
	return &Response{Output: output, Model: "claude-cli"}, nil
}
