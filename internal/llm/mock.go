package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Schema names shared by the pipeline and the mock backend.
const (
	SchemaCreateChoiceQuestions = "create_choice_questions"
	SchemaCreateMapQuestions    = "create_map_questions"
	SchemaGroupDuplicates       = "group_duplicates"
	SchemaValidateQuestion      = "validate_question"
	SchemaValidateTranslation   = "validate_translation"
)

// ── MockClient: Local Development ─────────────────────────

type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, upstream(req, err)
	}
	body, ok := mockBodies[req.Schema.Name]
	if !ok {
		return nil, upstream(req, fmt.Errorf("mock: no canned output for schema %q", req.Schema.Name))
	}
	resp := &Response{
		Output:       json.RawMessage(body),
		InputTokens:  1500,
		OutputTokens: 500,
		Model:        "mock",
	}
	if req.Continuable {
		resp.HandleID = "mock_" + uuid.NewString()
	}
	return resp, nil
}

var mockBodies = map[string]string{
	SchemaCreateChoiceQuestions: `{"questions":[{"language":"en","question":"[Mock] Which philosopher wrote the Republic?","correct":"Plato","wrong":["Aristotle","Socrates","Epicurus"],"source":"https://en.wikipedia.org/wiki/Republic_(Plato)"}]}`,
	SchemaCreateMapQuestions:    `{"questions":[{"language":"en","question":"[Mock] Where is the Acropolis of Athens?","correct":[37.9715,23.7257],"source":"https://en.wikipedia.org/wiki/Acropolis_of_Athens"}]}`,
	SchemaGroupDuplicates:       `{"groups":[]}`,
	SchemaValidateQuestion:      `{"isValid":true,"source":"https://example.org/mock","suggestion":null}`,
	SchemaValidateTranslation:   `{"isValid":true,"suggestions":[]}`,
}
