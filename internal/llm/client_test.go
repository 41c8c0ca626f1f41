package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `  {"a":1}  `, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.input))
		})
	}
}

func TestDecodeOutput_RejectsNonObjects(t *testing.T) {
	_, err := decodeOutput("[1,2]")
	assert.Error(t, err)
	_, err = decodeOutput("")
	assert.Error(t, err)

	out, err := decodeOutput("```json\n{\"ok\":true}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestSchema_JSONSchemaIsStrict(t *testing.T) {
	s := Schema{Name: "x", Properties: map[string]any{"a": map[string]any{"type": "string"}}, Required: []string{"a"}}
	js := s.JSONSchema()
	assert.Equal(t, "object", js["type"])
	assert.Equal(t, false, js["additionalProperties"])
	assert.Equal(t, []string{"a"}, js["required"])
}

func TestMockClient_KnownSchemas(t *testing.T) {
	m := NewMockClient()
	for _, name := range []string{SchemaCreateChoiceQuestions, SchemaCreateMapQuestions, SchemaGroupDuplicates, SchemaValidateQuestion, SchemaValidateTranslation} {
		resp, err := m.Complete(context.Background(), Request{Schema: Schema{Name: name}, Continuable: true})
		require.NoError(t, err, name)
		assert.NotEmpty(t, resp.Output)
		assert.NotEmpty(t, resp.HandleID)
	}

	_, err := m.Complete(context.Background(), Request{Schema: Schema{Name: "unknown"}})
	assert.Error(t, err)
}
