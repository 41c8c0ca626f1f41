package generator

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/quizforge/backend/internal/models"
)

func validBatchJSON(count int) []byte {
	batch := map[string]any{"questions": []any{}}
	items := make([]any, count)
	for i := 0; i < count; i++ {
		items[i] = map[string]any{
			"language": "en",
			"question": "Which philosopher wrote the Republic?",
			"correct":  "Plato",
			"wrong":    []string{"Aristotle", "Socrates", "Epicurus"},
			"source":   "https://en.wikipedia.org/wiki/Republic_(Plato)",
		}
	}
	batch["questions"] = items
	data, _ := json.Marshal(batch)
	return data
}

func TestParseResponse_ValidJSON(t *testing.T) {
	batch, err := ParseResponse(validBatchJSON(3), models.TypeChoice)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(batch.Questions) != 3 {
		t.Errorf("expected 3 questions, got %d", len(batch.Questions))
	}
	for i, q := range batch.Questions {
		if len(q.Wrong) != models.WrongAnswerCount {
			t.Errorf("question %d: expected 3 wrong answers, got %d", i+1, len(q.Wrong))
		}
		if !q.Correct.IsText() {
			t.Errorf("question %d: expected text answer", i+1)
		}
	}
}

func TestParseResponse_MapQuestion(t *testing.T) {
	raw := []byte(`{"questions":[{"language":"en","question":"Where is Machu Picchu?","correct":[-13.1631,-72.545],"source":"https://en.wikipedia.org/wiki/Machu_Picchu"}]}`)

	batch, err := ParseResponse(raw, models.TypeMap)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	c := batch.Questions[0].Correct
	if !c.IsPoint() || c.Point.Lat != -13.1631 || c.Point.Long != -72.545 {
		t.Errorf("unexpected correct answer %+v", c)
	}
}

func TestParseResponse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     models.QuestionType
		wantErr string
	}{
		{
			name:    "empty batch",
			raw:     `{"questions":[]}`,
			typ:     models.TypeChoice,
			wantErr: "no questions in batch",
		},
		{
			name:    "two wrong answers",
			raw:     `{"questions":[{"language":"en","question":"Capital of Peru?","correct":"Lima","wrong":["Cusco","Quito"],"source":"https://x.org"}]}`,
			typ:     models.TypeChoice,
			wantErr: "question 1: expected 3 wrong answers, got 2",
		},
		{
			name:    "map with wrong answers",
			raw:     `{"questions":[{"language":"en","question":"Where is Lima?","correct":[-12.04,-77.04],"wrong":["a"],"source":"https://x.org"}]}`,
			typ:     models.TypeMap,
			wantErr: "map question must not have wrong answers",
		},
		{
			name:    "map with text answer",
			raw:     `{"questions":[{"language":"en","question":"Where is Lima?","correct":"Peru","source":"https://x.org"}]}`,
			typ:     models.TypeMap,
			wantErr: `correct answer does not fit type "map"`,
		},
		{
			name:    "coordinates out of range",
			raw:     `{"questions":[{"language":"en","question":"Where is Lima?","correct":[120,-77.04],"source":"https://x.org"}]}`,
			typ:     models.TypeMap,
			wantErr: "out of range",
		},
		{
			name:    "missing source",
			raw:     `{"questions":[{"language":"en","question":"Capital of Peru?","correct":"Lima","wrong":["Cusco","Quito","Arequipa"]}]}`,
			typ:     models.TypeChoice,
			wantErr: "question 1: missing source",
		},
		{
			name:    "wrong repeats correct",
			raw:     `{"questions":[{"language":"en","question":"Capital of Peru?","correct":"Lima","wrong":["Cusco","lima","Arequipa"],"source":"https://x.org"}]}`,
			typ:     models.TypeChoice,
			wantErr: "repeats the correct answer",
		},
		{
			name:    "malformed json",
			raw:     `{"questions": [`,
			typ:     models.TypeChoice,
			wantErr: "failed to parse JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse([]byte(tt.raw), tt.typ)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(valErr.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, valErr.Error())
			}
		})
	}
}

func TestSplitValid_KeepsGoodItems(t *testing.T) {
	raw := []byte(`{"questions":[
		{"language":"en","question":"Capital of Peru?","correct":"Lima","wrong":["Cusco","Quito","Arequipa"],"source":"https://x.org"},
		{"language":"en","question":"Capital of Chile?","correct":"Santiago","wrong":["Valparaiso"],"source":"https://x.org"}
	]}`)

	valid, rejected, err := SplitValid(raw, models.TypeChoice)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(valid) != 1 || valid[0].Correct.Text != "Lima" {
		t.Errorf("expected only the Lima question, got %+v", valid)
	}
	if len(rejected) != 1 || !strings.Contains(rejected[0], "question 2") {
		t.Errorf("expected question 2 rejected, got %v", rejected)
	}
}

func TestGeneratedItem_Locale(t *testing.T) {
	it := GeneratedItem{
		Language: "EN",
		Question: "  Capital of Peru? ",
		Correct:  models.TextAnswer(" Lima "),
		Wrong:    []string{" Cusco", "Quito ", "Arequipa"},
		Source:   " https://x.org ",
	}
	l := it.Locale("en")
	if l.Language != "en" || l.Question != "Capital of Peru?" || l.Correct.Text != "Lima" {
		t.Errorf("unexpected locale %+v", l)
	}
	if l.Wrong[0] != "Cusco" || l.Wrong[1] != "Quito" {
		t.Errorf("wrong answers not trimmed: %v", l.Wrong)
	}
	if l.IsValid {
		t.Errorf("new locales must start unvalidated")
	}
	if len(l.Sources) != 1 || l.Sources[0] != "https://x.org" {
		t.Errorf("unexpected sources %v", l.Sources)
	}
}
