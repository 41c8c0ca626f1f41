package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quizforge/backend/internal/models"
)

type GeneratedBatch struct {
	Questions []GeneratedItem `json:"questions"`
}

type GeneratedItem struct {
	Language string         `json:"language"`
	Question string         `json:"question"`
	Correct  models.Correct `json:"correct"`
	Wrong    []string       `json:"wrong,omitempty"`
	Source   string         `json:"source"`
}

// Locale converts the item into an unvalidated locale in language.
func (it GeneratedItem) Locale(language string) models.Locale {
	l := models.Locale{
		Language: language,
		Question: strings.TrimSpace(it.Question),
		Correct:  it.Correct,
		IsValid:  false,
	}
	if it.Correct.IsText() {
		l.Correct = models.TextAnswer(strings.TrimSpace(it.Correct.Text))
	}
	for _, w := range it.Wrong {
		l.Wrong = append(l.Wrong, strings.TrimSpace(w))
	}
	if src := strings.TrimSpace(it.Source); src != "" {
		l.Sources = []string{src}
	}
	return l
}

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// ParseResponse decodes a structured generation output and rejects the
// whole batch if any item breaks the question invariants.
func ParseResponse(raw []byte, t models.QuestionType) (*GeneratedBatch, error) {
	batch, err := decodeBatch(raw)
	if err != nil {
		return nil, err
	}

	if len(batch.Questions) == 0 {
		return nil, &ValidationError{Errors: []string{"no questions in batch"}}
	}

	var errs []string
	for i, item := range batch.Questions {
		errs = append(errs, checkItem(i, item, t)...)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return batch, nil
}

// SplitValid decodes an import output and keeps the items that satisfy the
// invariants. Every dropped item is described in rejected.
func SplitValid(raw []byte, t models.QuestionType) (valid []GeneratedItem, rejected []string, err error) {
	batch, err := decodeBatch(raw)
	if err != nil {
		return nil, nil, err
	}
	for i, item := range batch.Questions {
		if problems := checkItem(i, item, t); len(problems) > 0 {
			rejected = append(rejected, strings.Join(problems, "; "))
			continue
		}
		valid = append(valid, item)
	}
	return valid, rejected, nil
}

func decodeBatch(raw []byte) (*GeneratedBatch, error) {
	var batch GeneratedBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, &ValidationError{Errors: []string{fmt.Sprintf("failed to parse JSON response: %v", err)}}
	}
	return &batch, nil
}

func checkItem(i int, item GeneratedItem, t models.QuestionType) []string {
	qNum := i + 1
	var errs []string
	for _, p := range item.Locale("item").Problems(t) {
		errs = append(errs, fmt.Sprintf("question %d: %s", qNum, strings.TrimPrefix(p, `locale "item": `)))
	}
	if strings.TrimSpace(item.Source) == "" {
		errs = append(errs, fmt.Sprintf("question %d: missing source", qNum))
	}
	if t == models.TypeChoice && item.Correct.IsText() {
		correct := strings.ToLower(strings.TrimSpace(item.Correct.Text))
		for _, w := range item.Wrong {
			if strings.ToLower(strings.TrimSpace(w)) == correct {
				errs = append(errs, fmt.Sprintf("question %d: wrong answer %q repeats the correct answer", qNum, w))
			}
		}
	}
	return errs
}
