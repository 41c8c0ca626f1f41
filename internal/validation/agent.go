// Package validation fact-checks questions and reviews their translations
// with the completion service.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

type Store interface {
	Get(ctx context.Context, id string) (*models.Question, error)
	SetValidity(ctx context.Context, id string, upd models.ValidityUpdate) error
}

// UsageRecorder meters completion-service tokens spent on a subject.
type UsageRecorder interface {
	RecordCompletion(ctx context.Context, op, subjectID string, tokens int, request string)
}

// Agent runs correctness and translation checks. Results are written back
// to the store; status is never changed.
type Agent struct {
	llm         llm.Client
	store       Store
	usage       UsageRecorder
	model       string
	concurrency int
	log         *logger.Logger
}

func NewAgent(client llm.Client, store Store, usage UsageRecorder, model string, concurrency int, log *logger.Logger) *Agent {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Agent{
		llm:         client,
		store:       store,
		usage:       usage,
		model:       model,
		concurrency: concurrency,
		log:         log.With("component", "ValidationAgent"),
	}
}

// ── Correctness ────────────────────────────────────────

// CorrectnessResult is the verdict for one question. Suggestion is set only
// when the question is invalid. Error is set when the check itself failed.
type CorrectnessResult struct {
	QuestionID string         `json:"questionId"`
	IsValid    bool           `json:"isValid"`
	Source     string         `json:"source,omitempty"`
	Suggestion *models.Locale `json:"suggestion"`
	Error      string         `json:"error,omitempty"`
}

type correctnessResponse struct {
	IsValid    bool             `json:"isValid"`
	Source     string           `json:"source"`
	Suggestion *suggestedLocale `json:"suggestion"`
}

type suggestedLocale struct {
	Question string          `json:"question"`
	Correct  *models.Correct `json:"correct"`
	Wrong    []string        `json:"wrong"`
}

// ValidateCorrectness fact-checks the reference locale of a question using
// web search and records the verdict.
func (a *Agent) ValidateCorrectness(ctx context.Context, id string) (*CorrectnessResult, error) {
	const op = "validate_question"

	q, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, ok := q.ReferenceLocale(q.OriginalLanguage())
	if !ok {
		return nil, apperr.Validation(op, id, "question has no locales")
	}

	prompt := buildCorrectnessPrompt(q.Type, ref)
	resp, err := a.llm.Complete(ctx, llm.Request{
		Model:     a.model,
		System:    correctnessSystemPrompt,
		Prompt:    prompt,
		Schema:    correctnessSchema(q.Type),
		WebSearch: true,
	})
	if err != nil {
		a.log.Error("correctness check failed", "op", op, "question_id", id, "error", err)
		return nil, apperr.Upstream(op, id, err)
	}
	a.usage.RecordCompletion(ctx, op, id, resp.TotalTokens(), prompt)

	var out correctnessResponse
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		a.log.Error("failed to parse correctness verdict", "op", op, "question_id", id, "error", err)
		return nil, apperr.Validation(op, id, fmt.Sprintf("malformed verdict: %v", err))
	}

	result := &CorrectnessResult{
		QuestionID: id,
		IsValid:    out.IsValid,
		Source:     strings.TrimSpace(out.Source),
	}
	if !out.IsValid && out.Suggestion != nil {
		s, err := out.Suggestion.locale(q.Type, ref)
		if err != nil {
			return nil, apperr.Validation(op, id, err.Error())
		}
		result.Suggestion = &s
	}

	upd := models.ValidityUpdate{
		Language:  ref.Language,
		IsValid:   out.IsValid,
		Aggregate: true,
	}
	if out.IsValid {
		upd.Source = result.Source
	}
	if err := a.store.SetValidity(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("%s: save verdict for %s: %w", op, id, err)
	}

	a.log.Info("question validated", "op", op, "question_id", id, "is_valid", out.IsValid, "tokens_used", resp.TotalTokens())
	return result, nil
}

// ValidateMany checks every id concurrently. The result list is index
// aligned with ids and always complete; a *apperr.PartialBatchFailure is
// returned next to it when some checks failed.
func (a *Agent) ValidateMany(ctx context.Context, ids []string) ([]CorrectnessResult, error) {
	results := make([]CorrectnessResult, len(ids))
	failed := runBatch(a.concurrency, len(ids), func(i int) error {
		r, err := a.ValidateCorrectness(ctx, ids[i])
		if err != nil {
			results[i] = CorrectnessResult{QuestionID: ids[i], Error: apperr.Message(err)}
			return err
		}
		results[i] = *r
		return nil
	})
	if failed > 0 {
		a.log.Warn("batch validation finished with failures", "op", "validate_questions", "total", len(ids), "failed", failed)
	}
	return results, apperr.Batch("validate_questions", len(ids), failed)
}

// ── Translation ────────────────────────────────────────

// TranslationResult is the verdict for one translated locale. Every
// suggestion carries isValid=false.
type TranslationResult struct {
	QuestionID  string          `json:"questionId"`
	Language    string          `json:"language"`
	IsValid     bool            `json:"isValid"`
	Suggestions []models.Locale `json:"suggestions"`
	Error       string          `json:"error,omitempty"`
}

type translationResponse struct {
	IsValid     bool              `json:"isValid"`
	Suggestions []suggestedLocale `json:"suggestions"`
}

// ValidateTranslation compares the locale for language against the
// reference locale: the one in the original language, else the first.
func (a *Agent) ValidateTranslation(ctx context.Context, id, language string) (*TranslationResult, error) {
	const op = "validate_translation"
	subject := id + "/" + language

	q, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ref, ok := q.ReferenceLocale(q.OriginalLanguage())
	if !ok {
		return nil, apperr.Validation(op, id, "question has no locales")
	}
	if strings.EqualFold(ref.Language, language) {
		return nil, apperr.Validation(op, subject, fmt.Sprintf("%q is the reference locale", language))
	}
	i := q.LocaleIndex(language)
	if i < 0 {
		return nil, apperr.NotFound(op, subject)
	}
	target := q.Locales[i]

	prompt := buildTranslationPrompt(q.Type, ref, target)
	resp, err := a.llm.Complete(ctx, llm.Request{
		Model:  a.model,
		System: translationSystemPrompt,
		Prompt: prompt,
		Schema: translationSchema(q.Type),
	})
	if err != nil {
		a.log.Error("translation check failed", "op", op, "question_id", id, "language", language, "error", err)
		return nil, apperr.Upstream(op, subject, err)
	}
	a.usage.RecordCompletion(ctx, op, id, resp.TotalTokens(), prompt)

	var out translationResponse
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		a.log.Error("failed to parse translation verdict", "op", op, "question_id", id, "language", language, "error", err)
		return nil, apperr.Validation(op, subject, fmt.Sprintf("malformed verdict: %v", err))
	}
	if !out.IsValid && len(out.Suggestions) == 0 {
		return nil, apperr.Validation(op, subject, "invalid translation without suggestions")
	}

	result := &TranslationResult{
		QuestionID:  id,
		Language:    target.Language,
		IsValid:     out.IsValid,
		Suggestions: []models.Locale{},
	}
	if !out.IsValid {
		for _, s := range out.Suggestions {
			l, err := s.locale(q.Type, target)
			if err != nil {
				a.log.Warn("dropping malformed translation suggestion", "op", op, "question_id", id, "language", language, "error", err)
				continue
			}
			result.Suggestions = append(result.Suggestions, l)
		}
		if len(result.Suggestions) == 0 {
			return nil, apperr.Validation(op, subject, "no usable translation suggestions")
		}
	}

	upd := models.ValidityUpdate{Language: target.Language, IsValid: out.IsValid}
	if err := a.store.SetValidity(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("%s: save verdict for %s: %w", op, subject, err)
	}

	a.log.Info("translation validated", "op", op, "question_id", id, "language", language, "is_valid", out.IsValid)
	return result, nil
}

// ValidateTranslations checks the locale for language on every id
// concurrently, with the same partial-failure contract as ValidateMany.
func (a *Agent) ValidateTranslations(ctx context.Context, ids []string, language string) ([]TranslationResult, error) {
	results := make([]TranslationResult, len(ids))
	failed := runBatch(a.concurrency, len(ids), func(i int) error {
		r, err := a.ValidateTranslation(ctx, ids[i], language)
		if err != nil {
			results[i] = TranslationResult{QuestionID: ids[i], Language: language, Error: apperr.Message(err)}
			return err
		}
		results[i] = *r
		return nil
	})
	if failed > 0 {
		a.log.Warn("batch translation validation finished with failures", "op", "validate_translations", "total", len(ids), "failed", failed)
	}
	return results, apperr.Batch("validate_translations", len(ids), failed)
}

// ── Helpers ────────────────────────────────────────────

// runBatch calls fn for 0..n-1 with at most limit calls in flight and
// returns how many failed. A failure does not stop the others.
func runBatch(limit, n int, fn func(i int) error) int {
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	return failed
}

// locale turns a suggestion into a locale in base's language, tagged invalid.
// Map questions keep base's coordinates when the suggestion omits them.
func (s suggestedLocale) locale(t models.QuestionType, base models.Locale) (models.Locale, error) {
	l := models.Locale{
		Language: base.Language,
		Question: strings.TrimSpace(s.Question),
		IsValid:  false,
	}
	switch {
	case s.Correct != nil:
		l.Correct = *s.Correct
	case t == models.TypeMap:
		l.Correct = base.Correct
	}
	if l.Correct.IsText() {
		l.Correct = models.TextAnswer(strings.TrimSpace(l.Correct.Text))
	}
	if t == models.TypeChoice {
		for _, w := range s.Wrong {
			l.Wrong = append(l.Wrong, strings.TrimSpace(w))
		}
	}
	if problems := l.Problems(t); len(problems) > 0 {
		return models.Locale{}, errors.New(strings.Join(problems, "; "))
	}
	return l, nil
}
