package translation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

type Store interface {
	Get(ctx context.Context, id string) (*models.Question, error)
	UpsertLocales(ctx context.Context, id string, locales ...models.Locale) (*models.Question, error)
}

// UsageRecorder stores one entry per translated string.
type UsageRecorder interface {
	RecordTranslations(ctx context.Context, entries []models.UsageLogEntry)
}

type Orchestrator struct {
	translator  Translator
	store       Store
	usage       UsageRecorder
	concurrency int
	log         *logger.Logger
}

func NewOrchestrator(translator Translator, store Store, usage UsageRecorder, concurrency int, log *logger.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		translator:  translator,
		store:       store,
		usage:       usage,
		concurrency: concurrency,
		log:         log.With("component", "TranslationOrchestrator"),
	}
}

// LocaleResult is the outcome for one target language.
type LocaleResult struct {
	Language string         `json:"language"`
	Locale   *models.Locale `json:"locale,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// OK reports whether the locale was translated and stored.
func (r LocaleResult) OK() bool {
	return r.Error == ""
}

// TranslateQuestion translates the reference locale into language and
// upserts the result: an existing locale for language is replaced in place,
// otherwise the new locale is appended.
func (o *Orchestrator) TranslateQuestion(ctx context.Context, id, language string) (*models.Locale, error) {
	const op = "translate_question"
	subject := id + "/" + language

	language = strings.TrimSpace(language)
	if language == "" {
		return nil, apperr.Validation(op, id, "target language is required")
	}

	q, err := o.store.Get(ctx, id)
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

	texts := sourceTexts(q.Type, ref)
	source := ref.Language
	translated, err := o.translator.Translate(ctx, texts, &source, language)
	if err != nil {
		o.log.Error("translation failed", "op", op, "question_id", id, "language", language, "error", err)
		return nil, apperr.Upstream(op, subject, err)
	}
	// Billed as soon as the backend answers, whatever happens to the result.
	o.usage.RecordTranslations(ctx, usageEntries(id, ref.Language, language, texts, translated))
	if len(translated) != len(texts) {
		return nil, apperr.Upstream(op, subject, fmt.Errorf("got %d translations for %d texts", len(translated), len(texts)))
	}

	locale := assemble(q.Type, ref, language, translated)
	if problems := locale.Problems(q.Type); len(problems) > 0 {
		return nil, apperr.Validation(op, subject, problems...)
	}

	if _, err := o.store.UpsertLocales(ctx, id, locale); err != nil {
		return nil, apperr.Collaborator(op, subject, err)
	}

	o.log.Info("question translated", "op", op, "question_id", id, "language", language, "strings", len(texts))
	return &locale, nil
}

// TranslateMany translates one question into every language concurrently.
// The result list is aligned with languages; a *apperr.PartialBatchFailure
// is returned next to it when some languages failed.
func (o *Orchestrator) TranslateMany(ctx context.Context, id string, languages []string) ([]LocaleResult, error) {
	results := make([]LocaleResult, len(languages))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, lang := range languages {
		g.Go(func() error {
			l, err := o.TranslateQuestion(ctx, id, lang)
			if err != nil {
				results[i] = LocaleResult{Language: lang, Error: apperr.Message(err)}
				return nil
			}
			results[i] = LocaleResult{Language: lang, Locale: l}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		o.log.Warn("some locales were not translated", "op", "translate_many", "question_id", id, "total", len(languages), "failed", failed)
	}
	return results, apperr.Batch("translate_many", len(languages), failed)
}

// sourceTexts lists the strings sent for translation: the question text,
// then for choice questions every wrong answer and finally the correct one.
func sourceTexts(t models.QuestionType, ref models.Locale) []string {
	texts := []string{ref.Question}
	if t == models.TypeMap {
		return texts
	}
	texts = append(texts, ref.Wrong...)
	return append(texts, ref.Correct.Text)
}

func assemble(t models.QuestionType, ref models.Locale, language string, translated []Translation) models.Locale {
	l := models.Locale{
		Language: language,
		Question: translated[0].Text,
		IsValid:  false,
		Sources:  append([]string(nil), ref.Sources...),
	}
	if t == models.TypeMap {
		l.Correct = ref.Correct
		return l
	}
	n := len(ref.Wrong)
	for _, w := range translated[1 : 1+n] {
		l.Wrong = append(l.Wrong, w.Text)
	}
	l.Correct = models.TextAnswer(translated[1+n].Text)
	return l
}

// usageEntries pairs texts with their translations. Unpaired items on either
// side are skipped.
func usageEntries(id, source, target string, texts []string, translated []Translation) []models.UsageLogEntry {
	n := min(len(texts), len(translated))
	entries := make([]models.UsageLogEntry, n)
	for i := range n {
		src, tgt, out := source, target, translated[i].Text
		entries[i] = models.UsageLogEntry{
			Kind:           models.UsageTranslation,
			SubjectID:      id,
			Units:          translated[i].BilledCharacters,
			SourceLanguage: &src,
			TargetLanguage: &tgt,
			RequestText:    texts[i],
			ResultText:     &out,
		}
	}
	return entries
}
