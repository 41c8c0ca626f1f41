package translation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

// prefixTranslator prefixes every text with the upper-cased target and
// bills one character per rune. Targets in fail return an error, targets in
// blank get an empty last string and targets in short lose the last item.
type prefixTranslator struct {
	mu      sync.Mutex
	fail    map[string]bool
	blank   map[string]bool
	short   map[string]bool
	sources []*string
}

func (p *prefixTranslator) Translate(_ context.Context, texts []string, source *string, target string) ([]Translation, error) {
	p.mu.Lock()
	p.sources = append(p.sources, source)
	p.mu.Unlock()
	if p.fail[target] {
		return nil, errors.New("deepl http 503")
	}
	out := make([]Translation, len(texts))
	for i, text := range texts {
		out[i] = Translation{Text: strings.ToUpper(target) + ":" + text, BilledCharacters: len([]rune(text))}
	}
	if p.blank[target] {
		out[len(out)-1].Text = ""
	}
	if p.short[target] {
		out = out[:len(out)-1]
	}
	return out, nil
}

type failingUpsertStore struct {
	*memStore
}

func (f failingUpsertStore) UpsertLocales(context.Context, string, ...models.Locale) (*models.Question, error) {
	return nil, errors.New("db down")
}

type memStore struct {
	mu        sync.Mutex
	questions map[string]*models.Question
}

func (m *memStore) Get(_ context.Context, id string) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, apperr.NotFound("get_question", id)
	}
	cp := *q
	cp.Locales = append([]models.Locale(nil), q.Locales...)
	return &cp, nil
}

func (m *memStore) UpsertLocales(_ context.Context, id string, locales ...models.Locale) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, apperr.NotFound("upsert_locales", id)
	}
	for _, l := range locales {
		q.UpsertLocale(l)
	}
	return q, nil
}

type recordingUsage struct {
	mu      sync.Mutex
	entries []models.UsageLogEntry
}

func (r *recordingUsage) RecordTranslations(_ context.Context, entries []models.UsageLogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entries...)
	r.mu.Unlock()
}

func fixture() *memStore {
	return &memStore{questions: map[string]*models.Question{
		"c1": {
			ID:                "c1",
			Type:              models.TypeChoice,
			RequiredLanguages: []string{"en"},
			Locales: []models.Locale{{
				Language: "en",
				Question: "Who wrote the Republic?",
				Correct:  models.TextAnswer("Plato"),
				Wrong:    []string{"Homer", "Zeno", "Thales"},
				IsValid:  true,
				Sources:  []string{"https://plato.stanford.edu"},
			}},
		},
		"m1": {
			ID:                "m1",
			Type:              models.TypeMap,
			RequiredLanguages: []string{"en"},
			Locales: []models.Locale{{
				Language: "en",
				Question: "Where is Machu Picchu?",
				Correct:  models.PointAnswer(-13.16, -72.54),
			}},
		},
	}}
}

func TestTranslateQuestion_Choice(t *testing.T) {
	store := fixture()
	usage := &recordingUsage{}
	tr := &prefixTranslator{}
	o := NewOrchestrator(tr, store, usage, 4, logger.Nop())

	l, err := o.TranslateQuestion(context.Background(), "c1", "de")
	require.NoError(t, err)

	assert.Equal(t, "de", l.Language)
	assert.Equal(t, "DE:Who wrote the Republic?", l.Question)
	assert.Equal(t, models.TextAnswer("DE:Plato"), l.Correct)
	assert.Equal(t, []string{"DE:Homer", "DE:Zeno", "DE:Thales"}, l.Wrong)
	assert.False(t, l.IsValid)
	assert.Equal(t, []string{"https://plato.stanford.edu"}, l.Sources)

	require.Len(t, store.questions["c1"].Locales, 2)
	require.NotNil(t, tr.sources[0])
	assert.Equal(t, "en", *tr.sources[0])

	require.Len(t, usage.entries, 5, "one entry per translated string")
	first := usage.entries[0]
	assert.Equal(t, models.UsageTranslation, first.Kind)
	assert.Equal(t, "c1", first.SubjectID)
	assert.Equal(t, "Who wrote the Republic?", first.RequestText)
	assert.Equal(t, "DE:Who wrote the Republic?", *first.ResultText)
	assert.Equal(t, 23, first.Units)
	assert.Equal(t, "en", *first.SourceLanguage)
	assert.Equal(t, "de", *first.TargetLanguage)
	assert.Equal(t, "Plato", usage.entries[4].RequestText)
}

func TestTranslateQuestion_MapKeepsCoordinates(t *testing.T) {
	store := fixture()
	usage := &recordingUsage{}
	o := NewOrchestrator(&prefixTranslator{}, store, usage, 4, logger.Nop())

	l, err := o.TranslateQuestion(context.Background(), "m1", "pl")
	require.NoError(t, err)

	assert.Equal(t, models.PointAnswer(-13.16, -72.54), l.Correct)
	assert.Empty(t, l.Wrong)
	assert.Len(t, usage.entries, 1)
}

func TestTranslateQuestion_UpsertReplacesInPlace(t *testing.T) {
	store := fixture()
	o := NewOrchestrator(&prefixTranslator{}, store, &recordingUsage{}, 4, logger.Nop())

	_, err := o.TranslateQuestion(context.Background(), "c1", "de")
	require.NoError(t, err)
	_, err = o.TranslateQuestion(context.Background(), "c1", "fr")
	require.NoError(t, err)
	store.questions["c1"].Locales[1].Question = "edited"

	_, err = o.TranslateQuestion(context.Background(), "c1", "de")
	require.NoError(t, err)

	locales := store.questions["c1"].Locales
	require.Len(t, locales, 3)
	assert.Equal(t, []string{"en", "de", "fr"}, []string{locales[0].Language, locales[1].Language, locales[2].Language})
	assert.Equal(t, "DE:Who wrote the Republic?", locales[1].Question)
}

func TestTranslateQuestion_Errors(t *testing.T) {
	store := fixture()
	usage := &recordingUsage{}
	o := NewOrchestrator(&prefixTranslator{fail: map[string]bool{"it": true}}, store, usage, 4, logger.Nop())

	_, err := o.TranslateQuestion(context.Background(), "nope", "de")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = o.TranslateQuestion(context.Background(), "c1", "EN")
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	_, err = o.TranslateQuestion(context.Background(), "c1", "it")
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	assert.Len(t, store.questions["c1"].Locales, 1, "nothing is stored on failure")
	assert.Empty(t, usage.entries)
}

func TestTranslateQuestion_BilledEvenWhenRejected(t *testing.T) {
	tr := &prefixTranslator{blank: map[string]bool{"de": true}, short: map[string]bool{"fr": true}}

	t.Run("unusable translation", func(t *testing.T) {
		store := fixture()
		usage := &recordingUsage{}
		o := NewOrchestrator(tr, store, usage, 4, logger.Nop())

		_, err := o.TranslateQuestion(context.Background(), "c1", "de")
		assert.ErrorIs(t, err, apperr.ErrValidationFailed)
		assert.Len(t, store.questions["c1"].Locales, 1)
		assert.Len(t, usage.entries, 5)
	})

	t.Run("missing translations", func(t *testing.T) {
		usage := &recordingUsage{}
		o := NewOrchestrator(tr, fixture(), usage, 4, logger.Nop())

		_, err := o.TranslateQuestion(context.Background(), "c1", "fr")
		assert.ErrorIs(t, err, apperr.ErrUpstream)
		assert.Len(t, usage.entries, 4, "only paired strings are logged")
	})

	t.Run("store failure", func(t *testing.T) {
		usage := &recordingUsage{}
		o := NewOrchestrator(&prefixTranslator{}, failingUpsertStore{fixture()}, usage, 4, logger.Nop())

		_, err := o.TranslateQuestion(context.Background(), "c1", "es")
		assert.ErrorIs(t, err, apperr.ErrUpstream)
		assert.Len(t, usage.entries, 5)
	})
}

func TestTranslateMany_IndependentFailures(t *testing.T) {
	store := fixture()
	o := NewOrchestrator(&prefixTranslator{fail: map[string]bool{"tr": true}}, store, &recordingUsage{}, 3, logger.Nop())

	langs := []string{"ru", "uk", "en-US", "es", "fr", "de", "it", "pl", "tr"}
	results, err := o.TranslateMany(context.Background(), "c1", langs)

	var pbf *apperr.PartialBatchFailure
	require.ErrorAs(t, err, &pbf)
	assert.Equal(t, 1, pbf.Failed)

	require.Len(t, results, len(langs))
	for i, r := range results {
		assert.Equal(t, langs[i], r.Language)
	}
	assert.False(t, results[8].OK())
	assert.True(t, results[0].OK())
	assert.Len(t, store.questions["c1"].Locales, 9)
}
