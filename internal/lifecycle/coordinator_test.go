package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
	"github.com/quizforge/backend/internal/translation"
)

type memStore struct {
	mu        sync.Mutex
	questions map[string]*models.Question
	getErr    error
}

func newMemStore(qs ...models.Question) *memStore {
	m := &memStore{questions: make(map[string]*models.Question)}
	for _, q := range qs {
		m.questions[q.ID] = &q
	}
	return m
}

func (m *memStore) Get(_ context.Context, id string) (*models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	q, ok := m.questions[id]
	if !ok {
		return nil, apperr.NotFound("get_question", id)
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) TransitionStatus(_ context.Context, ids []string, from []models.QuestionStatus, to models.QuestionStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := []string{}
	for _, id := range ids {
		q, ok := m.questions[id]
		if !ok {
			continue
		}
		for _, s := range from {
			if q.Status == s {
				q.Status = to
				changed = append(changed, id)
				break
			}
		}
	}
	return changed, nil
}

func (m *memStore) DeleteInStatus(_ context.Context, ids []string, status models.QuestionStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := []string{}
	for _, id := range ids {
		if q, ok := m.questions[id]; ok && q.Status == status {
			delete(m.questions, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (m *memStore) MarkPromoted(_ context.Context, id string, legacyID int64, status models.QuestionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return apperr.NotFound("mark_promoted", id)
	}
	q.LegacyID = &legacyID
	q.Status = status
	return nil
}

type memLegacy struct {
	mu   sync.Mutex
	docs map[int64]models.LegacyQuestion
	fail error
}

func newMemLegacy() *memLegacy {
	return &memLegacy{docs: make(map[int64]models.LegacyQuestion)}
}

func (l *memLegacy) FindMaxKey(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var top int64
	for k := range l.docs {
		top = max(top, k)
	}
	return top, nil
}

func (l *memLegacy) FindKeyBySource(_ context.Context, sourceID string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, d := range l.docs {
		if d.SourceID == sourceID {
			return k, true, nil
		}
	}
	return 0, false, nil
}

func (l *memLegacy) Upsert(_ context.Context, key int64, doc models.LegacyQuestion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	if cur, ok := l.docs[key]; ok && cur.SourceID != doc.SourceID {
		return apperr.Conflict("legacy_upsert", fmt.Sprint(key), "held by another question")
	}
	doc.ID = key
	l.docs[key] = doc
	return nil
}

func (l *memLegacy) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.docs)
}

// stubTranslator succeeds for every language except those in fail.
type stubTranslator struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string][]string
	runs  int
}

func (s *stubTranslator) TranslateMany(_ context.Context, id string, languages []string) ([]translation.LocaleResult, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string][]string)
	}
	s.calls[id] = languages
	s.runs++
	s.mu.Unlock()

	out := make([]translation.LocaleResult, len(languages))
	failed := 0
	for i, lang := range languages {
		out[i] = translation.LocaleResult{Language: lang}
		if s.fail[lang] {
			out[i].Error = "deepl unavailable"
			failed++
			continue
		}
		out[i].Locale = &models.Locale{Language: lang}
	}
	return out, apperr.Batch("translate_many", len(languages), failed)
}

func question(id string, status models.QuestionStatus) models.Question {
	return models.Question{
		ID:                id,
		CategoryID:        7,
		Status:            status,
		Type:              models.TypeChoice,
		Difficulty:        3,
		RequiredLanguages: []string{"en"},
		Locales: []models.Locale{
			{Language: "en", Question: "Who wrote the Republic?", Correct: models.TextAnswer("Plato"), Wrong: []string{"Homer", "Zeno", "Thales"}},
		},
		Tags: []string{},
	}
}

var required = []string{"en", "ru", "uk", "de", "es", "fr", "it", "pl", "pt", "tr"}

func newCoordinator(store *memStore, legacy *memLegacy, tr *stubTranslator) *Coordinator {
	return NewCoordinator(store, legacy, tr, Config{RequiredLocales: required, Rules: testRules, Concurrency: 4}, logger.Nop())
}

func TestConfirm_TranslatesIntoRequiredLocales(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusGenerated))
	tr := &stubTranslator{}
	c := newCoordinator(store, newMemLegacy(), tr)

	res, err := c.Confirm(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, res.Committed)
	assert.Len(t, res.Translations, 9)
	assert.NotContains(t, tr.calls["q-1"], "en")

	q, _ := store.Get(context.Background(), "q-1")
	assert.Equal(t, models.StatusInProgress, q.Status)
}

func TestConfirm_PartialTranslationFailureKeepsStatus(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusGenerated))
	tr := &stubTranslator{fail: map[string]bool{"de": true}}
	c := newCoordinator(store, newMemLegacy(), tr)

	res, err := c.Confirm(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Empty(t, res.Error)

	failed := 0
	for _, r := range res.Translations {
		if !r.OK() {
			failed++
			assert.Equal(t, "de", r.Language)
		}
	}
	assert.Equal(t, 1, failed)

	q, _ := store.Get(context.Background(), "q-1")
	assert.Equal(t, models.StatusInProgress, q.Status)
}

func TestConfirm_OnlyGeneratedQuestions(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusApproved))
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	_, err := c.Confirm(context.Background(), "q-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = c.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfirmMany_ReportsPerItem(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusGenerated), question("q-2", models.StatusRejected))
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	results, err := c.ConfirmMany(context.Background(), []string{"q-1", "q-2", "missing"})
	assert.ErrorIs(t, err, apperr.ErrPartialBatch)
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.Len(t, results[0].Translations, 9)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, "missing", results[2].QuestionID)
	assert.NotEmpty(t, results[2].Error)
}

func TestConfirmMany_CanonicalizesAndDedupesIDs(t *testing.T) {
	const id = "6f1c2b8e-93a4-4d1e-b7c2-0a5d9e3f4b21"
	store := newMemStore(question(id, models.StatusGenerated))
	tr := &stubTranslator{}
	c := newCoordinator(store, newMemLegacy(), tr)

	upper := "6F1C2B8E-93A4-4D1E-B7C2-0A5D9E3F4B21"
	results, err := c.ConfirmMany(context.Background(), []string{upper, "{" + id + "}", id})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, id, r.QuestionID)
		assert.Empty(t, r.Error)
		assert.Len(t, r.Translations, 9)
	}
	assert.Equal(t, 1, tr.runs, "a repeated id is translated once")

	q, _ := store.Get(context.Background(), id)
	assert.Equal(t, models.StatusInProgress, q.Status)
}

func TestConfirmMany_LoadFailureIsPartial(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusGenerated))
	store.getErr = errors.New("db down")
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	results, err := c.ConfirmMany(context.Background(), []string{"q-1"})
	var pbf *apperr.PartialBatchFailure
	require.ErrorAs(t, err, &pbf)
	assert.Equal(t, 1, pbf.Failed)
	assert.Equal(t, models.StatusInProgress, results[0].Committed)
	assert.NotEmpty(t, results[0].Error)
}

func TestRejectMany_CanonicalizesIDs(t *testing.T) {
	const draft = "0b7e4a52-1c3d-4f6e-8a9b-2c4d6e8f0a1b"
	const review = "9d8c7b6a-5f4e-4d3c-8b2a-1f0e9d8c7b6a"
	store := newMemStore(question(draft, models.StatusGenerated), question(review, models.StatusPending))
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	res, err := c.RejectMany(context.Background(), []string{strings.ToUpper(draft), draft, "urn:uuid:" + review})
	require.NoError(t, err)
	assert.Equal(t, []string{draft}, res.Deleted)
	assert.Equal(t, []string{review}, res.Rejected)
	assert.Empty(t, res.Unchanged)
	assert.Equal(t, 2, res.Affected)
}

func TestReject_DeletesDraftsAndRetiresReviewed(t *testing.T) {
	store := newMemStore(
		question("draft", models.StatusGenerated),
		question("review", models.StatusProofReading),
		question("done", models.StatusRejected),
	)
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	res, err := c.RejectMany(context.Background(), []string{"draft", "review", "done"})
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, res.Deleted)
	assert.Equal(t, []string{"review"}, res.Rejected)
	assert.Equal(t, []string{"done"}, res.Unchanged)
	assert.Equal(t, 2, res.Affected)

	_, err = store.Get(context.Background(), "draft")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	q, _ := store.Get(context.Background(), "review")
	assert.Equal(t, models.StatusRejected, q.Status)
}

func TestReject_AlreadyRejectedIsNoop(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusRejected))
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	res, err := c.Reject(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Zero(t, res.Affected)

	_, err = c.Reject(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReject_MirrorsPromotedQuestion(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusPending))
	legacy := newMemLegacy()
	c := newCoordinator(store, legacy, &stubTranslator{})
	ctx := context.Background()

	p, err := c.Promote(ctx, "q-1")
	require.NoError(t, err)

	_, err = c.Reject(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusRejected), legacy.docs[p.LegacyID].Status)
}

func TestReject_MirrorFailureIsPartial(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusPending))
	legacy := newMemLegacy()
	c := newCoordinator(store, legacy, &stubTranslator{})
	ctx := context.Background()

	_, err := c.Promote(ctx, "q-1")
	require.NoError(t, err)
	legacy.fail = fmt.Errorf("mongo down")

	res, err := c.RejectMany(ctx, []string{"q-1"})
	assert.ErrorIs(t, err, apperr.ErrPartialBatch)
	assert.Contains(t, res.Failed, "q-1")
	q, _ := store.Get(ctx, "q-1")
	assert.Equal(t, models.StatusRejected, q.Status)
}

func TestPromote_AllocatesNextKeyAndIsIdempotent(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusPending), question("q-2", models.StatusInProgress))
	legacy := newMemLegacy()
	legacy.docs[100] = models.LegacyQuestion{ID: 100, SourceID: "outside"}
	c := newCoordinator(store, legacy, &stubTranslator{})
	ctx := context.Background()

	first, err := c.Promote(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, int64(101), first.LegacyID)
	assert.True(t, first.Created)

	again, err := c.Promote(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, first.LegacyID, again.LegacyID)
	assert.False(t, again.Created)

	second, err := c.Promote(ctx, "q-2")
	require.NoError(t, err)
	assert.Equal(t, int64(102), second.LegacyID)
	assert.Equal(t, 3, legacy.count())

	q, _ := store.Get(ctx, "q-1")
	assert.Equal(t, models.StatusApproved, q.Status)
	require.NotNil(t, q.LegacyID)
	assert.Equal(t, int64(101), *q.LegacyID)
	assert.Equal(t, string(models.StatusApproved), legacy.docs[101].Status)
}

func TestPromote_ReusesKeyOfUnfinishedPromotion(t *testing.T) {
	store := newMemStore(question("q-1", models.StatusPending))
	legacy := newMemLegacy()
	legacy.docs[5] = models.LegacyQuestion{ID: 5, SourceID: "q-1"}
	legacy.docs[9] = models.LegacyQuestion{ID: 9, SourceID: "other"}
	c := newCoordinator(store, legacy, &stubTranslator{})

	res, err := c.Promote(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.LegacyID)
	assert.Equal(t, 2, legacy.count())
}

func TestPromote_RejectsDraftsAndRejected(t *testing.T) {
	store := newMemStore(question("draft", models.StatusGenerated), question("gone", models.StatusRejected))
	c := newCoordinator(store, newMemLegacy(), &stubTranslator{})

	_, err := c.Promote(context.Background(), "draft")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = c.Promote(context.Background(), "gone")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = c.Promote(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPromote_ConcurrentPromotionsGetDistinctKeys(t *testing.T) {
	const n = 20
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = question(fmt.Sprintf("q-%d", i), models.StatusApproved)
	}
	store := newMemStore(qs...)
	legacy := newMemLegacy()
	c := newCoordinator(store, legacy, &stubTranslator{})

	keys := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Promote(context.Background(), qs[i].ID)
			if assert.NoError(t, err) {
				keys[i] = res.LegacyID
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "key %d allocated twice", k)
		seen[k] = true
	}
	assert.Equal(t, n, legacy.count())
}
