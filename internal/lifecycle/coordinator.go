// Package lifecycle moves questions through review: confirmation with
// translation fan-out, rejection, and promotion into the legacy store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
	"github.com/quizforge/backend/internal/translation"
)

type Store interface {
	Get(ctx context.Context, id string) (*models.Question, error)
	TransitionStatus(ctx context.Context, ids []string, from []models.QuestionStatus, to models.QuestionStatus) ([]string, error)
	DeleteInStatus(ctx context.Context, ids []string, status models.QuestionStatus) ([]string, error)
	MarkPromoted(ctx context.Context, id string, legacyID int64, status models.QuestionStatus) error
}

// LegacyPromotionPort is the legacy collection keyed by integer ids.
type LegacyPromotionPort interface {
	FindMaxKey(ctx context.Context) (int64, error)
	FindKeyBySource(ctx context.Context, sourceID string) (int64, bool, error)
	Upsert(ctx context.Context, key int64, doc models.LegacyQuestion) error
}

type Translator interface {
	TranslateMany(ctx context.Context, id string, languages []string) ([]translation.LocaleResult, error)
}

type Config struct {
	RequiredLocales []string
	Rules           LocaleRules
	Concurrency     int
}

var (
	// reviewStatuses can be rejected without deletion.
	reviewStatuses = []models.QuestionStatus{
		models.StatusInProgress, models.StatusProofReading, models.StatusPending, models.StatusApproved,
	}
	promotableStatuses = map[models.QuestionStatus]bool{
		models.StatusInProgress:   true,
		models.StatusProofReading: true,
		models.StatusPending:      true,
		models.StatusApproved:     true,
	}
)

type Coordinator struct {
	store      Store
	legacy     LegacyPromotionPort
	translator Translator
	cfg        Config
	log        *logger.Logger
	now        func() time.Time

	// promoteMu serializes legacy key allocation.
	promoteMu sync.Mutex
}

func NewCoordinator(store Store, legacy LegacyPromotionPort, translator Translator, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Coordinator{
		store:      store,
		legacy:     legacy,
		translator: translator,
		cfg:        cfg,
		log:        log.With("component", "LifecycleCoordinator"),
		now:        time.Now,
	}
}

// ── Confirm ────────────────────────────────────────────

// ConfirmResult reports the committed status and the outcome per required
// locale. Failed locales can be retried through translation alone.
type ConfirmResult struct {
	QuestionID   string                     `json:"questionId"`
	Committed    models.QuestionStatus      `json:"committed,omitempty"`
	Translations []translation.LocaleResult `json:"translations"`
	Error        string                     `json:"error,omitempty"`
}

// Confirm moves a generated question to in_progress and translates it into
// every required locale. Translation failures do not undo the transition.
func (c *Coordinator) Confirm(ctx context.Context, id string) (*ConfirmResult, error) {
	id = canonicalID(id)
	changed, err := c.store.TransitionStatus(ctx, []string{id}, []models.QuestionStatus{models.StatusGenerated}, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", id, err)
	}
	if len(changed) == 0 {
		return nil, c.notTransitioned(ctx, "confirm", id)
	}
	res := c.translateConfirmed(ctx, id)
	return &res, nil
}

// ConfirmMany confirms every id. Ids that are missing or not generated get an
// error entry; the others are confirmed and translated concurrently.
func (c *Coordinator) ConfirmMany(ctx context.Context, ids []string) ([]ConfirmResult, error) {
	canonical, unique, first := dedupeIDs(ids)
	changed, err := c.store.TransitionStatus(ctx, unique, []models.QuestionStatus{models.StatusGenerated}, models.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("confirm batch: %w", err)
	}
	ok := toSet(changed)

	results := make([]ConfirmResult, len(ids))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range canonical {
		if first[i] != i {
			continue
		}
		if !ok[id] {
			results[i] = ConfirmResult{QuestionID: id, Error: apperr.Message(c.notTransitioned(ctx, "confirm", id))}
			continue
		}
		g.Go(func() error {
			results[i] = c.translateConfirmed(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i := range ids {
		// repeated ids share the outcome of their first occurrence
		results[i] = results[first[i]]
		if results[i].Error != "" {
			failed++
		}
	}
	return results, apperr.Batch("confirm_questions", len(ids), failed)
}

func (c *Coordinator) translateConfirmed(ctx context.Context, id string) ConfirmResult {
	res := ConfirmResult{QuestionID: id, Committed: models.StatusInProgress, Translations: []translation.LocaleResult{}}

	q, err := c.store.Get(ctx, id)
	if err != nil {
		c.log.Error("confirmed question could not be loaded", "op", "confirm", "question_id", id, "error", err)
		res.Error = apperr.Message(err)
		return res
	}
	languages := c.targetLocales(q)
	translations, err := c.translator.TranslateMany(ctx, id, languages)
	res.Translations = translations
	if err != nil && !errors.Is(err, apperr.ErrPartialBatch) {
		res.Error = apperr.Message(err)
	}
	if err != nil {
		c.log.Warn("confirmed with missing translations", "op", "confirm", "question_id", id, "error", err)
	} else {
		c.log.Info("question confirmed", "op", "confirm", "question_id", id, "locales", len(languages))
	}
	return res
}

// targetLocales is the required locale list without the reference language.
func (c *Coordinator) targetLocales(q *models.Question) []string {
	ref, _ := q.ReferenceLocale(q.OriginalLanguage())
	out := make([]string, 0, len(c.cfg.RequiredLocales))
	for _, l := range c.cfg.RequiredLocales {
		if !strings.EqualFold(l, ref.Language) {
			out = append(out, l)
		}
	}
	return out
}

// ── Reject ─────────────────────────────────────────────

// RejectResult lists what happened to each id. Affected counts deleted and
// status-rejected questions.
type RejectResult struct {
	Deleted   []string          `json:"deleted"`
	Rejected  []string          `json:"rejected"`
	Unchanged []string          `json:"unchanged"`
	Failed    map[string]string `json:"failed,omitempty"`
	Affected  int               `json:"affected"`
}

// Reject removes a draft or retires a reviewed question. Rejecting an
// already rejected question is a no-op.
func (c *Coordinator) Reject(ctx context.Context, id string) (*RejectResult, error) {
	res, err := c.RejectMany(ctx, []string{id})
	if err != nil {
		return res, err
	}
	if res.Affected == 0 {
		if _, err := c.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// RejectMany deletes generated questions and sets every other non-rejected
// question to rejected, mirroring promoted ones to the legacy store.
func (c *Coordinator) RejectMany(ctx context.Context, ids []string) (*RejectResult, error) {
	res := &RejectResult{Deleted: []string{}, Rejected: []string{}, Unchanged: []string{}}
	_, ids, _ = dedupeIDs(ids)

	deleted, err := c.store.DeleteInStatus(ctx, ids, models.StatusGenerated)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	res.Deleted = deleted
	gone := toSet(deleted)

	var rest []string
	for _, id := range ids {
		if !gone[id] {
			rest = append(rest, id)
		}
	}
	rejected, err := c.store.TransitionStatus(ctx, rest, reviewStatuses, models.StatusRejected)
	if err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	res.Rejected = rejected
	done := toSet(rejected)
	for _, id := range rest {
		if !done[id] {
			res.Unchanged = append(res.Unchanged, id)
		}
	}
	res.Affected = len(res.Deleted) + len(res.Rejected)

	for _, id := range rejected {
		if err := c.mirrorRejection(ctx, id); err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[id] = apperr.Message(err)
			c.log.Error("rejection not mirrored to legacy store", "op", "reject", "question_id", id, "error", err)
		}
	}

	c.log.Info("questions rejected", "op", "reject", "deleted", len(res.Deleted), "rejected", len(res.Rejected), "unchanged", len(res.Unchanged))
	return res, apperr.Batch("reject_questions", len(ids), len(res.Failed))
}

func (c *Coordinator) mirrorRejection(ctx context.Context, id string) error {
	q, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !q.Promoted() {
		return nil
	}
	return c.legacy.Upsert(ctx, *q.LegacyID, ToLegacy(*q, *q.LegacyID, c.cfg.Rules))
}

// ── Promote ────────────────────────────────────────────

type PromoteResult struct {
	QuestionID string `json:"questionId"`
	LegacyID   int64  `json:"mainDbId"`
	Created    bool   `json:"created"`
}

// Promote writes the question into the legacy store and marks it approved.
// A question keeps its legacy key across promotions; a new key is the
// largest existing key plus one. Promotions run one at a time.
func (c *Coordinator) Promote(ctx context.Context, id string) (*PromoteResult, error) {
	const op = "promote"

	c.promoteMu.Lock()
	defer c.promoteMu.Unlock()

	q, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !promotableStatuses[q.Status] {
		return nil, apperr.Conflict(op, id, fmt.Sprintf("cannot promote a question in status %q", q.Status))
	}

	key, created, err := c.legacyKey(ctx, q)
	if err != nil {
		return nil, err
	}

	q.Status = models.StatusApproved
	q.UpdatedAt = c.now().UTC()
	doc := ToLegacy(*q, key, c.cfg.Rules)
	if err := c.legacy.Upsert(ctx, key, doc); err != nil {
		c.log.Error("legacy upsert failed", "op", op, "question_id", id, "legacy_id", key, "error", err)
		return nil, err
	}
	if err := c.store.MarkPromoted(ctx, id, key, models.StatusApproved); err != nil {
		c.log.Error("promoted question not marked", "op", op, "question_id", id, "legacy_id", key, "error", err)
		return nil, err
	}

	c.log.Info("question promoted", "op", op, "question_id", id, "legacy_id", key, "created", created)
	return &PromoteResult{QuestionID: id, LegacyID: key, Created: created}, nil
}

// legacyKey reuses the recorded key, then a key already written for this
// question, and only then allocates max+1.
func (c *Coordinator) legacyKey(ctx context.Context, q *models.Question) (int64, bool, error) {
	if q.LegacyID != nil {
		return *q.LegacyID, false, nil
	}
	key, found, err := c.legacy.FindKeyBySource(ctx, q.ID)
	if err != nil {
		return 0, false, fmt.Errorf("promote %s: %w", q.ID, err)
	}
	if found {
		c.log.Warn("reusing legacy key from an unfinished promotion", "op", "promote", "question_id", q.ID, "legacy_id", key)
		return key, false, nil
	}
	top, err := c.legacy.FindMaxKey(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("promote %s: %w", q.ID, err)
	}
	return top + 1, true, nil
}

// ── Helpers ────────────────────────────────────────────

// notTransitioned explains why id did not change state.
func (c *Coordinator) notTransitioned(ctx context.Context, op, id string) error {
	q, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return apperr.Conflict(op, id, fmt.Sprintf("question is %q, only %q questions can be confirmed", q.Status, models.StatusGenerated))
}

// canonicalID rewrites any accepted UUID spelling into the lower-case form
// the store reports back. Other ids are returned as given.
func canonicalID(id string) string {
	if u, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return u.String()
	}
	return id
}

// dedupeIDs canonicalizes ids. unique holds each id once in input order and
// first[i] is the index in ids of the first occurrence of ids[i].
func dedupeIDs(ids []string) (canonical, unique []string, first []int) {
	seen := make(map[string]int, len(ids))
	canonical = make([]string, len(ids))
	first = make([]int, len(ids))
	for i, id := range ids {
		id = canonicalID(id)
		canonical[i] = id
		if j, ok := seen[id]; ok {
			first[i] = j
			continue
		}
		seen[id] = i
		first[i] = i
		unique = append(unique, id)
	}
	return canonical, unique, first
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
