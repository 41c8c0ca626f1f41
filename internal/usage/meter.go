package usage

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

// Sink persists usage entries.
type Sink interface {
	Insert(ctx context.Context, entries []models.UsageLogEntry) error
}

// Meter records billed usage. A failed write is retried once and then logged;
// metering never fails the operation that was billed.
type Meter struct {
	sink       Sink
	log        *logger.Logger
	now        func() time.Time
	retryDelay time.Duration
}

func NewMeter(sink Sink, log *logger.Logger) *Meter {
	return &Meter{
		sink:       sink,
		log:        log.With("component", "UsageMeter"),
		now:        time.Now,
		retryDelay: 200 * time.Millisecond,
	}
}

// RecordGeneration links a category, the questions generated for it and the
// tokens billed for the prompt. questionIDs is empty when the output was
// rejected.
func (m *Meter) RecordGeneration(ctx context.Context, categoryID int64, questionIDs []string, tokens int, prompt string) {
	m.record(ctx, []models.UsageLogEntry{{
		Kind:        models.UsageGeneration,
		SubjectID:   strconv.FormatInt(categoryID, 10),
		QuestionIDs: questionIDs,
		Units:       tokens,
		RequestText: prompt,
	}})
}

// RecordCompletion logs tokens spent by a non-generation call (validation,
// duplicate grouping) on subjectID.
func (m *Meter) RecordCompletion(ctx context.Context, op, subjectID string, tokens int, request string) {
	m.record(ctx, []models.UsageLogEntry{{
		Kind:        models.UsageCompletion,
		SubjectID:   subjectID,
		Units:       tokens,
		RequestText: op + ": " + request,
	}})
}

// RecordTranslations logs one entry per translated string.
func (m *Meter) RecordTranslations(ctx context.Context, entries []models.UsageLogEntry) {
	for i := range entries {
		entries[i].Kind = models.UsageTranslation
	}
	m.record(ctx, entries)
}

func (m *Meter) record(ctx context.Context, entries []models.UsageLogEntry) {
	if len(entries) == 0 {
		return
	}
	now := m.now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	// the billed call already finished; a cancelled request must not lose it
	ctx = context.WithoutCancel(ctx)

	err := m.sink.Insert(ctx, entries)
	if err == nil {
		return
	}
	m.log.Warn("usage write failed, retrying", "kind", entries[0].Kind, "subject_id", entries[0].SubjectID, "error", err)
	time.Sleep(m.retryDelay)
	if err := m.sink.Insert(ctx, entries); err != nil {
		units := 0
		for _, e := range entries {
			units += e.Units
		}
		m.log.Warn("usage entries dropped", "kind", entries[0].Kind, "subject_id", entries[0].SubjectID,
			"entries", len(entries), "units", units, "error", err)
	}
}
