package questions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/models"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const questionCols = `id, legacy_id, category_id, status, type, difficulty, required_languages,
	locales, tags, track, audio_id, image_id, author_id, is_valid, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var q models.Question
	var locales []byte
	if err := row.Scan(&q.ID, &q.LegacyID, &q.CategoryID, &q.Status, &q.Type, &q.Difficulty,
		pq.Array(&q.RequiredLanguages), &locales, pq.Array(&q.Tags),
		&q.Track, &q.AudioID, &q.ImageID, &q.AuthorID,
		&q.IsValid, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(locales, &q.Locales); err != nil {
		return nil, fmt.Errorf("decode locales of %s: %w", q.ID, err)
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}
	return &q, nil
}

func scanQuestions(rows *sql.Rows) ([]models.Question, error) {
	defer rows.Close()
	questions := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// ── Question Storage ────────────────────────────────────

// InsertMany stores questions in one transaction.
func (s *Store) InsertMany(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range questions {
		if problems := q.Problems(); len(problems) > 0 {
			return apperr.Validation("insert_questions", q.ID, problems...)
		}
		locales, err := json.Marshal(q.Locales)
		if err != nil {
			return fmt.Errorf("encode locales of %s: %w", q.ID, err)
		}
		tags := q.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions
			 (id, legacy_id, category_id, status, type, difficulty, required_languages,
			  locales, tags, track, audio_id, image_id, author_id, is_valid, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			q.ID, q.LegacyID, q.CategoryID, q.Status, q.Type, q.Difficulty, pq.Array(q.RequiredLanguages),
			locales, pq.Array(tags), q.Track, q.AudioID, q.ImageID, q.AuthorID,
			q.IsValid, q.CreatedAt, q.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (*models.Question, error) {
	if !validID(id) {
		return nil, apperr.NotFound("get_question", id)
	}
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get_question", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get question %s: %w", id, err)
	}
	return q, nil
}

// List returns one page of questions matching filter and the total count.
func (s *Store) List(ctx context.Context, filter models.QuestionFilter) ([]models.Question, int, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Status != nil {
		add("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		add("type = ?", *filter.Type)
	}
	if filter.Difficulty != nil {
		add("difficulty = ?", *filter.Difficulty)
	}
	if filter.CategoryID != nil {
		add("category_id = ?", *filter.CategoryID)
	}
	if t := strings.TrimSpace(filter.Text); t != "" {
		add("locales::text ILIKE ?", "%"+t+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	page, limit := paging(filter.Page, filter.Limit)
	args = append(args, limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			questionCols, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, 0, err
	}
	return questions, total, nil
}

// ListByCategory returns every question of a category, oldest first.
func (s *Store) ListByCategory(ctx context.Context, categoryID int64) ([]models.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE category_id = $1 ORDER BY created_at, id`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("list category %d: %w", categoryID, err)
	}
	return scanQuestions(rows)
}

// ── Locked Updates ──────────────────────────────────────

// Update loads the question under a row lock, applies fn and writes the
// locales, required languages and validity back. Nothing is written when fn
// fails.
func (s *Store) Update(ctx context.Context, id string, fn func(q *models.Question) error) (*models.Question, error) {
	if !validID(id) {
		return nil, apperr.NotFound("update_question", id)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q, err := scanQuestion(tx.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("update_question", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock question %s: %w", id, err)
	}

	if err := fn(q); err != nil {
		return nil, err
	}
	if problems := q.Problems(); len(problems) > 0 {
		return nil, apperr.Validation("update_question", id, problems...)
	}

	locales, err := json.Marshal(q.Locales)
	if err != nil {
		return nil, fmt.Errorf("encode locales of %s: %w", id, err)
	}
	q.UpdatedAt = s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE questions SET locales = $1, required_languages = $2, is_valid = $3, updated_at = $4
		 WHERE id = $5`,
		locales, pq.Array(q.RequiredLanguages), q.IsValid, q.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update question %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit question %s: %w", id, err)
	}
	return q, nil
}

// UpsertLocales replaces locales with the same language in place and appends
// the others.
func (s *Store) UpsertLocales(ctx context.Context, id string, locales ...models.Locale) (*models.Question, error) {
	return s.Update(ctx, id, func(q *models.Question) error {
		for _, l := range locales {
			q.UpsertLocale(l)
		}
		return nil
	})
}

func (s *Store) SetValidity(ctx context.Context, id string, upd models.ValidityUpdate) error {
	_, err := s.Update(ctx, id, func(q *models.Question) error {
		return ApplyValidity(q, upd)
	})
	return err
}

// ApplyValidity sets the validity of the locale named by upd and, for
// aggregate updates, of the question.
func ApplyValidity(q *models.Question, upd models.ValidityUpdate) error {
	i := q.LocaleIndex(upd.Language)
	if i < 0 {
		return apperr.NotFound("set_validity", q.ID+"/"+upd.Language)
	}
	q.Locales[i].IsValid = upd.IsValid
	if upd.Source != "" && !contains(q.Locales[i].Sources, upd.Source) {
		q.Locales[i].Sources = append(q.Locales[i].Sources, upd.Source)
	}
	if upd.Aggregate {
		q.IsValid = upd.IsValid
	}
	return nil
}

// ── Lifecycle ───────────────────────────────────────────

// TransitionStatus moves the questions among ids whose status is one of from
// to status to. It returns the ids that changed.
func (s *Store) TransitionStatus(ctx context.Context, ids []string, from []models.QuestionStatus, to models.QuestionStatus) ([]string, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`UPDATE questions SET status = $1, updated_at = $2
		 WHERE id = ANY($3::uuid[]) AND status = ANY($4)
		 RETURNING id::text`,
		to, s.now().UTC(), pq.Array(ids), pq.Array(statusStrings(from)))
	if err != nil {
		return nil, fmt.Errorf("transition to %s: %w", to, err)
	}
	return scanIDs(rows)
}

// DeleteInStatus deletes the questions among ids that are in status and
// returns the deleted ids.
func (s *Store) DeleteInStatus(ctx context.Context, ids []string, status models.QuestionStatus) ([]string, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM questions WHERE id = ANY($1::uuid[]) AND status = $2 RETURNING id::text`,
		pq.Array(ids), status)
	if err != nil {
		return nil, fmt.Errorf("delete %s questions: %w", status, err)
	}
	return scanIDs(rows)
}

// MarkPromoted records the legacy key and the promoted status.
func (s *Store) MarkPromoted(ctx context.Context, id string, legacyID int64, status models.QuestionStatus) error {
	if !validID(id) {
		return apperr.NotFound("mark_promoted", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET legacy_id = $1, status = $2, updated_at = $3 WHERE id = $4`,
		legacyID, status, s.now().UTC(), id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperr.Conflict("mark_promoted", id, fmt.Sprintf("legacy id %d belongs to another question", legacyID))
		}
		return fmt.Errorf("mark promoted %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mark_promoted", id)
	}
	return nil
}

// ── Categories ──────────────────────────────────────────

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	var locales []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, parent_id, ancestors, locales FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.ParentID, pq.Array(&c.Ancestors), &locales)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("get_category", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	if err := json.Unmarshal(locales, &c.Locales); err != nil {
		return nil, fmt.Errorf("decode category locales %d: %w", id, err)
	}
	return &c, nil
}

// CreateCategory inserts a category. A taken name is a conflict.
func (s *Store) CreateCategory(ctx context.Context, c models.Category) (*models.Category, error) {
	if !c.Consistent() {
		return nil, apperr.Validation("create_category", c.Name, "parent must be the last ancestor")
	}
	if c.Ancestors == nil {
		c.Ancestors = []int64{}
	}
	if c.Locales == nil {
		c.Locales = []models.CategoryLocale{}
	}
	locales, err := json.Marshal(c.Locales)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO categories (name, parent_id, ancestors, locales) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Name, c.ParentID, pq.Array(c.Ancestors), locales,
	).Scan(&c.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperr.Conflict("create_category", c.Name, "category name already exists")
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

// ── Helpers ─────────────────────────────────────────────

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validIDs drops ids that cannot name a question.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			out = append(out, id)
		}
	}
	return out
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func statusStrings(statuses []models.QuestionStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func paging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
