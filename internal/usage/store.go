// Package usage keeps the append-only log of billed completion tokens and
// translated characters.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/quizforge/backend/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert appends entries in one transaction.
func (s *Store) Insert(ctx context.Context, entries []models.UsageLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		ids := e.QuestionIDs
		if ids == nil {
			ids = []string{}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO usage_logs
			 (id, kind, subject_id, question_ids, units, source_language, target_language,
			  request_text, result_text, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Kind, e.SubjectID, pq.Array(ids), e.Units, e.SourceLanguage, e.TargetLanguage,
			e.RequestText, e.ResultText, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert usage %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, v any) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func filterWhere(f models.UsageFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.Kind != nil {
		w.add("kind = ?", *f.Kind)
	}
	if f.From != nil {
		w.add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= ?", *f.To)
	}
	if f.MinUnits != nil {
		w.add("units >= ?", *f.MinUnits)
	}
	if f.MaxUnits != nil {
		w.add("units <= ?", *f.MaxUnits)
	}
	return w
}

// List returns one page of entries, newest first, and the total count.
func (s *Store) List(ctx context.Context, f models.UsageFilter) ([]models.UsageLogEntry, int, error) {
	w := filterWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count usage: %w", err)
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	args := append(append([]any{}, w.args...), limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id::text, kind, subject_id, question_ids, units, source_language, target_language,
		        request_text, result_text, created_at
		 FROM usage_logs%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			w.String(), len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	entries := []models.UsageLogEntry{}
	for rows.Next() {
		var e models.UsageLogEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.SubjectID, pq.Array(&e.QuestionIDs), &e.Units,
			&e.SourceLanguage, &e.TargetLanguage, &e.RequestText, &e.ResultText, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan usage: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Totals sums units and counts requests, optionally for one kind.
func (s *Store) Totals(ctx context.Context, kind *models.UsageKind) (*models.UsageTotals, error) {
	w := filterWhere(models.UsageFilter{Kind: kind})
	t := &models.UsageTotals{Kind: kind}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(units), 0), COUNT(*) FROM usage_logs`+w.String(), w.args...,
	).Scan(&t.Units, &t.Requests)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// Clear deletes every entry, or every entry of one kind, and returns how
// many were removed.
func (s *Store) Clear(ctx context.Context, kind *models.UsageKind) (int64, error) {
	w := filterWhere(models.UsageFilter{Kind: kind})
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_logs`+w.String(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("clear usage: %w", err)
	}
	return res.RowsAffected()
}
