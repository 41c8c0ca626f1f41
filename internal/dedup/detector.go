// Package dedup finds duplicate questions within a category, combining exact
// matches on normalized text with a semantic grouping by the completion
// service.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

type Store interface {
	ListByCategory(ctx context.Context, categoryID int64) ([]models.Question, error)
}

// UsageRecorder meters completion-service tokens spent on a subject.
type UsageRecorder interface {
	RecordCompletion(ctx context.Context, op, subjectID string, tokens int, request string)
}

// Result is recomputed on every call and never persisted.
type Result struct {
	Duplicates [][]string        `json:"duplicates"`
	Questions  []models.Question `json:"questions"`
}

type Detector struct {
	llm       llm.Client
	store     Store
	usage     UsageRecorder
	canonical string
	model     string
	log       *logger.Logger
}

func NewDetector(client llm.Client, store Store, usage UsageRecorder, canonicalLanguage, model string, log *logger.Logger) *Detector {
	return &Detector{
		llm:       client,
		store:     store,
		usage:     usage,
		canonical: canonicalLanguage,
		model:     model,
		log:       log.With("component", "DuplicateDetector"),
	}
}

// Detect loads every question of the category and groups duplicates.
func (d *Detector) Detect(ctx context.Context, categoryID int64) (*Result, error) {
	questions, err := d.store.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, apperr.Collaborator("detect_duplicates", strconv.FormatInt(categoryID, 10), err)
	}
	groups, err := d.Group(ctx, strconv.FormatInt(categoryID, 10), questions)
	if err != nil {
		return nil, err
	}
	return &Result{Duplicates: groups, Questions: questions}, nil
}

// Group returns disjoint clusters of duplicate question ids. The result is
// sorted, so equal inputs give equal outputs.
func (d *Detector) Group(ctx context.Context, subject string, questions []models.Question) ([][]string, error) {
	exact := ExactGroups(questions, d.canonical)
	if len(questions) < 2 {
		return MergeGroups(exact), nil
	}

	semantic, err := d.semanticGroups(ctx, subject, questions)
	if err != nil {
		d.log.Error("semantic duplicate grouping failed", "op", "detect_duplicates", "category_id", subject, "error", err)
		return nil, apperr.Upstream("detect_duplicates", subject, err)
	}
	return MergeGroups(exact, semantic), nil
}

// ExactGroups groups ids whose reference text (see referenceText) has the
// same normalized form in the same language.
func ExactGroups(questions []models.Question, language string) [][]string {
	byText := make(map[string][]string)
	var order []string
	for _, q := range questions {
		lang, text := referenceText(q, language)
		norm := NormalizeText(text)
		if norm == "" {
			continue
		}
		key := strings.ToLower(lang) + "\x00" + norm
		if _, seen := byText[key]; !seen {
			order = append(order, key)
		}
		byText[key] = append(byText[key], q.ID)
	}
	var groups [][]string
	for _, key := range order {
		if ids := byText[key]; len(ids) > 1 {
			groups = append(groups, ids)
		}
	}
	return groups
}

// referenceText is the text a question is compared by: its canonical-language
// locale, else its original-language locale, else its first locale.
func referenceText(q models.Question, canonical string) (string, string) {
	if i := q.LocaleIndex(canonical); i >= 0 {
		return q.Locales[i].Language, q.Locales[i].Question
	}
	l, ok := q.ReferenceLocale(q.OriginalLanguage())
	if !ok {
		return "", ""
	}
	return l.Language, l.Question
}

type semanticOutput struct {
	Groups [][]string `json:"groups"`
}

func semanticSchema() llm.Schema {
	return llm.Schema{
		Name:        llm.SchemaGroupDuplicates,
		Description: "Return groups of questions that ask the same thing",
		Properties: map[string]any{
			"groups": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"description": "Each group lists the exact texts of questions with equivalent meaning",
			},
		},
		Required: []string{"groups"},
	}
}

const semanticSystemPrompt = `You review a list of trivia questions for duplicates.

Two questions are duplicates when they ask for the same fact, even if the wording, word order or language differs. Questions about related but different facts are not duplicates.

Return every group of duplicates. Copy each question text exactly as given, without the index or language prefix. Leave out questions that have no duplicate. Return an empty list when there are none.`

func (d *Detector) semanticGroups(ctx context.Context, subject string, questions []models.Question) ([][]string, error) {
	idsByText := make(map[string][]string)
	idsByNorm := make(map[string][]string)
	var b strings.Builder
	n := 0
	for _, q := range questions {
		lang, text := referenceText(q, d.canonical)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. [%s] %s\n", n, lang, text)
		idsByText[text] = append(idsByText[text], q.ID)
		norm := NormalizeText(text)
		idsByNorm[norm] = append(idsByNorm[norm], q.ID)
	}
	if n < 2 {
		return nil, nil
	}

	prompt := "Questions:\n" + b.String()
	resp, err := d.llm.Complete(ctx, llm.Request{
		Model:  d.model,
		System: semanticSystemPrompt,
		Prompt: prompt,
		Schema: semanticSchema(),
	})
	if err != nil {
		return nil, err
	}
	d.usage.RecordCompletion(ctx, "detect_duplicates", subject, resp.TotalTokens(), prompt)

	var out semanticOutput
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		return nil, fmt.Errorf("decode duplicate groups: %w", err)
	}

	var groups [][]string
	for _, texts := range out.Groups {
		seen := make(map[string]bool)
		var ids []string
		for _, text := range texts {
			matched := idsByText[strings.TrimSpace(text)]
			if len(matched) == 0 {
				matched = idsByNorm[NormalizeText(text)]
			}
			if len(matched) == 0 {
				d.log.Debug("duplicate group text not found", "category_id", subject, "text", text)
				continue
			}
			for _, id := range matched {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if len(ids) > 1 {
			sort.Strings(ids)
			groups = append(groups, ids)
		}
	}
	return groups, nil
}
