package generator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/models"
)

// Import extracts pre-written questions from free-form text. Items that
// break the invariants are dropped and reported; the rest are persisted in
// the generated state.
func (g *Generator) Import(ctx context.Context, req models.ImportRequest) (*models.ImportResponse, error) {
	const op = "import"
	subject := strconv.FormatInt(req.Category, 10)

	var problems []string
	if strings.TrimSpace(req.Text) == "" {
		problems = append(problems, "text is required")
	}
	if strings.TrimSpace(req.Language) == "" {
		problems = append(problems, "language is required")
	}
	if !models.ValidTypes[req.Type] {
		problems = append(problems, fmt.Sprintf("invalid type %q", req.Type))
	}
	difficulty := req.Difficulty
	if difficulty == 0 {
		difficulty = g.cfg.DefaultDifficulty
	}
	if difficulty < 1 || difficulty > 5 {
		problems = append(problems, "difficulty must be between 1 and 5")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation(op, subject, problems...)
	}

	if _, err := g.store.GetCategory(ctx, req.Category); err != nil {
		return nil, err
	}

	prompt := BuildImportPrompt(req.Text, req.Language, req.Type)
	resp, err := g.llm.Complete(ctx, llm.Request{
		Model:  g.model(req.Model),
		System: ImportSystemPrompt(),
		Prompt: prompt,
		Schema: QuestionSchema(req.Type),
	})
	if err != nil {
		g.log.Error("import call failed", "op", op, "category_id", req.Category, "error", err)
		return nil, apperr.Upstream(op, subject, err)
	}

	valid, rejected, err := SplitValid(resp.Output, req.Type)
	if err != nil {
		g.usage.RecordGeneration(ctx, req.Category, nil, resp.TotalTokens(), prompt)
		return nil, toValidation(op, subject, err)
	}
	for _, r := range rejected {
		g.log.Warn("imported item dropped", "category_id", req.Category, "reason", r)
	}
	if len(valid) == 0 {
		g.usage.RecordGeneration(ctx, req.Category, nil, resp.TotalTokens(), prompt)
		if len(rejected) == 0 {
			rejected = []string{"no questions found in text"}
		}
		return nil, apperr.Validation(op, subject, rejected...)
	}

	questions := g.buildQuestions(valid, req.Category, req.Type, difficulty, req.Language)
	if err := g.store.InsertMany(ctx, questions); err != nil {
		g.usage.RecordGeneration(ctx, req.Category, nil, resp.TotalTokens(), prompt)
		g.log.Error("saving imported questions failed", "op", op, "category_id", req.Category, "error", err)
		return nil, apperr.Collaborator(op, subject, err)
	}
	g.usage.RecordGeneration(ctx, req.Category, questionIDs(questions), resp.TotalTokens(), prompt)

	g.log.Info("questions imported", "category_id", req.Category, "count", len(questions), "dropped", len(rejected))

	return &models.ImportResponse{
		Questions:       questions,
		Rejected:        rejected,
		TotalTokensUsed: resp.TotalTokens(),
	}, nil
}
