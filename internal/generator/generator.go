package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/cache"
	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
)

// Store is the part of the question store the generator writes to.
type Store interface {
	InsertMany(ctx context.Context, questions []models.Question) error
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
}

// UsageRecorder meters completion-service tokens.
type UsageRecorder interface {
	RecordGeneration(ctx context.Context, categoryID int64, questionIDs []string, tokens int, prompt string)
}

type Config struct {
	Model             string
	DefaultDifficulty int
	MaxCount          int
}

// Generator turns prompts into persisted questions in the generated state.
type Generator struct {
	llm           llm.Client
	store         Store
	continuations *cache.Continuations
	usage         UsageRecorder
	cfg           Config
	log           *logger.Logger
	now           func() time.Time
}

func NewGenerator(client llm.Client, store Store, continuations *cache.Continuations, usage UsageRecorder, cfg Config, log *logger.Logger) *Generator {
	return &Generator{
		llm:           client,
		store:         store,
		continuations: continuations,
		usage:         usage,
		cfg:           cfg,
		log:           log.With("component", "Generator"),
		now:           time.Now,
	}
}

// Generate builds a prompt for the request, continues the category's
// conversation when one is cached and persists the parsed questions.
func (g *Generator) Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error) {
	const op = "generate"
	subject := strconv.FormatInt(req.Category, 10)

	difficulty, err := g.checkGenerateRequest(req)
	if err != nil {
		return nil, err
	}
	category, err := g.store.GetCategory(ctx, req.Category)
	if err != nil {
		return nil, err
	}

	locale := req.Locale()
	prompt := BuildGenerationPrompt(GenerationParams{
		Prompt:       req.Prompt,
		Count:        req.Count,
		CategoryName: category.DisplayName(locale),
		Type:         req.Type,
		Difficulty:   difficulty,
		Language:     locale,
	})

	handle := g.lookupHandle(ctx, req.Category)
	resp, err := g.complete(ctx, req, prompt, handle)
	if errors.Is(err, llm.ErrUnknownHandle) {
		g.log.Info("continuation handle expired upstream, starting fresh", "category_id", req.Category)
		g.evict(ctx, req.Category)
		handle = nil
		resp, err = g.complete(ctx, req, prompt, nil)
	}
	if err != nil {
		g.evict(ctx, req.Category)
		g.log.Error("generation call failed", "op", op, "category_id", req.Category, "continued", handle != nil, "error", err)
		return nil, apperr.Upstream(op, subject, err)
	}

	batch, err := ParseResponse(resp.Output, req.Type)
	if err != nil {
		// tokens were billed even though the output is unusable
		g.usage.RecordGeneration(ctx, req.Category, nil, resp.TotalTokens(), prompt)
		g.evict(ctx, req.Category)
		g.log.Error("generation output rejected", "op", op, "category_id", req.Category, "error", err)
		return nil, toValidation(op, subject, err)
	}

	items := batch.Questions
	if len(items) > req.Count {
		g.log.Warn("model returned extra questions, truncating", "category_id", req.Category, "requested", req.Count, "returned", len(items))
		items = items[:req.Count]
	} else if len(items) < req.Count {
		g.log.Warn("model returned fewer questions than requested", "category_id", req.Category, "requested", req.Count, "returned", len(items))
	}
	for _, w := range BatchWarnings(items, req.Type) {
		g.log.Warn("generated batch warning", "category_id", req.Category, "warning", w)
	}

	questions := g.buildQuestions(items, req.Category, req.Type, difficulty, locale)
	if err := g.store.InsertMany(ctx, questions); err != nil {
		g.usage.RecordGeneration(ctx, req.Category, nil, resp.TotalTokens(), prompt)
		g.evict(ctx, req.Category)
		g.log.Error("saving generated questions failed", "op", op, "category_id", req.Category, "error", err)
		return nil, apperr.Collaborator(op, subject, err)
	}

	g.usage.RecordGeneration(ctx, req.Category, questionIDs(questions), resp.TotalTokens(), prompt)

	// The conversation only moves forward once its questions are stored.
	if _, err := g.continuations.Commit(ctx, req.Category, handle, resp.HandleID, resp.TotalTokens()); err != nil {
		g.log.Warn("continuation not cached", "category_id", req.Category, "error", err)
	}

	g.log.Info("questions generated",
		"category_id", req.Category,
		"count", len(questions),
		"continued", handle != nil,
		"tokens_used", resp.TotalTokens(),
	)

	return &models.GenerateResponse{
		Questions:            questions,
		TotalTokensUsed:      resp.TotalTokens(),
		CompletionTokensUsed: resp.OutputTokens,
	}, nil
}

func (g *Generator) complete(ctx context.Context, req models.GenerateRequest, prompt string, handle *cache.Handle) (*llm.Response, error) {
	call := llm.Request{
		Model:       g.model(req.Model),
		Prompt:      prompt,
		Schema:      QuestionSchema(req.Type),
		Temperature: req.Temperature,
		Continuable: true,
	}
	if handle != nil {
		call.ContinueFrom = handle.HandleID
	} else {
		call.System = GenerationSystemPrompt()
	}
	return g.llm.Complete(ctx, call)
}

// ClearCache drops the category's conversation handle.
func (g *Generator) ClearCache(ctx context.Context, categoryID int64) error {
	if _, err := g.store.GetCategory(ctx, categoryID); err != nil {
		return err
	}
	if err := g.continuations.Evict(ctx, categoryID); err != nil {
		return fmt.Errorf("evict continuation: %w", err)
	}
	return nil
}

func (g *Generator) lookupHandle(ctx context.Context, categoryID int64) *cache.Handle {
	h, err := g.continuations.Lookup(ctx, categoryID)
	if err != nil {
		g.log.Warn("continuation lookup failed, starting fresh", "category_id", categoryID, "error", err)
		return nil
	}
	return h
}

func (g *Generator) evict(ctx context.Context, categoryID int64) {
	if err := g.continuations.Evict(ctx, categoryID); err != nil {
		g.log.Warn("continuation eviction failed", "category_id", categoryID, "error", err)
	}
}

func (g *Generator) checkGenerateRequest(req models.GenerateRequest) (int, error) {
	var problems []string
	if req.Count < 1 || req.Count > g.cfg.MaxCount {
		problems = append(problems, fmt.Sprintf("count must be between 1 and %d", g.cfg.MaxCount))
	}
	if req.Category <= 0 {
		problems = append(problems, "category is required")
	}
	if !models.ValidTypes[req.Type] {
		problems = append(problems, fmt.Sprintf("invalid type %q", req.Type))
	}
	if len(req.RequiredLanguages) != 1 || strings.TrimSpace(req.RequiredLanguages[0]) == "" {
		problems = append(problems, "requiredLanguages must contain exactly one language")
	}
	difficulty := req.Difficulty
	if difficulty == 0 {
		difficulty = g.cfg.DefaultDifficulty
	}
	if difficulty < 1 || difficulty > 5 {
		problems = append(problems, "difficulty must be between 1 and 5")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		problems = append(problems, "temperature must be between 0 and 2")
	}
	if len(problems) > 0 {
		return 0, apperr.Validation("generate", strconv.FormatInt(req.Category, 10), problems...)
	}
	return difficulty, nil
}

func (g *Generator) buildQuestions(items []GeneratedItem, categoryID int64, t models.QuestionType, difficulty int, language string) []models.Question {
	now := g.now().UTC()
	questions := make([]models.Question, 0, len(items))
	for _, it := range items {
		questions = append(questions, models.Question{
			ID:                uuid.NewString(),
			CategoryID:        categoryID,
			Status:            models.StatusGenerated,
			Type:              t,
			Difficulty:        difficulty,
			RequiredLanguages: []string{language},
			Locales:           []models.Locale{it.Locale(language)},
			Tags:              []string{},
			IsValid:           false,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return questions
}

func (g *Generator) model(requested string) string {
	if requested != "" {
		return requested
	}
	return g.cfg.Model
}

func questionIDs(questions []models.Question) []string {
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}

func toValidation(op, subject string, err error) error {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return apperr.Validation(op, subject, valErr.Errors...)
	}
	return apperr.Validation(op, subject, err.Error())
}
