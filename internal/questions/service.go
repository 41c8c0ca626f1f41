package questions

import (
	"context"
	"strings"

	"github.com/quizforge/backend/internal/dedup"
	"github.com/quizforge/backend/internal/lifecycle"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/models"
	"github.com/quizforge/backend/internal/translation"
	"github.com/quizforge/backend/internal/validation"
)

// Reader is the query side of the question store.
type Reader interface {
	Get(ctx context.Context, id string) (*models.Question, error)
	List(ctx context.Context, filter models.QuestionFilter) ([]models.Question, int, error)
}

type Generator interface {
	Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error)
	Import(ctx context.Context, req models.ImportRequest) (*models.ImportResponse, error)
	ClearCache(ctx context.Context, categoryID int64) error
}

type DuplicateDetector interface {
	Detect(ctx context.Context, categoryID int64) (*dedup.Result, error)
}

type Validator interface {
	ValidateCorrectness(ctx context.Context, id string) (*validation.CorrectnessResult, error)
	ValidateMany(ctx context.Context, ids []string) ([]validation.CorrectnessResult, error)
	ValidateTranslation(ctx context.Context, id, language string) (*validation.TranslationResult, error)
	ValidateTranslations(ctx context.Context, ids []string, language string) ([]validation.TranslationResult, error)
}

type Translator interface {
	TranslateMany(ctx context.Context, id string, languages []string) ([]translation.LocaleResult, error)
}

type Lifecycle interface {
	Confirm(ctx context.Context, id string) (*lifecycle.ConfirmResult, error)
	ConfirmMany(ctx context.Context, ids []string) ([]lifecycle.ConfirmResult, error)
	Reject(ctx context.Context, id string) (*lifecycle.RejectResult, error)
	RejectMany(ctx context.Context, ids []string) (*lifecycle.RejectResult, error)
	Promote(ctx context.Context, id string) (*lifecycle.PromoteResult, error)
}

type UsageStats interface {
	List(ctx context.Context, f models.UsageFilter) ([]models.UsageLogEntry, int, error)
	Totals(ctx context.Context, kind *models.UsageKind) (*models.UsageTotals, error)
	Clear(ctx context.Context, kind *models.UsageKind) (int64, error)
}

// Deps wires the pipeline components behind the service.
type Deps struct {
	Reader          Reader
	Generator       Generator
	Detector        DuplicateDetector
	Validator       Validator
	Translator      Translator
	Lifecycle       Lifecycle
	Usage           UsageStats
	RequiredLocales []string
}

// Service is the entry point the HTTP layer calls into. It holds no state
// of its own.
type Service struct {
	Deps
	log *logger.Logger
}

func NewService(deps Deps, log *logger.Logger) *Service {
	return &Service{Deps: deps, log: log.With("component", "QuestionService")}
}

func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error) {
	return s.Generator.Generate(ctx, req)
}

func (s *Service) Import(ctx context.Context, req models.ImportRequest) (*models.ImportResponse, error) {
	return s.Generator.Import(ctx, req)
}

func (s *Service) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	return s.Reader.Get(ctx, id)
}

func (s *Service) ListQuestions(ctx context.Context, filter models.QuestionFilter) (*models.QuestionListResponse, error) {
	questions, total, err := s.Reader.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []models.Question{}
	}
	page, limit := paging(filter.Page, filter.Limit)
	return &models.QuestionListResponse{
		Questions:  questions,
		Total:      total,
		Page:       page,
		TotalPages: totalPages(total, limit),
	}, nil
}

// Translate translates the question into languages, or into every required
// locale other than its reference language when none are given.
func (s *Service) Translate(ctx context.Context, id string, languages []string) ([]translation.LocaleResult, error) {
	if len(languages) == 0 {
		q, err := s.Reader.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		ref, _ := q.ReferenceLocale(q.OriginalLanguage())
		for _, l := range s.RequiredLocales {
			if !strings.EqualFold(l, ref.Language) {
				languages = append(languages, l)
			}
		}
	}
	return s.Translator.TranslateMany(ctx, id, languages)
}

func (s *Service) Validate(ctx context.Context, id string) (*validation.CorrectnessResult, error) {
	return s.Validator.ValidateCorrectness(ctx, id)
}

func (s *Service) ValidateMany(ctx context.Context, ids []string) ([]validation.CorrectnessResult, error) {
	return s.Validator.ValidateMany(ctx, ids)
}

func (s *Service) ValidateTranslation(ctx context.Context, id, language string) (*validation.TranslationResult, error) {
	return s.Validator.ValidateTranslation(ctx, id, language)
}

func (s *Service) ValidateTranslations(ctx context.Context, ids []string, language string) ([]validation.TranslationResult, error) {
	return s.Validator.ValidateTranslations(ctx, ids, language)
}

func (s *Service) Confirm(ctx context.Context, id string) (*lifecycle.ConfirmResult, error) {
	return s.Lifecycle.Confirm(ctx, id)
}

func (s *Service) ConfirmMany(ctx context.Context, ids []string) ([]lifecycle.ConfirmResult, error) {
	return s.Lifecycle.ConfirmMany(ctx, ids)
}

func (s *Service) Reject(ctx context.Context, id string) (*lifecycle.RejectResult, error) {
	return s.Lifecycle.Reject(ctx, id)
}

func (s *Service) RejectMany(ctx context.Context, ids []string) (*lifecycle.RejectResult, error) {
	return s.Lifecycle.RejectMany(ctx, ids)
}

func (s *Service) Promote(ctx context.Context, id string) (*lifecycle.PromoteResult, error) {
	return s.Lifecycle.Promote(ctx, id)
}

func (s *Service) Duplicates(ctx context.Context, categoryID int64) (*dedup.Result, error) {
	return s.Detector.Detect(ctx, categoryID)
}

// ClearCache drops the category's continuation so the next generation
// starts a fresh conversation.
func (s *Service) ClearCache(ctx context.Context, categoryID int64) error {
	if err := s.Generator.ClearCache(ctx, categoryID); err != nil {
		return err
	}
	s.log.Info("continuation cleared", "op", "clear_cache", "category_id", categoryID)
	return nil
}

func (s *Service) UsageLog(ctx context.Context, filter models.UsageFilter) (*models.UsageListResponse, error) {
	entries, total, err := s.Usage.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.UsageLogEntry{}
	}
	page, limit := paging(filter.Page, filter.Limit)
	return &models.UsageListResponse{
		Entries:    entries,
		Total:      total,
		Page:       page,
		TotalPages: totalPages(total, limit),
	}, nil
}

func (s *Service) UsageTotals(ctx context.Context, kind *models.UsageKind) (*models.UsageTotals, error) {
	return s.Usage.Totals(ctx, kind)
}

func (s *Service) ClearUsage(ctx context.Context, kind *models.UsageKind) (int64, error) {
	n, err := s.Usage.Clear(ctx, kind)
	if err != nil {
		return 0, err
	}
	s.log.Info("usage log cleared", "op", "clear_usage", "deleted", n)
	return n, nil
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
