package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type QuestionStatus string

const (
	StatusGenerated    QuestionStatus = "generated"
	StatusProofReading QuestionStatus = "proof_reading"
	StatusApproved     QuestionStatus = "approved"
	StatusRejected     QuestionStatus = "rejected"
	StatusPending      QuestionStatus = "pending"
	StatusInProgress   QuestionStatus = "in_progress"
)

var ValidStatuses = map[QuestionStatus]bool{
	StatusGenerated:    true,
	StatusProofReading: true,
	StatusApproved:     true,
	StatusRejected:     true,
	StatusPending:      true,
	StatusInProgress:   true,
}

type QuestionType string

const (
	TypeChoice QuestionType = "choice"
	TypeMap    QuestionType = "map"
)

var ValidTypes = map[QuestionType]bool{
	TypeChoice: true,
	TypeMap:    true,
}

// WrongAnswerCount is the number of distractors every choice locale carries.
const WrongAnswerCount = 3

// ── Correct answer ─────────────────────────────────────

type CorrectKind int

const (
	CorrectText CorrectKind = iota + 1
	CorrectPoint
)

// Point is a geographic coordinate pair used by map questions.
type Point struct {
	Lat  float64
	Long float64
}

// Correct is the answer of a locale: free text for choice questions, a
// coordinate pair for map questions. The zero value is invalid.
type Correct struct {
	Kind  CorrectKind
	Text  string
	Point Point
}

func TextAnswer(text string) Correct {
	return Correct{Kind: CorrectText, Text: text}
}

func PointAnswer(lat, long float64) Correct {
	return Correct{Kind: CorrectPoint, Point: Point{Lat: lat, Long: long}}
}

func (c Correct) IsText() bool  { return c.Kind == CorrectText }
func (c Correct) IsPoint() bool { return c.Kind == CorrectPoint }

// Matches reports whether the answer shape fits the question type.
func (c Correct) Matches(t QuestionType) bool {
	switch t {
	case TypeChoice:
		return c.IsText()
	case TypeMap:
		return c.IsPoint()
	}
	return false
}

// String renders the answer the way it is sent to the completion service.
func (c Correct) String() string {
	switch c.Kind {
	case CorrectText:
		return c.Text
	case CorrectPoint:
		return fmt.Sprintf("[%g, %g]", c.Point.Lat, c.Point.Long)
	}
	return ""
}

// Value returns the legacy-schema representation: a string or a [lat, long] slice.
func (c Correct) Value() any {
	if c.IsPoint() {
		return []float64{c.Point.Lat, c.Point.Long}
	}
	return c.Text
}

func (c Correct) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CorrectText:
		return json.Marshal(c.Text)
	case CorrectPoint:
		return json.Marshal([2]float64{c.Point.Lat, c.Point.Long})
	}
	return nil, fmt.Errorf("correct answer has no value")
}

func (c *Correct) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = TextAnswer(text)
		return nil
	}
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("correct answer must be a string or a [lat, long] pair")
	}
	if len(pair) != 2 {
		return fmt.Errorf("correct answer pair must have 2 elements, got %d", len(pair))
	}
	*c = PointAnswer(pair[0], pair[1])
	return nil
}

// ── Core Structs ───────────────────────────────────────

type Locale struct {
	Language string   `json:"language"`
	Question string   `json:"question"`
	Correct  Correct  `json:"correct"`
	Wrong    []string `json:"wrong,omitempty"`
	IsValid  bool     `json:"isValid"`
	Sources  []string `json:"sources,omitempty"`
}

type Question struct {
	ID                string         `json:"id"`
	LegacyID          *int64         `json:"mainDbId,omitempty"`
	CategoryID        int64          `json:"categoryId"`
	Status            QuestionStatus `json:"status"`
	Type              QuestionType   `json:"type"`
	Difficulty        int            `json:"difficulty"`
	RequiredLanguages []string       `json:"requiredLanguages"`
	Locales           []Locale       `json:"locales"`
	Tags              []string       `json:"tags"`
	Track             *string        `json:"track,omitempty"`
	AudioID           *string        `json:"audioId,omitempty"`
	ImageID           *string        `json:"imageId,omitempty"`
	AuthorID          *string        `json:"authorId,omitempty"`
	IsValid           bool           `json:"isValid"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// OriginalLanguage is the language the question was first authored in.
func (q *Question) OriginalLanguage() string {
	if len(q.RequiredLanguages) > 0 {
		return q.RequiredLanguages[0]
	}
	return ""
}

// LocaleIndex returns the position of the locale for language, or -1.
func (q *Question) LocaleIndex(language string) int {
	for i, l := range q.Locales {
		if strings.EqualFold(l.Language, language) {
			return i
		}
	}
	return -1
}

// ReferenceLocale returns the locale matching language, falling back to the
// first locale. ok is false only when the question has no locales at all.
func (q *Question) ReferenceLocale(language string) (Locale, bool) {
	if len(q.Locales) == 0 {
		return Locale{}, false
	}
	if language != "" {
		if i := q.LocaleIndex(language); i >= 0 {
			return q.Locales[i], true
		}
	}
	return q.Locales[0], true
}

// UpsertLocale replaces the locale with the same language in place or
// appends it. It reports whether an existing entry was replaced.
func (q *Question) UpsertLocale(l Locale) bool {
	if i := q.LocaleIndex(l.Language); i >= 0 {
		q.Locales[i] = l
		return true
	}
	q.Locales = append(q.Locales, l)
	return false
}

// Promoted reports whether the question already has a legacy record.
func (q *Question) Promoted() bool {
	return q.LegacyID != nil
}

// Problems lists every structural invariant the question violates.
func (q *Question) Problems() []string {
	var problems []string
	if len(q.Locales) == 0 {
		problems = append(problems, "question has no locales")
	}
	if !ValidTypes[q.Type] {
		problems = append(problems, fmt.Sprintf("invalid type %q", q.Type))
	}
	if q.Difficulty < 1 || q.Difficulty > 5 {
		problems = append(problems, fmt.Sprintf("difficulty %d outside range [1, 5]", q.Difficulty))
	}
	for _, l := range q.Locales {
		problems = append(problems, l.Problems(q.Type)...)
	}
	return problems
}

// Problems checks a single locale against the question type.
func (l Locale) Problems(t QuestionType) []string {
	var problems []string
	prefix := fmt.Sprintf("locale %q", l.Language)
	if strings.TrimSpace(l.Language) == "" {
		problems = append(problems, "locale without language")
	}
	if strings.TrimSpace(l.Question) == "" {
		problems = append(problems, prefix+": empty question")
	}
	if !l.Correct.Matches(t) {
		problems = append(problems, fmt.Sprintf("%s: correct answer does not fit type %q", prefix, t))
	}
	switch t {
	case TypeMap:
		if len(l.Wrong) > 0 {
			problems = append(problems, prefix+": map question must not have wrong answers")
		}
		if l.Correct.IsPoint() {
			p := l.Correct.Point
			if p.Lat < -90 || p.Lat > 90 || p.Long < -180 || p.Long > 180 {
				problems = append(problems, fmt.Sprintf("%s: coordinates [%g, %g] out of range", prefix, p.Lat, p.Long))
			}
		}
	case TypeChoice:
		if len(l.Wrong) != WrongAnswerCount {
			problems = append(problems, fmt.Sprintf("%s: expected %d wrong answers, got %d", prefix, WrongAnswerCount, len(l.Wrong)))
		}
		if l.Correct.IsText() && strings.TrimSpace(l.Correct.Text) == "" {
			problems = append(problems, prefix+": empty correct answer")
		}
	}
	return problems
}

// ── Category ───────────────────────────────────────────

type CategoryLocale struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

type Category struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	ParentID  *int64           `json:"parentId,omitempty"`
	Ancestors []int64          `json:"ancestors"`
	Locales   []CategoryLocale `json:"locales"`
}

// DisplayName returns the localized name for language, or the canonical name.
func (c *Category) DisplayName(language string) string {
	for _, l := range c.Locales {
		if strings.EqualFold(l.Language, language) && l.Value != "" {
			return l.Value
		}
	}
	return c.Name
}

// Consistent reports whether the parent is the last ancestor.
func (c *Category) Consistent() bool {
	if c.ParentID == nil {
		return len(c.Ancestors) == 0
	}
	return len(c.Ancestors) > 0 && c.Ancestors[len(c.Ancestors)-1] == *c.ParentID
}

// ── Request Types ─────────────────────────────────────

type GenerateRequest struct {
	Prompt            string       `json:"prompt"`
	Count             int          `json:"count"`
	Category          int64        `json:"category"`
	Type              QuestionType `json:"type"`
	Difficulty        int          `json:"difficulty"`
	RequiredLanguages []string     `json:"requiredLanguages"`
	Temperature       *float64     `json:"temperature,omitempty"`
	Model             string       `json:"model,omitempty"`
}

// Locale is the single generation language.
func (r GenerateRequest) Locale() string {
	if len(r.RequiredLanguages) == 0 {
		return ""
	}
	return r.RequiredLanguages[0]
}

type ImportRequest struct {
	Text       string       `json:"text"`
	Language   string       `json:"language"`
	Type       QuestionType `json:"type"`
	Category   int64        `json:"category"`
	Difficulty int          `json:"difficulty"`
	Model      string       `json:"model,omitempty"`
}

type QuestionFilter struct {
	Status     *QuestionStatus
	Type       *QuestionType
	Difficulty *int
	CategoryID *int64
	Text       string
	Page       int
	Limit      int
}

// ValidityUpdate sets the validity of one locale and, when Aggregate is set,
// of the whole question. A non-empty Source is added to the locale sources.
type ValidityUpdate struct {
	Language  string
	IsValid   bool
	Aggregate bool
	Source    string
}

// ── Response Types ────────────────────────────────────

type GenerateResponse struct {
	Questions            []Question `json:"questions"`
	TotalTokensUsed      int        `json:"totalTokensUsed"`
	CompletionTokensUsed int        `json:"completionTokensUsed"`
}

type ImportResponse struct {
	Questions       []Question `json:"questions"`
	Rejected        []string   `json:"rejected,omitempty"`
	TotalTokensUsed int        `json:"totalTokensUsed"`
}

type QuestionListResponse struct {
	Questions  []Question `json:"questions"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
}

type ErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}
