package models

import "time"

type UsageKind string

const (
	UsageGeneration  UsageKind = "generation"
	UsageCompletion  UsageKind = "completion"
	UsageTranslation UsageKind = "translation"
)

var ValidUsageKinds = map[UsageKind]bool{
	UsageGeneration:  true,
	UsageCompletion:  true,
	UsageTranslation: true,
}

// UsageLogEntry records one billed call. Units are tokens for completion
// calls and billed characters for translations. Entries are append-only.
type UsageLogEntry struct {
	ID             string    `json:"id"`
	Kind           UsageKind `json:"kind"`
	SubjectID      string    `json:"subjectId"`
	QuestionIDs    []string  `json:"questionIds,omitempty"`
	Units          int       `json:"units"`
	SourceLanguage *string   `json:"sourceLanguage,omitempty"`
	TargetLanguage *string   `json:"targetLanguage,omitempty"`
	RequestText    string    `json:"requestText"`
	ResultText     *string   `json:"resultText,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type UsageFilter struct {
	Kind     *UsageKind
	From     *time.Time
	To       *time.Time
	MinUnits *int
	MaxUnits *int
	Page     int
	Limit    int
}

type UsageTotals struct {
	Kind     *UsageKind `json:"kind,omitempty"`
	Units    int64      `json:"units"`
	Requests int64      `json:"requests"`
}

type UsageListResponse struct {
	Entries    []UsageLogEntry `json:"entries"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	TotalPages int             `json:"totalPages"`
}
