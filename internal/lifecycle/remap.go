package lifecycle

import (
	"strings"

	"github.com/quizforge/backend/internal/models"
)

// LocaleRules rewrite locale codes for the legacy schema.
type LocaleRules struct {
	Renames map[string]string
	Dropped []string
}

func (r LocaleRules) dropped(language string) bool {
	for _, d := range r.Dropped {
		if strings.EqualFold(d, language) {
			return true
		}
	}
	return false
}

func (r LocaleRules) rename(language string) string {
	for from, to := range r.Renames {
		if strings.EqualFold(from, language) {
			return to
		}
	}
	return language
}

// ToLegacy projects a question onto the legacy schema under key. Dropped
// locales are removed, renamed locales take their new code (replacing a
// locale that already had it) and requiredLanguages is rebuilt from the
// remaining locales in order.
func ToLegacy(q models.Question, key int64, rules LocaleRules) models.LegacyQuestion {
	locales := []models.LegacyLocale{}
	index := make(map[string]int)
	for _, l := range q.Locales {
		if rules.dropped(l.Language) {
			continue
		}
		lang := rules.rename(l.Language)
		ll := models.LegacyLocale{
			Language: lang,
			Question: l.Question,
			Correct:  l.Correct.Value(),
			Wrong:    append([]string(nil), l.Wrong...),
			IsValid:  l.IsValid,
			Sources:  append([]string(nil), l.Sources...),
		}
		if q.Type == models.TypeMap {
			ll.Wrong = nil
		}
		k := strings.ToLower(lang)
		if i, ok := index[k]; ok {
			if !strings.EqualFold(lang, l.Language) {
				locales[i] = ll
			}
			continue
		}
		index[k] = len(locales)
		locales = append(locales, ll)
	}

	required := make([]string, len(locales))
	for i, l := range locales {
		required[i] = l.Language
	}
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}

	return models.LegacyQuestion{
		ID:                key,
		SourceID:          q.ID,
		CategoryID:        q.CategoryID,
		Status:            string(q.Status),
		Type:              string(q.Type),
		Difficulty:        q.Difficulty,
		RequiredLanguages: required,
		Locales:           locales,
		Tags:              tags,
		Track:             q.Track,
		AudioID:           q.AudioID,
		ImageID:           q.ImageID,
		AuthorID:          q.AuthorID,
		IsValid:           q.IsValid,
		CreatedAt:         q.CreatedAt,
		UpdatedAt:         q.UpdatedAt,
	}
}
