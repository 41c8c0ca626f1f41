package generator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/quizforge/backend/internal/models"
)

// StructuralScore holds soft structural checks for a single item. None of
// them rejects the item; they feed the batch warnings.
type StructuralScore struct {
	QuestionLengthOK      bool
	AnswersDistinct       bool
	AnswerLengthsBalanced bool
	SourceIsURL           bool
}

// ComputeStructuralScore evaluates structural compliance for a single item.
func ComputeStructuralScore(it GeneratedItem, t models.QuestionType) StructuralScore {
	qLen := len([]rune(strings.TrimSpace(it.Question)))

	distinct := true
	balanced := true
	if t == models.TypeChoice {
		seen := map[string]bool{strings.ToLower(strings.TrimSpace(it.Correct.Text)): true}
		for _, w := range it.Wrong {
			key := strings.ToLower(strings.TrimSpace(w))
			if seen[key] {
				distinct = false
			}
			seen[key] = true
		}

		// the correct answer should not stand out by length
		correctLen := len([]rune(it.Correct.Text))
		longest := 0
		for _, w := range it.Wrong {
			if n := len([]rune(w)); n > longest {
				longest = n
			}
		}
		balanced = longest == 0 || correctLen <= 2*longest
	}

	u, err := url.Parse(strings.TrimSpace(it.Source))
	sourceOK := err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""

	return StructuralScore{
		QuestionLengthOK:      qLen >= 15 && qLen <= 300,
		AnswersDistinct:       distinct,
		AnswerLengthsBalanced: balanced,
		SourceIsURL:           sourceOK,
	}
}

// Score returns the share of passed checks (0.0-1.0).
func (s StructuralScore) Score() float64 {
	score := 0.0
	for _, ok := range []bool{s.QuestionLengthOK, s.AnswersDistinct, s.AnswerLengthsBalanced, s.SourceIsURL} {
		if ok {
			score += 0.25
		}
	}
	return score
}

// ClassifyQuality returns "flagged" (< 0.75) or "passed".
func ClassifyQuality(score float64) string {
	if score < 0.75 {
		return "flagged"
	}
	return "passed"
}

// BatchWarnings lists soft problems in a parsed batch: flagged items and
// pairs of questions sharing more than 60% of their keywords.
func BatchWarnings(items []GeneratedItem, t models.QuestionType) []string {
	var warnings []string
	for i, it := range items {
		s := ComputeStructuralScore(it, t)
		if ClassifyQuality(s.Score()) == "flagged" {
			warnings = append(warnings, fmt.Sprintf("question %d flagged: %+v", i+1, s))
		}
	}

	if len(items) < 2 {
		return warnings
	}
	tokenSets := make([]map[string]bool, len(items))
	for i, it := range items {
		tokenSets[i] = tokenize(it.Question)
	}
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			overlap := jaccardSimilarity(tokenSets[i], tokenSets[j])
			if overlap > 0.60 {
				warnings = append(warnings, fmt.Sprintf("questions %d and %d have %.0f%% keyword overlap", i+1, j+1, overlap*100))
			}
		}
	}
	return warnings
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		// Skip very short words (articles, prepositions)
		if len([]rune(word)) > 3 {
			tokens[word] = true
		}
	}
	return tokens
}

func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
