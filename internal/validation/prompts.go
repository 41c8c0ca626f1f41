package validation

import (
	"fmt"
	"strings"

	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/models"
)

// ── Correctness ────────────────────────────────────────

const correctnessSystemPrompt = `You are a meticulous fact checker for a trivia game. You are given one question, the answer marked correct and, for multiple-choice questions, the wrong answers.

Search the web before you answer. Decide whether the marked answer is correct, unambiguous and the only correct answer among the options. Cite the single most authoritative page you used as "source".

If the question is valid, set "isValid" to true and "suggestion" to null. If it is not, set "isValid" to false and provide a corrected question in "suggestion", written in the same language as the original.`

func buildCorrectnessPrompt(t models.QuestionType, l models.Locale) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "LANGUAGE: %s\n\n", l.Language)
	sb.WriteString("QUESTION:\n")
	sb.WriteString(l.Question)
	sb.WriteString("\n\n")

	switch t {
	case models.TypeMap:
		fmt.Fprintf(&sb, "MARKED CORRECT LOCATION (latitude, longitude): %s\n", l.Correct)
		sb.WriteString("\nThe answer is a point on a map. Check that the coordinates identify the place the question asks for.\n")
	default:
		fmt.Fprintf(&sb, "MARKED CORRECT: %s\n\n", l.Correct)
		sb.WriteString("WRONG ANSWERS:\n")
		for i, w := range l.Wrong {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, w)
		}
		sb.WriteString("\nEvery wrong answer must be clearly wrong.\n")
	}

	if len(l.Sources) > 0 {
		sb.WriteString("\nSOURCES CITED BY THE AUTHOR:\n")
		for _, s := range l.Sources {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// ── Translation ────────────────────────────────────────

const translationSystemPrompt = `You review translations of trivia questions. You are given a reference version and a translated version of the same question.

The translation is valid when it asks exactly the same thing, keeps the same correct answer and wrong answers, reads naturally for a native speaker and does not give the answer away.

If it is valid, set "isValid" to true and return an empty "suggestions" list. Otherwise set "isValid" to false and return one or more improved translations in the target language.`

func buildTranslationPrompt(t models.QuestionType, ref, target models.Locale) string {
	var sb strings.Builder
	writeLocale(&sb, "REFERENCE", t, ref)
	sb.WriteString("\n")
	writeLocale(&sb, "TRANSLATION", t, target)
	if t == models.TypeMap {
		sb.WriteString("\nThis is a map question. Only the question text is translated; the coordinates are fixed.\n")
	}
	return sb.String()
}

func writeLocale(sb *strings.Builder, title string, t models.QuestionType, l models.Locale) {
	fmt.Fprintf(sb, "%s (%s):\n", title, l.Language)
	fmt.Fprintf(sb, "Question: %s\n", l.Question)
	fmt.Fprintf(sb, "Correct: %s\n", l.Correct)
	if t == models.TypeChoice {
		fmt.Fprintf(sb, "Wrong: %s\n", strings.Join(l.Wrong, " | "))
	}
}

// ── Schemas ────────────────────────────────────────────

// localeItem is the JSON schema of a suggested locale for question type t.
func localeItem(t models.QuestionType) map[string]any {
	props := map[string]any{
		"question": map[string]any{"type": "string"},
	}
	required := []string{"question", "correct"}
	if t == models.TypeMap {
		props["correct"] = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "number"},
			"minItems":    2,
			"maxItems":    2,
			"description": "[latitude, longitude]",
		}
	} else {
		props["correct"] = map[string]any{"type": "string"}
		props["wrong"] = map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"minItems": models.WrongAnswerCount,
			"maxItems": models.WrongAnswerCount,
		}
		required = append(required, "wrong")
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func correctnessSchema(t models.QuestionType) llm.Schema {
	suggestion := localeItem(t)
	suggestion["type"] = []string{"object", "null"}
	return llm.Schema{
		Name:        llm.SchemaValidateQuestion,
		Description: "Report whether the question and its marked answer are factually correct",
		Properties: map[string]any{
			"isValid":    map[string]any{"type": "boolean"},
			"source":     map[string]any{"type": "string", "description": "URL of the page that confirms or refutes the answer"},
			"suggestion": suggestion,
		},
		Required: []string{"isValid", "source", "suggestion"},
	}
}

func translationSchema(t models.QuestionType) llm.Schema {
	return llm.Schema{
		Name:        llm.SchemaValidateTranslation,
		Description: "Report whether the translation is faithful to the reference",
		Properties: map[string]any{
			"isValid": map[string]any{"type": "boolean"},
			"suggestions": map[string]any{
				"type":  "array",
				"items": localeItem(t),
			},
		},
		Required: []string{"isValid", "suggestions"},
	}
}
