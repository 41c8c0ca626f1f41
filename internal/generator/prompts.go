package generator

import (
	"fmt"
	"strings"

	"github.com/quizforge/backend/internal/llm"
	"github.com/quizforge/backend/internal/models"
)

// GenerationParams are the inputs of a generation prompt.
type GenerationParams struct {
	Prompt       string
	Count        int
	CategoryName string
	Type         models.QuestionType
	Difficulty   int
	Language     string
}

var difficultyLabels = map[int]string{
	1: "very easy: common knowledge most adults know",
	2: "easy: familiar to anyone with a casual interest in the topic",
	3: "medium: requires some specific knowledge of the topic",
	4: "hard: requires solid knowledge of the topic",
	5: "very hard: expert-level detail",
}

func DifficultyLabel(d int) string {
	if l, ok := difficultyLabels[d]; ok {
		return l
	}
	return difficultyLabels[3]
}

func GenerationSystemPrompt() string {
	return `You are an experienced trivia editor writing questions for a multilingual quiz game.

Every question you write must:
- Be a single, unambiguous question with exactly one defensible answer
- Be factually correct and verifiable in a reliable public source (encyclopedias, official or government websites, reputable news outlets)
- Be self-contained: no references to images, earlier questions or "the text above"
- Be written entirely in the requested language, including all answers
- Never repeat a question you already produced earlier in this conversation, even with different wording

CHOICE QUESTIONS:
- "correct" is the single correct answer as a short phrase
- "wrong" contains exactly 3 incorrect answers
- Wrong answers are plausible for the same category and of the same kind as the correct answer (a year for a year, a person for a person)
- No answer may be a substring or rewording of another

MAP QUESTIONS:
- The question asks where something is located on a world map
- "correct" is the [latitude, longitude] pair of the location in decimal degrees
- Map questions have no wrong answers

SOURCES:
- "source" is the URL of a page that confirms the correct answer
- Prefer Wikipedia, Britannica or official sites; never invent a URL`
}

// BuildGenerationPrompt renders the user turn of a generation call. It is
// also the text sent when continuing a conversation.
func BuildGenerationPrompt(p GenerationParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate exactly %d %s questions.\n\n", p.Count, p.Type)
	fmt.Fprintf(&b, "Category: %s\n", p.CategoryName)
	fmt.Fprintf(&b, "Difficulty: %d of 5 (%s)\n", p.Difficulty, DifficultyLabel(p.Difficulty))
	fmt.Fprintf(&b, "Language: %s\n", p.Language)
	if strings.TrimSpace(p.Prompt) != "" {
		fmt.Fprintf(&b, "Topic instructions: %s\n", strings.TrimSpace(p.Prompt))
	}
	b.WriteString("\nEvery question must set \"language\" to \"" + p.Language + "\" and cite one source URL for fact-checking.")
	if p.Type == models.TypeChoice {
		fmt.Fprintf(&b, " Every question must have exactly %d wrong answers.", models.WrongAnswerCount)
	}
	return b.String()
}

func ImportSystemPrompt() string {
	return `You convert pre-written quiz questions into structured data.

The input is free-form text copied from documents or spreadsheets. It may contain numbering, bullets, answer letters and formatting noise.

For every question you find:
- Extract the question text and its answers
- Detect the correct answer from markers in the text: checkmarks (✓, ✔, +, *), bold markers, or words such as "correct", "right", "true", "richtig", "correcto", "correct", "правильно", "вірно", "poprawna", "doğru"
- Treat answers marked "incorrect", "wrong", "false", "falsch", "неправильно", "błędna" as wrong answers
- When no answer is marked, choose the correct one from your own knowledge
- If the question is not in the target language, translate the question and every answer into it
- For choice questions return exactly 3 wrong answers: drop the least plausible extras, or write new plausible ones when fewer are given
- Cite one source URL confirming the correct answer
- Skip fragments that are not questions`
}

func BuildImportPrompt(text, language string, t models.QuestionType) string {
	return fmt.Sprintf(`Target language: %s
Question type: %s

Text to convert:
"""
%s
"""`, language, t, strings.TrimSpace(text))
}

// QuestionSchema is the strict output contract for generated or imported
// questions of type t.
func QuestionSchema(t models.QuestionType) llm.Schema {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
	}
	props := map[string]any{
		"language": map[string]any{"type": "string", "description": "Language code of the question, e.g. en"},
		"question": map[string]any{"type": "string", "description": "The question text"},
		"source":   map[string]any{"type": "string", "description": "URL of a page confirming the correct answer"},
	}

	name := llm.SchemaCreateChoiceQuestions
	required := []string{"language", "question", "correct", "wrong", "source"}
	if t == models.TypeMap {
		name = llm.SchemaCreateMapQuestions
		required = []string{"language", "question", "correct", "source"}
		props["correct"] = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "number"},
			"minItems":    2,
			"maxItems":    2,
			"description": "[latitude, longitude] of the answer in decimal degrees",
		}
	} else {
		props["correct"] = map[string]any{"type": "string", "description": "The correct answer"}
		props["wrong"] = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"minItems":    models.WrongAnswerCount,
			"maxItems":    models.WrongAnswerCount,
			"description": "Exactly 3 incorrect answers",
		}
	}
	item["properties"] = props
	item["required"] = required

	return llm.Schema{
		Name:        name,
		Description: fmt.Sprintf("Return the %s questions", t),
		Properties: map[string]any{
			"questions": map[string]any{"type": "array", "items": item},
		},
		Required: []string{"questions"},
	}
}
