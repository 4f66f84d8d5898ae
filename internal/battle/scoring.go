package battle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adriankopytko/toolchat/internal/tools"
)

const (
	maxCommentRunes  = 100
	missingComment   = "no comment"
	scoringPromptTag = "Score the following AI answer"
)

var firstNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

var scorePayloadSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":   map[string]any{"type": "number"},
		"comment": map[string]any{"type": "string"},
	},
	"required": []any{"score"},
}

var compiledScoreSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return tools.CompileSchema("score_payload", scorePayloadSchema)
})

// ScoringPrompt builds the fixed rubric prompt sent to a scorer.
func ScoringPrompt(question, answer string) string {
	return fmt.Sprintf(`%s and give a short review. Rubric:
1. Accuracy and completeness (40 points): does the answer address the question correctly and fully
2. Logic and structure (30 points): is the reasoning clear and well organized
3. Originality and depth (30 points): does it offer distinctive insight or deep analysis

Question: %s

Answer:
%s

Give a total score (0-100) and a short review.
Return only a JSON string with the fields score and comment, for example:
{"score": 85, "comment": "Accurate and complete with clear logic, slightly lacking in originality"}`, scoringPromptTag, question, answer)
}

// ParseScore reads a scorer's reply. A schema-valid {score, comment} object is
// used as is; anything else falls back to the first number in the text with a
// truncated excerpt as the comment.
func ParseScore(raw string) Score {
	if payload, ok := tools.ExtractJSONObject(raw); ok {
		if score, err := decodeScorePayload(payload); err == nil {
			return score
		}
	}
	return fallbackScore(raw)
}

func decodeScorePayload(payload string) (Score, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return Score{}, err
	}
	schema, err := compiledScoreSchema()
	if err != nil {
		return Score{}, err
	}
	if err := schema.Validate(decoded); err != nil {
		return Score{}, err
	}

	var typed struct {
		Score   float64 `json:"score"`
		Comment *string `json:"comment"`
	}
	if err := json.Unmarshal([]byte(payload), &typed); err != nil {
		return Score{}, err
	}
	comment := missingComment
	if typed.Comment != nil {
		comment = *typed.Comment
	}
	return Score{Score: typed.Score, Comment: comment}, nil
}

func fallbackScore(raw string) Score {
	score := 0.0
	if match := firstNumberPattern.FindString(raw); match != "" {
		if parsed, err := strconv.ParseFloat(match, 64); err == nil {
			score = parsed
		}
	}
	return Score{Score: score, Comment: truncateRunes(raw, maxCommentRunes)}
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
