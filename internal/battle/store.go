package battle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const DefaultResultFile = "battle_result.json"

var validResultFilePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}\.json$`)

type ResultStore interface {
	Save(filename string, result BattleResult) (string, error)
	Load(filename string) (BattleResult, error)
}

// JSONFileStore writes one indented JSON document per battle. Saving under an
// existing name overwrites it.
type JSONFileStore struct {
	resultsDir string
}

type resultDocument struct {
	Question    string             `json:"question"`
	Models      []string           `json:"models"`
	FinalWinner string             `json:"final_winner"`
	FinalScores map[string]float64 `json:"final_scores"`
	FinalAnswer string             `json:"final_answer"`
	Timestamp   string             `json:"timestamp"`
	Rounds      []roundDocument    `json:"rounds"`
}

type roundDocument struct {
	RoundNumber int                `json:"round_number"`
	Scores      map[string]float64 `json:"scores"`
	Responses   []responseDocument `json:"responses"`
}

type responseDocument struct {
	ModelName    string           `json:"model_name"`
	Response     string           `json:"response"`
	Scores       map[string]Score `json:"scores"`
	ResponseTime float64          `json:"response_time"`
	TokenCount   *int64           `json:"token_count"`
	Error        *string          `json:"error"`
}

func NewJSONFileStore() *JSONFileStore {
	return &JSONFileStore{resultsDir: "."}
}

func NewJSONFileStoreWithDir(resultsDir string) *JSONFileStore {
	trimmedDir := strings.TrimSpace(resultsDir)
	if trimmedDir == "" {
		trimmedDir = "."
	}
	return &JSONFileStore{resultsDir: trimmedDir}
}

func normalizeResultFile(filename string) (string, error) {
	trimmed := strings.TrimSpace(filename)
	if trimmed == "" {
		return DefaultResultFile, nil
	}
	if !validResultFilePattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid result file name %q: use 1-128 chars [A-Za-z0-9._-] ending in .json", trimmed)
	}
	return trimmed, nil
}

func (store *JSONFileStore) resultFilePath(filename string) (string, error) {
	normalized, err := normalizeResultFile(filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(store.resultsDir, normalized), nil
}

func (store *JSONFileStore) Save(filename string, result BattleResult) (string, error) {
	path, err := store.resultFilePath(filename)
	if err != nil {
		return "", err
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(toDocument(result)); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (store *JSONFileStore) Load(filename string) (BattleResult, error) {
	path, err := store.resultFilePath(filename)
	if err != nil {
		return BattleResult{}, err
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return BattleResult{}, err
	}
	var document resultDocument
	if err := json.Unmarshal(payload, &document); err != nil {
		return BattleResult{}, err
	}
	return fromDocument(document)
}

func toDocument(result BattleResult) resultDocument {
	document := resultDocument{
		Question:    result.Question,
		Models:      result.Models,
		FinalWinner: result.Winner,
		FinalScores: result.FinalScores,
		FinalAnswer: result.FinalAnswer,
		Timestamp:   result.Timestamp.Format(TimestampLayout),
		Rounds:      make([]roundDocument, 0, len(result.Rounds)),
	}
	for _, round := range result.Rounds {
		roundDoc := roundDocument{
			RoundNumber: round.Number,
			Scores:      round.Scores,
			Responses:   make([]responseDocument, 0, len(round.Responses)),
		}
		for _, response := range round.Responses {
			responseDoc := responseDocument{
				ModelName:    response.Model,
				Response:     response.Answer,
				Scores:       response.Scores,
				ResponseTime: response.Latency.Seconds(),
				TokenCount:   response.TokenCount,
			}
			if response.Failed() {
				message := response.Error
				responseDoc.Error = &message
			}
			roundDoc.Responses = append(roundDoc.Responses, responseDoc)
		}
		document.Rounds = append(document.Rounds, roundDoc)
	}
	return document
}

func fromDocument(document resultDocument) (BattleResult, error) {
	timestamp, err := time.ParseInLocation(TimestampLayout, document.Timestamp, time.Local)
	if err != nil {
		return BattleResult{}, fmt.Errorf("parse timestamp: %w", err)
	}
	result := BattleResult{
		Question:    document.Question,
		Models:      document.Models,
		FinalScores: document.FinalScores,
		Winner:      document.FinalWinner,
		FinalAnswer: document.FinalAnswer,
		Timestamp:   timestamp,
	}
	for _, roundDoc := range document.Rounds {
		round := BattleRound{Number: roundDoc.RoundNumber, Scores: roundDoc.Scores}
		for _, responseDoc := range roundDoc.Responses {
			response := ModelResponse{
				Model:      responseDoc.ModelName,
				Answer:     responseDoc.Response,
				Scores:     responseDoc.Scores,
				Latency:    time.Duration(responseDoc.ResponseTime * float64(time.Second)),
				TokenCount: responseDoc.TokenCount,
			}
			if responseDoc.Error != nil {
				response.Error = *responseDoc.Error
			}
			round.Responses = append(round.Responses, response)
		}
		result.Rounds = append(result.Rounds, round)
	}
	return result, nil
}
