package battle

import (
	"errors"
	"sort"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05"

var ErrNoModels = errors.New("battle needs at least one model")

// Score is one scorer's judgment of another model's answer.
type Score struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// ModelResponse is one model's answer in one round. Scores is keyed by scorer
// model and is filled only during that round's scoring phase.
type ModelResponse struct {
	Model      string
	Answer     string
	Latency    time.Duration
	TokenCount *int64
	Error      string
	Scores     map[string]Score
}

func (response ModelResponse) Failed() bool {
	return response.Error != ""
}

type BattleRound struct {
	Number    int
	Responses []ModelResponse
	Scores    map[string]float64
}

// BattleResult is finalized once after every round has run.
type BattleResult struct {
	Question    string
	Models      []string
	Rounds      []BattleRound
	FinalScores map[string]float64
	Winner      string
	FinalAnswer string
	Timestamp   time.Time
}

type Standing struct {
	Rank  int
	Model string
	Score float64
}

// Ranking orders models by final score, highest first; ties keep model order.
func (result BattleResult) Ranking() []Standing {
	standings := make([]Standing, 0, len(result.Models))
	for _, model := range result.Models {
		standings = append(standings, Standing{Model: model, Score: result.FinalScores[model]})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})
	for index := range standings {
		standings[index].Rank = index + 1
	}
	return standings
}

// Summary is the compact form returned by the tool server.
type Summary struct {
	Question    string             `json:"question"`
	FinalWinner string             `json:"final_winner"`
	FinalScores map[string]float64 `json:"final_scores"`
	FinalAnswer string             `json:"final_answer"`
	Timestamp   string             `json:"timestamp"`
	RoundsCount int                `json:"rounds_count"`
}

func (result BattleResult) Summary() Summary {
	return Summary{
		Question:    result.Question,
		FinalWinner: result.Winner,
		FinalScores: result.FinalScores,
		FinalAnswer: result.FinalAnswer,
		Timestamp:   result.Timestamp.Format(TimestampLayout),
		RoundsCount: len(result.Rounds),
	}
}
