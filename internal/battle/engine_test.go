package battle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adriankopytko/toolchat/internal/llm"
)

func TestRun_TwoModelsTieGoesToFirst(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"qwen-turbo": "4", "qwen-max": "4"}
	client.scoreBy = map[string]string{
		"qwen-turbo": `{"score": 90, "comment": "correct"}`,
		"qwen-max":   `{"score": 90, "comment": "correct"}`,
	}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "What is 2+2?", []string{"qwen-turbo", "qwen-max"}, 1)
	require.NoError(t, err)

	require.Len(t, result.Rounds, 1)
	round := result.Rounds[0]
	require.Equal(t, 90.0, round.Scores["qwen-turbo"])
	require.Equal(t, 90.0, round.Scores["qwen-max"])
	require.Equal(t, map[string]float64{"qwen-turbo": 90, "qwen-max": 90}, result.FinalScores)
	require.Equal(t, "qwen-turbo", result.Winner)
	require.Equal(t, "4", result.FinalAnswer)

	require.Equal(t, "qwen-turbo", round.Responses[0].Model)
	require.Equal(t, Score{Score: 90, Comment: "correct"}, round.Responses[0].Scores["qwen-max"])
	require.NotContains(t, round.Responses[0].Scores, "qwen-turbo")
	require.NotNil(t, round.Responses[0].TokenCount)
	require.Equal(t, int64(12), *round.Responses[0].TokenCount)
	require.Equal(t, 2, client.scoringCalls())
	require.Equal(t, "What is 2+2?", result.Question)
	require.Equal(t, fixedNow, result.Timestamp)
}

func TestRun_RoundScoreIsMeanOfPeerScores(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a", "b": "answer-b", "c": "answer-c"}
	client.scoreFor = map[string]string{
		"b|answer-a": `{"score": 80, "comment": "good"}`,
		"c|answer-a": `{"score": 60, "comment": "fine"}`,
		"a|answer-b": `{"score": 50, "comment": "ok"}`,
		"c|answer-b": `{"score": 70, "comment": "ok"}`,
		"a|answer-c": `{"score": 40, "comment": "weak"}`,
		"b|answer-c": `{"score": 20, "comment": "weak"}`,
	}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "q", []string{"a", "b", "c"}, 1)
	require.NoError(t, err)

	scores := result.Rounds[0].Scores
	require.Equal(t, 70.0, scores["a"])
	require.Equal(t, 60.0, scores["b"])
	require.Equal(t, 30.0, scores["c"])
	require.Equal(t, "a", result.Winner)
	require.Equal(t, "answer-a", result.FinalAnswer)
	require.Equal(t, 6, client.scoringCalls())
}

func TestRun_FailedModelIsNeitherScorerNorScored(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a", "c": "answer-c"}
	client.answerErrs = map[string]error{"b": &llm.APIError{StatusCode: 429, Message: "rate limited"}}
	client.scoreFor = map[string]string{
		"c|answer-a": `{"score": 75, "comment": "solid"}`,
		"a|answer-c": `{"score": 65, "comment": "decent"}`,
	}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "q", []string{"a", "b", "c"}, 1)
	require.NoError(t, err)

	round := result.Rounds[0]
	require.Equal(t, 75.0, round.Scores["a"])
	require.Equal(t, 0.0, round.Scores["b"])
	require.Equal(t, 65.0, round.Scores["c"])
	require.Equal(t, 2, client.scoringCalls())

	failed := round.Responses[1]
	require.Equal(t, "b", failed.Model)
	require.True(t, failed.Failed())
	require.Contains(t, failed.Error, "rate limited")
	require.Empty(t, failed.Answer)
	require.Empty(t, failed.Scores)
	require.NotContains(t, round.Responses[0].Scores, "b")
}

func TestRun_FewerThanTwoValidAnswersSkipsScoring(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a"}
	client.answerErrs = map[string]error{"b": errors.New("timeout"), "c": errors.New("timeout")}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "q", []string{"a", "b", "c"}, 1)
	require.NoError(t, err)

	require.Equal(t, map[string]float64{"a": 0, "b": 0, "c": 0}, result.Rounds[0].Scores)
	require.Equal(t, 0, client.scoringCalls())
	require.Equal(t, "a", result.Winner)
	require.Equal(t, "answer-a", result.FinalAnswer)
}

func TestRun_EveryModelFailingStillProducesResult(t *testing.T) {
	client := newScriptedClient()
	client.answerErrs = map[string]error{"a": errors.New("down"), "b": errors.New("down")}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "q", []string{"a", "b"}, 2)
	require.NoError(t, err)

	require.Len(t, result.Rounds, 2)
	require.Equal(t, map[string]float64{"a": 0, "b": 0}, result.FinalScores)
	require.Equal(t, "a", result.Winner)
	require.Empty(t, result.FinalAnswer)
}

func TestRun_ScoringFailureScoresZero(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a", "b": "answer-b"}
	client.scoreFor = map[string]string{"a|answer-b": `{"score": 88, "comment": "nice"}`}
	client.scoreErrs = map[string]error{"b": errors.New("scorer offline")}
	engine := newTestEngine(client)

	result, err := engine.Run(context.Background(), "q", []string{"a", "b"}, 1)
	require.NoError(t, err)

	round := result.Rounds[0]
	require.Equal(t, 0.0, round.Scores["a"])
	require.Equal(t, 88.0, round.Scores["b"])
	require.Equal(t, 0.0, round.Responses[0].Scores["b"].Score)
	require.True(t, strings.HasPrefix(round.Responses[0].Scores["b"].Comment, "scoring failed: "))
	require.Equal(t, "b", result.Winner)
}

func TestRun_DefaultsAndRoundDelay(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a", "b": "answer-b"}
	client.scoreBy = map[string]string{"a": `{"score": 10}`, "b": `{"score": 20}`}
	engine := newTestEngine(client)

	var delays []time.Duration
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	result, err := engine.Run(context.Background(), "q", []string{"a", "b", "a"}, 0)
	require.NoError(t, err)

	require.Len(t, result.Rounds, DefaultRounds)
	require.Equal(t, []time.Duration{DefaultRoundDelay}, delays)
	require.Equal(t, []string{"a", "b"}, result.Models)
	require.Equal(t, 40.0, result.FinalScores["a"])
	require.Equal(t, 20.0, result.FinalScores["b"])
	require.Equal(t, "no comment", result.Rounds[0].Responses[0].Scores["b"].Comment)

	for _, request := range client.recorded() {
		require.Equal(t, DefaultMaxTokens, request.MaxTokens)
		require.NotNil(t, request.Temperature)
		require.Equal(t, DefaultTemperature, *request.Temperature)
		require.Empty(t, request.Tools)
	}
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	client := newScriptedClient()
	client.answers = map[string]string{"a": "answer-a", "b": "answer-b"}
	engine := newTestEngine(client)
	engine.sleep = nil
	engine.RoundDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, "q", []string{"a", "b"}, 2)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Rounds, 1)
}

func TestRun_RequiresModels(t *testing.T) {
	engine := newTestEngine(newScriptedClient())
	_, err := engine.Run(context.Background(), "q", []string{" ", ""}, 1)
	require.ErrorIs(t, err, ErrNoModels)
}

func TestFinalize_SumsRoundsAndPicksWinner(t *testing.T) {
	result := BattleResult{
		Models: []string{"a", "b", "c"},
		Rounds: []BattleRound{
			{Number: 1, Scores: map[string]float64{"a": 10, "b": 20, "c": 5}},
			{
				Number: 2,
				Scores: map[string]float64{"a": 20, "b": 25, "c": 5},
				Responses: []ModelResponse{
					{Model: "a", Answer: "last-a"},
					{Model: "b", Answer: "last-b"},
					{Model: "c", Answer: "last-c"},
				},
			},
		},
	}

	finalize(&result)
	require.Equal(t, map[string]float64{"a": 30, "b": 45, "c": 10}, result.FinalScores)
	require.Equal(t, "b", result.Winner)
	require.Equal(t, "last-b", result.FinalAnswer)

	result.Rounds[1].Responses[1] = ModelResponse{Model: "b", Error: "timeout"}
	finalize(&result)
	require.Equal(t, "b", result.Winner)
	require.Empty(t, result.FinalAnswer)
}

func TestRanking(t *testing.T) {
	result := BattleResult{
		Models:      []string{"a", "b", "c"},
		FinalScores: map[string]float64{"a": 10, "b": 45, "c": 10},
	}
	require.Equal(t, []Standing{
		{Rank: 1, Model: "b", Score: 45},
		{Rank: 2, Model: "a", Score: 10},
		{Rank: 3, Model: "c", Score: 10},
	}, result.Ranking())
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)

func newTestEngine(client llm.Client) *Engine {
	engine := NewEngine(client, nil)
	engine.now = func() time.Time { return fixedNow }
	engine.sleep = func(context.Context, time.Duration) error { return nil }
	return engine
}

// scriptedClient answers by model and, for scoring prompts, by scorer or by
// "scorer|subject-answer".
type scriptedClient struct {
	mu         sync.Mutex
	answers    map[string]string
	answerErrs map[string]error
	scoreBy    map[string]string
	scoreFor   map[string]string
	scoreErrs  map[string]error
	requests   []llm.CompletionRequest
	scoring    int
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{}
}

func (client *scriptedClient) Complete(ctx context.Context, request llm.CompletionRequest) (llm.CompletionOutcome, error) {
	prompt := request.Messages[0].Content
	isScoring := strings.HasPrefix(prompt, scoringPromptTag)

	client.mu.Lock()
	client.requests = append(client.requests, request)
	if isScoring {
		client.scoring++
	}
	client.mu.Unlock()

	if !isScoring {
		if err := client.answerErrs[request.Model]; err != nil {
			return llm.CompletionOutcome{}, err
		}
		outcome := llm.PlainAnswer(client.answers[request.Model])
		outcome.Usage = &llm.Usage{TotalTokens: 12}
		return outcome, nil
	}

	if err := client.scoreErrs[request.Model]; err != nil {
		return llm.CompletionOutcome{}, err
	}
	for key, reply := range client.scoreFor {
		scorer, subjectAnswer, _ := strings.Cut(key, "|")
		if scorer == request.Model && strings.Contains(prompt, "Answer:\n"+subjectAnswer+"\n") {
			return llm.PlainAnswer(reply), nil
		}
	}
	return llm.PlainAnswer(client.scoreBy[request.Model]), nil
}

func (client *scriptedClient) scoringCalls() int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.scoring
}

func (client *scriptedClient) recorded() []llm.CompletionRequest {
	client.mu.Lock()
	defer client.mu.Unlock()
	return append([]llm.CompletionRequest(nil), client.requests...)
}
