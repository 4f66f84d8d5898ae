package toolserver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adriankopytko/toolchat/internal/battle"
	"github.com/adriankopytko/toolchat/internal/llm"
)

func TestBattleRunner_RejectsUnsupportedModels(t *testing.T) {
	runner := NewBattleRunner(battle.NewEngine(&battleClient{}, nil), BattleOptions{}, nil)

	_, err := runner.Run(context.Background(), "which grain is best?", []string{"gpt-x", " "})
	require.ErrorIs(t, err, ErrNoSupportedModels)
}

func TestBattleRunner_ReturnsSummary(t *testing.T) {
	client := &battleClient{scores: map[string]string{"qwen-turbo": `{"score": 70}`, "qwen-max": `{"score": 90}`}}
	runner := NewBattleRunner(quickEngine(client), BattleOptions{Rounds: 1}, nil)

	summary, err := runner.Run(context.Background(), "how do I boil an egg?", []string{"qwen-turbo", "unknown", "qwen-max"})
	require.NoError(t, err)

	require.Equal(t, "how do I boil an egg?", summary.Question)
	require.Equal(t, 1, summary.RoundsCount)
	// Each model's only score comes from its opponent.
	require.Equal(t, map[string]float64{"qwen-turbo": 90, "qwen-max": 70}, summary.FinalScores)
	require.Equal(t, "qwen-turbo", summary.FinalWinner)
	require.Equal(t, "answer from qwen-turbo", summary.FinalAnswer)
}

func TestBattleRunner_TimesOutWaitingForWorker(t *testing.T) {
	release := make(chan struct{})
	client := &battleClient{block: release}
	runner := NewBattleRunner(quickEngine(client), BattleOptions{Workers: 1, Timeout: 50 * time.Millisecond, Rounds: 1}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = runner.Run(context.Background(), "first", []string{"qwen-max"})
	}()

	_, err := runner.Run(context.Background(), "second", []string{"qwen-max"})
	require.ErrorContains(t, err, "timed out after 50ms")

	close(release)
	wg.Wait()
}

func TestBattleTools_PromptToolsBuildQuestions(t *testing.T) {
	client := &battleClient{}
	runner := NewBattleRunner(quickEngine(client), BattleOptions{Rounds: 1, DefaultModels: []string{"qwen-max"}}, nil)

	tool := toolByName(t, BattleTools(runner, SQLRunner{}), "cooking_recipe_battle")
	output, err := tool.Execute(ToolContext{}, `{"ingredient":"tomatoes","extra":3}`)
	require.NoError(t, err)

	summary := output.(battle.Summary)
	require.Contains(t, summary.Question, "three different ways to cook tomatoes")
	require.Equal(t, "qwen-max", summary.FinalWinner)
}

func TestBattleTools_DietPlanWithoutDatabase(t *testing.T) {
	client := &battleClient{}
	runner := NewBattleRunner(quickEngine(client), BattleOptions{Rounds: 1}, nil)

	tool := toolByName(t, BattleTools(runner, SQLRunner{}), "generate_weekly_diet_plan")
	output, err := tool.Execute(ToolContext{}, `{"user_info":"{\"goal\":\"lose weight\"}","user_id":4}`)
	require.NoError(t, err)

	summary := output.(battle.Summary)
	require.Equal(t, "qwen-max", summary.FinalWinner)
	require.Contains(t, summary.Question, `{"goal":"lose weight"}`)
	require.Contains(t, summary.Question, "(none available)")
	require.NotContains(t, summary.Question, "Recent diet records")
}

func TestDietPlanPromptIncludesHistory(t *testing.T) {
	querier := &fakeQuerier{rows: []map[string]any{{"diet_name": "porridge", "meal_type": "breakfast"}}}

	prompt := dietPlanPrompt(context.Background(), SQLRunner{Querier: querier}, "vegetarian", 9, nil)
	require.Contains(t, prompt, "Recent diet records of the user: ")
	require.Contains(t, prompt, `"meal":"Breakfast"`)
	require.Contains(t, prompt, `"diet_name":"porridge"`)
}

func TestStandardToolsOmitBattlesWithoutRunner(t *testing.T) {
	for _, tool := range StandardTools(SQLRunner{}, nil) {
		require.False(t, strings.HasSuffix(tool.Name(), "_battle"), "unexpected battle tool %s", tool.Name())
	}
	withBattles := StandardTools(SQLRunner{}, NewBattleRunner(battle.NewEngine(&battleClient{}, nil), BattleOptions{}, nil))
	require.Len(t, withBattles, len(StandardTools(SQLRunner{}, nil))+5)
}

func quickEngine(client llm.Client) *battle.Engine {
	engine := battle.NewEngine(client, nil)
	engine.RoundDelay = 0
	return engine
}

func toolByName(t *testing.T, toolset []Tool, name string) Tool {
	t.Helper()
	for _, tool := range toolset {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

// battleClient answers "answer from <model>" and scores with scores[scorer].
type battleClient struct {
	scores map[string]string
	block  chan struct{}
}

func (client *battleClient) Complete(ctx context.Context, request llm.CompletionRequest) (llm.CompletionOutcome, error) {
	if client.block != nil {
		select {
		case <-client.block:
		case <-ctx.Done():
			return llm.CompletionOutcome{}, ctx.Err()
		}
	}
	if strings.HasPrefix(request.Messages[0].Content, "Score the following AI answer") {
		return llm.PlainAnswer(client.scores[request.Model]), nil
	}
	return llm.PlainAnswer("answer from " + request.Model), nil
}
