package battle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONFileStoreWithDir(dir)

	path, err := store.Save("", sampleResult())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, DefaultResultFile), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"final_winner": "qwen-max"`)
	require.Contains(t, string(payload), `"timestamp": "2026-03-14 09:26:53"`)
	require.Contains(t, string(payload), `"error": null`)
	require.Contains(t, string(payload), `"response": "<b>4</b>"`)

	loaded, err := store.Load(DefaultResultFile)
	require.NoError(t, err)
	require.Equal(t, "qwen-max", loaded.Winner)
	require.True(t, sampleResult().Timestamp.Equal(loaded.Timestamp))
	require.Len(t, loaded.Rounds, 1)

	failed := loaded.Rounds[0].Responses[0]
	require.Equal(t, "qwen-turbo", failed.Model)
	require.Equal(t, "api error (status 500): boom", failed.Error)

	winner := loaded.Rounds[0].Responses[1]
	require.Equal(t, 1500*time.Millisecond, winner.Latency)
	require.Equal(t, int64(42), *winner.TokenCount)
}

func TestSave_OverwritesByName(t *testing.T) {
	store := NewJSONFileStoreWithDir(t.TempDir())
	result := sampleResult()

	_, err := store.Save("simple_battle_result.json", result)
	require.NoError(t, err)

	result.Question = "second run"
	_, err = store.Save("simple_battle_result.json", result)
	require.NoError(t, err)

	loaded, err := store.Load("simple_battle_result.json")
	require.NoError(t, err)
	require.Equal(t, "second run", loaded.Question)
}

func TestSave_RejectsUnsafeNames(t *testing.T) {
	store := NewJSONFileStoreWithDir(t.TempDir())
	for _, name := range []string{"../escape.json", "result.txt", ".hidden.json"} {
		_, err := store.Save(name, sampleResult())
		require.Error(t, err, name)
	}
}

func TestSummary(t *testing.T) {
	summary := sampleResult().Summary()
	require.Equal(t, Summary{
		Question:    "What is 2+2?",
		FinalWinner: "qwen-max",
		FinalScores: map[string]float64{"qwen-turbo": 0, "qwen-max": 0},
		FinalAnswer: "<b>4</b>",
		Timestamp:   "2026-03-14 09:26:53",
		RoundsCount: 1,
	}, summary)
}

func sampleResult() BattleResult {
	tokens := int64(42)
	return BattleResult{
		Question:    "What is 2+2?",
		Models:      []string{"qwen-turbo", "qwen-max"},
		FinalScores: map[string]float64{"qwen-turbo": 0, "qwen-max": 0},
		Winner:      "qwen-max",
		FinalAnswer: "<b>4</b>",
		Timestamp:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local),
		Rounds: []BattleRound{{
			Number: 1,
			Scores: map[string]float64{"qwen-turbo": 0, "qwen-max": 0},
			Responses: []ModelResponse{
				{Model: "qwen-turbo", Error: "api error (status 500): boom", Scores: map[string]Score{}},
				{Model: "qwen-max", Answer: "<b>4</b>", Latency: 1500 * time.Millisecond, TokenCount: &tokens, Scores: map[string]Score{}},
			},
		}},
	}
}
