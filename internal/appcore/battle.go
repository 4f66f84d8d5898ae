package appcore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/adriankopytko/toolchat/internal/battle"
	"github.com/adriankopytko/toolchat/internal/llm"
	"github.com/adriankopytko/toolchat/internal/toolserver"
)

type BattleOptions struct {
	Question   string
	Models     []string
	Rounds     int
	RoundDelay time.Duration
	Out        string
}

// RunBattle plays a battle, prints each round and the final ranking to out and
// saves the result document. It returns the saved path.
func RunBattle(ctx context.Context, client llm.Client, options BattleOptions, out io.Writer, logger Logger) (string, error) {
	models := options.Models
	if len(models) == 0 {
		models = toolserver.DefaultBattleModels
	}

	engine := battle.NewEngine(client, logger)
	engine.RoundDelay = options.RoundDelay
	result, err := engine.Run(ctx, options.Question, models, options.Rounds)
	if err != nil {
		return "", err
	}

	printBattle(out, result)

	outPath := strings.TrimSpace(options.Out)
	if outPath == "" {
		outPath = battle.DefaultResultFile
	}
	store := battle.NewJSONFileStoreWithDir(filepath.Dir(outPath))
	path, err := store.Save(filepath.Base(outPath), result)
	if err != nil {
		return "", fmt.Errorf("save battle result: %w", err)
	}
	fmt.Fprintf(out, "\nresult saved to %s\n", path)
	return path, nil
}

func printBattle(out io.Writer, result battle.BattleResult) {
	fmt.Fprintf(out, "question: %s\n", result.Question)
	for _, round := range result.Rounds {
		fmt.Fprintf(out, "\nround %d\n", round.Number)
		for _, response := range round.Responses {
			if response.Failed() {
				fmt.Fprintf(out, "  %-24s error: %s\n", response.Model, response.Error)
				continue
			}
			fmt.Fprintf(out, "  %-24s %6.2f  (%s)\n", response.Model, round.Scores[response.Model], response.Latency.Round(time.Millisecond))
		}
	}

	fmt.Fprintln(out, "\nfinal ranking")
	for _, standing := range result.Ranking() {
		fmt.Fprintf(out, "  %d. %-24s %6.2f\n", standing.Rank, standing.Model, standing.Score)
	}
	fmt.Fprintf(out, "\nwinner: %s\n", result.Winner)
	if result.FinalAnswer != "" {
		fmt.Fprintf(out, "\n%s\n", result.FinalAnswer)
	}
}
