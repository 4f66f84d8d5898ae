package battle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adriankopytko/toolchat/internal/llm"
)

const (
	DefaultRounds      = 2
	DefaultRoundDelay  = 3 * time.Second
	DefaultMaxTokens   = int64(1000)
	DefaultTemperature = 0.7
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Engine runs model battles. One engine may serve concurrent battles; it holds
// no per-battle state.
type Engine struct {
	Client      llm.Client
	Logger      Logger
	RoundDelay  time.Duration
	MaxTokens   int64
	Temperature float64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(client llm.Client, logger Logger) *Engine {
	return &Engine{
		Client:      client,
		Logger:      logger,
		RoundDelay:  DefaultRoundDelay,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

type scoringPair struct {
	scorer  int
	subject int
}

// Run plays rounds sequentially over models and finalizes the result. Model
// failures are recorded in the result; only cancellation or an empty model
// list returns an error.
func (engine *Engine) Run(ctx context.Context, question string, models []string, rounds int) (BattleResult, error) {
	models = uniqueModels(models)
	if len(models) == 0 {
		return BattleResult{}, ErrNoModels
	}
	if engine.Client == nil {
		return BattleResult{}, fmt.Errorf("battle engine missing llm client")
	}
	if rounds <= 0 {
		rounds = DefaultRounds
	}

	engine.infof("event=battle_start models=%s rounds=%d", strings.Join(models, ","), rounds)
	result := BattleResult{Question: question, Models: models}
	for number := 1; number <= rounds; number++ {
		round := engine.playRound(ctx, number, question, models)
		result.Rounds = append(result.Rounds, round)
		engine.infof("event=round_end round=%d scores=%s", number, formatScores(models, round.Scores))

		if number < rounds {
			if err := engine.wait(ctx, engine.RoundDelay); err != nil {
				return result, err
			}
		}
	}

	finalize(&result)
	result.Timestamp = engine.clock()
	engine.infof("event=battle_end winner=%s", result.Winner)
	return result, nil
}

func (engine *Engine) playRound(ctx context.Context, number int, question string, models []string) BattleRound {
	responses := engine.answerPhase(ctx, question, models)
	round := BattleRound{Number: number, Responses: responses, Scores: make(map[string]float64, len(models))}

	var valid []int
	for index, response := range responses {
		round.Scores[response.Model] = 0
		if !response.Failed() {
			valid = append(valid, index)
		}
	}
	if len(valid) < 2 {
		engine.warnf("round %d has %d valid answer(s); scoring skipped", number, len(valid))
		return round
	}

	engine.scoringPhase(ctx, question, responses, valid)
	for _, index := range valid {
		round.Scores[responses[index].Model] = meanScore(responses[index].Scores)
	}
	return round
}

func (engine *Engine) answerPhase(ctx context.Context, question string, models []string) []ModelResponse {
	responses := make([]ModelResponse, len(models))
	var group errgroup.Group
	for index, model := range models {
		group.Go(func() error {
			responses[index] = engine.answer(ctx, model, question)
			return nil
		})
	}
	_ = group.Wait()
	return responses
}

func (engine *Engine) answer(ctx context.Context, model, question string) ModelResponse {
	started := time.Now()
	outcome, err := engine.Client.Complete(ctx, engine.request(model, question))
	response := ModelResponse{Model: model, Latency: time.Since(started), Scores: map[string]Score{}}
	if err != nil {
		response.Error = err.Error()
		engine.warnf("model %s failed to answer: %v", model, err)
		return response
	}
	response.Answer = outcome.Text
	if outcome.Usage != nil {
		total := outcome.Usage.TotalTokens
		response.TokenCount = &total
	}
	engine.debugf("model %s answered in %s", model, response.Latency)
	return response
}

// scoringPhase has every valid model score every other valid model. Results
// are written back by pair index after all calls finish.
func (engine *Engine) scoringPhase(ctx context.Context, question string, responses []ModelResponse, valid []int) {
	pairs := make([]scoringPair, 0, len(valid)*(len(valid)-1))
	for _, subject := range valid {
		for _, scorer := range valid {
			if scorer != subject {
				pairs = append(pairs, scoringPair{scorer: scorer, subject: subject})
			}
		}
	}

	scores := make([]Score, len(pairs))
	var group errgroup.Group
	for index, pair := range pairs {
		scorer := responses[pair.scorer].Model
		subject := responses[pair.subject]
		group.Go(func() error {
			scores[index] = engine.score(ctx, scorer, question, subject.Answer)
			return nil
		})
	}
	_ = group.Wait()

	for index, pair := range pairs {
		responses[pair.subject].Scores[responses[pair.scorer].Model] = scores[index]
	}
}

func (engine *Engine) score(ctx context.Context, scorer, question, answer string) Score {
	outcome, err := engine.Client.Complete(ctx, engine.request(scorer, ScoringPrompt(question, answer)))
	if err != nil {
		return Score{Score: 0, Comment: fmt.Sprintf("scoring failed: %v", err)}
	}
	return ParseScore(outcome.Text)
}

func (engine *Engine) request(model, prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   engine.MaxTokens,
		Temperature: llm.Float(engine.Temperature),
	}
}

func (engine *Engine) wait(ctx context.Context, delay time.Duration) error {
	if engine.sleep != nil {
		return engine.sleep(ctx, delay)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (engine *Engine) clock() time.Time {
	if engine.now != nil {
		return engine.now()
	}
	return time.Now()
}

// finalize sums round scores and picks the first model with the maximum total.
func finalize(result *BattleResult) {
	result.FinalScores = make(map[string]float64, len(result.Models))
	for _, model := range result.Models {
		total := 0.0
		for _, round := range result.Rounds {
			total += round.Scores[model]
		}
		result.FinalScores[model] = total
	}

	for index, model := range result.Models {
		if index == 0 || result.FinalScores[model] > result.FinalScores[result.Winner] {
			result.Winner = model
		}
	}

	result.FinalAnswer = ""
	if len(result.Rounds) == 0 {
		return
	}
	for _, response := range result.Rounds[len(result.Rounds)-1].Responses {
		if response.Model == result.Winner && !response.Failed() {
			result.FinalAnswer = response.Answer
			break
		}
	}
}

func meanScore(scores map[string]Score) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0.0
	for _, score := range scores {
		total += score.Score
	}
	return total / float64(len(scores))
}

func uniqueModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	unique := make([]string, 0, len(models))
	for _, model := range models {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if _, exists := seen[model]; exists {
			continue
		}
		seen[model] = struct{}{}
		unique = append(unique, model)
	}
	return unique
}

func formatScores(models []string, scores map[string]float64) string {
	parts := make([]string, 0, len(models))
	for _, model := range models {
		parts = append(parts, fmt.Sprintf("%s:%.2f", model, scores[model]))
	}
	return strings.Join(parts, ",")
}

func (engine *Engine) debugf(format string, args ...interface{}) {
	if engine.Logger == nil {
		return
	}
	engine.Logger.Debugf(format, args...)
}

func (engine *Engine) infof(format string, args ...interface{}) {
	if engine.Logger == nil {
		return
	}
	engine.Logger.Infof(format, args...)
}

func (engine *Engine) warnf(format string, args ...interface{}) {
	if engine.Logger == nil {
		return
	}
	engine.Logger.Warnf(format, args...)
}
