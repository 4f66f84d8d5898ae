package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adriankopytko/toolchat/internal/battle"
)

const (
	DefaultBattleTimeout = 120 * time.Second
	DefaultBattleWorkers = 1
)

var (
	ErrNoSupportedModels = errors.New("no supported models found")

	DefaultSupportedModels = []string{"qwen-turbo", "qwen-max", "qwen-vl-max", "qwen-audio-turbo-latest"}
	DefaultBattleModels    = []string{"qwen-turbo", "qwen-max"}
	DietPlanModels         = []string{"qwen-max"}
)

type BattleOptions struct {
	Workers         int
	Timeout         time.Duration
	Rounds          int
	SupportedModels []string
	DefaultModels   []string
}

// BattleRunner owns the worker pool battles run on. It is created by the
// hosting process and passed to the tools that need it.
type BattleRunner struct {
	engine        *battle.Engine
	workers       *semaphore.Weighted
	supported     map[string]struct{}
	defaultModels []string
	timeout       time.Duration
	rounds        int
	logger        Logger
}

func NewBattleRunner(engine *battle.Engine, options BattleOptions, logger Logger) *BattleRunner {
	workers := options.Workers
	if workers <= 0 {
		workers = DefaultBattleWorkers
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultBattleTimeout
	}
	supportedModels := options.SupportedModels
	if len(supportedModels) == 0 {
		supportedModels = DefaultSupportedModels
	}
	defaultModels := options.DefaultModels
	if len(defaultModels) == 0 {
		defaultModels = DefaultBattleModels
	}

	supported := make(map[string]struct{}, len(supportedModels))
	for _, model := range supportedModels {
		supported[strings.TrimSpace(model)] = struct{}{}
	}
	return &BattleRunner{
		engine:        engine,
		workers:       semaphore.NewWeighted(int64(workers)),
		supported:     supported,
		defaultModels: defaultModels,
		timeout:       timeout,
		rounds:        options.Rounds,
		logger:        logger,
	}
}

// Run plays one battle on a pool worker. Unsupported models are skipped; the
// wait for a worker counts against the timeout.
func (runner *BattleRunner) Run(ctx context.Context, question string, models []string) (battle.Summary, error) {
	selected := runner.filterSupported(models)
	if len(selected) == 0 {
		return battle.Summary{}, ErrNoSupportedModels
	}

	battleCtx, cancel := context.WithTimeout(ctx, runner.timeout)
	defer cancel()

	if err := runner.workers.Acquire(battleCtx, 1); err != nil {
		return battle.Summary{}, runner.timeoutError(ctx, err)
	}
	defer runner.workers.Release(1)

	result, err := runner.engine.Run(battleCtx, question, selected, runner.rounds)
	if err != nil {
		return battle.Summary{}, runner.timeoutError(ctx, err)
	}
	if errors.Is(battleCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return battle.Summary{}, runner.timeoutError(ctx, battleCtx.Err())
	}
	return result.Summary(), nil
}

func (runner *BattleRunner) filterSupported(models []string) []string {
	selected := make([]string, 0, len(models))
	for _, model := range models {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if _, ok := runner.supported[model]; !ok {
			if runner.logger != nil {
				runner.logger.Warnf("skipping unsupported battle model %q", model)
			}
			continue
		}
		selected = append(selected, model)
	}
	return selected
}

func (runner *BattleRunner) timeoutError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("model battle timed out after %s", runner.timeout)
	}
	return fmt.Errorf("model battle failed: %w", err)
}

// BattleTools returns the battle-backed tools. The diet plan tool reads
// reference data through sql when a database is configured.
func BattleTools(runner *BattleRunner, sql SQLRunner) []Tool {
	return []Tool{
		funcTool{
			descriptor: describe("ai_model_battle",
				"Have several AI models answer the same question, score each other and report the winner.",
				properties{
					"question": stringProperty("Question every model answers"),
					"models": map[string]any{
						"type":        "string",
						"description": "Comma-separated model list (supported: " + strings.Join(DefaultSupportedModels, ", ") + ")",
						"default":     strings.Join(DefaultBattleModels, ","),
					},
				}, "question"),
			run: func(ctx context.Context, arguments string) (any, error) {
				var args struct {
					Question string `json:"question"`
					Models   string `json:"models"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				models := runner.defaultModels
				if strings.TrimSpace(args.Models) != "" {
					models = strings.Split(args.Models, ",")
				}
				return runner.Run(ctx, args.Question, models)
			},
		},
		promptBattleTool(runner, "cooking_recipe_battle",
			"Have several AI models compete on cooking advice for an ingredient.",
			"ingredient", "Ingredient name, for example eggs, potatoes or tomatoes",
			"Give three different ways to cook %s, including concrete steps and an analysis of the nutritional value."),
		promptBattleTool(runner, "health_advice_battle",
			"Have several AI models compete on advice for a health goal.",
			"health_goal", "Health goal, for example losing weight, building muscle or improving immunity",
			"For the health goal \"%s\", give detailed dietary advice and lifestyle advice."),
		promptBattleTool(runner, "nutrition_analysis_battle",
			"Have several AI models compete on analyzing the nutrition of a list of foods.",
			"food_list", "Comma-separated list of foods",
			"Analyze the nutritional value and health benefits of these foods: %s. Include calories, main nutrients and who they suit."),
		funcTool{
			descriptor: describe("generate_weekly_diet_plan",
				"Generate a personalized one-week diet plan.",
				properties{
					"user_info": stringProperty("User information as a JSON string or free text"),
					"user_id":   integerProperty("Optional user id used to load recent diet history"),
				}, "user_info"),
			run: func(ctx context.Context, arguments string) (any, error) {
				var args struct {
					UserInfo string `json:"user_info"`
					UserID   int64  `json:"user_id"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				prompt := dietPlanPrompt(ctx, sql, args.UserInfo, args.UserID, runner.logger)
				return runner.Run(ctx, prompt, DietPlanModels)
			},
		},
	}
}

func promptBattleTool(runner *BattleRunner, name, description, field, fieldDescription, questionFormat string) Tool {
	return funcTool{
		descriptor: describe(name, description, properties{field: stringProperty(fieldDescription)}, field),
		run: func(ctx context.Context, arguments string) (any, error) {
			var args map[string]any
			if err := decodeArgs(arguments, &args); err != nil {
				return nil, err
			}
			value, _ := args[field].(string)
			return runner.Run(ctx, fmt.Sprintf(questionFormat, value), runner.defaultModels)
		},
	}
}

func dietPlanPrompt(ctx context.Context, sql SQLRunner, userInfo string, userID int64, logger Logger) string {
	history := ""
	if userID > 0 {
		records, err := dietRecords(ctx, sql, userID, 5)
		if err != nil {
			warn(logger, "diet history unavailable for user %d: %v", userID, err)
		} else if len(records) > 0 {
			history = "Recent diet records of the user: " + compactJSON(records)
		}
	}
	foods := referenceData(logger, "foods", func() (QueryResult, error) { return queryFoods(ctx, sql, "", 15) })
	recipes := referenceData(logger, "recipes", func() (QueryResult, error) { return queryRecipes(ctx, sql, "", 10) })

	return fmt.Sprintf(`Create a detailed one-week diet plan based on the following user information:

User information:
%s

%s

Healthy foods for reference:
%s

Healthy recipes for reference:
%s

The plan must include:
1. Three meals per day (breakfast, lunch, dinner)
2. Personalization for the user's health goal, diet preference and allergies
3. Balanced nutrition covering protein, carbohydrates, fat and vitamins
4. Calorie intake adjusted to the user's activity level
5. Dietary advice for any health conditions
6. Approximate calories and main nutrients per meal
7. Short preparation tips or recipe suggestions

Format:
- Organized by day, Monday to Sunday
- Breakfast, lunch and dinner for every day
- Concrete foods, portions and nutritional value for every meal
- A summary of daily nutrient intake and health notes

Make sure the recommendations are scientifically sound.`, userInfo, history, foods, recipes)
}

func referenceData(logger Logger, label string, load func() (QueryResult, error)) string {
	result, err := load()
	if err != nil {
		warn(logger, "reference %s unavailable: %v", label, err)
		return "(none available)"
	}
	return compactJSON(result.Rows)
}

func compactJSON(value any) string {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return strings.TrimRight(buffer.String(), "\n")
}

func warn(logger Logger, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Warnf(format, args...)
}
