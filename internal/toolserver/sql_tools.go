package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adriankopytko/toolchat/internal/tools"
)

const (
	foodColumns   = "id, food_name, calories, protein, fat, carbs"
	recipeColumns = "id, title, description, preparation_time, cooking_time, calories"
)

type queryDefinition struct {
	descriptor tools.Descriptor
	run        func(ctx context.Context, runner SQLRunner, arguments string) (any, error)
}

// SQLTools returns the database tools bound to runner.
func SQLTools(runner SQLRunner) []Tool {
	definitions := []queryDefinition{
		{descriptor: describe("query_database", "Run a read-only SQL SELECT statement and return the rows.",
			properties{"sql_query": stringProperty("SQL SELECT statement to run"), "limit": limitProperty(100)}, "sql_query"),
			run: runQueryDatabase},
		{descriptor: describe("get_tables_info", "List the tables in the public schema.", properties{}),
			run: runTablesInfo},
		{descriptor: describe("get_table_structure", "Describe the columns of a table.",
			properties{"table_name": stringProperty("Table name")}, "table_name"),
			run: runTableStructure},
		{descriptor: describe("query_foods", "Search foods by name; lists foods when no search term is given.",
			properties{"search_term": stringProperty("Optional keyword matched against the food name"), "limit": limitProperty(20)}),
			run: runQueryFoods},
		{descriptor: describe("query_recipes", "Search recipes by title; lists recipes when no search term is given.",
			properties{"search_term": stringProperty("Optional keyword matched against the recipe title"), "limit": limitProperty(10)}),
			run: runQueryRecipes},
		{descriptor: describe("search_foods_advanced", "Search foods by name, category or both.",
			properties{
				"search_term":  stringProperty("Search keyword"),
				"search_field": enumProperty("Field to search", "food_name", "category", "all"),
				"limit":        limitProperty(20),
			}),
			run: runSearchFoodsAdvanced},
		{descriptor: describe("search_recipes_advanced", "Search recipes by title, description or both.",
			properties{
				"search_term":  stringProperty("Search keyword"),
				"search_field": enumProperty("Field to search", "title", "description", "all"),
				"limit":        limitProperty(10),
			}),
			run: runSearchRecipesAdvanced},
		{descriptor: describe("get_recipe_details", "Fetch every column of one recipe.",
			properties{"recipe_id": integerProperty("Recipe id")}, "recipe_id"),
			run: runRecipeDetails},
		{descriptor: describe("search_recipes_by_ingredient", "Find recipes that use an ingredient.",
			properties{"ingredient": stringProperty("Ingredient name"), "limit": limitProperty(10)}, "ingredient"),
			run: runRecipesByIngredient},
		{descriptor: describe("get_nutrition_info", "Look up detailed nutrition facts for a food.",
			properties{"food_name": stringProperty("Food name")}, "food_name"),
			run: runNutritionInfo},
		{descriptor: describe("get_recipe_by_cook_time", "Find recipes whose preparation plus cooking time fits a budget in minutes.",
			properties{"max_time": integerProperty("Maximum total time in minutes"), "limit": limitProperty(10)}, "max_time"),
			run: runRecipesByCookTime},
		{descriptor: describe("get_diet_records", "Fetch a user's recent diet records.",
			properties{"user_id": integerProperty("User id")}, "user_id"),
			run: runDietRecords},
		{descriptor: describe("query_user_info", "Fetch a user profile by id, including BMI.",
			properties{"user_id": integerProperty("User id")}, "user_id"),
			run: runUserInfo},
		{descriptor: describe("query_user_by_phone", "Look up a user profile by phone number or name, including BMI.",
			properties{"phone": stringProperty("Phone number or user name")}, "phone"),
			run: runUserByPhone},
	}

	toolset := make([]Tool, 0, len(definitions))
	for _, definition := range definitions {
		toolset = append(toolset, funcTool{
			descriptor: definition.descriptor,
			run: func(ctx context.Context, arguments string) (any, error) {
				return definition.run(ctx, runner, arguments)
			},
		})
	}
	return toolset
}

type queryDatabaseArgs struct {
	SQLQuery string `json:"sql_query"`
	Limit    int    `json:"limit"`
}

func runQueryDatabase(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args queryDatabaseArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, args.SQLQuery, withDefault(args.Limit, 100))
}

func runTablesInfo(ctx context.Context, runner SQLRunner, _ string) (any, error) {
	return runner.SelectResult(ctx, `SELECT table_name, table_type, table_schema
FROM information_schema.tables
WHERE table_schema = 'public'
ORDER BY table_name`, 100)
}

type tableStructureArgs struct {
	TableName string `json:"table_name"`
}

func runTableStructure(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args tableStructureArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, `SELECT column_name, data_type, is_nullable, column_default, character_maximum_length
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`, 100, args.TableName)
}

type searchArgs struct {
	SearchTerm  string `json:"search_term"`
	SearchField string `json:"search_field"`
	Limit       int    `json:"limit"`
}

func runQueryFoods(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args searchArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return queryFoods(ctx, runner, args.SearchTerm, withDefault(args.Limit, 20))
}

func queryFoods(ctx context.Context, runner SQLRunner, term string, limit int) (QueryResult, error) {
	if strings.TrimSpace(term) == "" {
		return runner.SelectResult(ctx, "SELECT "+foodColumns+" FROM foods", limit)
	}
	return runner.SelectResult(ctx, "SELECT "+foodColumns+" FROM foods WHERE food_name ILIKE $1", limit, likePattern(term))
}

func runQueryRecipes(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args searchArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return queryRecipes(ctx, runner, args.SearchTerm, withDefault(args.Limit, 10))
}

func queryRecipes(ctx context.Context, runner SQLRunner, term string, limit int) (QueryResult, error) {
	if strings.TrimSpace(term) == "" {
		return runner.SelectResult(ctx, "SELECT "+recipeColumns+" FROM recipes", limit)
	}
	return runner.SelectResult(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE title ILIKE $1", limit, likePattern(term))
}

func runSearchFoodsAdvanced(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args searchArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	limit := withDefault(args.Limit, 20)
	if strings.TrimSpace(args.SearchTerm) == "" {
		return queryFoods(ctx, runner, "", limit)
	}

	switch field := withDefaultString(args.SearchField, "food_name"); field {
	case "food_name":
		return queryFoods(ctx, runner, args.SearchTerm, limit)
	case "category":
		return runner.SelectResult(ctx, "SELECT "+foodColumns+", category FROM foods WHERE category ILIKE $1", limit, likePattern(args.SearchTerm))
	case "all":
		return runner.SelectResult(ctx, "SELECT "+foodColumns+", category FROM foods WHERE food_name ILIKE $1 OR category ILIKE $1", limit, likePattern(args.SearchTerm))
	default:
		return nil, fmt.Errorf("unsupported search field %q; supported: food_name, category, all", field)
	}
}

func runSearchRecipesAdvanced(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args searchArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	limit := withDefault(args.Limit, 10)
	if strings.TrimSpace(args.SearchTerm) == "" {
		return queryRecipes(ctx, runner, "", limit)
	}

	switch field := withDefaultString(args.SearchField, "title"); field {
	case "title":
		return queryRecipes(ctx, runner, args.SearchTerm, limit)
	case "description":
		return runner.SelectResult(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE description ILIKE $1", limit, likePattern(args.SearchTerm))
	case "all":
		return runner.SelectResult(ctx, "SELECT "+recipeColumns+", protein, fat, carbs FROM recipes WHERE title ILIKE $1 OR description ILIKE $1", limit, likePattern(args.SearchTerm))
	default:
		return nil, fmt.Errorf("unsupported search field %q; supported: title, description, all", field)
	}
}

type recipeDetailsArgs struct {
	RecipeID int64 `json:"recipe_id"`
}

func runRecipeDetails(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args recipeDetailsArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, "SELECT * FROM recipes WHERE id = $1", 1, args.RecipeID)
}

type ingredientArgs struct {
	Ingredient string `json:"ingredient"`
	Limit      int    `json:"limit"`
}

func runRecipesByIngredient(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args ingredientArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, `SELECT id, title, description, ingredients
FROM recipes
WHERE ingredients::text ILIKE $1 OR ingredient_name_texts::text ILIKE $1`, withDefault(args.Limit, 10), likePattern(args.Ingredient))
}

type nutritionArgs struct {
	FoodName string `json:"food_name"`
}

func runNutritionInfo(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args nutritionArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, `SELECT food_name, calories, protein, fat, carbs, other_nutrition
FROM foods
WHERE food_name ILIKE $1`, 5, likePattern(args.FoodName))
}

type cookTimeArgs struct {
	MaxTime int `json:"max_time"`
	Limit   int `json:"limit"`
}

func runRecipesByCookTime(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args cookTimeArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return runner.SelectResult(ctx, `SELECT id, title, preparation_time, cooking_time,
       (preparation_time + cooking_time) AS total_time
FROM recipes
WHERE (preparation_time + cooking_time) <= $1
ORDER BY total_time ASC`, withDefault(args.Limit, 10), args.MaxTime)
}

type userIDArgs struct {
	UserID int64 `json:"user_id"`
}

// DietRecord is one meal entry with the meal type spelled out.
type DietRecord struct {
	Food     any    `json:"food"`
	Quantity any    `json:"quantity"`
	Meal     string `json:"meal"`
	Unit     any    `json:"unit"`
	Calories any    `json:"calories"`
	Protein  any    `json:"protein"`
	Fat      any    `json:"fat"`
	Carbs    any    `json:"carbs"`
	Time     any    `json:"time"`
}

func runDietRecords(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args userIDArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	return dietRecords(ctx, runner, args.UserID, 10)
}

func dietRecords(ctx context.Context, runner SQLRunner, userID int64, limit int) ([]DietRecord, error) {
	rows, err := runner.Select(ctx, "SELECT * FROM diet_records WHERE user_id = $1", limit, userID)
	if err != nil {
		return nil, err
	}
	records := make([]DietRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, DietRecord{
			Food:     row["diet_name"],
			Quantity: row["quantity"],
			Meal:     mealLabel(row["meal_type"]),
			Unit:     row["unit"],
			Calories: row["calories"],
			Protein:  row["protein"],
			Fat:      row["fat"],
			Carbs:    row["carbs"],
			Time:     row["created_at"],
		})
	}
	return records, nil
}

var mealLabels = map[string]string{
	"breakfast": "Breakfast",
	"lunch":     "Lunch",
	"dinner":    "Dinner",
	"snack":     "Snack",
}

func mealLabel(value any) string {
	mealType, _ := value.(string)
	if label, ok := mealLabels[strings.ToLower(strings.TrimSpace(mealType))]; ok {
		return label
	}
	return "Other"
}

type phoneArgs struct {
	Phone string `json:"phone"`
}

// UserProfile is the subset of a users row the assistant needs, plus BMI.
type UserProfile struct {
	ID               any `json:"user_id"`
	Name             any `json:"name"`
	Phone            any `json:"phone"`
	Age              any `json:"age"`
	Gender           any `json:"gender"`
	Height           any `json:"height"`
	Weight           any `json:"weight"`
	BMI              any `json:"bmi"`
	HealthGoal       any `json:"health_goal"`
	DietPreference   any `json:"diet_preference"`
	ActivityLevel    any `json:"activity_level"`
	Allergies        any `json:"allergies"`
	HealthConditions any `json:"health_conditions"`
}

func runUserByPhone(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args phoneArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	rows, err := runner.Select(ctx, "SELECT * FROM users WHERE phone = $1 OR name = $1", 1, args.Phone)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return fmt.Sprintf("no user found with phone number %s", args.Phone), nil
	}
	return userProfile(rows[0]), nil
}

func runUserInfo(ctx context.Context, runner SQLRunner, arguments string) (any, error) {
	var args userIDArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	rows, err := runner.Select(ctx, "SELECT * FROM users WHERE id = $1", 1, args.UserID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return fmt.Sprintf("no user found with id %d", args.UserID), nil
	}
	return userProfile(rows[0]), nil
}

func userProfile(row map[string]any) UserProfile {
	return UserProfile{
		ID:               row["id"],
		Name:             row["name"],
		Phone:            row["phone"],
		Age:              row["age"],
		Gender:           row["gender"],
		Height:           row["height"],
		Weight:           row["weight"],
		BMI:              bodyMassIndex(row["weight"], row["height"]),
		HealthGoal:       row["health_goal"],
		DietPreference:   row["diet_preference"],
		ActivityLevel:    row["activity_level"],
		Allergies:        row["allergies"],
		HealthConditions: row["health_conditions"],
	}
}

// bodyMassIndex takes weight in kg and height in cm.
func bodyMassIndex(weight, height any) any {
	kilograms, okWeight := numericValue(weight)
	centimeters, okHeight := numericValue(height)
	if !okWeight || !okHeight || kilograms <= 0 || centimeters <= 0 {
		return "not computed"
	}
	meters := centimeters / 100
	return roundTo(kilograms/(meters*meters), 1)
}

type properties map[string]any

func describe(name, description string, props properties, required ...string) tools.Descriptor {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any(props),
	}
	if len(required) > 0 {
		requiredList := make([]any, 0, len(required))
		for _, field := range required {
			requiredList = append(requiredList, field)
		}
		schema["required"] = requiredList
	}
	return tools.Descriptor{Name: name, Description: description, InputSchema: schema}
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProperty(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func enumProperty(description string, values ...string) map[string]any {
	enum := make([]any, 0, len(values))
	for _, value := range values {
		enum = append(enum, value)
	}
	return map[string]any{"type": "string", "description": description, "enum": enum, "default": values[0]}
}

func limitProperty(defaultLimit int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": fmt.Sprintf("Maximum number of rows to return, default %d", defaultLimit),
		"minimum":     1,
		"default":     defaultLimit,
	}
}

func decodeArgs(arguments string, target any) error {
	if err := json.Unmarshal([]byte(arguments), target); err != nil {
		return fmt.Errorf("error parsing arguments: %w", err)
	}
	return nil
}

func likePattern(term string) string {
	return "%" + strings.TrimSpace(term) + "%"
}

func withDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func withDefaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
