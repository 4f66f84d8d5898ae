package toolserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestGuardSelect(t *testing.T) {
	testCases := []struct {
		name  string
		query string
		limit int
		want  string
		err   error
	}{
		{name: "appends limit", query: "SELECT * FROM foods;", limit: 100, want: "SELECT * FROM foods LIMIT 100"},
		{name: "keeps existing limit", query: "select * from foods limit 3", limit: 100, want: "select * from foods limit 3"},
		{name: "zero limit leaves query", query: "SELECT 1", limit: 0, want: "SELECT 1"},
		{name: "rejects writes", query: "DELETE FROM foods", limit: 100, err: ErrOnlySelect},
		{name: "rejects leading whitespace write", query: "  update users set name = 'x'", limit: 10, err: ErrOnlySelect},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := guardSelect(testCase.query, testCase.limit)
			if testCase.err != nil {
				require.ErrorIs(t, err, testCase.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, testCase.want, got)
		})
	}
}

func TestSQLRunner_TimesOut(t *testing.T) {
	runner := SQLRunner{Querier: &fakeQuerier{block: true}, Timeout: 10 * time.Millisecond}

	_, err := runner.Select(context.Background(), "SELECT 1", 1)
	require.ErrorContains(t, err, "timed out")
}

func TestSQLRunner_WithoutDatabase(t *testing.T) {
	_, err := SQLRunner{}.Select(context.Background(), "SELECT 1", 1)
	require.ErrorContains(t, err, "not configured")
}

func TestSQLTools_QueryFoodsBindsSearchTerm(t *testing.T) {
	querier := &fakeQuerier{rows: []map[string]any{{"id": int32(1), "food_name": "egg"}}}
	tool := sqlTool(t, SQLRunner{Querier: querier}, "query_foods")

	output, err := tool.Execute(ToolContext{}, `{"search_term":" egg "}`)
	require.NoError(t, err)

	result := output.(QueryResult)
	require.Equal(t, 1, result.RowCount)
	require.Equal(t, "SELECT "+foodColumns+" FROM foods WHERE food_name ILIKE $1 LIMIT 20", querier.lastStatement())
	require.Equal(t, []any{"%egg%"}, querier.lastArgs())
}

func TestSQLTools_QueryDatabase(t *testing.T) {
	querier := &fakeQuerier{}
	tool := sqlTool(t, SQLRunner{Querier: querier}, "query_database")

	output, err := tool.Execute(ToolContext{}, `{"sql_query":"SELECT name FROM users","limit":5}`)
	require.NoError(t, err)
	result := output.(QueryResult)
	require.Zero(t, result.RowCount)
	require.NotEmpty(t, result.Message)
	require.Equal(t, "SELECT name FROM users LIMIT 5", querier.lastStatement())

	_, err = tool.Execute(ToolContext{}, `{"sql_query":"DROP TABLE users"}`)
	require.ErrorIs(t, err, ErrOnlySelect)
}

func TestSQLTools_SearchFieldsPickColumns(t *testing.T) {
	querier := &fakeQuerier{}
	runner := SQLRunner{Querier: querier}

	_, err := sqlTool(t, runner, "search_foods_advanced").Execute(ToolContext{}, `{"search_term":"fruit","search_field":"category"}`)
	require.NoError(t, err)
	require.Contains(t, querier.lastStatement(), "WHERE category ILIKE $1 LIMIT 20")

	_, err = sqlTool(t, runner, "search_recipes_advanced").Execute(ToolContext{}, `{"search_term":"soup","search_field":"all","limit":3}`)
	require.NoError(t, err)
	require.Contains(t, querier.lastStatement(), "WHERE title ILIKE $1 OR description ILIKE $1 LIMIT 3")

	_, err = sqlTool(t, runner, "search_recipes_advanced").Execute(ToolContext{}, `{"search_term":"soup","search_field":"steps"}`)
	require.ErrorContains(t, err, "unsupported search field")
}

func TestSQLTools_UserByPhoneComputesBMI(t *testing.T) {
	var height pgtype.Numeric
	require.NoError(t, height.Scan("175"))
	querier := &fakeQuerier{rows: []map[string]any{{
		"id":     int64(7),
		"name":   "Lin",
		"phone":  "13800000000",
		"height": height,
		"weight": float64(70),
	}}}
	tool := sqlTool(t, SQLRunner{Querier: querier}, "query_user_by_phone")

	output, err := tool.Execute(ToolContext{}, `{"phone":"13800000000"}`)
	require.NoError(t, err)

	profile := output.(UserProfile)
	require.Equal(t, 22.9, profile.BMI)
	require.Equal(t, "Lin", profile.Name)
	require.Equal(t, []any{"13800000000"}, querier.lastArgs())

	querier.rows = nil
	output, err = tool.Execute(ToolContext{}, `{"phone":"000"}`)
	require.NoError(t, err)
	require.Equal(t, "no user found with phone number 000", output)
}

func TestSQLTools_UserInfoByID(t *testing.T) {
	querier := &fakeQuerier{rows: []map[string]any{{
		"id":     int64(12),
		"name":   "Mei",
		"height": float64(160),
		"weight": float64(64),
	}}}
	tool := sqlTool(t, SQLRunner{Querier: querier}, "query_user_info")

	output, err := tool.Execute(ToolContext{}, `{"user_id":12}`)
	require.NoError(t, err)

	profile := output.(UserProfile)
	require.Equal(t, "Mei", profile.Name)
	require.Equal(t, 25.0, profile.BMI)
	require.Equal(t, "SELECT * FROM users WHERE id = $1 LIMIT 1", querier.lastStatement())
	require.Equal(t, []any{int64(12)}, querier.lastArgs())

	querier.rows = nil
	output, err = tool.Execute(ToolContext{}, `{"user_id":99}`)
	require.NoError(t, err)
	require.Equal(t, "no user found with id 99", output)
}

func TestSQLTools_DietRecordsLabelMeals(t *testing.T) {
	querier := &fakeQuerier{rows: []map[string]any{
		{"diet_name": "oatmeal", "meal_type": "breakfast"},
		{"diet_name": "tea", "meal_type": "afternoon"},
	}}
	tool := sqlTool(t, SQLRunner{Querier: querier}, "get_diet_records")

	output, err := tool.Execute(ToolContext{}, `{"user_id":3}`)
	require.NoError(t, err)

	records := output.([]DietRecord)
	require.Len(t, records, 2)
	require.Equal(t, "Breakfast", records[0].Meal)
	require.Equal(t, "Other", records[1].Meal)
	require.Equal(t, "SELECT * FROM diet_records WHERE user_id = $1 LIMIT 10", querier.lastStatement())
}

func TestBodyMassIndex(t *testing.T) {
	require.Equal(t, 24.2, bodyMassIndex(int32(70), "170"))
	require.Equal(t, "not computed", bodyMassIndex(nil, 170))
	require.Equal(t, "not computed", bodyMassIndex(70.0, 0))
}

func sqlTool(t *testing.T, runner SQLRunner, name string) Tool {
	t.Helper()
	for _, tool := range SQLTools(runner) {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not registered", name)
	return nil
}

type fakeQuerier struct {
	mu         sync.Mutex
	statements []string
	args       [][]any
	rows       []map[string]any
	err        error
	block      bool
}

func (querier *fakeQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	querier.mu.Lock()
	querier.statements = append(querier.statements, sql)
	querier.args = append(querier.args, args)
	rows, err := querier.rows, querier.err
	querier.mu.Unlock()

	if querier.block {
		<-ctx.Done()
		return nil, errors.Join(errors.New("canceled by server"), ctx.Err())
	}
	return rows, err
}

func (querier *fakeQuerier) lastStatement() string {
	querier.mu.Lock()
	defer querier.mu.Unlock()
	if len(querier.statements) == 0 {
		return ""
	}
	return querier.statements[len(querier.statements)-1]
}

func (querier *fakeQuerier) lastArgs() []any {
	querier.mu.Lock()
	defer querier.mu.Unlock()
	if len(querier.args) == 0 {
		return nil
	}
	return querier.args[len(querier.args)-1]
}
