package toolserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultQueryTimeout = 30 * time.Second

var (
	ErrOnlySelect = errors.New("only SELECT queries are allowed")

	limitClausePattern = regexp.MustCompile(`(?i)\blimit\b`)
)

// Querier runs one read query and returns rows keyed by column name.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
}

type PgxQuerier struct {
	pool *pgxpool.Pool
}

// NewPgxQuerier parses dsn and prepares a pool. Connections are opened on
// first use, so an unreachable database surfaces as a tool error.
func NewPgxQuerier(ctx context.Context, dsn string) (*PgxQuerier, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	return &PgxQuerier{pool: pool}, nil
}

func (querier *PgxQuerier) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := querier.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (querier *PgxQuerier) Close() {
	querier.pool.Close()
}

// SQLRunner guards every query: SELECT only, a LIMIT appended when the text
// has none, and a per-query timeout.
type SQLRunner struct {
	Querier Querier
	Timeout time.Duration
}

type QueryResult struct {
	RowCount int              `json:"row_count"`
	Rows     []map[string]any `json:"rows"`
	Message  string           `json:"message,omitempty"`
}

func (runner SQLRunner) Select(ctx context.Context, query string, limit int, args ...any) ([]map[string]any, error) {
	if runner.Querier == nil {
		return nil, errors.New("database is not configured")
	}
	statement, err := guardSelect(query, limit)
	if err != nil {
		return nil, err
	}

	timeout := runner.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := runner.Querier.Query(queryCtx, statement, args...)
	if err != nil {
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("query timed out after %s; narrow the query conditions", timeout)
		}
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

func (runner SQLRunner) SelectResult(ctx context.Context, query string, limit int, args ...any) (QueryResult, error) {
	rows, err := runner.Select(ctx, query, limit, args...)
	if err != nil {
		return QueryResult{}, err
	}
	result := QueryResult{RowCount: len(rows), Rows: rows}
	if len(rows) == 0 {
		result.Rows = []map[string]any{}
		result.Message = "query succeeded but no matching rows were found"
	}
	return result, nil
}

func guardSelect(query string, limit int) (string, error) {
	statement := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToLower(statement), "select") {
		return "", ErrOnlySelect
	}
	if limit > 0 && !limitClausePattern.MatchString(statement) {
		statement = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(statement, "; \t\r\n"), limit)
	}
	return statement, nil
}

// numericValue converts the numeric shapes pgx returns for int, float and
// numeric columns.
func numericValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case int:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case pgtype.Numeric:
		converted, err := typed.Float64Value()
		if err != nil || !converted.Valid {
			return 0, false
		}
		return converted.Float64, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
