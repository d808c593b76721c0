package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sheetqa/sheetqa/internal/llm"
	"github.com/sheetqa/sheetqa/internal/nl2sql"
	"github.com/sheetqa/sheetqa/internal/observability"
	"github.com/sheetqa/sheetqa/internal/query"
	"github.com/sheetqa/sheetqa/internal/shape"
)

type QueryRequest struct {
	Query     string
	TopK      int
	Mode      string
	TableName string
}

type QueryResult struct {
	Answer            string           `json:"answer"`
	Results           []map[string]any `json:"results"`
	SQL               string           `json:"sql"`
	TableName         string           `json:"tableName"`
	Mode              shape.Mode       `json:"mode"`
	Outcome           query.Status     `json:"outcome"`
	ExecutionError    string           `json:"executionError,omitempty"`
	VisualizationData *shape.Chart     `json:"visualizationData,omitempty"`
	TableData         *shape.Table     `json:"tableData,omitempty"`
}

type TranslateResult struct {
	TableName string      `json:"tableName"`
	SQL       string      `json:"sql"`
	Plan      nl2sql.Plan `json:"plan"`
}

// Query answers a natural-language question against one of owner's datasets.
// Execution failures are reported in the result, not as an error.
func (s *Service) Query(ctx context.Context, owner string, req QueryRequest) (result QueryResult, err error) {
	s.ensureDefaults()
	start := time.Now()
	mode := shape.ParseMode(req.Mode)
	defer func() {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = "error"
		}
		observability.ObserveQuery(string(mode), outcome, time.Since(start))
	}()

	question := strings.TrimSpace(req.Query)
	if question == "" {
		return QueryResult{}, ErrEmptyQuery
	}
	topK := s.clampTopK(req.TopK)

	ds, err := s.resolveTarget(ctx, owner, strings.TrimSpace(req.TableName))
	if err != nil {
		return QueryResult{}, err
	}
	schema := s.Introspector.Describe(ctx, ds.TableName, ds.Columns).String()
	translated, err := s.translate(ctx, question, schema, ds.TableName)
	if err != nil {
		return QueryResult{}, err
	}

	outcome := s.Executor.Execute(ctx, translated.SQL, translated.Plan, topK)
	result = QueryResult{
		Results:   outcome.Records(),
		SQL:       translated.SQL,
		TableName: ds.TableName,
		Mode:      mode,
		Outcome:   outcome.Status,
	}
	if outcome.Failed() && outcome.Err != nil {
		result.ExecutionError = outcome.Err.Error()
	}
	if outcome.Status == query.StatusRows {
		switch mode {
		case shape.ModeGraph:
			result.VisualizationData = shape.BuildChart(shape.ChartInput{
				Question: question,
				Plan:     translated.Plan,
				Columns:  outcome.Result.Columns,
				Rows:     outcome.Result.Rows,
				Mapping:  ds.Columns,
			})
		case shape.ModeTable:
			result.TableData = shape.BuildTable(outcome.Result.Columns, outcome.Result.Rows)
		}
	}
	result.Answer = s.Narrator.Answer(ctx, shape.AnswerInput{
		Question: question,
		Schema:   schema,
		Mode:     mode,
		Outcome:  outcome,
	})

	observability.LoggerWithTrace(ctx, s.Logger).InfoContext(ctx, "query answered",
		"table", ds.TableName,
		"mode", mode,
		"outcome", outcome.Status,
		"rows", len(outcome.Result.Rows),
		"shape", translated.Plan.Shape,
	)
	return result, nil
}

// Translate returns the SQL generated for a question without executing it.
func (s *Service) Translate(ctx context.Context, owner, question, tableName string) (TranslateResult, error) {
	s.ensureDefaults()
	question = strings.TrimSpace(question)
	if question == "" {
		return TranslateResult{}, ErrEmptyQuery
	}
	ds, err := s.resolveTarget(ctx, owner, strings.TrimSpace(tableName))
	if err != nil {
		return TranslateResult{}, err
	}
	schema := s.Introspector.Describe(ctx, ds.TableName, ds.Columns).String()
	translated, err := s.translate(ctx, question, schema, ds.TableName)
	if err != nil {
		return TranslateResult{}, err
	}
	return TranslateResult{TableName: ds.TableName, SQL: translated.SQL, Plan: translated.Plan}, nil
}

func (s *Service) translate(ctx context.Context, question, schema, tableName string) (nl2sql.Result, error) {
	translated, err := s.Translator.Translate(ctx, nl2sql.Request{
		Question:  question,
		Schema:    schema,
		TableName: tableName,
	})
	switch {
	case err == nil:
		return translated, nil
	case errors.Is(err, llm.ErrNotConfigured):
		return nl2sql.Result{}, fmt.Errorf("%w: %v", ErrModelNotConfigured, err)
	default:
		observability.LoggerWithTrace(ctx, s.Logger).WarnContext(ctx, "sql translation failed", "table", tableName, "error", err)
		return nl2sql.Result{}, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
}
