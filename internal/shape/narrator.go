package shape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sheetqa/sheetqa/internal/llm"
	"github.com/sheetqa/sheetqa/internal/query"
)

// Mode selects the presentation of a query answer.
type Mode string

const (
	ModeText  Mode = "text"
	ModeGraph Mode = "graph"
	ModeTable Mode = "table"
)

// ParseMode returns ModeText for anything other than a known mode.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeGraph:
		return ModeGraph
	case ModeTable:
		return ModeTable
	default:
		return ModeText
	}
}

const (
	NotFoundAnswer      = "Not found in the dataset. No records match the criteria."
	NotConfiguredAnswer = "Results retrieved, but no language model API key is configured for natural language generation."

	tablePreviewLength = 500
	maxHighlightRows   = 20
)

var highlightTerms = []string{"sum", "total", "avg", "average", "count", "max", "min", "percentage"}

type AnswerInput struct {
	Question string
	Schema   string
	Mode     Mode
	Outcome  query.Outcome
}

// Narrator writes the natural-language answer for an executed query.
type Narrator struct {
	generator llm.Generator
	logger    *slog.Logger
}

func NewNarrator(generator llm.Generator, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{generator: generator, logger: logger}
}

// Answer never fails: deterministic messages cover execution failures, empty
// results, a missing model and model errors.
func (n *Narrator) Answer(ctx context.Context, in AnswerInput) string {
	switch in.Outcome.Status {
	case query.StatusFailed:
		return ExecutionFailedAnswer(in.Outcome.Err)
	case query.StatusEmpty:
		return NotFoundAnswer
	}
	if n.generator == nil {
		return NotConfiguredAnswer
	}

	var prompt string
	if in.Mode == ModeTable {
		prompt = TablePrompt(in.Question, in.Outcome)
	} else {
		prompt = AnswerPrompt(in.Question, in.Schema, in.Outcome)
	}
	answer, err := n.generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			return NotConfiguredAnswer
		}
		n.logger.WarnContext(ctx, "answer generation failed", "error", err)
		return "Error generating answer: " + err.Error()
	}
	return strings.TrimSpace(answer)
}

func ExecutionFailedAnswer(err error) string {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return fmt.Sprintf("The generated query could not be executed (%s). Try rephrasing the question.", reason)
}

// AnswerPrompt is the strict-grounding prompt used for text and graph modes.
func AnswerPrompt(question, schema string, outcome query.Outcome) string {
	records := outcome.Records()
	rowsJSON := marshalIndent(records)

	var b strings.Builder
	b.WriteString("You are an expert data analyst. You answer questions about spreadsheet data " +
		"that was uploaded by the user and retrieved with a database query.\n\n")
	b.WriteString("CONTEXT:\n")
	b.WriteString("- Each row is a record from the uploaded spreadsheet, stored exactly as it appeared in the file\n")
	b.WriteString("- Answer based ONLY on the provided data rows, with no external assumptions\n")
	b.WriteString("- Aggregations in the rows were already computed by the database\n\n")
	fmt.Fprintf(&b, "TABLE STRUCTURE:\n%s\n", strings.TrimSpace(schema))
	if len(outcome.Result.Columns) > 0 {
		fmt.Fprintf(&b, "\nAvailable columns in results: %s\n", strings.Join(outcome.Result.Columns, ", "))
	}
	fmt.Fprintf(&b, "\nUSER QUERY:\n%s\n\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "RETRIEVED DATA ROWS (%d rows):\n%s\n", len(records), rowsJSON)
	if highlights := Highlights(outcome); len(highlights) > 0 {
		fmt.Fprintf(&b, "\nCalculated/Aggregated Values: %s\n", marshalIndent(highlights))
	}

	b.WriteString("\nSTRICT RULES:\n")
	b.WriteString("1. Answer STRICTLY from the retrieved rows. Never use outside knowledge.\n")
	b.WriteString("2. If the answer is not in the data, say \"Not found in the dataset\" or \"No records match the criteria\".\n")
	b.WriteString("3. Never guess or infer beyond the table data. Extract values exactly as they appear.\n")
	b.WriteString("4. When the rows hold computed totals, averages, counts or percentages, state those values first.\n")
	b.WriteString("5. For grouped results, present the breakdown per group, ranked when the values allow it.\n")
	b.WriteString("6. For multiple rows, give a clear, organized summary.\n\n")

	b.WriteString("FORMATTING:\n")
	b.WriteString("- Start with the direct answer in the first sentence\n")
	b.WriteString("- Currency: keep the symbol used in the data and group digits with commas\n")
	b.WriteString("- Percentages: \"X%\" or \"X out of Y (Z%)\"\n")
	b.WriteString("- Round decimals sensibly and use bullet points for lists\n\n")

	b.WriteString("Now provide a concise, accurate answer to the user's query:")
	return b.String()
}

// TablePrompt asks for a one or two sentence summary of rows shown in a table.
func TablePrompt(question string, outcome query.Outcome) string {
	records := outcome.Records()
	preview := marshalIndent(records)
	if runes := []rune(preview); len(runes) > tablePreviewLength {
		preview = string(runes[:tablePreviewLength]) + "..."
	}

	var b strings.Builder
	b.WriteString("You are a data analyst. Generate a VERY BRIEF summary (1-2 sentences maximum) " +
		"for query results that will be displayed in a table.\n\n")
	b.WriteString("IMPORTANT:\n")
	b.WriteString("- Keep the response SHORT (maximum 2 sentences)\n")
	b.WriteString("- State what data is shown; the table carries the details\n")
	fmt.Fprintf(&b, "- Example: \"Found %d records matching your query.\"\n\n", len(records))
	fmt.Fprintf(&b, "USER QUERY: %s\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "NUMBER OF RESULTS: %d\n\n", len(records))
	fmt.Fprintf(&b, "RETRIEVED DATA ROWS (%d rows):\n%s\n\n", len(records), preview)
	b.WriteString("Generate ONLY a brief 1-2 sentence summary:")
	return b.String()
}

// Highlights collects the aggregate-looking columns of each row.
func Highlights(outcome query.Outcome) []map[string]any {
	var aggregate []int
	for i, column := range outcome.Result.Columns {
		lower := strings.ToLower(column)
		for _, term := range highlightTerms {
			if strings.Contains(lower, term) {
				aggregate = append(aggregate, i)
				break
			}
		}
	}
	if len(aggregate) == 0 {
		return nil
	}
	out := make([]map[string]any, 0)
	for _, row := range outcome.Result.Rows {
		if len(out) == maxHighlightRows {
			break
		}
		values := make(map[string]any, len(aggregate))
		for _, i := range aggregate {
			if v := cell(row, i); v != nil {
				values[outcome.Result.Columns[i]] = v
			}
		}
		if len(values) > 0 {
			out = append(out, values)
		}
	}
	return out
}

func marshalIndent(v any) string {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(payload)
}
