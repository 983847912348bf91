package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tablechat/tablechat/internal/exec"
)

const formatSystemPrompt = `You are a helpful assistant that explains database query results.
Provide concise, natural language answers based on the data.
IMPORTANT:
- Do NOT include the SQL query in your response
- If there are no results, say so clearly
- List specific details for the items found as a short bulleted list
- If results are broad, suggest ONE specific refinement`

// Canned texts for turns that never produce data.
const (
	NoResultsMessage   = "I could not find any matching data for that question. Try rephrasing it or using different filter values."
	RejectedMessage    = "I can only run read-only queries against your own workspace, and that question would have needed something else. Try asking about the data in your tables."
	UnavailableMessage = "I could not generate a query for that question right now. Please try again in a moment."
	ExecFailedPrefix   = "The query could not be completed: "
)

type Formatter struct {
	completer Completer
	logger    *slog.Logger
	maxRows   int
}

func NewFormatter(completer Completer, maxRows int, logger *slog.Logger) *Formatter {
	if maxRows <= 0 {
		maxRows = 10
	}
	return &Formatter{completer: completer, logger: logger, maxRows: maxRows}
}

// FormatAnswer turns a result set into a plain-language answer. Surrogate key
// and embedding columns are dropped from the narrative; large sets are capped
// with a note about the remainder. A completion failure degrades to a
// deterministic listing rather than an error.
func (f *Formatter) FormatAnswer(ctx context.Context, question, sqlText string, result *exec.Result) string {
	if result == nil || result.Empty() {
		return NoResultsMessage
	}

	dataText := f.renderData(question, result)
	answer, err := f.completer.Complete(ctx, []Message{
		{Role: RoleSystem, Content: formatSystemPrompt},
		{Role: RoleUser, Content: dataText},
	}, CompletionOptions{Temperature: 0.3, MaxTokens: 300})
	if err != nil || answer == "" {
		if err != nil {
			f.logger.WarnContext(ctx, "answer formatting failed, using plain listing", slog.String("error", err.Error()))
		}
		return f.plainListing(result)
	}
	return answer
}

func (f *Formatter) renderData(question string, result *exec.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	columns := displayColumns(result.Columns)
	fmt.Fprintf(&b, "Columns: %s\n\n", strings.Join(columns, ", "))

	shown := result.Rows
	if len(shown) > f.maxRows {
		shown = shown[:f.maxRows]
	}
	fmt.Fprintf(&b, "Data (%d rows):\n", len(shown))
	for i, row := range shown {
		fmt.Fprintf(&b, "\nRow %d:\n", i+1)
		for _, column := range columns {
			fmt.Fprintf(&b, "  - %s: %v\n", column, row[column])
		}
	}
	if len(result.Rows) > f.maxRows {
		fmt.Fprintf(&b, "\n... and %d more rows not shown\n", len(result.Rows)-f.maxRows)
	}
	return b.String()
}

func (f *Formatter) plainListing(result *exec.Result) string {
	columns := displayColumns(result.Columns)
	shown := result.Rows
	if len(shown) > f.maxRows {
		shown = shown[:f.maxRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching rows", result.RowCount)
	if len(shown) < result.RowCount {
		fmt.Fprintf(&b, " (showing the first %d)", len(shown))
	}
	b.WriteString(":\n")
	for i, row := range shown {
		values := make([]string, 0, len(columns))
		for _, column := range columns {
			values = append(values, fmt.Sprintf("%s: %v", column, row[column]))
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(values, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// displayColumns drops surrogate keys and embedding payloads from narratives.
func displayColumns(columns []string) []string {
	kept := make([]string, 0, len(columns))
	for _, column := range columns {
		lower := strings.ToLower(column)
		if lower == "id" || strings.HasSuffix(lower, "_id") || strings.Contains(lower, "embedding") {
			continue
		}
		kept = append(kept, column)
	}
	if len(kept) == 0 {
		// Everything looked like a key; show it anyway.
		return columns
	}
	return kept
}
