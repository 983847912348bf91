package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ErrBadCompletion marks completion output that could not be reduced to a
// single SQL statement. Callers treat it as the service being unavailable
// rather than as a rejected query.
var ErrBadCompletion = errors.New("completion did not contain a single SQL statement")

// CorrectionHint drives the one retry after an empty result. PossibleValues
// restates the catalog entries for the columns the failed statement touched.
type CorrectionHint struct {
	FailedSQL      string
	PossibleValues map[string][]string
}

type GenerateRequest struct {
	Question    string
	SchemaText  string
	HistoryText string
	Hint        *CorrectionHint
}

type Generator struct {
	completer Completer
	logger    *slog.Logger
	opts      CompletionOptions
}

func NewGenerator(completer Completer, temperature float32, maxTokens int, logger *slog.Logger) *Generator {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &Generator{
		completer: completer,
		logger:    logger,
		opts:      CompletionOptions{Temperature: temperature, MaxTokens: maxTokens},
	}
}

const generateSystemPrompt = `You are a SQL expert. Generate ONLY valid PostgreSQL SELECT queries.
Rules:
1. Return ONLY the SQL query, no explanations or markdown
2. Use SELECT statements ONLY
3. NO INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, or TRUNCATE
4. Base your query strictly on the provided schema
5. Make NO assumptions about data or columns not in the schema
6. When filtering text columns, use ONLY the possible values shown in the schema`

const correctionSystemPrompt = `You are a SQL expert fixing a failed query.
The previous query returned 0 results, most likely because of an invalid filter value.
Use ONLY the possible values explicitly listed in the schema.
Return ONLY the corrected SQL query, no explanations.`

// GenerateSQL asks the completion service for one SELECT statement answering
// the question against the rendered schema. A non-nil hint switches to the
// corrective framing for the single retry.
func (g *Generator) GenerateSQL(ctx context.Context, req GenerateRequest) (string, error) {
	var messages []Message
	if req.Hint != nil {
		messages = []Message{
			{Role: RoleSystem, Content: correctionSystemPrompt},
			{Role: RoleUser, Content: buildCorrectionPrompt(req)},
		}
	} else {
		messages = []Message{
			{Role: RoleSystem, Content: generateSystemPrompt},
			{Role: RoleUser, Content: buildGeneratePrompt(req)},
		}
	}

	raw, err := g.completer.Complete(ctx, messages, g.opts)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	statement, err := ExtractStatement(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "unusable completion output", slog.Int("length", len(raw)))
		return "", err
	}
	return statement, nil
}

func buildGeneratePrompt(req GenerateRequest) string {
	history := req.HistoryText
	if history == "" {
		history = "No previous conversation."
	}
	return fmt.Sprintf(`%s

%s

QUESTION:
%s

Generate the SQL query now:`, req.SchemaText, history, req.Question)
}

func buildCorrectionPrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, `The previous query returned 0 results. This likely means it used an invalid filter value.

FAILED QUERY:
%s

ORIGINAL QUESTION:
%s

%s
`, req.Hint.FailedSQL, req.Question, req.SchemaText)

	if len(req.Hint.PossibleValues) > 0 {
		b.WriteString("\nVALID VALUES FOR THE COLUMNS THE FAILED QUERY FILTERED ON:\n")
		columns := make([]string, 0, len(req.Hint.PossibleValues))
		for column := range req.Hint.PossibleValues {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		for _, column := range columns {
			fmt.Fprintf(&b, "  - %s: [%s]\n", column, strings.Join(req.Hint.PossibleValues[column], ", "))
		}
	}

	b.WriteString(`
INSTRUCTIONS:
1. Check whether the failed query filtered on a value that is not in the lists above
2. Use ONLY values explicitly listed, do not guess
3. If the question mentions a value that is not listed, pick the closest listed value
4. Consider ILIKE '%pattern%' for partial matching when no exact value fits

Generate the corrected SQL query now:`)
	return b.String()
}

// ExtractStatement reduces raw completion output to exactly one statement:
// markdown fences are stripped, then anything empty or containing a second
// statement fails closed.
func ExtractStatement(raw string) (string, error) {
	text := stripFences(raw)
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ";")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrBadCompletion
	}
	if strings.Contains(maskQuoted(text), ";") {
		return "", ErrBadCompletion
	}
	return text, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// Drop the language tag line, e.g. ```sql.
		first := strings.TrimSpace(text[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, " \t") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return text
}

// maskQuoted blanks quoted literal contents so separators inside strings do
// not count as statement boundaries.
func maskQuoted(text string) string {
	out := []byte(text)
	var quote byte
	for i := 0; i < len(out); i++ {
		ch := out[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			} else {
				out[i] = ' '
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
		}
	}
	return string(out)
}
