// Package pipeline orchestrates a question's path from raw text to answer:
// split, classify, generate, validate, execute, correct once on an empty
// result, format, and record the exchange.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/exec"
	"github.com/tablechat/tablechat/internal/history"
	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/schema"
	"github.com/tablechat/tablechat/internal/sqlcheck"
)

type Outcome string

const (
	OutcomeAnswered              Outcome = "answered"
	OutcomeEmpty                 Outcome = "empty"
	OutcomeChat                  Outcome = "chat"
	OutcomeValidationRejected    Outcome = "validation_rejected"
	OutcomeExecutionError        Outcome = "execution_error"
	OutcomeGenerationUnavailable Outcome = "generation_unavailable"
)

// Answer is the per-question result of an Ask call. SQL carries the last
// statement attempted and may be echoed to the caller; failure details never
// are.
type Answer struct {
	Question       string  `json:"question"`
	Text           string  `json:"answer"`
	SQL            string  `json:"sql,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Attempts       int     `json:"attempts"`
	CorrectionUsed bool    `json:"correction_used"`
	RowCount       int     `json:"row_count"`
}

type SchemaSource interface {
	Describe(ctx context.Context, namespace string) (schema.Descriptor, error)
}

type Generator interface {
	GenerateSQL(ctx context.Context, req nl2sql.GenerateRequest) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, namespace, sqlText string) (exec.Result, error)
}

type Formatter interface {
	FormatAnswer(ctx context.Context, question, sqlText string, result *exec.Result) string
}

type Classifier interface {
	Classify(ctx context.Context, question, historyText string) nl2sql.Intent
}

type Responder interface {
	Reply(ctx context.Context, question, historyText string) string
}

type History interface {
	Recent(ctx context.Context, namespace string, limit int) ([]history.Turn, error)
	AppendExchange(ctx context.Context, namespace, question, answer string) error
}

type Service struct {
	schemas    SchemaSource
	generator  Generator
	executor   Executor
	formatter  Formatter
	classifier Classifier
	responder  Responder
	turns      History
	logger     *slog.Logger
}

func NewService(schemas SchemaSource, generator Generator, executor Executor, formatter Formatter, classifier Classifier, responder Responder, turns History, logger *slog.Logger) *Service {
	return &Service{
		schemas:    schemas,
		generator:  generator,
		executor:   executor,
		formatter:  formatter,
		classifier: classifier,
		responder:  responder,
		turns:      turns,
		logger:     logger,
	}
}

// Ask processes raw user input against a namespace. Questions run
// sequentially; each appends its exchange before the next starts, so later
// questions in a batch see earlier answers. A failed question never aborts
// its siblings.
func (s *Service) Ask(ctx context.Context, namespace, input string) ([]Answer, error) {
	questions := Split(input)

	descriptor, err := s.schemas.Describe(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("describe namespace %s: %w", namespace, err)
	}

	answers := make([]Answer, 0, len(questions))
	for _, question := range questions {
		if err := ctx.Err(); err != nil {
			return answers, err
		}
		answer := s.askOne(ctx, namespace, question, descriptor)
		answers = append(answers, answer)
		observability.ObserveQuestion(string(answer.Outcome))

		if ctx.Err() != nil {
			// Cancelled mid-question: the exchange was not recorded and the
			// caller gets what completed so far.
			return answers, ctx.Err()
		}
		if err := s.turns.AppendExchange(ctx, namespace, question, answer.Text); err != nil {
			s.logger.WarnContext(ctx, "failed to record exchange",
				slog.String("namespace", namespace),
				slog.String("error", err.Error()))
		}
	}
	return answers, nil
}

func (s *Service) askOne(ctx context.Context, namespace, question string, descriptor schema.Descriptor) Answer {
	turns, err := s.turns.Recent(ctx, namespace, 0)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load conversation context",
			slog.String("namespace", namespace),
			slog.String("error", err.Error()))
	}
	historyText := history.FormatForPrompt(turns)

	if s.classifier.Classify(ctx, question, historyText) == nl2sql.IntentChat {
		return Answer{
			Question: question,
			Text:     s.responder.Reply(ctx, question, historyText),
			Outcome:  OutcomeChat,
		}
	}

	answer := Answer{Question: question}
	schemaText := descriptor.Render()

	result, outcome := s.attempt(ctx, namespace, &answer, nl2sql.GenerateRequest{
		Question:    question,
		SchemaText:  schemaText,
		HistoryText: historyText,
	})
	answer.Outcome = outcome

	// One correction retry, and only for a zero-row success.
	if outcome == OutcomeEmpty {
		hint := correctionHint(answer.SQL, descriptor)
		retryResult, retryOutcome := s.attempt(ctx, namespace, &answer, nl2sql.GenerateRequest{
			Question:    question,
			SchemaText:  schemaText,
			HistoryText: historyText,
			Hint:        hint,
		})
		answer.CorrectionUsed = true
		observability.ObserveCorrection(retryOutcome == OutcomeAnswered)
		// The second outcome is final, whatever it is.
		result, outcome = retryResult, retryOutcome
		answer.Outcome = retryOutcome
	}

	switch outcome {
	case OutcomeAnswered:
		answer.RowCount = result.RowCount
		answer.Text = s.formatter.FormatAnswer(ctx, question, answer.SQL, &result)
	case OutcomeEmpty:
		answer.Text = s.formatter.FormatAnswer(ctx, question, answer.SQL, nil)
	case OutcomeValidationRejected:
		answer.Text = nl2sql.RejectedMessage
	case OutcomeGenerationUnavailable:
		answer.Text = nl2sql.UnavailableMessage
	case OutcomeExecutionError:
		// Text was set by attempt from the sanitized executor error.
	}
	return answer
}

// attempt runs one generate→validate→execute pass. It records the attempted
// SQL on the answer and returns the result with the pass outcome.
func (s *Service) attempt(ctx context.Context, namespace string, answer *Answer, req nl2sql.GenerateRequest) (exec.Result, Outcome) {
	answer.Attempts++

	genStart := time.Now()
	sqlText, err := s.generator.GenerateSQL(ctx, req)
	observability.ObserveGenerationLatency(time.Since(genStart))
	if err != nil {
		s.logger.WarnContext(ctx, "sql generation failed",
			slog.String("namespace", namespace),
			slog.String("error", err.Error()))
		return exec.Result{}, OutcomeGenerationUnavailable
	}
	answer.SQL = sqlText

	validated, err := sqlcheck.Validate(sqlText, namespace)
	if err != nil {
		rule := "unknown"
		var rejection *sqlcheck.RejectionError
		if errors.As(err, &rejection) {
			rule = string(rejection.Rule)
		}
		observability.ObserveValidationRejection(rule)
		s.logger.WarnContext(ctx, "generated sql rejected",
			slog.String("namespace", namespace),
			slog.String("rule", rule))
		return exec.Result{}, OutcomeValidationRejected
	}
	answer.SQL = validated

	execStart := time.Now()
	result, err := s.executor.Execute(ctx, namespace, validated)
	observability.ObserveExecutionLatency(time.Since(execStart))
	if err != nil {
		answer.Text = nl2sql.ExecFailedPrefix + err.Error()
		return exec.Result{}, OutcomeExecutionError
	}
	if result.Empty() {
		return result, OutcomeEmpty
	}
	return result, OutcomeAnswered
}

// correctionHint restates the catalog values for every constrained column the
// failed statement mentions. Columns the statement never touched are left
// out; the full schema rendering accompanies the hint anyway.
func correctionHint(failedSQL string, descriptor schema.Descriptor) *nl2sql.CorrectionHint {
	hint := &nl2sql.CorrectionHint{
		FailedSQL:      failedSQL,
		PossibleValues: map[string][]string{},
	}
	lowerSQL := strings.ToLower(failedSQL)
	for column, values := range descriptor.ConstrainedColumns() {
		if containsIdent(lowerSQL, strings.ToLower(column)) {
			hint.PossibleValues[column] = values
		}
	}
	return hint
}

func containsIdent(lowerSQL, ident string) bool {
	for start := 0; ; {
		idx := strings.Index(lowerSQL[start:], ident)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(ident)
		beforeOK := idx == 0 || !isIdentByte(lowerSQL[idx-1])
		afterOK := end == len(lowerSQL) || !isIdentByte(lowerSQL[end])
		if beforeOK && afterOK {
			return true
		}
		start = end
	}
}

func isIdentByte(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
}
