// Package history is the append-only conversation log, scoped per namespace.
// Stored turns are never mutated; long assistant turns are replaced by a
// summarized stand-in only in Recent() output.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TruncationMarker is appended to any stand-in produced by truncation.
const TruncationMarker = " [truncated]"

type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Summarizer condenses a long turn for prompt inclusion. Optional; when it is
// absent or fails, the stand-in falls back to marked truncation.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Log struct {
	db               *sql.DB
	defaultLimit     int
	summaryThreshold int
	summarizer       Summarizer
}

func NewLog(db *sql.DB, defaultLimit, summaryThreshold int, summarizer Summarizer) *Log {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	if summaryThreshold <= 0 {
		summaryThreshold = 400
	}
	return &Log{db: db, defaultLimit: defaultLimit, summaryThreshold: summaryThreshold, summarizer: summarizer}
}

func (l *Log) Append(ctx context.Context, namespace, role, content string) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO conversation_turn (namespace, role, content)
VALUES ($1, $2, $3)`, namespace, role, content)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// AppendExchange stores a question/answer pair atomically; a cancelled
// request appends either both turns or nothing.
func (l *Log) AppendExchange(ctx context.Context, namespace, question, answer string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
INSERT INTO conversation_turn (namespace, role, content)
VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, insert, namespace, RoleUser, question); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, namespace, RoleAssistant, answer); err != nil {
		return fmt.Errorf("append assistant turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

// Recent returns at most limit turns, oldest first. Assistant turns over the
// summary threshold are rendered as summarized stand-ins; the stored rows are
// untouched.
func (l *Log) Recent(ctx context.Context, namespace string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT role, content, created_at
FROM conversation_turn
WHERE namespace = $1
ORDER BY turn_id DESC
LIMIT $2`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	for i := range turns {
		if turns[i].Role == RoleAssistant && len(turns[i].Content) > l.summaryThreshold {
			turns[i].Content = l.standIn(ctx, turns[i].Content)
		}
	}
	return turns, nil
}

func (l *Log) standIn(ctx context.Context, content string) string {
	if l.summarizer != nil {
		if summary, err := l.summarizer.Summarize(ctx, content); err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
	}
	return content[:l.summaryThreshold] + TruncationMarker
}

// FormatForPrompt renders turns the way the generator embeds them.
func FormatForPrompt(turns []Turn) string {
	if len(turns) == 0 {
		return "No previous conversation."
	}
	parts := make([]string, 0, len(turns)+1)
	parts = append(parts, "PREVIOUS CONVERSATION:")
	for _, turn := range turns {
		parts = append(parts, strings.ToUpper(turn.Role)+": "+turn.Content)
	}
	return strings.Join(parts, "\n")
}
