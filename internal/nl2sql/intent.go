package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Intent string

const (
	IntentDatabase Intent = "needs_database"
	IntentChat     Intent = "general_chat"
)

const intentSystemPrompt = `You are an intent classifier for a data query assistant.
Your primary purpose is to help users query their database.
BIAS TOWARD 'NEEDS_DATABASE': only use 'GENERAL_CHAT' for clear non-data messages like greetings or thanks.
If the user mentions ANY data-related words (show, find, count, products, sales, best, total, ...), return 'NEEDS_DATABASE'.
Return ONLY 'NEEDS_DATABASE' or 'GENERAL_CHAT'.`

type IntentClassifier struct {
	completer Completer
	logger    *slog.Logger
}

func NewIntentClassifier(completer Completer, logger *slog.Logger) *IntentClassifier {
	return &IntentClassifier{completer: completer, logger: logger}
}

// Classify routes a question before SQL generation. Any ambiguity, including
// a completion failure, resolves to the database path.
func (c *IntentClassifier) Classify(ctx context.Context, question, historyText string) Intent {
	if historyText == "" {
		historyText = "No previous conversation."
	}
	prompt := fmt.Sprintf(`Previous conversation:
%s

Current user message: %q

Classify this message. Return ONLY one word: either "NEEDS_DATABASE" or "GENERAL_CHAT".`, historyText, question)

	raw, err := c.completer.Complete(ctx, []Message{
		{Role: RoleSystem, Content: intentSystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, CompletionOptions{Temperature: 0, MaxTokens: 10})
	if err != nil {
		c.logger.WarnContext(ctx, "intent classification failed, defaulting to database", slog.String("error", err.Error()))
		return IntentDatabase
	}

	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "GENERAL_CHAT"):
		return IntentChat
	default:
		return IntentDatabase
	}
}
