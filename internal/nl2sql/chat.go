package nl2sql

import (
	"context"
	"log/slog"
)

const chatSystemPrompt = `You are a helpful data assistant. Your main purpose is to help users query and analyze their data using natural language.
Guidelines:
- Be friendly, polite, and concise
- If the user greets you, greet them back warmly
- If they ask about SQL or data concepts, give brief explanations
- Keep responses short (2-3 sentences max)
- Remind them you can help with data queries when relevant`

const chatFallback = "I'm here to help you query and analyze your data. Ask me anything about your tables."

type ChatResponder struct {
	completer Completer
	logger    *slog.Logger
}

func NewChatResponder(completer Completer, logger *slog.Logger) *ChatResponder {
	return &ChatResponder{completer: completer, logger: logger}
}

// Reply answers small talk without touching the database. A completion
// failure degrades to a canned reply so the turn still gets an answer.
func (r *ChatResponder) Reply(ctx context.Context, question, historyText string) string {
	messages := []Message{{Role: RoleSystem, Content: chatSystemPrompt}}
	if historyText != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: "Previous conversation context:\n" + historyText})
	}
	messages = append(messages, Message{Role: RoleUser, Content: question})

	reply, err := r.completer.Complete(ctx, messages, CompletionOptions{Temperature: 0.7, MaxTokens: 200})
	if err != nil || reply == "" {
		if err != nil {
			r.logger.WarnContext(ctx, "small talk completion failed", slog.String("error", err.Error()))
		}
		return chatFallback
	}
	return reply
}
