package nl2sql

import (
	"context"
	"fmt"
)

const summarizeSystemPrompt = `You are a text summarizer. Summarize the given text in 1-2 concise sentences.
Keep specific numbers, filters, data findings, and key facts.
Remove polite filler text, greetings, and unnecessary details.
Be direct and factual.`

// Summarizer condenses long assistant turns for prompt inclusion. It
// satisfies the history package's Summarizer interface.
type Summarizer struct {
	completer Completer
}

func NewSummarizer(completer Completer) *Summarizer {
	return &Summarizer{completer: completer}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	summary, err := s.completer.Complete(ctx, []Message{
		{Role: RoleSystem, Content: summarizeSystemPrompt},
		{Role: RoleUser, Content: "Summarize this: " + text},
	}, CompletionOptions{Temperature: 0.1, MaxTokens: 100})
	if err != nil {
		return "", fmt.Errorf("summarize turn: %w", err)
	}
	return summary, nil
}
