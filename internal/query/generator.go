package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragstore-go/internal/budget"
)

// systemPrompt frames every generation as grounded question answering.
const systemPrompt = `You are a support knowledge assistant. You answer questions strictly from
the numbered sources supplied with each question and cite them as [Source N].
You never invent facts, ticket numbers, people or procedures that are not in
the sources. When the sources are insufficient, say so plainly.`

// ChatGenerator adapts an eino chat model to Generator.
type ChatGenerator struct {
	model     model.BaseChatModel
	maxTokens int
	log       *slog.Logger
}

// NewChatGenerator wraps m. maxContextTokens bounds the estimated prompt
// size; 0 selects budget.DefaultMaxContextTokens and a negative value
// disables the check.
func NewChatGenerator(m model.BaseChatModel, maxContextTokens int, log *slog.Logger) (*ChatGenerator, error) {
	if m == nil {
		return nil, fmt.Errorf("query: chat model must not be nil")
	}
	if maxContextTokens == 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatGenerator{model: m, maxTokens: maxContextTokens, log: log}, nil
}

// Generate sends the system prompt and prompt to the model and returns the
// reply text. Prompts over the token budget are rejected without a call.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}
	if err := budget.Check(msgs, g.maxTokens); err != nil {
		return "", fmt.Errorf("query: %w", err)
	}

	g.log.Debug("generating answer", slog.Int("estimated_tokens", budget.EstimateMessages(msgs)))
	reply, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("query: generate: %w", err)
	}
	if reply == nil {
		return "", fmt.Errorf("query: generate returned nil message")
	}
	return reply.Content, nil
}
