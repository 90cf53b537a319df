// ABOUTME: Anthropic Messages API responder for direct model-backed replies
// ABOUTME: Maps conversation history to message params under a fixed locale system prompt

package responder

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/relaydesk/relaydesk/internal/history"
)

// systemPrompt keeps answers grounded and in the end users' locale.
const systemPrompt = "Você é um assistente útil que responde apenas com base nas informações fornecidas. " +
	"Responda sempre em português. Baseie suas respostas SOMENTE no contexto fornecido. " +
	"Se a resposta não estiver no contexto, diga que não sabe a informação."

const defaultModel = "claude-3-5-haiku-latest"

const maxReplyTokens = 1024

// AnthropicResponder answers forwarded questions with the Anthropic
// Messages API.
type AnthropicResponder struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a responder. An empty apiKey falls back to the
// ANTHROPIC_API_KEY environment variable; an empty model uses the default.
func NewAnthropic(apiKey, model string) *AnthropicResponder {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = defaultModel
	}
	return &AnthropicResponder{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Reply maps the history to messages and returns the model's answer.
func (r *AnthropicResponder) Reply(ctx context.Context, q Query) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(q.History)+1)
	for _, turn := range q.History {
		switch turn.Role {
		case history.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case history.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	// History already ends with the question as a user turn; only append it
	// when the caller supplied no history at all.
	if len(messages) == 0 {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(q.Question)))
	}

	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(r.model),
		Messages:    messages,
		MaxTokens:   maxReplyTokens,
		Temperature: param.NewOpt(0.2),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("asking model: %w", err)
	}

	var answer string
	for _, block := range msg.Content {
		if block.Type == "text" {
			answer += block.Text
		}
	}
	if answer == "" {
		return replyFallback, nil
	}
	return answer, nil
}
