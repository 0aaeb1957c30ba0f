// Package suggest produces copilot suggestions directly from an
// OpenAI-compatible chat completion endpoint, as an alternative to the
// backend's /copilot/analyze.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

const (
	defaultModel    = "gpt-4o-mini"
	requestTimeout  = 60 * time.Second
	maxHistory      = 30
	maxContentRunes = 1000
)

// ErrEmptyCompletion is returned when the model returns no usable answer.
var ErrEmptyCompletion = errors.New("empty completion")

// History returns the loaded messages of a conversation, oldest first.
type History func(convID string) []store.Message

// Config configures the OpenAI suggester.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI asks a chat model for a structured suggestion.
type OpenAI struct {
	client  *openai.Client
	model   string
	history History
	logger  *zap.Logger
}

// NewOpenAI creates a suggester. history may be nil.
func NewOpenAI(cfg Config, history History, logger *zap.Logger) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		history: history,
		logger:  logger,
	}
}

// Suggest implements copilot.Suggester.
func (o *OpenAI) Suggest(ctx context.Context, convID, query string, kind store.QueryKind) (*store.Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var transcript []store.Message
	if o.history != nil {
		transcript = o.history(convID)
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.4,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(transcript, query, kind)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	content := resp.Choices[0].Message.Content

	var s store.Suggestion
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("parsing completion: %w", err)
	}
	if strings.TrimSpace(s.Answer) == "" && len(s.FollowUps) == 0 {
		return nil, ErrEmptyCompletion
	}

	o.logger.Debug("suggestion generated",
		zap.String("conversation", convID),
		zap.String("model", o.model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return &s, nil
}

func buildPrompt(transcript []store.Message, query string, kind store.QueryKind) string {
	if len(transcript) > maxHistory {
		transcript = transcript[len(transcript)-maxHistory:]
	}
	var b strings.Builder
	if len(transcript) > 0 {
		b.WriteString("Histórico da conversa:\n")
		for _, m := range transcript {
			role := "Cliente"
			if m.Sender == store.SenderAgent {
				role = "Vendedor"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, truncate(m.Content))
		}
		b.WriteString("\n")
	}
	if kind == store.QueryInternal {
		b.WriteString("Pergunta interna do vendedor (não será enviada ao cliente):\n")
	} else {
		b.WriteString("Mensagem do cliente a analisar:\n")
	}
	b.WriteString(truncate(query))
	return b.String()
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxContentRunes {
		return s
	}
	return string(r[:maxContentRunes]) + "..."
}

const systemPrompt = `Você é um copiloto de vendas. Ajude o vendedor a responder o cliente.
Responda apenas com um objeto JSON no formato:
{"immediate_answer": "resposta sugerida", "follow_up_options": [{"text": "alternativa", "is_recommended": true}], "video": {"title": "título", "url": "https://..."}}
"follow_up_options" e "video" são opcionais.`
