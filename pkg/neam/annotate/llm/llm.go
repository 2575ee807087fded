// Package llm provides an annotate.Source that asks an OpenAI-compatible
// chat model for named entities.
//
// The model returns surface strings, not offsets; reconstruction locates
// them in the text itself.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/document"
	"github.com/cognicore/neam/pkg/neam/internalerr"
)

// DefaultLabels are the entity classes requested when none are configured.
var DefaultLabels = []string{"PERSON", "LOCATION", "ORGANIZATION", "DATE", "MISC"}

const systemPrompt = `You are a named entity recognizer for historical documents.
Return a JSON array of objects {"label": ..., "text": ...}, one per entity
occurrence, in the order they appear in the text. "text" must be copied
verbatim from the input. "label" must be one of: %s.
Return [] if there are no entities. Return ONLY the JSON array.`

// Config holds the chat model settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Labels  []string
	Logger  *zap.Logger
}

// Source annotates text with a chat-completion model.
type Source struct {
	client *openai.Client
	model  string
	labels []string
	logger *zap.Logger
}

// New creates an LLM annotation source.
func New(cfg Config) *Source {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		labels: labels,
		logger: logger,
	}
}

// Name identifies the source and model.
func (s *Source) Name() string { return "llm:" + s.model }

type entity struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Annotate asks the model for mentions and derives a token stream from
// them. Output the model gets wrong yields an empty annotation.
func (s *Source) Annotate(ctx context.Context, text string) (annotate.Annotation, error) {
	if strings.TrimSpace(text) == "" {
		return annotate.Annotation{}, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, strings.Join(s.labels, ", "))},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return annotate.Annotation{}, ctxErr
		}
		s.logger.Warn("llm: completion failed", zap.String("model", s.model), zap.Error(err))
		return annotate.Annotation{}, fmt.Errorf("%w: %v", internalerr.ErrSourceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		s.logger.Warn("llm: empty response", zap.String("model", s.model))
		return annotate.Annotation{}, nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		s.logger.Warn("llm: response truncated by token limit")
	}

	content := extractJSONArray(stripCodeFence(choice.Message.Content))

	var entities []entity
	if err := json.Unmarshal([]byte(content), &entities); err != nil {
		s.logger.Warn("llm: could not parse model output", zap.String("content", content), zap.Error(err))
		return annotate.Annotation{}, nil
	}

	allowed := make(map[string]struct{}, len(s.labels))
	for _, l := range s.labels {
		allowed[l] = struct{}{}
	}

	var mentions []annotate.Mention
	for _, e := range entities {
		e.Text = strings.TrimSpace(e.Text)
		if e.Text == "" {
			continue
		}
		if _, ok := allowed[e.Label]; !ok {
			s.logger.Debug("llm: dropping unknown label", zap.String("label", e.Label))
			continue
		}
		mentions = append(mentions, annotate.Mention{Label: e.Label, Text: e.Text})
	}

	tokens := annotate.LabelWords(document.Words(text), mentions, annotate.Outside)
	a := annotate.Annotation{Mentions: mentions}
	if len(tokens) > 0 {
		a.Sentences = []annotate.Sentence{{Tokens: tokens}}
	}
	return a, nil
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// extractJSONArray finds the outermost [...] substring in s.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}
