package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClientConfig configures the direct Anthropic upstream.
type AnthropicClientConfig struct {
	APIKey         string
	RequestTimeout time.Duration
	DefaultModel   string
}

// AnthropicClient calls the Anthropic Messages API directly, bypassing the
// proxy. It is wired in when UPSTREAM_PROVIDER=anthropic and shares the
// error taxonomy with ProxyClient.
type AnthropicClient struct {
	client       anthropic.Client
	timeout      time.Duration
	defaultModel string
}

// NewAnthropicClient creates a chat-completion client backed by the
// Anthropic API.
func NewAnthropicClient(cfg AnthropicClientConfig) *AnthropicClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	model := cfg.DefaultModel
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		timeout:      timeout,
		defaultModel: model,
	}
}

// ChatCompletion implements Upstream.
func (c *AnthropicClient) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	if len(message.Content) == 0 {
		return nil, newError(KindServer, "upstream returned empty response", nil)
	}
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return nil, newError(KindServer, "upstream returned unexpected content type", nil)
	}

	prompt := int(message.Usage.InputTokens)
	completion := int(message.Usage.OutputTokens)

	slog.Debug("upstream completion finished",
		slog.String("model", string(message.Model)),
		slog.Int("total_tokens", prompt+completion),
		slog.Duration("duration", time.Since(start)))

	return &Response{
		Text: textBlock.Text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Model: string(message.Model),
	}, nil
}

// classifyAnthropicError maps SDK errors to the shared taxonomy.
func classifyAnthropicError(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newError(kindFromStatus(apiErr.StatusCode), "upstream rejected request", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, "upstream call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindConnection, "upstream call cancelled", err)
	}

	return newError(KindConnection, "upstream unreachable", err)
}
