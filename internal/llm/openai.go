package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ProxyClientConfig configures the OpenAI-compatible proxy client.
type ProxyClientConfig struct {
	// BaseURL is the proxy endpoint, e.g. "http://llm-proxy:4000/v1".
	BaseURL string

	// APIKey authenticates against the proxy.
	APIKey string

	// RequestTimeout bounds a single upstream attempt. Retries are handled
	// by the resilience layer, never by the SDK.
	RequestTimeout time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string
}

// ProxyClient calls an OpenAI-compatible LLM proxy. It performs exactly one
// HTTP request per ChatCompletion call and classifies every failure, leaving
// retry and breaker decisions to the caller.
type ProxyClient struct {
	client       *openai.Client
	timeout      time.Duration
	defaultModel string
}

// NewProxyClient creates a chat-completion client for the configured proxy.
func NewProxyClient(cfg ProxyClientConfig) *ProxyClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ProxyClient{
		client:       openai.NewClientWithConfig(clientCfg),
		timeout:      timeout,
		defaultModel: cfg.DefaultModel,
	}
}

// ChatCompletion implements Upstream.
func (c *ProxyClient) ChatCompletion(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, newError(KindServer, "upstream returned no choices", nil)
	}

	slog.Debug("upstream completion finished",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))

	return &Response{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

// classifyOpenAIError maps SDK errors to the shared taxonomy.
func classifyOpenAIError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newError(kindFromStatus(apiErr.HTTPStatusCode), "upstream rejected request", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return newError(kindFromStatus(reqErr.HTTPStatusCode), "upstream request failed", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, "upstream call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindConnection, "upstream call cancelled", err)
	}

	return newError(KindConnection, "upstream unreachable", err)
}
