// Package llm adapts model providers to the completion port.
package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/domain/core/entities"
	pkgerrors "canvaschat/pkg/errors"
)

const providerOpenAI = "openai"

// OpenAIOptions configures an OpenAI-compatible chat completion endpoint.
type OpenAIOptions struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible server; empty means api.openai.com.
	BaseURL        string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// OpenAIClient streams chat completions over the OpenAI wire protocol.
type OpenAIClient struct {
	client *openai.Client
	opts   OpenAIOptions
	logger *zap.Logger
}

// NewOpenAIClient creates a streaming client.
func NewOpenAIClient(opts OpenAIOptions, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		logger: logger.Named("llm"),
	}
}

// Name implements ports.CompletionClient.
func (c *OpenAIClient) Name() string { return providerOpenAI }

// Stream implements ports.CompletionClient. Errors from onChunk end the
// stream and are returned unchanged; transport and provider failures come
// back as UPSTREAM and cancellation as CANCELLED.
func (c *OpenAIClient) Stream(ctx context.Context, req ports.CompletionRequest, onChunk ports.ChunkHandler) error {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(req))
	if err != nil {
		return c.classify(ctx, err)
	}
	defer stream.Close()

	chunks := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.logger.Debug("completion finished", zap.String("model", req.Model), zap.Int("chunks", chunks))
			return nil
		}
		if err != nil {
			return c.classify(ctx, err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			chunks++
			if err := onChunk(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func (c *OpenAIClient) request(req ports.CompletionRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if c.opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.opts.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == entities.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      true,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = req.Temperature
	}
	return out
}

func (c *OpenAIClient) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return pkgerrors.NormalizeCancel(context.Canceled, "completion")
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warn("provider rejected completion",
			zap.Int("status", apiErr.HTTPStatusCode),
			zap.String("type", apiErr.Type),
			zap.Error(err),
		)
		return pkgerrors.NewUpstreamError(providerOpenAI, err).
			WithDetail("status", apiErr.HTTPStatusCode)
	}
	return pkgerrors.NewUpstreamError(providerOpenAI, err)
}
