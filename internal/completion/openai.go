package completion

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAI streams from the OpenAI chat completions API or any compatible
// endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates an OpenAI client. baseURL may be empty for the public API.
// A zero timeout means no per-request deadline.
func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration) *OpenAI {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
	}
}

func (o *OpenAI) Name() string { return "openai/" + o.model }

// Stream implements Client.
func (o *OpenAI) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	msgs := withSystem(req)
	openaiMessages := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	log.Debug().
		Str("model", o.model).
		Int("messages", len(openaiMessages)).
		Msg("Opening OpenAI stream")

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: openaiMessages,
		Stream:   true,
	})
	if err != nil {
		return failure(ctx, "openai", statusOf(err), err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return failure(ctx, "openai", statusOf(err), err)
		}

		if len(response.Choices) > 0 {
			content := response.Choices[0].Delta.Content
			if content != "" {
				if err := onChunk(content); err != nil {
					return err
				}
			}
		}
	}
}

// statusOf extracts the HTTP status from go-openai errors.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
