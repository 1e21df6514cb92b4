package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChain streams through a langchaingo model.
type LangChain struct {
	llm      llms.Model
	provider string
	model    string
	timeout  time.Duration
}

// NewLangChain wraps an existing langchaingo model.
func NewLangChain(llm llms.Model, provider, model string, timeout time.Duration) *LangChain {
	return &LangChain{llm: llm, provider: provider, model: model, timeout: timeout}
}

// NewOllama creates a client for an Ollama server. An empty baseURL means
// the local default.
func NewOllama(model, baseURL string, timeout time.Duration) (*LangChain, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return NewLangChain(llm, "ollama", model, timeout), nil
}

// NewAnthropic creates a client for the Anthropic messages API.
func NewAnthropic(apiKey, model, baseURL string, timeout time.Duration) (*LangChain, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(apiKey),
		anthropic.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return NewLangChain(llm, "anthropic", model, timeout), nil
}

func (l *LangChain) Name() string { return l.provider + "/" + l.model }

// Stream implements Client.
func (l *LangChain) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	msgs := withSystem(req)
	content := make([]llms.MessageContent, len(msgs))
	for i, msg := range msgs {
		content[i] = llms.TextParts(chatMessageType(msg.Role), msg.Content)
	}

	log.Debug().
		Str("provider", l.provider).
		Str("model", l.model).
		Int("messages", len(content)).
		Msg("Opening langchain stream")

	var chunkErr error
	_, err := l.llm.GenerateContent(ctx, content, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := onChunk(string(chunk)); err != nil {
			chunkErr = err
			return err
		}
		return nil
	}))
	if chunkErr != nil {
		return chunkErr
	}
	if err != nil {
		return failure(ctx, l.provider, 0, err)
	}
	return nil
}

func chatMessageType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
