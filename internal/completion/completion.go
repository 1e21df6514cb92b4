// Package completion streams chat completions from a language model.
//
// Every provider delivers plain text deltas through a callback, in arrival
// order. Cancellation of ctx is returned as ctx.Err() unwrapped so callers
// can tell a superseded request from a failed one; every other failure is an
// *Error.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is the author of a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// Request is a chat completion request. System is sent as a leading system
// turn when non-empty.
type Request struct {
	System   string
	Messages []Message
}

// ChunkFunc receives one text delta. Returning an error aborts the stream.
type ChunkFunc func(chunk string) error

// Client streams a completion for a request.
type Client interface {
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) error
	// Name identifies the provider and model, e.g. "openai/gpt-4o".
	Name() string
}

// Error is a failed completion request.
type Error struct {
	Provider string
	// StatusCode is the HTTP status of the rejected request, or 0 when
	// no response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCancelled reports whether err stems from context cancellation rather
// than a provider failure. Deadline expiry is a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Collect runs a stream to completion and returns the concatenated text.
func Collect(ctx context.Context, c Client, req Request) (string, error) {
	var b strings.Builder
	err := c.Stream(ctx, req, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	return b.String(), err
}

// withSystem returns req's messages with the system prompt prepended.
func withSystem(req Request) []Message {
	if req.System == "" {
		return req.Messages
	}
	out := make([]Message, 0, len(req.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: req.System})
	return append(out, req.Messages...)
}

// failure converts a provider error. Once ctx is done its own error wins.
func failure(ctx context.Context, provider string, status int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &Error{Provider: provider, StatusCode: status, Err: err}
}
