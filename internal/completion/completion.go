// Package completion talks to the language-model service that writes every
// agent turn and backs the LLM tier of intent classification.
package completion

import (
	"context"
	"fmt"

	"github.com/agentoven/huddle/pkg/models"
)

// Completer produces text for a prompt. Stream delivers the response in
// chunks as it arrives and returns the full text once the stream drains.
// A chunk callback error aborts the stream and is returned unchanged.
type Completer interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, error)
	Stream(ctx context.Context, messages []models.ChatMessage, onChunk func(string) error) (string, error)
}

// ModelError reports a failed or malformed completion.
type ModelError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

type agentKey struct{}

// WithAgent tags ctx with the id of the agent a completion is written for.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentFromContext returns the agent id set by WithAgent, if any.
func AgentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentKey{}).(string)
	return id
}

// Func adapts a plain function into a Completer. Stream emits the whole
// response as a single chunk.
type Func func(ctx context.Context, messages []models.ChatMessage) (string, error)

func (f Func) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	return f(ctx, messages)
}

func (f Func) Stream(ctx context.Context, messages []models.ChatMessage, onChunk func(string) error) (string, error) {
	text, err := f(ctx, messages)
	if err != nil {
		return "", err
	}
	if text != "" && onChunk != nil {
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	return text, nil
}
