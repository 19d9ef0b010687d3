// Package completiontest provides a scripted Completer for tests.
package completiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/pkg/models"
)

// Call records one completion request.
type Call struct {
	AgentID  string
	Messages []models.ChatMessage
}

// Fake answers by agent id (taken from completion.WithAgent). Scripted
// replies are consumed in order; once exhausted the fake returns a
// neutral line that mentions nobody.
type Fake struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	onCall  func(ctx context.Context, agentID string)
	calls   []Call
}

var _ completion.Completer = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		replies: map[string][]string{},
		errs:    map[string]error{},
	}
}

// Reply queues replies for agentID. Use "" for calls without an agent.
func (f *Fake) Reply(agentID string, replies ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[agentID] = append(f.replies[agentID], replies...)
	return f
}

// Fail makes every call for agentID return err.
func (f *Fake) Fail(agentID string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[agentID] = err
	return f
}

// OnCall registers a hook that runs before each call is answered.
func (f *Fake) OnCall(fn func(ctx context.Context, agentID string)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCall = fn
	return f
}

// Calls returns the recorded requests.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Spoken returns the agent ids in call order.
func (f *Fake) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.AgentID
	}
	return out
}

func (f *Fake) next(ctx context.Context, messages []models.ChatMessage) (string, error) {
	agentID := completion.AgentFromContext(ctx)

	f.mu.Lock()
	f.calls = append(f.calls, Call{AgentID: agentID, Messages: append([]models.ChatMessage(nil), messages...)})
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, agentID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[agentID]; ok {
		return "", err
	}
	if queue := f.replies[agentID]; len(queue) > 0 {
		f.replies[agentID] = queue[1:]
		return queue[0], nil
	}
	return fmt.Sprintf("Nothing further to add from %s.", agentID), nil
}

// Complete implements completion.Completer.
func (f *Fake) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	return f.next(ctx, messages)
}

// Stream implements completion.Completer, emitting one chunk per word.
func (f *Fake) Stream(ctx context.Context, messages []models.ChatMessage, onChunk func(string) error) (string, error) {
	text, err := f.next(ctx, messages)
	if err != nil {
		return "", err
	}
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		if err := onChunk(w); err != nil {
			return "", err
		}
	}
	return text, nil
}
