package completion_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/huddle/internal/completion"
	"github.com/agentoven/huddle/pkg/models"
)

var prompt = []models.ChatMessage{
	{Role: "system", Content: "You are terse."},
	{Role: "user", Content: "Say hi"},
}

func TestComplete_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi there"}}]}`)
	}))
	defer srv.Close()

	c := completion.NewClient(completion.Config{Kind: "openai", Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-test"}, srv.Client())
	got, err := c.Complete(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, "hi there", got)
}

func TestStream_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo ", "team"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := completion.NewClient(completion.Config{Endpoint: srv.URL, APIKey: "k", Model: "m"}, srv.Client())

	var chunks []string
	got, err := c.Stream(context.Background(), prompt, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello team", got)
	assert.Equal(t, []string{"Hel", "lo ", "team"}, chunks)
}

func TestStream_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))

		var body struct {
			System   string               `json:"system"`
			Messages []models.ChatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "You are terse.", body.System)
		assert.Len(t, body.Messages, 1)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"all\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := completion.NewClient(completion.Config{Kind: "anthropic", Endpoint: srv.URL, APIKey: "ak", Model: "claude"}, srv.Client())
	got, err := c.Stream(context.Background(), prompt, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "Hi all", got)
}

func TestComplete_StatusErrorIsModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := completion.NewClient(completion.Config{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	_, err := c.Complete(context.Background(), prompt)

	var me *completion.ModelError
	require.True(t, errors.As(err, &me), "error = %v, want *ModelError", err)
	assert.Equal(t, http.StatusServiceUnavailable, me.StatusCode)
	assert.Contains(t, me.Error(), "overloaded")
}

func TestComplete_MissingKey(t *testing.T) {
	c := completion.NewClient(completion.Config{Kind: "openai"}, nil)
	_, err := c.Complete(context.Background(), prompt)

	var me *completion.ModelError
	assert.True(t, errors.As(err, &me))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := completion.NewClient(completion.Config{Endpoint: srv.URL, APIKey: "k", BreakerMaxFailures: 2}, srv.Client())
	for i := 0; i < 4; i++ {
		_, err := c.Complete(context.Background(), prompt)
		require.Error(t, err)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "breaker should stop calls after two failures")
	_, err := c.Complete(context.Background(), prompt)
	assert.True(t, strings.Contains(err.Error(), "circuit open"), "error = %v", err)
}

func TestStream_CallbackErrorStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
	}))
	defer srv.Close()

	stop := errors.New("client gone")
	c := completion.NewClient(completion.Config{Endpoint: srv.URL, APIKey: "k"}, srv.Client())

	n := 0
	_, err := c.Stream(context.Background(), prompt, func(string) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestWithModelSharesBreaker(t *testing.T) {
	c := completion.NewClient(completion.Config{APIKey: "k", Model: "big"}, nil)
	small := c.WithModel("small")

	assert.Equal(t, "big", c.Model())
	assert.Equal(t, "small", small.Model())
	assert.Same(t, c, c.WithModel(""))
}

func TestFuncStreamsWholeText(t *testing.T) {
	f := completion.Func(func(ctx context.Context, _ []models.ChatMessage) (string, error) {
		return "agent " + completion.AgentFromContext(ctx), nil
	})

	var got []string
	text, err := f.Stream(completion.WithAgent(context.Background(), "mathew"), prompt, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "agent mathew", text)
	assert.Equal(t, []string{"agent mathew"}, got)
}
