package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/agentoven/huddle/pkg/models"
)

const (
	defaultMaxTokens          = 1024
	defaultBreakerMaxFailures = 5
	defaultBreakerTimeout     = 30 * time.Second
	defaultBreakerInterval    = 60 * time.Second
)

// Config selects and tunes the completion provider.
type Config struct {
	Kind      string // "openai", "azure-openai", "anthropic", "ollama"; anything else is treated as OpenAI-compatible
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int

	RateLimitRPS   float64 // 0 disables the limiter
	RateLimitBurst int

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// Client calls a chat-completion HTTP API. Every call waits on the rate
// limiter and runs through a circuit breaker, so a failing provider fails
// fast instead of stalling each agent turn.
type Client struct {
	cfg     Config
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewClient builds a client for cfg. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint(cfg.Kind)
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	c := &Client{cfg: cfg, model: cfg.Model, http: httpClient}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "completion:" + c.provider(),
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("⚡ Circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Only provider failures count; a caller hanging up or a chunk
			// callback error says nothing about provider health.
			var me *ModelError
			if err == nil || !errors.As(err, &me) {
				return true
			}
			return errors.Is(err, context.Canceled)
		},
	})
	return c
}

// WithModel returns a client for a different model that shares this
// client's limiter and breaker.
func (c *Client) WithModel(model string) *Client {
	if model == "" || model == c.model {
		return c
	}
	cp := *c
	cp.model = model
	return &cp
}

// Model returns the model name sent with each request.
func (c *Client) Model() string { return c.model }

// State exposes the breaker state for health reporting.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Complete returns the whole response in one piece.
func (c *Client) Complete(ctx context.Context, messages []models.ChatMessage) (string, error) {
	return c.execute(ctx, func() (string, error) {
		return c.call(ctx, messages, false, nil)
	})
}

// Stream requests a server-sent-event stream and forwards text deltas to
// onChunk as they arrive.
func (c *Client) Stream(ctx context.Context, messages []models.ChatMessage, onChunk func(string) error) (string, error) {
	return c.execute(ctx, func() (string, error) {
		return c.call(ctx, messages, true, onChunk)
	})
}

func (c *Client) execute(ctx context.Context, fn func() (string, error)) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &ModelError{Provider: c.provider(), Err: err}
		}
	}
	text, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &ModelError{Provider: c.provider(), Err: fmt.Errorf("circuit open: %w", err)}
		}
		return "", err
	}
	return text, nil
}

func (c *Client) provider() string {
	if c.cfg.Kind == "" {
		return "openai"
	}
	return c.cfg.Kind
}

func defaultEndpoint(kind string) string {
	switch kind {
	case "anthropic":
		return "https://api.anthropic.com"
	case "ollama":
		return "http://localhost:11434"
	default:
		return "https://api.openai.com/v1"
	}
}

func (c *Client) call(ctx context.Context, messages []models.ChatMessage, stream bool, onChunk func(string) error) (string, error) {
	switch c.cfg.Kind {
	case "anthropic":
		return c.callAnthropic(ctx, messages, stream, onChunk)
	case "ollama":
		return c.callOpenAI(ctx, c.cfg.Endpoint+"/v1/chat/completions", messages, stream, onChunk)
	default:
		if c.cfg.APIKey == "" {
			return "", c.fail(0, errors.New("api key not configured"))
		}
		return c.callOpenAI(ctx, c.cfg.Endpoint+"/chat/completions", messages, stream, onChunk)
	}
}

func (c *Client) fail(status int, err error) *ModelError {
	return &ModelError{Provider: c.provider(), StatusCode: status, Err: err}
}

// ── OpenAI-compatible ────────────────────────────────────────

type openAIRequest struct {
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
	Stream    bool                 `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *Client) callOpenAI(ctx context.Context, url string, messages []models.ChatMessage, stream bool, onChunk func(string) error) (string, error) {
	body, _ := json.Marshal(openAIRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    stream,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		if c.cfg.Kind == "azure-openai" {
			httpReq.Header.Set("api-key", c.cfg.APIKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", c.fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return "", c.fail(httpResp.StatusCode, errors.New(strings.TrimSpace(string(respBody))))
	}

	if !stream {
		var oaiResp openAIResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
			return "", c.fail(0, fmt.Errorf("decode response: %w", err))
		}
		if len(oaiResp.Choices) == 0 {
			return "", c.fail(0, errors.New("response has no choices"))
		}
		return oaiResp.Choices[0].Message.Content, nil
	}

	return c.readEvents(httpResp.Body, onChunk, func(_, data string) (string, bool, error) {
		if data == "[DONE]" {
			return "", true, nil
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", false, fmt.Errorf("decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			return "", false, nil
		}
		return chunk.Choices[0].Delta.Content, false, nil
	})
}

// ── Anthropic ────────────────────────────────────────────────

type anthropicRequest struct {
	Model     string               `json:"model"`
	System    string               `json:"system,omitempty"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
	Stream    bool                 `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callAnthropic(ctx context.Context, messages []models.ChatMessage, stream bool, onChunk func(string) error) (string, error) {
	if c.cfg.APIKey == "" {
		return "", c.fail(0, errors.New("api key not configured"))
	}

	// The Messages API takes system prompts out of band.
	var system []string
	convo := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		convo = append(convo, m)
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     c.model,
		System:    strings.Join(system, "\n\n"),
		Messages:  convo,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    stream,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", c.fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return "", c.fail(httpResp.StatusCode, errors.New(strings.TrimSpace(string(respBody))))
	}

	if !stream {
		var anthResp anthropicResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
			return "", c.fail(0, fmt.Errorf("decode response: %w", err))
		}
		var sb strings.Builder
		for _, block := range anthResp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	}

	return c.readEvents(httpResp.Body, onChunk, func(_, data string) (string, bool, error) {
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", false, fmt.Errorf("decode stream event: %w", err)
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" {
				return ev.Delta.Text, false, nil
			}
		case "message_stop":
			return "", true, nil
		case "error":
			return "", false, errors.New(ev.Error.Message)
		}
		return "", false, nil
	})
}

// ── Server-sent events ───────────────────────────────────────

// eventDecoder turns one SSE event into a text delta. done ends the stream.
type eventDecoder func(event, data string) (delta string, done bool, err error)

func (c *Client) readEvents(body io.Reader, onChunk func(string) error, decode eventDecoder) (string, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case !strings.HasPrefix(line, "data:"):
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		delta, done, err := decode(event, data)
		if err != nil {
			return "", c.fail(0, err)
		}
		if delta != "" {
			full.WriteString(delta)
			if onChunk != nil {
				if err := onChunk(delta); err != nil {
					return "", err
				}
			}
		}
		if done {
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", c.fail(0, fmt.Errorf("read stream: %w", err))
	}
	return full.String(), nil
}
