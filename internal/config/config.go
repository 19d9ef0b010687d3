package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the huddle server.
type Config struct {
	Port      int
	Version   string
	LogLevel  string
	TeamFile  string
	APIKeys   []string
	Provider  ProviderConfig
	Engine    EngineConfig
	Sessions  SessionConfig
	Telemetry TelemetryConfig
}

// ProviderConfig selects the completion backend.
type ProviderConfig struct {
	Kind     string // openai, azure-openai, anthropic, ollama
	Endpoint string
	APIKey   string
	Model    string
	// RoutingModel serves classification calls; empty means Model.
	RoutingModel       string
	MaxTokens          int
	RateLimitRPS       float64
	RateLimitBurst     int
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

type EngineConfig struct {
	// ReplyClassifier is "llm" or "heuristic".
	ReplyClassifier       string
	MaxFollowUpRounds     int
	MaxIterations         int
	HistoryWindow         int
	ThinkTankMaxRounds    int
	ThinkTankMinConsensus float64
}

type SessionConfig struct {
	StaleTimeout  time.Duration
	SweepInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
	// SampleRatio is the fraction of root passes traced; child spans follow
	// their parent.
	SampleRatio float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     envInt("HUDDLE_PORT", 8080),
		Version:  envStr("HUDDLE_VERSION", "0.1.0"),
		LogLevel: envStr("HUDDLE_LOG_LEVEL", "info"),
		TeamFile: envStr("HUDDLE_TEAM_FILE", ""),
		APIKeys:  envList("HUDDLE_API_KEYS"),
		Provider: ProviderConfig{
			Kind:               envStr("HUDDLE_PROVIDER_KIND", "openai"),
			Endpoint:           envStr("HUDDLE_PROVIDER_ENDPOINT", ""),
			APIKey:             envStr("HUDDLE_PROVIDER_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:              envStr("HUDDLE_MODEL", "gpt-4o"),
			RoutingModel:       envStr("HUDDLE_ROUTING_MODEL", "gpt-4o-mini"),
			MaxTokens:          envInt("HUDDLE_MAX_TOKENS", 600),
			RateLimitRPS:       envFloat("HUDDLE_RATE_LIMIT_RPS", 5),
			RateLimitBurst:     envInt("HUDDLE_RATE_LIMIT_BURST", 10),
			BreakerMaxFailures: envInt("HUDDLE_BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:     envDuration("HUDDLE_BREAKER_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			ReplyClassifier:       envStr("HUDDLE_REPLY_CLASSIFIER", "llm"),
			MaxFollowUpRounds:     envInt("HUDDLE_MAX_FOLLOWUP_ROUNDS", 2),
			MaxIterations:         envInt("HUDDLE_MAX_ITERATIONS", 12),
			HistoryWindow:         envInt("HUDDLE_HISTORY_WINDOW", 5),
			ThinkTankMaxRounds:    envInt("HUDDLE_THINK_TANK_MAX_ROUNDS", 3),
			ThinkTankMinConsensus: envFloat("HUDDLE_THINK_TANK_MIN_CONSENSUS", 0.7),
		},
		Sessions: SessionConfig{
			StaleTimeout:  envDuration("HUDDLE_SESSION_TIMEOUT", time.Hour),
			SweepInterval: envDuration("HUDDLE_SWEEP_INTERVAL", 15*time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "huddle"),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// envDuration accepts Go duration strings ("90s") or plain seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
