// Package config reads process configuration from the environment, after
// loading any .env file found next to the binary or in its parents.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultLiveKitURL    = "ws://localhost:7880"
	DefaultAgentName     = "telephony-agent"
	DefaultLettaAgentID  = "agent-1d9ed6b1-6b72-44b3-b3c8-8bb0b70f6a9e"
	DefaultLettaBaseURL  = "http://localhost:8283/v1/voice-beta"
	DefaultFallbackModel = "gpt-4o-mini"
	DefaultMaxJobs       = 10
	DefaultCallRecordTTL = 24 * time.Hour
	DefaultDispatchAddr  = ":8080"
	DefaultLogDir        = "logs"
)

// ErrMissingCredentials is returned when the LiveKit API key or secret is unset.
var ErrMissingCredentials = errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")

// Config captures runtime configuration shared by the agent binaries.
type Config struct {
	// LiveKitURL is the WebSocket URL of the LiveKit server.
	// Environment variable: LIVEKIT_URL (default: ws://localhost:7880)
	LiveKitURL string

	// APIKey and APISecret authenticate the worker and server API calls.
	// Environment variables: LIVEKIT_API_KEY, LIVEKIT_API_SECRET (required)
	APIKey    string
	APISecret string

	// AgentName is the name dispatches target.
	// Environment variable: AGENT_NAME (default: telephony-agent)
	AgentName string

	// MaxJobs caps concurrent calls per worker.
	// Environment variable: MAX_JOBS (default: 10)
	MaxJobs int

	// SIPTrunkID is the outbound trunk used to dial callers.
	// Environment variable: LIVEKIT_SIP_TRUNK_ID
	SIPTrunkID string

	Letta    LettaConfig
	Speech   SpeechConfig
	Log      LogConfig
	Redis    RedisConfig
	S3       S3Config
	Dispatch DispatchConfig
}

// LettaConfig selects the agent backend.
type LettaConfig struct {
	// AgentID overrides every other agent id source when set.
	// Environment variable: LETTA_AGENT_ID
	AgentID string

	// DefaultAgentID is used when no source yields an agent id.
	// Environment variable: DEFAULT_LETTA_AGENT_ID
	DefaultAgentID string

	// BaseURL of the voice endpoint.
	// Environment variable: LETTA_BASE_URL (default: http://localhost:8283/v1/voice-beta)
	BaseURL string

	// APIKey is sent as the bearer token.
	// Environment variable: LETTA_API_KEY
	APIKey string

	// ProbeAgent enables the reachability check before the session starts.
	// Environment variable: LETTA_PROBE (default: true)
	ProbeAgent bool
}

// SpeechConfig holds provider keys. Legacy REACT_APP_ names are accepted.
type SpeechConfig struct {
	DeepgramAPIKey string
	CartesiaAPIKey string
	OpenAIAPIKey   string

	// FallbackModel is the generic model used when the Letta path fails.
	// Environment variable: FALLBACK_LLM_MODEL (default: gpt-4o-mini)
	FallbackModel string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Dir   string
	Level string
	JSON  bool
}

// RedisConfig enables the Redis call record store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// S3Config contains configuration for transcript uploads to S3-compatible storage.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool

	// ForcePathStyle is required for MinIO and some S3-compatible services.
	ForcePathStyle bool
}

// Enabled returns true if uploads are configured with the minimum required fields.
func (s S3Config) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

// DispatchConfig configures the dispatcher HTTP API.
type DispatchConfig struct {
	Addr      string
	JWTSecret string
	JWTIssuer string
}

// LoadDotEnv loads the first .env files it finds in the working directory
// and its two parents. Variables already set are not overwritten.
func LoadDotEnv() []string {
	var loaded []string
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

// Load reads .env files and then the environment.
func Load() *Config {
	LoadDotEnv()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) *Config {
	e := env(getenv)
	return &Config{
		LiveKitURL: e.str("LIVEKIT_URL", DefaultLiveKitURL),
		APIKey:     e.str("LIVEKIT_API_KEY", ""),
		APISecret:  e.str("LIVEKIT_API_SECRET", ""),
		AgentName:  e.str("AGENT_NAME", DefaultAgentName),
		MaxJobs:    e.integer("MAX_JOBS", DefaultMaxJobs),
		SIPTrunkID: e.str("LIVEKIT_SIP_TRUNK_ID", ""),
		Letta: LettaConfig{
			AgentID:        e.str("LETTA_AGENT_ID", ""),
			DefaultAgentID: e.str("DEFAULT_LETTA_AGENT_ID", DefaultLettaAgentID),
			BaseURL:        e.str("LETTA_BASE_URL", DefaultLettaBaseURL),
			APIKey:         e.str("LETTA_API_KEY", ""),
			ProbeAgent:     e.boolean("LETTA_PROBE", true),
		},
		Speech: SpeechConfig{
			DeepgramAPIKey: e.first("DEEPGRAM_API_KEY", "REACT_APP_DEEPGRAM_API_KEY"),
			CartesiaAPIKey: e.first("CARTESIA_API_KEY", "REACT_APP_CARTESIA_API_KEY"),
			OpenAIAPIKey:   e.str("OPENAI_API_KEY", ""),
			FallbackModel:  e.str("FALLBACK_LLM_MODEL", DefaultFallbackModel),
		},
		Log: LogConfig{
			Dir:   e.str("LOG_DIR", DefaultLogDir),
			Level: e.str("LOG_LEVEL", "debug"),
			JSON:  e.boolean("LOG_JSON", false),
		},
		Redis: RedisConfig{
			Addr:     e.str("REDIS_ADDR", ""),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.integer("REDIS_DB", 0),
			TTL:      e.duration("CALL_RECORD_TTL", DefaultCallRecordTTL),
		},
		S3: S3Config{
			Endpoint:       e.str("S3_ENDPOINT", ""),
			Bucket:         e.str("S3_BUCKET", ""),
			Region:         e.str("S3_REGION", "us-east-1"),
			AccessKey:      e.str("S3_ACCESS_KEY", ""),
			SecretKey:      e.str("S3_SECRET_KEY", ""),
			Prefix:         e.str("S3_PREFIX", "transcripts"),
			UseSSL:         e.boolean("S3_USE_SSL", false),
			ForcePathStyle: e.boolean("S3_FORCE_PATH_STYLE", true),
		},
		Dispatch: DispatchConfig{
			Addr:      e.str("DISPATCH_HTTP_ADDR", DefaultDispatchAddr),
			JWTSecret: e.str("DISPATCH_JWT_SECRET", ""),
			JWTIssuer: e.str("DISPATCH_JWT_ISSUER", ""),
		},
	}
}

// RequireLiveKit reports whether the LiveKit credentials are present.
func (c *Config) RequireLiveKit() error {
	if c.APIKey == "" || c.APISecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

type env func(string) string

func (e env) str(key, def string) string {
	if v := e(key); v != "" {
		return v
	}
	return def
}

func (e env) first(keys ...string) string {
	for _, k := range keys {
		if v := e(k); v != "" {
			return v
		}
	}
	return ""
}

func (e env) integer(key string, def int) int {
	if s := e(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

// Accepts: 1, t, T, TRUE, true, True, 0, f, F, FALSE, false, False.
func (e env) boolean(key string, def bool) bool {
	if s := e(key); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return def
}

func (e env) duration(key string, def time.Duration) time.Duration {
	if s := e(key); s != "" {
		if v, err := time.ParseDuration(s); err == nil {
			return v
		}
	}
	return def
}
