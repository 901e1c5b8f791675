// Package cartesia synthesizes speech with the Cartesia bytes API.
package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"letta-telephony-agent/pkg/plugins"
	"letta-telephony-agent/pkg/voice"
)

const (
	DefaultEndpoint = "https://api.cartesia.ai/tts/bytes"
	DefaultModel    = "sonic-2"
	DefaultVoice    = "794f9389-aac1-45b6-b726-9d9369183238"
	APIVersion      = "2024-06-10"

	maxInputSize = 4096 // characters

	defaultRateLimit = rate.Limit(10)
	defaultBurst     = 20

	maxFailures    = 5
	circuitTimeout = 30 * time.Second
)

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("cartesia: missing API key")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open, TTS API temporarily unavailable")
	// ErrRateLimited is returned when the local rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded for TTS API")
)

// Options configures a TTS client. Zero values select defaults; the API key
// falls back to CARTESIA_API_KEY and then REACT_APP_CARTESIA_API_KEY.
type Options struct {
	APIKey   string
	Endpoint string
	Model    string
	Voice    string
	Language string

	// RateLimit caps requests per second. Negative disables limiting.
	RateLimit rate.Limit
	Burst     int

	HTTPClient *http.Client
}

type synthesizeRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

type breaker struct {
	mu            sync.Mutex
	state         circuitState
	failures      int
	nextRetryTime time.Time
	trips         int64
}

// TTS implements voice.TTS over HTTP.
type TTS struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	breaker breaker
}

var _ voice.TTS = (*TTS)(nil)

// New returns a TTS client.
func New(opts Options) (*TTS, error) {
	if opts.APIKey == "" {
		opts.APIKey = plugins.FirstEnv(os.Getenv, "CARTESIA_API_KEY", "REACT_APP_CARTESIA_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Voice == "" {
		opts.Voice = DefaultVoice
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = plugins.SharedHTTPClient()
	}

	t := &TTS{opts: opts, client: opts.HTTPClient}
	switch {
	case opts.RateLimit < 0:
	case opts.RateLimit == 0:
		t.limiter = rate.NewLimiter(defaultRateLimit, defaultBurst)
	default:
		burst := opts.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		t.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return t, nil
}

// Synthesize returns text as 48 kHz mono PCM.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]int16, error) {
	if len(text) > maxInputSize {
		return nil, fmt.Errorf("input text too large: %d characters (max %d)", len(text), maxInputSize)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text input")
	}

	if !t.allowCall() {
		return nil, ErrCircuitOpen
	}
	if t.limiter != nil && !t.limiter.Allow() {
		return nil, ErrRateLimited
	}

	audio, err := t.call(ctx, text)
	if err != nil {
		// Cancellation is not a service failure.
		if ctx.Err() == nil {
			t.recordFailure()
		}
		return nil, fmt.Errorf("cartesia TTS call failed: %w", err)
	}
	t.recordSuccess()

	return voice.PCMFromBytes(audio), nil
}

// CircuitTrips reports how many times the breaker has opened.
func (t *TTS) CircuitTrips() int64 {
	t.breaker.mu.Lock()
	defer t.breaker.mu.Unlock()
	return t.breaker.trips
}

func (t *TTS) call(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{
		ModelID:    t.opts.Model,
		Transcript: text,
		Voice:      voiceSpec{Mode: "id", ID: t.opts.Voice},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: voice.SampleRate,
		},
		Language: t.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", t.opts.APIKey)
	req.Header.Set("Cartesia-Version", APIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("received empty audio response")
	}
	return audio, nil
}

func (t *TTS) allowCall() bool {
	b := &t.breaker
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitOpen:
		if time.Now().Before(b.nextRetryTime) {
			return false
		}
		b.state = circuitHalfOpen
		return true
	default:
		return true
	}
}

func (t *TTS) recordSuccess() {
	b := &t.breaker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = circuitClosed
}

func (t *TTS) recordFailure() {
	b := &t.breaker
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == circuitHalfOpen || b.failures >= maxFailures {
		b.state = circuitOpen
		b.nextRetryTime = time.Now().Add(circuitTimeout)
		b.trips++
	}
}
