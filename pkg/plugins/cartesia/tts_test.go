package cartesia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letta-telephony-agent/pkg/voice"
)

func newTestTTS(t *testing.T, handler http.HandlerFunc) *TTS {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tts, err := New(Options{
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		RateLimit:  -1,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return tts
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("CARTESIA_API_KEY", "")
	t.Setenv("REACT_APP_CARTESIA_API_KEY", "")

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewFallsBackToReactAppKey(t *testing.T) {
	t.Setenv("CARTESIA_API_KEY", "")
	t.Setenv("REACT_APP_CARTESIA_API_KEY", "legacy-key")

	tts, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", tts.opts.APIKey)
	assert.Equal(t, DefaultModel, tts.opts.Model)
	assert.Equal(t, DefaultVoice, tts.opts.Voice)
	assert.NotNil(t, tts.limiter)
}

func TestSynthesizeSendsRequest(t *testing.T) {
	pcm := []int16{1, -2, 300, -400}

	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, APIVersion, r.Header.Get("Cartesia-Version"))

		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hello there", req.Transcript)
		assert.Equal(t, DefaultModel, req.ModelID)
		assert.Equal(t, voiceSpec{Mode: "id", ID: DefaultVoice}, req.Voice)
		assert.Equal(t, "pcm_s16le", req.OutputFormat.Encoding)
		assert.Equal(t, voice.SampleRate, req.OutputFormat.SampleRate)

		_, _ = w.Write(voice.PCMToBytes(pcm))
	})

	got, err := tts.Synthesize(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestSynthesizeValidatesInput(t *testing.T) {
	var calls int32
	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := tts.Synthesize(context.Background(), "   ")
	assert.Error(t, err)

	_, err = tts.Synthesize(context.Background(), strings.Repeat("a", maxInputSize+1))
	assert.ErrorContains(t, err, "input text too large")

	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSynthesizeReportsAPIError(t *testing.T) {
	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	})

	_, err := tts.Synthesize(context.Background(), "hi")
	assert.ErrorContains(t, err, "API request failed with status 400")
}

func TestSynthesizeRejectsEmptyAudio(t *testing.T) {
	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := tts.Synthesize(context.Background(), "hi")
	assert.ErrorContains(t, err, "empty audio")
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < maxFailures; i++ {
		_, err := tts.Synthesize(context.Background(), "hi")
		require.Error(t, err)
	}

	_, err := tts.Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(maxFailures), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), tts.CircuitTrips())
}

func TestCancelledCallsDoNotOpenCircuit(t *testing.T) {
	tts := newTestTTS(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0, 0})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i <= maxFailures; i++ {
		_, err := tts.Synthesize(ctx, "hi")
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Zero(t, tts.CircuitTrips())

	pcm, err := tts.Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, pcm, 1)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0, 0})
	}))
	defer srv.Close()

	tts, err := New(Options{
		APIKey:     "k",
		Endpoint:   srv.URL,
		RateLimit:  0.001,
		Burst:      1,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	_, err = tts.Synthesize(context.Background(), "one")
	require.NoError(t, err)

	_, err = tts.Synthesize(context.Background(), "two")
	assert.ErrorIs(t, err, ErrRateLimited)
}
