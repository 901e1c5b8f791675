package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letta-telephony-agent/pkg/voice"
)

type fakeDeepgram struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	query    map[string]string
	auth     string
	audio    [][]byte
	controls []string
	conn     *websocket.Conn
	ready    chan struct{}
}

func newFakeDeepgram(t *testing.T) *fakeDeepgram {
	f := &fakeDeepgram{t: t, ready: make(chan struct{})}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDeepgram) URL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/listen"
}

func (f *fakeDeepgram) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.query = map[string]string{}
	for k := range r.URL.Query() {
		f.query[k] = r.URL.Query().Get(k)
	}
	f.conn = conn
	f.mu.Unlock()
	close(f.ready)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		if mt == websocket.BinaryMessage {
			f.audio = append(f.audio, data)
		} else {
			var c controlMessage
			_ = json.Unmarshal(data, &c)
			f.controls = append(f.controls, c.Type)
		}
		f.mu.Unlock()
	}
}

func (f *fakeDeepgram) sendResult(text string, final bool) {
	<-f.ready
	msg := map[string]interface{}{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{{"transcript": text, "confidence": 0.9}},
		},
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(f.t, f.conn.WriteJSON(msg))
}

func (f *fakeDeepgram) controlTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.controls...)
}

func newTestSTT(t *testing.T, f *fakeDeepgram) *STT {
	stt, err := New(Options{APIKey: "dg-key", URL: f.URL(), KeepAlive: 20 * time.Millisecond})
	require.NoError(t, err)
	return stt
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("REACT_APP_DEEPGRAM_API_KEY", "")

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("REACT_APP_DEEPGRAM_API_KEY", "legacy")
	stt, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "legacy", stt.opts.APIKey)
}

func TestStreamNegotiatesAudioFormat(t *testing.T) {
	f := newFakeDeepgram(t)
	stt := newTestSTT(t, f)

	st, err := stt.Stream(context.Background())
	require.NoError(t, err)
	defer st.Close()
	<-f.ready

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Token dg-key", f.auth)
	assert.Equal(t, "linear16", f.query["encoding"])
	assert.Equal(t, "48000", f.query["sample_rate"])
	assert.Equal(t, "1", f.query["channels"])
	assert.Equal(t, DefaultModel, f.query["model"])
	assert.Equal(t, "300", f.query["endpointing"])
}

func TestStreamForwardsAudioAndTranscripts(t *testing.T) {
	f := newFakeDeepgram(t)
	stt := newTestSTT(t, f)

	st, err := stt.Stream(context.Background())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.WriteAudio([]int16{1, 2, 3}))
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.audio) == 1 && len(f.audio[0]) == 6
	}, time.Second, 10*time.Millisecond)

	f.sendResult("hello", false)
	f.sendResult("hello there", true)

	var got []voice.SpeechEvent
	for len(got) < 2 {
		select {
		case ev := <-st.Events():
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for transcripts")
		}
	}
	assert.Equal(t, []voice.SpeechEvent{
		{Text: "hello", Final: false},
		{Text: "hello there", Final: true},
	}, got)
}

func TestStreamSendsKeepAliveAndCloseStream(t *testing.T) {
	f := newFakeDeepgram(t)
	stt := newTestSTT(t, f)

	st, err := stt.Stream(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, c := range f.controlTypes() {
			if c == "KeepAlive" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, st.Close())
	require.Eventually(t, func() bool {
		types := f.controlTypes()
		return len(types) > 0 && types[len(types)-1] == "CloseStream"
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, st.WriteAudio([]int16{1}), ErrStreamClosed)
	assert.NoError(t, st.Close())
}

func TestStreamClosesWithContext(t *testing.T) {
	f := newFakeDeepgram(t)
	stt := newTestSTT(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	st, err := stt.Stream(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-drain(st.Events()):
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after context cancel")
	}
}

func TestStreamDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	stt, err := New(Options{APIKey: "bad", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)

	_, err = stt.Stream(context.Background())
	assert.ErrorContains(t, err, "status 401")
}

// drain discards events and reports once the channel is closed.
func drain(events <-chan voice.SpeechEvent) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		for range events {
		}
		close(out)
	}()
	return out
}
