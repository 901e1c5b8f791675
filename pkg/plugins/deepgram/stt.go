// Package deepgram streams caller audio to Deepgram's live transcription
// websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/logger"

	"letta-telephony-agent/pkg/plugins"
	"letta-telephony-agent/pkg/voice"
)

const (
	DefaultURL   = "wss://api.deepgram.com/v1/listen"
	DefaultModel = "nova-2"

	defaultEndpointing = 300 * time.Millisecond
	defaultKeepAlive   = 5 * time.Second
	handshakeTimeout   = 10 * time.Second
	eventBufferSize    = 32
)

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("deepgram: missing API key")
	// ErrStreamClosed is returned when writing to a closed stream.
	ErrStreamClosed = errors.New("deepgram: stream closed")
)

// Options configures the STT client. The API key falls back to
// DEEPGRAM_API_KEY and then REACT_APP_DEEPGRAM_API_KEY.
type Options struct {
	APIKey      string
	URL         string
	Model       string
	Language    string
	Endpointing time.Duration
	KeepAlive   time.Duration
	Dialer      *websocket.Dialer
	Logger      logger.Logger
}

// STT implements voice.STT.
type STT struct {
	opts Options
}

var _ voice.STT = (*STT)(nil)

// New returns a Deepgram STT client.
func New(opts Options) (*STT, error) {
	if opts.APIKey == "" {
		opts.APIKey = plugins.FirstEnv(os.Getenv, "DEEPGRAM_API_KEY", "REACT_APP_DEEPGRAM_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Endpointing == 0 {
		opts.Endpointing = defaultEndpointing
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = handshakeTimeout
		opts.Dialer = &d
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &STT{opts: opts}, nil
}

func (s *STT) listenURL() (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(voice.SampleRate))
	q.Set("channels", strconv.Itoa(voice.Channels))
	q.Set("model", s.opts.Model)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.FormatInt(s.opts.Endpointing.Milliseconds(), 10))
	if s.opts.Language != "" {
		q.Set("language", s.opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Stream opens a live transcription connection. It is closed when ctx ends.
func (s *STT) Stream(ctx context.Context) (voice.SpeechStream, error) {
	target, err := s.listenURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+s.opts.APIKey)

	conn, resp, err := s.opts.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram dial failed: %w", err)
	}

	st := &stream{
		conn:   conn,
		events: make(chan voice.SpeechEvent, eventBufferSize),
		done:   make(chan struct{}),
		logger: s.opts.Logger,
	}
	go st.readLoop()
	go st.keepAlive(s.opts.KeepAlive)
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.done:
		}
	}()
	return st, nil
}

type controlMessage struct {
	Type string `json:"type"`
}

type resultMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan voice.SpeechEvent
	logger  logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (st *stream) Events() <-chan voice.SpeechEvent {
	return st.events
}

func (st *stream) WriteAudio(pcm []int16) error {
	select {
	case <-st.done:
		return ErrStreamClosed
	default:
	}
	return st.write(websocket.BinaryMessage, voice.PCMToBytes(pcm))
}

func (st *stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		close(st.done)
		if b, mErr := json.Marshal(controlMessage{Type: "CloseStream"}); mErr == nil {
			_ = st.write(websocket.TextMessage, b)
		}
		err = st.conn.Close()
	})
	return err
}

func (st *stream) write(messageType int, data []byte) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_ = st.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return st.conn.WriteMessage(messageType, data)
}

func (st *stream) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	msg, _ := json.Marshal(controlMessage{Type: "KeepAlive"})
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			if err := st.write(websocket.TextMessage, msg); err != nil {
				st.logger.Debugw("deepgram keepalive failed", "error", err)
				return
			}
		}
	}
}

func (st *stream) readLoop() {
	defer close(st.events)

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			select {
			case <-st.done:
			default:
				st.logger.Warnw("deepgram stream ended", err)
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			st.logger.Debugw("ignoring malformed deepgram message", "error", err)
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}

		select {
		case st.events <- voice.SpeechEvent{Text: text, Final: msg.IsFinal}:
		case <-st.done:
			return
		}
	}
}
