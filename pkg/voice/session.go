package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/logger"
)

const playoutQueueSize = 16

// SessionOptions selects the providers behind a session.
type SessionOptions struct {
	LLM LLM
	STT STT
	TTS TTS

	// TrackName is the name of the published agent audio track.
	TrackName string
	Logger    logger.Logger
}

// AgentSession binds an LLM, STT and TTS to a room.
type AgentSession struct {
	llm    LLM
	stt    STT
	tts    TTS
	name   string
	logger logger.Logger

	mu        sync.Mutex
	started   bool
	closed    bool
	history   []ChatMessage
	listeners map[EventType][]Listener
	streams   []SpeechStream
	out       AudioOutput

	ctx      context.Context
	cancel   context.CancelFunc
	playout  chan []int16
	turnMu   sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAgentSession validates the providers and returns an idle session.
func NewAgentSession(opts SessionOptions) (*AgentSession, error) {
	var missing []string
	if opts.LLM == nil {
		missing = append(missing, "llm")
	}
	if opts.STT == nil {
		missing = append(missing, "stt")
	}
	if opts.TTS == nil {
		missing = append(missing, "tts")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("voice session missing %s", strings.Join(missing, ", "))
	}
	if opts.TrackName == "" {
		opts.TrackName = "agent-voice"
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &AgentSession{
		llm:       opts.LLM,
		stt:       opts.STT,
		tts:       opts.TTS,
		name:      opts.TrackName,
		logger:    opts.Logger,
		listeners: make(map[EventType][]Listener),
		playout:   make(chan []int16, playoutQueueSize),
	}, nil
}

// LLM returns the session's language model.
func (s *AgentSession) LLM() LLM {
	return s.llm
}

// On registers l for events of type t.
func (s *AgentSession) On(t EventType, l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[t] = append(s.listeners[t], l)
}

// Start begins listening to callers and publishes the agent's audio track.
// The session stops when ctx ends or Close is called. A session whose
// track cannot be published is closed.
func (s *AgentSession) Start(ctx context.Context, room Room, agent Agent) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.started:
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	if agent.Instructions != "" {
		s.history = append(s.history, ChatMessage{Role: RoleSystem, Content: agent.Instructions, CreatedAt: time.Now()})
	}
	s.mu.Unlock()

	room.OnAudioInput(func(in AudioInput, participant string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.wg.Add(1)
		go s.listen(in, participant)
	})

	out, err := room.PublishAudio(s.ctx, s.name)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		_ = s.Close()
		return fmt.Errorf("publish agent audio: %w", err)
	}

	s.mu.Lock()
	s.out = out
	s.mu.Unlock()
	s.emit(EventTrackPublished, map[string]string{"track": out.Name()})

	s.wg.Add(1)
	go s.runPlayout(out)

	go func() {
		<-s.ctx.Done()
		_ = s.Close()
	}()

	s.emit(EventAgentStarted, map[string]string{"model": s.llm.Model()})
	return nil
}

// Say synthesizes text and queues it for playout. It returns once the
// audio is queued.
func (s *AgentSession) Say(ctx context.Context, text string) error {
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !started {
		return ErrSessionNotStarted
	}

	pcm, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	s.appendHistory(RoleAssistant, text)
	return s.enqueue(ctx, pcm)
}

// History returns a copy of the conversation so far.
func (s *AgentSession) History() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage{}, s.history...)
}

// Close stops playout and recognition. It is safe to call more than once.
func (s *AgentSession) Close() error {
	var errs []error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		wasStarted := s.started
		streams := s.streams
		s.streams = nil
		out := s.out
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, st := range streams {
			if err := st.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.wg.Wait()
		if out != nil {
			if err := out.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if wasStarted {
			s.emit(EventAgentStopped, nil)
		}
	})
	return errors.Join(errs...)
}

func (s *AgentSession) enqueue(ctx context.Context, pcm []int16) error {
	select {
	case s.playout <- pcm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *AgentSession) runPlayout(out AudioOutput) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.playout:
			if err := out.WritePCM(s.ctx, pcm); err != nil && s.ctx.Err() == nil {
				s.logger.Warnw("playout failed", err)
			}
		}
	}
}

// listen transcribes one caller track and answers each final transcript.
func (s *AgentSession) listen(in AudioInput, participant string) {
	defer s.wg.Done()

	stream, err := s.stt.Stream(s.ctx)
	if err != nil {
		s.logger.Errorw("could not open speech stream", err, "participant", participant)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.streams = append(s.streams, stream)
	s.mu.Unlock()

	s.logger.Infow("listening to participant", "participant", participant)

	// The reader is not tracked by wg: ReadPCM only returns once the track ends.
	go func() {
		for s.ctx.Err() == nil {
			pcm, err := in.ReadPCM()
			if err != nil {
				s.logger.Debugw("caller audio ended", "participant", participant, "error", err)
				return
			}
			if err := stream.WriteAudio(pcm); err != nil {
				s.logger.Debugw("speech stream rejected audio", "participant", participant, "error", err)
				return
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			text := strings.TrimSpace(ev.Text)
			if !ev.Final || text == "" {
				continue
			}
			s.reply(text, participant)
		}
	}
}

// reply runs one conversational turn. Turns are serialized.
func (s *AgentSession) reply(userText, participant string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.logger.Infow("user said", "participant", participant, "text", userText)
	s.appendHistory(RoleUser, userText)

	answer, err := s.llm.Chat(s.ctx, s.History(), nil)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Errorw("llm reply failed", err, "model", s.llm.Model())
		}
		return
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return
	}

	s.logger.Infow("agent replied", "text", answer)
	pcm, err := s.tts.Synthesize(s.ctx, answer)
	if err != nil {
		s.logger.Errorw("speech synthesis failed", err)
		return
	}
	s.appendHistory(RoleAssistant, answer)
	if err := s.enqueue(s.ctx, pcm); err != nil && s.ctx.Err() == nil {
		s.logger.Warnw("could not queue reply", err)
	}
}

func (s *AgentSession) appendHistory(role ChatRole, text string) {
	s.mu.Lock()
	s.history = append(s.history, ChatMessage{Role: role, Content: text, CreatedAt: time.Now()})
	s.mu.Unlock()
}

func (s *AgentSession) emit(t EventType, attrs map[string]string) {
	s.mu.Lock()
	listeners := append([]Listener{}, s.listeners[t]...)
	s.mu.Unlock()

	ev := Event{Type: t, Time: time.Now(), Attrs: attrs}
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warnw("session listener panicked", nil, "event", string(t), "panic", r)
				}
			}()
			l(ev)
		}()
	}
}
