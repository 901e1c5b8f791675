package telephony

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/livekit/protocol/livekit"

	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/voice"
)

type stubLLM struct{ model string }

func (l stubLLM) Chat(context.Context, []voice.ChatMessage, func(string)) (string, error) {
	return "ok", nil
}
func (l stubLLM) Model() string { return l.model }

type stubSTT struct{}

func (stubSTT) Stream(context.Context) (voice.SpeechStream, error) {
	return nil, errors.New("not used")
}

type stubTTS struct{}

func (stubTTS) Synthesize(context.Context, string) ([]int16, error) { return make([]int16, 960), nil }

type stubRoom struct{}

func (stubRoom) PublishAudio(context.Context, string) (voice.AudioOutput, error) {
	return nil, errors.New("not used")
}
func (stubRoom) OnAudioInput(func(voice.AudioInput, string)) {}

// fakeSession records what the call flow does to a session.
type fakeSession struct {
	opts voice.SessionOptions

	mu           sync.Mutex
	started      bool
	instructions string
	startErr     error
	sayErr       error
	said         []string
	saidCh       chan string
	listeners    map[voice.EventType]int
	closed       bool
}

func newFakeSession(opts voice.SessionOptions) *fakeSession {
	return &fakeSession{opts: opts, saidCh: make(chan string, 4), listeners: map[voice.EventType]int{}}
}

func (s *fakeSession) Start(_ context.Context, _ voice.Room, a voice.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.instructions = a.Instructions
	return nil
}

func (s *fakeSession) Say(_ context.Context, text string) error {
	s.mu.Lock()
	s.said = append(s.said, text)
	err := s.sayErr
	s.mu.Unlock()
	s.saidCh <- text
	return err
}

func (s *fakeSession) On(t voice.EventType, _ voice.Listener) {
	s.mu.Lock()
	s.listeners[t]++
	s.mu.Unlock()
}

func (s *fakeSession) History() []voice.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h []voice.ChatMessage
	for _, t := range s.said {
		h = append(h, voice.ChatMessage{Role: voice.RoleAssistant, Content: t})
	}
	return h
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

// fakePlugins builds sessions from stubs and remembers them.
type fakePlugins struct {
	lettaErr   error
	genericErr error
	sttErr     error
	startErr   error
	sayErr     error

	mu       sync.Mutex
	sessions []*fakeSession
	lettaIDs []string
}

func (f *fakePlugins) Plugins() Plugins {
	return Plugins{
		Letta: func(agentID string) (voice.LLM, error) {
			f.mu.Lock()
			f.lettaIDs = append(f.lettaIDs, agentID)
			f.mu.Unlock()
			if f.lettaErr != nil {
				return nil, f.lettaErr
			}
			return stubLLM{model: "letta-fast"}, nil
		},
		Generic: func() (voice.LLM, error) {
			if f.genericErr != nil {
				return nil, f.genericErr
			}
			return stubLLM{model: "gpt-4o-mini"}, nil
		},
		STT: func() (voice.STT, error) {
			if f.sttErr != nil {
				return nil, f.sttErr
			}
			return stubSTT{}, nil
		},
		TTS: func() (voice.TTS, error) { return stubTTS{}, nil },
		NewSession: func(opts voice.SessionOptions) (Session, error) {
			s := newFakeSession(opts)
			s.startErr, s.sayErr = f.startErr, f.sayErr
			f.mu.Lock()
			f.sessions = append(f.sessions, s)
			f.mu.Unlock()
			return s, nil
		},
	}
}

func (f *fakePlugins) Sessions() []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSession(nil), f.sessions...)
}

type fakeConnector struct {
	mu       sync.Mutex
	err      error
	policies []agent.AutoSubscribe
}

func (c *fakeConnector) Connect(_ context.Context, p agent.AutoSubscribe) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, p)
	return c.err
}

func (c *fakeConnector) Policies() []agent.AutoSubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]agent.AutoSubscribe(nil), c.policies...)
}

type fakePlacer struct {
	mu   sync.Mutex
	reqs []*livekit.CreateSIPParticipantRequest
	err  error
}

func (p *fakePlacer) CreateSIPParticipant(_ context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return nil, p.err
	}
	return &livekit.SIPParticipantInfo{ParticipantIdentity: req.ParticipantIdentity, RoomName: req.RoomName}, nil
}

func (p *fakePlacer) Requests() []*livekit.CreateSIPParticipantRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*livekit.CreateSIPParticipantRequest(nil), p.reqs...)
}

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (d *fakeDeleter) DeleteRoom(_ context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, req.Room)
	return &livekit.DeleteRoomResponse{}, nil
}

func (d *fakeDeleter) Deleted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

type fakeCall struct {
	fakeConnector

	jobID        string
	room         string
	jobMetadata  string
	roomMetadata string

	placer  *fakePlacer
	deleter *fakeDeleter

	shutdownMu sync.Mutex
	shutdowns  []string
}

func newFakeCall(jobMetadata, roomMetadata string) *fakeCall {
	return &fakeCall{
		jobID:        "AJ_test",
		room:         "call-room",
		jobMetadata:  jobMetadata,
		roomMetadata: roomMetadata,
		placer:       &fakePlacer{},
		deleter:      &fakeDeleter{},
	}
}

func (c *fakeCall) JobID() string         { return c.jobID }
func (c *fakeCall) RoomName() string      { return c.room }
func (c *fakeCall) JobMetadata() string   { return c.jobMetadata }
func (c *fakeCall) RoomMetadata() string  { return c.roomMetadata }
func (c *fakeCall) AudioRoom() voice.Room { return stubRoom{} }
func (c *fakeCall) Placer() CallPlacer    { return c.placer }
func (c *fakeCall) Rooms() RoomDeleter    { return c.deleter }

func (c *fakeCall) Shutdown(reason string) {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	c.shutdowns = append(c.shutdowns, reason)
}

func (c *fakeCall) Shutdowns() []string {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return append([]string(nil), c.shutdowns...)
}

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

type silentInput struct{}

func (silentInput) ReadPCM() ([]int16, error) { return nil, io.EOF }

type nopOutput struct{}

func (nopOutput) Name() string                            { return "agent-voice" }
func (nopOutput) WritePCM(context.Context, []int16) error { return nil }
func (nopOutput) Close() error                            { return nil }

// callerRoom subscribes a caller as soon as audio is connected and hands
// already subscribed callers to late listeners, the way a job room does.
type callerRoom struct {
	mu        sync.Mutex
	callers   []string
	listeners []func(voice.AudioInput, string)
}

func (r *callerRoom) Connect(context.Context, agent.AutoSubscribe) error {
	r.mu.Lock()
	r.callers = append(r.callers, "+15551234567")
	listeners := append([]func(voice.AudioInput, string){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(silentInput{}, "+15551234567")
	}
	return nil
}

func (r *callerRoom) OnAudioInput(fn func(voice.AudioInput, string)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	callers := append([]string{}, r.callers...)
	r.mu.Unlock()
	for _, c := range callers {
		fn(silentInput{}, c)
	}
}

func (r *callerRoom) PublishAudio(context.Context, string) (voice.AudioOutput, error) {
	return nopOutput{}, nil
}

// openedSTT reports each speech stream it opens.
type openedSTT struct{ opened chan struct{} }

func (s openedSTT) Stream(context.Context) (voice.SpeechStream, error) {
	s.opened <- struct{}{}
	return &idleStream{events: make(chan voice.SpeechEvent)}, nil
}

type idleStream struct {
	once   sync.Once
	events chan voice.SpeechEvent
}

func (s *idleStream) WriteAudio([]int16) error         { return nil }
func (s *idleStream) Events() <-chan voice.SpeechEvent { return s.events }
func (s *idleStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}
