package voice

import (
	"context"
	"errors"
	"io"
	"sync"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts [][]ChatMessage
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ChatMessage, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if onDelta != nil {
		onDelta(f.reply)
	}
	return f.reply, nil
}

func (f *fakeLLM) Model() string { return "fake-llm" }

func (f *fakeLLM) lastPrompt() []ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeTTS struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]int16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return make([]int16, len(text)), nil
}

type fakeSTT struct {
	streams chan *fakeStream
	err     error
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{streams: make(chan *fakeStream, 4)}
}

func (f *fakeSTT) Stream(ctx context.Context) (SpeechStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	st := &fakeStream{events: make(chan SpeechEvent, 8)}
	f.streams <- st
	return st, nil
}

type fakeStream struct {
	mu      sync.Mutex
	samples int
	events  chan SpeechEvent
	closed  bool
}

func (s *fakeStream) WriteAudio(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.samples += len(pcm)
	return nil
}

func (s *fakeStream) Events() <-chan SpeechEvent { return s.events }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type fakeOutput struct {
	mu      sync.Mutex
	name    string
	written [][]int16
	closed  bool
	wrote   chan struct{}
}

func (o *fakeOutput) Name() string { return o.name }

func (o *fakeOutput) WritePCM(ctx context.Context, pcm []int16) error {
	o.mu.Lock()
	o.written = append(o.written, pcm)
	o.mu.Unlock()
	select {
	case o.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.written)
}

type fakeRoom struct {
	mu         sync.Mutex
	out        *fakeOutput
	publishErr error
	onInput    func(AudioInput, string)

	// joinOnPublish is delivered as a caller while the agent track publishes.
	joinOnPublish AudioInput
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{}
}

func (r *fakeRoom) PublishAudio(ctx context.Context, name string) (AudioOutput, error) {
	r.mu.Lock()
	early, fn := r.joinOnPublish, r.onInput
	r.mu.Unlock()
	if early != nil && fn != nil {
		fn(early, "+15551234567")
	}
	if r.publishErr != nil {
		return nil, r.publishErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = &fakeOutput{name: name, wrote: make(chan struct{}, 8)}
	return r.out, nil
}

func (r *fakeRoom) OnAudioInput(fn func(AudioInput, string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onInput = fn
}

func (r *fakeRoom) addCaller(in AudioInput, identity string) {
	r.mu.Lock()
	fn := r.onInput
	r.mu.Unlock()
	fn(in, identity)
}

// fakeInput returns a fixed number of frames and then EOF.
type fakeInput struct {
	mu     sync.Mutex
	frames int
}

func (i *fakeInput) ReadPCM() ([]int16, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.frames == 0 {
		return nil, io.EOF
	}
	i.frames--
	return make([]int16, FrameSamples), nil
}
