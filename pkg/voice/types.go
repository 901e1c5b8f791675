// Package voice runs a spoken conversation in a LiveKit room. Caller audio
// is transcribed, each finished utterance is answered by a language model,
// and the answer is synthesized and played back into the room.
package voice

import (
	"context"
	"errors"
	"time"
)

const (
	// SampleRate is the PCM rate used between the room and the providers.
	SampleRate = 48000
	// Channels is the PCM channel count used throughout the pipeline.
	Channels = 1
	// FrameDuration is the length of one playout frame.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of samples in one playout frame.
	FrameSamples = SampleRate / 1000 * 20
)

var (
	ErrSessionNotStarted = errors.New("voice session not started")
	ErrSessionClosed     = errors.New("voice session closed")
	ErrSessionStarted    = errors.New("voice session already started")
)

// ChatRole identifies the author of a chat turn.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of the conversation.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LLM produces the agent's reply to a conversation.
type LLM interface {
	// Chat returns the full reply. onDelta, when non-nil, receives text as
	// it streams in.
	Chat(ctx context.Context, messages []ChatMessage, onDelta func(string)) (string, error)
	Model() string
}

// STT opens streaming recognizers.
type STT interface {
	Stream(ctx context.Context) (SpeechStream, error)
}

// SpeechStream accepts caller audio and emits transcripts.
type SpeechStream interface {
	// WriteAudio sends 16-bit mono PCM at SampleRate.
	WriteAudio(pcm []int16) error
	// Events is closed when the stream ends.
	Events() <-chan SpeechEvent
	Close() error
}

// SpeechEvent is a transcript produced by a SpeechStream.
type SpeechEvent struct {
	Text  string
	Final bool
}

// TTS turns text into 16-bit mono PCM at SampleRate.
type TTS interface {
	Synthesize(ctx context.Context, text string) ([]int16, error)
}

// Agent carries the per-session behavior of the assistant.
type Agent struct {
	Instructions string
}

// AudioOutput plays PCM into the room.
type AudioOutput interface {
	// WritePCM blocks until pcm has been paced out or ctx ends.
	WritePCM(ctx context.Context, pcm []int16) error
	Name() string
	Close() error
}

// AudioInput yields decoded caller audio.
type AudioInput interface {
	ReadPCM() ([]int16, error)
}

// Room is the part of a LiveKit room the session talks to.
type Room interface {
	PublishAudio(ctx context.Context, name string) (AudioOutput, error)
	OnAudioInput(fn func(in AudioInput, participant string))
}

// EventType names a session lifecycle event.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentStopped   EventType = "agent_stopped"
	EventTrackPublished EventType = "track_published"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Type  EventType
	Time  time.Time
	Attrs map[string]string
}

// Listener observes session events. Listeners cannot affect the session.
type Listener func(Event)
