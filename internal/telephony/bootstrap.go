package telephony

import (
	"context"
	"errors"
	"fmt"

	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/voice"
)

// DefaultInstructions is the local instruction payload. Agent behaviour
// normally lives on the Letta agent itself.
const DefaultInstructions = "You are a helpful AI assistant. Be concise and friendly."

// Session is the part of *voice.AgentSession a call needs.
type Session interface {
	Start(ctx context.Context, room voice.Room, a voice.Agent) error
	Say(ctx context.Context, text string) error
	On(t voice.EventType, l voice.Listener)
	History() []voice.ChatMessage
	Close() error
}

// RoomConnector applies a subscription policy to the job's room.
type RoomConnector interface {
	Connect(ctx context.Context, policy agent.AutoSubscribe) error
}

// SessionPath records which LLM ended up serving the call.
type SessionPath string

const (
	PathLetta    SessionPath = "letta"
	PathFallback SessionPath = "fallback"
)

// Plugins builds the providers of a session.
type Plugins struct {
	Letta   func(agentID string) (voice.LLM, error)
	Generic func() (voice.LLM, error)
	STT     func() (voice.STT, error)
	TTS     func() (voice.TTS, error)

	// NewSession defaults to voice.NewAgentSession.
	NewSession func(voice.SessionOptions) (Session, error)
}

// ProbeFunc checks the agent backend before the session is built. Its
// result is only logged.
type ProbeFunc func(ctx context.Context, agentID string)

// Bootstrapper builds and starts the voice session for a call.
type Bootstrapper struct {
	Plugins Plugins

	Instructions         string
	FallbackInstructions string

	Probe ProbeFunc
	// OnSession sees the session after it is built and before it starts.
	OnSession func(Session)
	Logger    agent.Logger
}

// Bootstrap tries the Letta path first and, if any part of building it
// fails, rebuilds with the generic LLM. It then subscribes to audio only
// and starts the session. Errors returned are fatal for the call.
func (b Bootstrapper) Bootstrap(ctx context.Context, conn RoomConnector, room voice.Room, agentID string) (Session, SessionPath, error) {
	if b.Probe != nil {
		b.Probe(ctx, agentID)
	}

	b.Logger.Info("Creating AgentSession", "llm", "letta", "agentID", agentID, "stt", "deepgram", "tts", "cartesia")
	session, err := b.build(func() (voice.LLM, error) { return b.Plugins.Letta(agentID) })
	path, instructions := PathLetta, b.Instructions
	if err != nil {
		b.Logger.Error("Failed to create AgentSession with Letta",
			"errorType", fmt.Sprintf("%T", rootCause(err)),
			"error", err.Error(),
		)
		b.Logger.Info("Falling back to generic LLM")

		session, err = b.build(b.Plugins.Generic)
		if err != nil {
			return nil, PathFallback, fmt.Errorf("fallback session: %w", err)
		}
		path, instructions = PathFallback, b.FallbackInstructions
		b.Logger.Info("Fallback AgentSession created")
	}

	if b.OnSession != nil {
		b.OnSession(session)
	}

	if err := conn.Connect(ctx, agent.AutoSubscribeAudioOnly); err != nil {
		_ = session.Close()
		return nil, path, fmt.Errorf("connect audio only: %w", err)
	}
	b.Logger.Info("Connected with audio subscription")

	if err := session.Start(ctx, room, voice.Agent{Instructions: instructions}); err != nil {
		_ = session.Close()
		return nil, path, fmt.Errorf("start session: %w", err)
	}
	b.Logger.Info("Agent session started successfully", "path", string(path))
	return session, path, nil
}

func (b Bootstrapper) build(newLLM func() (voice.LLM, error)) (Session, error) {
	if newLLM == nil {
		return nil, errors.New("no LLM factory configured")
	}
	llm, err := newLLM()
	if err != nil {
		return nil, fmt.Errorf("create llm: %w", err)
	}
	stt, err := b.Plugins.STT()
	if err != nil {
		return nil, fmt.Errorf("create stt: %w", err)
	}
	tts, err := b.Plugins.TTS()
	if err != nil {
		return nil, fmt.Errorf("create tts: %w", err)
	}

	newSession := b.Plugins.NewSession
	if newSession == nil {
		newSession = newAgentSession
	}
	return newSession(voice.SessionOptions{LLM: llm, STT: stt, TTS: tts})
}

func newAgentSession(opts voice.SessionOptions) (Session, error) {
	s, err := voice.NewAgentSession(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
