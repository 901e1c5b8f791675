package telephony

import (
	"context"
	"fmt"

	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/voice"
)

const (
	AssistantInstructions = "You are a helpful AI assistant. Keep responses short and conversational."
	AssistantGreeting     = "Hello! I'm your AI assistant. I can hear you now. How can I help you?"
)

// Assistant serves a room with the generic LLM only and always greets
// on join. It places no calls.
type Assistant struct {
	Plugins      Plugins
	Instructions string
	Greeting     string
	Logger       agent.Logger
}

// Handler returns a worker handler that runs a for every assigned job.
func (a Assistant) Handler() *agent.FuncHandler {
	return &agent.FuncHandler{
		JobAssignedFunc: func(ctx context.Context, jobCtx *agent.JobContext) error {
			return a.Run(ctx, FromJob(jobCtx))
		},
	}
}

// Run blocks until ctx ends.
func (a Assistant) Run(ctx context.Context, call Call) error {
	log := a.Logger
	log.Info("Agent joining room", "room", call.RoomName())

	session, err := Bootstrapper{Plugins: a.Plugins}.build(a.Plugins.Generic)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Session close reported errors", "error", err)
		}
	}()

	if err := call.Connect(ctx, agent.AutoSubscribeAudioOnly); err != nil {
		return fmt.Errorf("connect room: %w", err)
	}

	instructions := a.Instructions
	if instructions == "" {
		instructions = AssistantInstructions
	}
	if err := session.Start(ctx, call.AudioRoom(), voice.Agent{Instructions: instructions}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	greeting := a.Greeting
	if greeting == "" {
		greeting = AssistantGreeting
	}
	Greeter{Inbound: greeting, Logger: log}.Greet(ctx, session, ResolvedConfig{})
	log.Info("Agent greeted caller", "room", call.RoomName())

	<-ctx.Done()
	return nil
}
