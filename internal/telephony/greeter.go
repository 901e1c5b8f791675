package telephony

import (
	"context"

	"letta-telephony-agent/pkg/agent"
)

const (
	OutboundGreeting = "Hello! This is your AI assistant calling. I can hear you now. How can I help you today?"
	InboundGreeting  = "Hello, thank you for calling. How can I assist you today?"
)

// Speaker queues an utterance on the session's audio output.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Greeter says one opening line chosen by call direction.
type Greeter struct {
	Outbound string
	Inbound  string
	Logger   agent.Logger
}

// Greet returns the greeting it attempted. A failed greeting is logged and
// the call carries on.
func (g Greeter) Greet(ctx context.Context, s Speaker, cfg ResolvedConfig) string {
	greeting, direction := g.Inbound, "inbound"
	if greeting == "" {
		greeting = InboundGreeting
	}
	if cfg.Outbound() {
		greeting, direction = g.Outbound, "outbound"
		if greeting == "" {
			greeting = OutboundGreeting
		}
	}

	g.Logger.Info("Sending greeting", "direction", direction, "greeting", greeting)
	if err := s.Say(ctx, greeting); err != nil {
		g.Logger.Error("Failed to send greeting", "direction", direction, "error", err)
		return greeting
	}

	if cfg.Outbound() {
		g.Logger.Info("Outbound call greeting sent", "phoneNumber", cfg.PhoneNumber)
	} else {
		g.Logger.Info("Inbound call greeting sent")
	}
	return greeting
}
