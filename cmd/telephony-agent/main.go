// Command telephony-agent is a long-lived LiveKit worker that answers
// inbound calls and places outbound calls for Letta agents.
//
// Each job resolves its Letta agent id from LETTA_AGENT_ID, the job
// metadata, the room metadata or DEFAULT_LETTA_AGENT_ID, in that order.
// A phone_number in the job metadata makes the call outbound; it is dialed
// through LIVEKIT_SIP_TRUNK_ID before the session starts.
//
// Usage:
//
//	export LIVEKIT_API_KEY=... LIVEKIT_API_SECRET=...
//	export LIVEKIT_SIP_TRUNK_ID=ST_...
//	./telephony-agent
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"letta-telephony-agent/internal/app"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/internal/telephony"
)

func main() {
	cfg := config.Load()
	if err := cfg.RequireLiveKit(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Start(ctx, "telephony-agent", cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	entry := rt.Entrypoint(
		telephony.NewResolver(cfg.Letta.DefaultAgentID, rt.Logger),
		rt.Bootstrapper(telephony.DefaultInstructions, telephony.DefaultInstructions),
	)
	return rt.RunWorker(ctx, entry.Handler(), rt.WorkerOptions(cfg.AgentName))
}
