// Command simple-agent is a worker that joins rooms with a generic LLM,
// greets whoever is there and keeps the conversation going. It needs no
// Letta server and places no calls.
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

	rt, err := app.Start(ctx, "simple-agent", cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	assistant := telephony.Assistant{
		Plugins: telephony.NewPlugins(cfg, cfg.Letta.BaseURL),
		Logger:  rt.Logger,
	}
	return rt.RunWorker(ctx, assistant.Handler(), rt.WorkerOptions(cfg.AgentName))
}
