// Command call-agent serves a single call. It registers a worker, asks
// LiveKit to dispatch it into room_name, greets the callee at phone_number
// as the given Letta agent and exits when the call ends.
//
// Usage:
//
//	call-agent <agent_id> <room_name> <phone_number>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livekit/protocol/livekit"

	"letta-telephony-agent/internal/app"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/internal/telephony"
	"letta-telephony-agent/pkg/agent"
)

const registerTimeout = 15 * time.Second

func main() {
	cc, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("Using Letta agent: %s\nRoom: %s\nPhone: %s\n", cc.AgentID, cc.Room, cc.PhoneNumber)

	cfg := config.Load()
	if err := cfg.RequireLiveKit(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cc, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cc callConfig, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := app.Start(ctx, "call-agent", cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	entry := rt.Entrypoint(
		telephony.Resolver{
			AgentSources: []telephony.Source{telephony.Static(cc.AgentID)},
			Phone:        telephony.StaticPhone(cc.PhoneNumber),
			Default:      cfg.Letta.DefaultAgentID,
			Logger:       rt.Logger,
		},
		rt.Bootstrapper("", telephony.DefaultInstructions),
	)

	handler := &agent.FuncHandler{
		JobRequestFunc: agent.RoomFilter(cc.Room, &agent.JobMetadata{}),
		JobAssignedFunc: func(jobCtx context.Context, j *agent.JobContext) error {
			defer cancel()
			return entry.Run(jobCtx, telephony.FromJob(j))
		},
	}

	opts := rt.WorkerOptions(cfg.AgentName)
	opts.MaxJobs = 1
	worker := rt.NewWorker(handler, opts)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Serve(ctx, worker, opts) }()

	if err := waitRegistered(ctx, worker, errCh); err != nil {
		return err
	}

	dispatch, err := agent.NewServerAPI(cfg.LiveKitURL, cfg.APIKey, cfg.APISecret).Dispatch.CreateDispatch(ctx,
		&livekit.CreateAgentDispatchRequest{
			AgentName: opts.AgentName,
			Room:      cc.Room,
			Metadata:  cc.dispatchMetadata(),
		})
	if err != nil {
		cancel()
		<-errCh
		return fmt.Errorf("create agent dispatch: %w", err)
	}
	rt.Logger.Info("Agent dispatched", "dispatchID", dispatch.GetId(), "room", cc.Room)

	return <-errCh
}

func waitRegistered(ctx context.Context, w *agent.Worker, errCh <-chan error) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(registerTimeout)

	for !w.IsConnected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err == nil {
				return agent.ErrNotConnected
			}
			return err
		case <-deadline:
			return agent.ErrRegistrationTimeout
		case <-ticker.C:
		}
	}
	return nil
}
