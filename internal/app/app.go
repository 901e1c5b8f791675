// Package app holds the process wiring shared by the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"letta-telephony-agent/internal/archive"
	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/internal/logging"
	"letta-telephony-agent/internal/telephony"
	"letta-telephony-agent/pkg/agent"
)

// Runtime is everything a binary needs after startup.
type Runtime struct {
	Name   string
	Config *config.Config
	Log    *logging.Logger
	Logger agent.Logger

	Store    callstore.Store
	Archiver archive.Archiver
}

// Start opens the log file, wires the LiveKit logger, dumps the masked
// environment and opens the call store and transcript archive.
func Start(ctx context.Context, name string, cfg *config.Config) (*Runtime, error) {
	log, err := logging.New(logging.Options{
		App:   name,
		Dir:   cfg.Log.Dir,
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logging.InitLiveKit(name, cfg.Log.Level, cfg.Log.JSON)

	rt := &Runtime{Name: name, Config: cfg, Log: log, Logger: log.Agent()}
	logging.LogStartup(rt.Logger, log.Path, os.Environ())

	rt.Store, err = callstore.Open(ctx, cfg.Redis)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("open call store: %w", err)
	}
	rt.Archiver, err = archive.New(cfg.S3)
	if err != nil {
		_ = rt.Store.Close()
		_ = log.Close()
		return nil, fmt.Errorf("open transcript archive: %w", err)
	}

	if cfg.Redis.Addr != "" {
		rt.Logger.Info("Call records stored in Redis", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}
	if cfg.S3.Enabled() {
		rt.Logger.Info("Transcripts archived to S3", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	}
	return rt, nil
}

// Close releases the store and flushes the log file.
func (r *Runtime) Close() {
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			r.Logger.Warn("Failed to close call store", "error", err)
		}
	}
	_ = r.Log.Close()
}

// Bootstrapper builds sessions from the configured providers.
func (r *Runtime) Bootstrapper(instructions, fallbackInstructions string) telephony.Bootstrapper {
	b := telephony.Bootstrapper{
		Plugins:              telephony.NewPlugins(r.Config, r.Config.Letta.BaseURL),
		Instructions:         instructions,
		FallbackInstructions: fallbackInstructions,
		Logger:               r.Logger,
	}
	if r.Config.Letta.ProbeAgent {
		b.Probe = telephony.NewLettaProbe(r.Config.Letta.BaseURL, r.Logger)
	}
	return b
}

// Entrypoint returns the telephony call flow using resolver.
func (r *Runtime) Entrypoint(resolver telephony.Resolver, b telephony.Bootstrapper) *telephony.Entrypoint {
	return &telephony.Entrypoint{
		Resolver:     resolver,
		TrunkID:      r.Config.SIPTrunkID,
		Bootstrapper: b,
		Greeter:      telephony.Greeter{Logger: r.Logger},
		Store:        r.Store,
		Archiver:     r.Archiver,
		Getenv:       os.Getenv,
		Logger:       r.Logger,
	}
}

// WorkerOptions returns the worker options for agentName.
func (r *Runtime) WorkerOptions(agentName string) agent.WorkerOptions {
	return agent.WorkerOptions{
		AgentName: agentName,
		Version:   Version,
		JobType:   jobType,
		MaxJobs:   r.Config.MaxJobs,
		Logger:    r.Logger,
	}
}

// NewWorker returns a worker for handler using the LiveKit credentials.
func (r *Runtime) NewWorker(handler agent.Handler, opts agent.WorkerOptions) *agent.Worker {
	cfg := r.Config
	return agent.NewWorker(cfg.LiveKitURL, cfg.APIKey, cfg.APISecret, handler, opts)
}

// RunWorker registers a worker for handler and blocks until ctx ends.
func (r *Runtime) RunWorker(ctx context.Context, handler agent.Handler, opts agent.WorkerOptions) error {
	return r.Serve(ctx, r.NewWorker(handler, opts), opts)
}

// Serve runs worker until ctx ends.
func (r *Runtime) Serve(ctx context.Context, worker *agent.Worker, opts agent.WorkerOptions) error {
	r.Logger.Info("Starting worker", "agentName", opts.AgentName, "url", r.Config.LiveKitURL, "maxJobs", opts.MaxJobs)
	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.Logger.Info("Worker stopped", "metrics", worker.GetMetrics())
	return nil
}
