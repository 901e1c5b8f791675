// Command dispatcher serves the HTTP API that places and ends calls.
//
//	POST   /v1/calls        {"agent_id","phone_number","room"} -> room with an agent dispatch
//	GET    /v1/calls/:room  call record written by the telephony agent
//	DELETE /v1/calls/:room  hang up
//	GET    /healthz
//
// Requests to /v1 need a bearer token when DISPATCH_JWT_SECRET is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"letta-telephony-agent/internal/app"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/internal/dispatchapi"
	"letta-telephony-agent/pkg/agent"
)

const shutdownTimeout = 10 * time.Second

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

	rt, err := app.Start(ctx, "dispatcher", cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &dispatchapi.Server{
		Rooms:     agent.NewServerAPI(cfg.LiveKitURL, cfg.APIKey, cfg.APISecret).Rooms,
		Store:     rt.Store,
		AgentName: cfg.AgentName,
		Logger:    rt.Logger,
	}
	if cfg.Dispatch.JWTSecret != "" {
		srv.Auth, err = dispatchapi.NewVerifier(cfg.Dispatch.JWTSecret, cfg.Dispatch.JWTIssuer)
		if err != nil {
			return err
		}
	} else {
		rt.Logger.Warn("DISPATCH_JWT_SECRET not set, dispatch API is unauthenticated")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Dispatch.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("Dispatch API listening", "addr", cfg.Dispatch.Addr, "agentName", cfg.AgentName)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dispatch api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.Logger.Info("Shutting down dispatch API")
	return httpSrv.Shutdown(shutdownCtx)
}
