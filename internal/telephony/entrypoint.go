package telephony

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"letta-telephony-agent/internal/archive"
	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/voice"
)

const persistTimeout = 10 * time.Second

// jobEnvironment lists the variables logged at the start of every job.
var jobEnvironment = []string{
	"LETTA_AGENT_ID",
	"LIVEKIT_URL",
	"LIVEKIT_API_KEY",
	"DEEPGRAM_API_KEY",
	"CARTESIA_API_KEY",
}

// Entrypoint runs one call from resolution to teardown. Its fields are set
// once at startup and not changed afterwards.
type Entrypoint struct {
	Resolver     Resolver
	TrunkID      string
	Bootstrapper Bootstrapper
	Greeter      Greeter

	Store    callstore.Store
	Archiver archive.Archiver

	Getenv func(string) string
	Logger agent.Logger
	Now    func() time.Time
}

// Handler returns a worker handler that runs e for every assigned job.
func (e *Entrypoint) Handler() *agent.FuncHandler {
	return &agent.FuncHandler{
		JobAssignedFunc: func(ctx context.Context, jobCtx *agent.JobContext) error {
			return e.Run(ctx, FromJob(jobCtx))
		},
	}
}

// Run serves call until ctx ends. Configuration problems and rejected call
// attempts shut the job down without starting a session; an answered call
// whose session cannot start is hung up.
func (e *Entrypoint) Run(ctx context.Context, call Call) error {
	log := e.Logger
	now := e.now()

	log.Info("Agent starting", "jobID", call.JobID(), "room", call.RoomName(), "at", now.Format(time.RFC3339))
	e.logEnvironment()
	log.Info("Job metadata", "metadata", call.JobMetadata())
	log.Info("Room metadata", "metadata", call.RoomMetadata())

	cfg := e.Resolver.Resolve(Inputs{
		Getenv:       e.Getenv,
		JobMetadata:  call.JobMetadata(),
		RoomMetadata: call.RoomMetadata(),
	})
	log.Info("Final agent ID", "agentID", cfg.AgentID, "source", cfg.AgentSource, "phoneNumber", cfg.PhoneNumber)

	rec := callstore.Record{
		Room:        call.RoomName(),
		JobID:       call.JobID(),
		AgentID:     cfg.AgentID,
		AgentSource: cfg.AgentSource,
		PhoneNumber: cfg.PhoneNumber,
		Direction:   callstore.DirectionInbound,
		Outcome:     callstore.OutcomeInProgress,
		StartedAt:   now,
	}
	if cfg.Outbound() {
		rec.Direction = callstore.DirectionOutbound
	}
	e.save(ctx, rec)

	log.Info("Connecting to LiveKit room")
	if err := call.Connect(ctx, agent.AutoSubscribeNone); err != nil {
		e.finish(ctx, &rec, callstore.OutcomeFailed, err)
		return fmt.Errorf("connect room: %w", err)
	}

	director := Director{Placer: call.Placer(), TrunkID: e.TrunkID, Logger: log}
	outcome, err := director.Direct(ctx, call.RoomName(), cfg)
	if err != nil {
		if errors.Is(err, ErrMissingTrunk) {
			e.finish(ctx, &rec, callstore.OutcomeMissingTrunk, err)
			call.Shutdown("missing sip trunk")
			return nil
		}
		var sigErr *SignalingError
		if errors.As(err, &sigErr) {
			rec.SIPStatusCode, rec.SIPStatus = sigErr.Code, sigErr.Status
		}
		e.finish(ctx, &rec, callstore.OutcomeSignalingFailed, err)
		call.Shutdown("sip signaling failed")
		return err
	}

	b := e.Bootstrapper
	b.Logger = log
	b.OnSession = func(s Session) { e.observe(s) }

	session, path, err := b.Bootstrap(ctx, call, call.AudioRoom(), cfg.AgentID)
	rec.SessionPath = string(path)
	if err != nil {
		log.Error("Failed to start agent session", "error", err)
		if outcome.Answered {
			e.hangup(ctx, call)
		}
		e.finish(ctx, &rec, callstore.OutcomeFailed, err)
		call.Shutdown("session failed")
		return err
	}
	e.save(ctx, rec)

	g := e.Greeter
	g.Logger = log
	g.Greet(ctx, session, cfg)
	log.Info("Agent is now ready to handle conversation")

	<-ctx.Done()

	if err := session.Close(); err != nil {
		log.Warn("Session close reported errors", "error", err)
	}
	e.archive(ctx, &rec, session.History())
	e.finish(ctx, &rec, callstore.OutcomeCompleted, nil)
	log.Info("Call ended", "room", rec.Room, "duration", rec.EndedAt.Sub(rec.StartedAt))
	return nil
}

// observe logs session lifecycle events. Nothing depends on them firing.
func (e *Entrypoint) observe(s Session) {
	s.On(voice.EventAgentStarted, func(ev voice.Event) {
		e.Logger.Info("Agent started event fired", "model", ev.Attrs["model"])
	})
	s.On(voice.EventAgentStopped, func(voice.Event) {
		e.Logger.Info("Agent stopped event fired")
	})
	s.On(voice.EventTrackPublished, func(ev voice.Event) {
		e.Logger.Info("Track published", "track", ev.Attrs["track"])
	})
}

func (e *Entrypoint) hangup(ctx context.Context, call Call) {
	rooms := call.Rooms()
	if rooms == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := Hangup(hctx, rooms, call.RoomName()); err != nil {
		e.Logger.Error("Failed to hang up call", "room", call.RoomName(), "error", err)
		return
	}
	e.Logger.Info("Hung up call", "room", call.RoomName())
}

func (e *Entrypoint) archive(ctx context.Context, rec *callstore.Record, history []voice.ChatMessage) {
	if e.Archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	loc, err := e.Archiver.Archive(actx, archive.Transcript{Call: *rec, Messages: history})
	if err != nil {
		e.Logger.Warn("Failed to archive transcript", "room", rec.Room, "error", err)
		return
	}
	if loc != "" {
		rec.TranscriptURL = loc
		e.Logger.Info("Transcript archived", "location", loc)
	}
}

func (e *Entrypoint) finish(ctx context.Context, rec *callstore.Record, outcome callstore.Outcome, err error) {
	rec.Outcome = outcome
	rec.EndedAt = e.now()
	if err != nil {
		rec.Error = err.Error()
	}
	e.save(ctx, *rec)
}

func (e *Entrypoint) save(ctx context.Context, rec callstore.Record) {
	if e.Store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.Store.Save(sctx, rec); err != nil {
		e.Logger.Warn("Failed to save call record", "room", rec.Room, "error", err)
	}
}

func (e *Entrypoint) logEnvironment() {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, name := range jobEnvironment {
		value := getenv(name)
		switch {
		case value == "":
			value = "Not set"
		case config.IsSensitive(name):
			value = config.Mask(value)
		}
		e.Logger.Info("Environment", "name", name, "value", value)
	}
}

func (e *Entrypoint) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
