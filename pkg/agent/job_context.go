package agent

import (
	"context"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
)

// TrackSubscribedFunc is called for every remote track the job subscribes to.
type TrackSubscribedFunc func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant)

// JobContext contains all context for an active job. It is owned by the
// worker; handlers borrow it for the duration of OnJobAssigned.
type JobContext struct {
	Job       *livekit.Job
	Room      *lksdk.Room
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	api    *ServerAPI
	logger Logger

	mu                sync.Mutex
	subscribe         AutoSubscribe
	connected         bool
	trackSubscribed   []TrackSubscribedFunc
	subscribed        []subscribedTrack
	shutdownCallbacks []func(reason string)
	shutdownReason    string
	shutdownOnce      sync.Once
}

type subscribedTrack struct {
	track *webrtc.TrackRemote
	pub   *lksdk.RemoteTrackPublication
	rp    *lksdk.RemoteParticipant
}

func newJobContext(job *livekit.Job, api *ServerAPI, logger Logger) *JobContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobContext{
		Job:       job,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		api:       api,
		logger:    logger,
		subscribe: AutoSubscribeNone,
	}
}

// Context is cancelled when the job shuts down.
func (j *JobContext) Context() context.Context {
	return j.ctx
}

// JobMetadata returns the raw metadata attached to the job's dispatch.
func (j *JobContext) JobMetadata() string {
	return j.Job.GetMetadata()
}

// RoomName returns the name of the job's room.
func (j *JobContext) RoomName() string {
	if name := j.Job.GetRoom().GetName(); name != "" {
		return name
	}
	if j.Room != nil {
		return j.Room.Name()
	}
	return ""
}

// RoomSID returns the server id of the job's room.
func (j *JobContext) RoomSID() string {
	if sid := j.Job.GetRoom().GetSid(); sid != "" {
		return sid
	}
	if j.Room != nil {
		return j.Room.SID()
	}
	return ""
}

// RoomMetadata returns the room metadata, preferring the live room value
// over the snapshot carried by the job.
func (j *JobContext) RoomMetadata() string {
	if j.Room != nil {
		if md := j.Room.Metadata(); md != "" {
			return md
		}
	}
	return j.Job.GetRoom().GetMetadata()
}

// API returns server API clients authenticated with the worker credentials.
func (j *JobContext) API() *ServerAPI {
	return j.api
}

// Connect applies the subscription policy to the room. Tracks already
// published are subscribed immediately, later ones as they appear.
func (j *JobContext) Connect(ctx context.Context, policy AutoSubscribe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.Room == nil {
		return ErrRoomNotConnected
	}

	j.mu.Lock()
	j.subscribe = policy
	j.connected = true
	j.mu.Unlock()

	for _, rp := range j.Room.GetRemoteParticipants() {
		for _, pub := range rp.TrackPublications() {
			remote, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			j.maybeSubscribe(remote, rp)
		}
	}

	j.logger.Info("Connected to room", "room", j.RoomName(), "autoSubscribe", policy.String())
	return nil
}

// OnTrackSubscribed registers fn for subscribed remote tracks. Tracks
// subscribed before fn was registered are delivered to it immediately.
func (j *JobContext) OnTrackSubscribed(fn TrackSubscribedFunc) {
	j.mu.Lock()
	j.trackSubscribed = append(j.trackSubscribed, fn)
	replay := append([]subscribedTrack{}, j.subscribed...)
	j.mu.Unlock()

	for _, st := range replay {
		fn(st.track, st.pub, st.rp)
	}
}

// LocalParticipant returns the agent's participant in the room.
func (j *JobContext) LocalParticipant() *lksdk.LocalParticipant {
	if j.Room == nil {
		return nil
	}
	return j.Room.LocalParticipant
}

// RemoteParticipants returns the other participants in the room.
func (j *JobContext) RemoteParticipants() []*lksdk.RemoteParticipant {
	if j.Room == nil {
		return nil
	}
	return j.Room.GetRemoteParticipants()
}

// AddShutdownCallback registers fn to run once when the job shuts down.
func (j *JobContext) AddShutdownCallback(fn func(reason string)) {
	j.mu.Lock()
	j.shutdownCallbacks = append(j.shutdownCallbacks, fn)
	j.mu.Unlock()
}

// Shutdown ends the job. Callbacks run in registration order and the job
// context is cancelled. Subsequent calls are no-ops.
func (j *JobContext) Shutdown(reason string) {
	j.shutdownOnce.Do(func() {
		j.mu.Lock()
		j.shutdownReason = reason
		callbacks := append([]func(string){}, j.shutdownCallbacks...)
		j.mu.Unlock()

		j.logger.Info("Shutting down job", "jobID", j.Job.GetId(), "reason", reason)
		for _, fn := range callbacks {
			j.runShutdownCallback(fn, reason)
		}
		j.cancel()
	})
}

// ShutdownReason returns the reason passed to Shutdown, if any.
func (j *JobContext) ShutdownReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.shutdownReason
}

func (j *JobContext) runShutdownCallback(fn func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("Shutdown callback panic", "panic", r, "jobID", j.Job.GetId())
		}
	}()
	fn(reason)
}

func (j *JobContext) maybeSubscribe(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	j.mu.Lock()
	policy := j.subscribe
	connected := j.connected
	j.mu.Unlock()

	if !connected || !shouldSubscribe(policy, pub.Kind()) || pub.IsSubscribed() {
		return
	}
	if err := pub.SetSubscribed(true); err != nil {
		j.logger.Warn("Failed to subscribe to track",
			"error", err,
			"trackSID", pub.SID(),
			"participant", rp.Identity(),
		)
	}
}

// roomCallback routes room events for this job.
func (j *JobContext) roomCallback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			j.logger.Info("Disconnected from room", "jobID", j.Job.GetId(), "reason", reason)
			switch reason {
			case lksdk.RoomClosed, lksdk.ParticipantRemoved, lksdk.DuplicateIdentity:
				j.Shutdown(string(reason))
			}
		},
		OnReconnecting: func() {
			j.logger.Info("Reconnecting to room", "jobID", j.Job.GetId())
		},
		OnReconnected: func() {
			j.logger.Info("Reconnected to room", "jobID", j.Job.GetId())
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			j.logger.Info("Participant joined", "jobID", j.Job.GetId(), "participant", rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			j.logger.Info("Participant left", "jobID", j.Job.GetId(), "participant", rp.Identity())
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				j.maybeSubscribe(pub, rp)
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				j.mu.Lock()
				j.subscribed = append(j.subscribed, subscribedTrack{track: track, pub: pub, rp: rp})
				listeners := append([]TrackSubscribedFunc{}, j.trackSubscribed...)
				j.mu.Unlock()
				for _, fn := range listeners {
					fn(track, pub, rp)
				}
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				j.mu.Lock()
				defer j.mu.Unlock()
				for i, st := range j.subscribed {
					if st.track == track {
						j.subscribed = append(j.subscribed[:i], j.subscribed[i+1:]...)
						return
					}
				}
			},
		},
	}
}

// shouldSubscribe reports whether policy admits a track of the given kind.
func shouldSubscribe(policy AutoSubscribe, kind lksdk.TrackKind) bool {
	switch policy {
	case AutoSubscribeAll:
		return true
	case AutoSubscribeAudioOnly:
		return kind == lksdk.TrackKindAudio
	case AutoSubscribeVideoOnly:
		return kind == lksdk.TrackKindVideo
	default:
		return false
	}
}
