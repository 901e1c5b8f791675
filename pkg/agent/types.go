// Package agent provides a worker for running LiveKit agents. A worker
// registers with the LiveKit agent service, is offered jobs for rooms, and
// joins each accepted room as a participant where the job handler runs.
//
// Key features:
//   - Worker registration and availability negotiation over the agent protocol
//   - Job contexts carrying room metadata, a subscription policy and shutdown hooks
//   - Server API clients (SIP, room service, agent dispatch) for the job's project
//   - Connection resilience with ping keepalive and automatic reconnection
package agent

import (
	"context"
	"time"

	"github.com/livekit/protocol/livekit"
)

// Handler is the interface that agents must implement to handle jobs.
//
// Implementations should be thread-safe as methods may be called concurrently
// for different jobs.
type Handler interface {
	// OnJobRequest is called when a job is offered to the worker.
	// The handler should inspect the job and decide whether to accept it.
	// If accepted, the returned metadata specifies how the agent joins the room.
	//
	// This method should return quickly as the server waits for the response.
	OnJobRequest(ctx context.Context, job *livekit.Job) (accept bool, metadata *JobMetadata)

	// OnJobAssigned is called once the worker has joined the job's room.
	// The method should block until the agent's work is complete or the
	// context is cancelled. Returning an error marks the job as failed.
	OnJobAssigned(ctx context.Context, jobCtx *JobContext) error

	// OnJobTerminated is called when the server terminates a job or the
	// worker stops. The room connection is already closed at this point.
	OnJobTerminated(ctx context.Context, jobID string)
}

// JobMetadata contains agent-specific metadata for a job.
// When an agent accepts a job, it provides this metadata to specify
// how it will appear as a participant in the room.
type JobMetadata struct {
	// ParticipantIdentity is the identity the agent will use when joining the room.
	// If empty, the server generates one.
	ParticipantIdentity string

	// ParticipantName is the display name for the agent participant.
	ParticipantName string

	// ParticipantMetadata is optional metadata attached to the participant.
	ParticipantMetadata string

	// ParticipantAttributes are key-value pairs attached to the participant.
	ParticipantAttributes map[string]string

	// SupportsResume indicates if the agent can resume a previously started job.
	SupportsResume bool
}

// WorkerOptions configures the agent worker.
type WorkerOptions struct {
	// AgentName identifies this agent type.
	// Explicit dispatches and room agent dispatches target jobs by this name.
	AgentName string

	// Version is the agent version string reported to the server.
	Version string

	// Namespace provides multi-tenant isolation.
	// If empty, uses the default namespace.
	Namespace string

	// JobType specifies which type of jobs this worker handles.
	// Voice agents use JT_ROOM.
	JobType livekit.JobType

	// MaxJobs is the maximum number of concurrent jobs.
	// Once reached, the worker reports as full.
	// Set to 0 for unlimited jobs.
	MaxJobs int

	// Logger for worker output.
	// If nil, a zap production logger is used.
	Logger Logger

	// PingInterval for keepalive messages to the server.
	// Default: 30s
	PingInterval time.Duration

	// PingTimeout for keepalive responses.
	// Default: 10s
	PingTimeout time.Duration

	// StatusRefreshInterval sets how often the worker status is re-sent.
	// Set to 0 to disable periodic refresh.
	StatusRefreshInterval time.Duration

	// RegistrationTimeout bounds the wait for the register response.
	// Default: 10s
	RegistrationTimeout time.Duration
}

// WorkerStatus represents the current state of the worker.
// Used by the server to determine job assignment.
type WorkerStatus int

const (
	// WorkerStatusAvailable indicates the worker can accept new jobs.
	WorkerStatusAvailable WorkerStatus = iota

	// WorkerStatusFull indicates the worker is at capacity.
	WorkerStatusFull
)

// String returns the string representation of WorkerStatus.
func (ws WorkerStatus) String() string {
	switch ws {
	case WorkerStatusAvailable:
		return "available"
	case WorkerStatusFull:
		return "full"
	default:
		return "unknown"
	}
}

// AutoSubscribe selects which remote tracks a job subscribes to once it
// connects. It applies to tracks already published and to tracks published
// later.
type AutoSubscribe int

const (
	// AutoSubscribeAll subscribes to every remote track.
	AutoSubscribeAll AutoSubscribe = iota
	// AutoSubscribeNone leaves subscription to the handler.
	AutoSubscribeNone
	// AutoSubscribeAudioOnly subscribes to remote audio tracks only.
	AutoSubscribeAudioOnly
	// AutoSubscribeVideoOnly subscribes to remote video tracks only.
	AutoSubscribeVideoOnly
)

// String returns the string representation of AutoSubscribe.
func (a AutoSubscribe) String() string {
	switch a {
	case AutoSubscribeAll:
		return "all"
	case AutoSubscribeNone:
		return "none"
	case AutoSubscribeAudioOnly:
		return "audio_only"
	case AutoSubscribeVideoOnly:
		return "video_only"
	default:
		return "unknown"
	}
}

// Logger interface for pluggable logging.
// The fields parameter accepts key-value pairs for structured logging.
type Logger interface {
	// Debug logs a debug-level message with optional fields.
	Debug(msg string, fields ...interface{})

	// Info logs an info-level message with optional fields.
	Info(msg string, fields ...interface{})

	// Warn logs a warning-level message with optional fields.
	Warn(msg string, fields ...interface{})

	// Error logs an error-level message with optional fields.
	Error(msg string, fields ...interface{})
}

// Error represents a typed error with a code and message.
// Error codes are stable and can be used for programmatic error handling.
type Error struct {
	// Code is a stable identifier for the error type.
	Code string

	// Message provides human-readable error details.
	Message string
}

// Error implements the error interface.
// Returns a string in the format "CODE: message".
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Common errors returned by the agent framework.
// Use errors.Is() to check for specific error types.
var (
	// ErrConnectionFailed indicates a failure to establish connection to LiveKit server.
	ErrConnectionFailed = &Error{Code: "CONNECTION_FAILED", Message: "failed to connect to LiveKit server"}

	// ErrRegistrationTimeout indicates the worker registration process timed out.
	ErrRegistrationTimeout = &Error{Code: "REGISTRATION_TIMEOUT", Message: "worker registration timed out"}

	// ErrRegistrationRejected indicates the server answered without a worker id.
	ErrRegistrationRejected = &Error{Code: "REGISTRATION_REJECTED", Message: "registration failed: no worker ID assigned"}

	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}

	// ErrNotConnected is returned when trying to send a message while disconnected.
	ErrNotConnected = &Error{Code: "NOT_CONNECTED", Message: "not connected to server"}

	// ErrRoomNotConnected indicates a job context without a room connection.
	ErrRoomNotConnected = &Error{Code: "ROOM_NOT_CONNECTED", Message: "job is not connected to a room"}
)
