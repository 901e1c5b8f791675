package agent

import (
	"context"

	"github.com/livekit/protocol/livekit"
)

// BaseHandler provides default implementations for all Handler methods.
// Embed it to implement only the callbacks you need.
type BaseHandler struct{}

// OnJobRequest accepts every job with default metadata.
func (h *BaseHandler) OnJobRequest(ctx context.Context, job *livekit.Job) (bool, *JobMetadata) {
	return true, &JobMetadata{}
}

// OnJobAssigned returns immediately.
func (h *BaseHandler) OnJobAssigned(ctx context.Context, jobCtx *JobContext) error {
	return nil
}

func (h *BaseHandler) OnJobTerminated(ctx context.Context, jobID string) {
	// No-op
}

// FuncHandler adapts plain functions to the Handler interface.
// Nil fields fall back to BaseHandler behavior.
type FuncHandler struct {
	BaseHandler

	JobRequestFunc    func(ctx context.Context, job *livekit.Job) (bool, *JobMetadata)
	JobAssignedFunc   func(ctx context.Context, jobCtx *JobContext) error
	JobTerminatedFunc func(ctx context.Context, jobID string)
}

func (h *FuncHandler) OnJobRequest(ctx context.Context, job *livekit.Job) (bool, *JobMetadata) {
	if h.JobRequestFunc != nil {
		return h.JobRequestFunc(ctx, job)
	}
	return h.BaseHandler.OnJobRequest(ctx, job)
}

func (h *FuncHandler) OnJobAssigned(ctx context.Context, jobCtx *JobContext) error {
	if h.JobAssignedFunc != nil {
		return h.JobAssignedFunc(ctx, jobCtx)
	}
	return h.BaseHandler.OnJobAssigned(ctx, jobCtx)
}

func (h *FuncHandler) OnJobTerminated(ctx context.Context, jobID string) {
	if h.JobTerminatedFunc != nil {
		h.JobTerminatedFunc(ctx, jobID)
		return
	}
	h.BaseHandler.OnJobTerminated(ctx, jobID)
}

// RoomFilter returns a JobRequestFunc that only accepts jobs for the named
// room, answering with the given metadata.
func RoomFilter(roomName string, metadata *JobMetadata) func(ctx context.Context, job *livekit.Job) (bool, *JobMetadata) {
	return func(ctx context.Context, job *livekit.Job) (bool, *JobMetadata) {
		if job.GetRoom().GetName() != roomName {
			return false, nil
		}
		return true, metadata
	}
}
