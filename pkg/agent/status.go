package agent

import (
	"context"
	"time"

	"github.com/livekit/protocol/livekit"
)

// WebSocketState is the state of the agent service connection.
type WebSocketState int

const (
	WebSocketStateDisconnected WebSocketState = iota
	WebSocketStateConnecting
	WebSocketStateConnected
	WebSocketStateReconnecting
)

const (
	maxStatusAttempts = 4
	statusRetryPeriod = time.Second
)

// pendingStatus is a job status that could not be delivered yet. Only the
// newest status per job is kept.
type pendingStatus struct {
	status   livekit.JobStatus
	errMsg   string
	since    time.Time
	attempts int
}

func jobStatusMessage(jobID string, status livekit.JobStatus, errMsg string) *livekit.WorkerMessage {
	return &livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateJob{
			UpdateJob: &livekit.UpdateJobStatus{JobId: jobID, Status: status, Error: errMsg},
		},
	}
}

// updateLoad reports capacity from the number of running calls.
func (w *Worker) updateLoad() {
	w.mu.RLock()
	running, maxJobs := len(w.activeJobs), w.opts.MaxJobs
	w.mu.RUnlock()

	status, load := WorkerStatusAvailable, float32(0)
	if maxJobs > 0 {
		load = float32(running) / float32(maxJobs)
		if running >= maxJobs {
			status = WorkerStatusFull
		}
	}

	if err := w.UpdateStatus(status, load); err != nil && err != ErrNotConnected {
		w.logger.Error("Failed to update worker status", "error", err)
	}
}

// updateJobStatus reports a job status. Undelivered statuses are retried
// once the connection is back.
func (w *Worker) updateJobStatus(jobID string, status livekit.JobStatus, errMsg string) {
	err := w.sendMessage(jobStatusMessage(jobID, status, errMsg))
	if err == nil {
		return
	}
	w.logger.Warn("Job status not delivered, will retry", "jobID", jobID, "status", status, "error", err)

	w.mu.Lock()
	w.pending[jobID] = pendingStatus{status: status, errMsg: errMsg, since: time.Now()}
	w.mu.Unlock()

	select {
	case w.pendingWake <- struct{}{}:
	default:
	}
}

// retryPendingStatuses runs until the worker stops.
func (w *Worker) retryPendingStatuses(ctx context.Context) {
	ticker := time.NewTicker(statusRetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.pendingWake:
		case <-ticker.C:
		}
		w.flushPendingStatuses()
	}
}

func (w *Worker) flushPendingStatuses() {
	if !w.IsConnected() {
		return
	}

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]pendingStatus, len(batch))
	w.mu.Unlock()

	for jobID, p := range batch {
		if err := w.sendMessage(jobStatusMessage(jobID, p.status, p.errMsg)); err == nil {
			continue
		}
		p.attempts++
		if p.attempts >= maxStatusAttempts {
			w.logger.Error("Dropping job status after retries",
				"jobID", jobID,
				"status", p.status,
				"attempts", p.attempts,
				"pendingFor", time.Since(p.since),
			)
			continue
		}

		w.mu.Lock()
		if _, newer := w.pending[jobID]; !newer {
			w.pending[jobID] = p
		}
		w.mu.Unlock()
	}
}

func workerStatusToProto(status WorkerStatus) livekit.WorkerStatus {
	if status == WorkerStatusFull {
		return livekit.WorkerStatus_WS_FULL
	}
	return livekit.WorkerStatus_WS_AVAILABLE
}
