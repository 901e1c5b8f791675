package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

const (
	// CurrentProtocol is the agent protocol version spoken by the worker.
	CurrentProtocol = 1

	defaultPingInterval        = 30 * time.Second
	defaultPingTimeout         = 10 * time.Second
	defaultRegistrationTimeout = 10 * time.Second
)

// roomConnector joins a room with an assignment token.
type roomConnector func(url, token string, callback *lksdk.RoomCallback) (*lksdk.Room, error)

func connectWithoutAutoSubscribe(url, token string, callback *lksdk.RoomCallback) (*lksdk.Room, error) {
	return lksdk.ConnectToRoomWithToken(url, token, callback, lksdk.WithAutoSubscribe(false))
}

// Worker registers with the LiveKit agent service and runs a Handler for
// every job it accepts. Each job gets its own room connection and JobContext.
type Worker struct {
	serverURL string
	apiKey    string
	apiSecret string
	opts      WorkerOptions
	handler   Handler
	api       *ServerAPI

	// Connection management
	mu         sync.RWMutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	workerID   string
	status     WorkerStatus
	activeJobs map[string]*JobContext

	wsState       WebSocketState
	reconnectChan chan struct{}

	pending     map[string]pendingStatus
	pendingWake chan struct{}

	// Lifecycle
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger      Logger
	connectRoom roomConnector

	metrics struct {
		jobsAccepted  int64
		jobsRejected  int64
		jobsCompleted int64
		jobsFailed    int64
	}

	healthCheck struct {
		lastPing    time.Time
		lastPong    time.Time
		missedPings int
		isHealthy   bool
	}
}

// NewWorker creates a worker that dispatches jobs to handler.
func NewWorker(serverURL, apiKey, apiSecret string, handler Handler, opts WorkerOptions) *Worker {
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.RegistrationTimeout == 0 {
		opts.RegistrationTimeout = defaultRegistrationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = NewDefaultLogger()
	}

	w := &Worker{
		serverURL:     serverURL,
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		opts:          opts,
		handler:       handler,
		api:           NewServerAPI(serverURL, apiKey, apiSecret),
		activeJobs:    make(map[string]*JobContext),
		status:        WorkerStatusAvailable,
		reconnectChan: make(chan struct{}, 1),
		pending:       make(map[string]pendingStatus),
		pendingWake:   make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		logger:        opts.Logger,
		connectRoom:   connectWithoutAutoSubscribe,
	}
	w.healthCheck.isHealthy = true

	return w
}

// Start connects to the server and processes jobs until ctx is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go w.handleMessages(ctx)
	go w.maintainConnection(ctx)
	go w.retryPendingStatuses(ctx)

	select {
	case <-ctx.Done():
		return w.Stop()
	case <-w.stopCh:
		return nil
	}
}

// Stop shuts down all active jobs and closes the server connection.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		jobs := make([]*JobContext, 0, len(w.activeJobs))
		for _, jobCtx := range w.activeJobs {
			jobs = append(jobs, jobCtx)
		}
		w.mu.Unlock()

		for _, jobCtx := range jobs {
			jobCtx.Shutdown("worker stopping")
			w.handler.OnJobTerminated(context.Background(), jobCtx.Job.Id)
		}

		w.mu.Lock()
		if w.conn != nil {
			_ = w.conn.Close()
			w.conn = nil
		}
		w.wsState = WebSocketStateDisconnected
		w.mu.Unlock()

		close(w.doneCh)
	})

	return nil
}

// Done is closed once the worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// UpdateStatus updates the worker's status and load on the server.
func (w *Worker) UpdateStatus(status WorkerStatus, load float32) error {
	w.mu.Lock()
	w.status = status
	state := w.wsState
	w.mu.Unlock()

	if state != WebSocketStateConnected {
		return ErrNotConnected
	}

	statusProto := workerStatusToProto(status)
	return w.sendMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{
				Status:   &statusProto,
				Load:     load,
				JobCount: uint32(w.ActiveJobCount()),
			},
		},
	})
}

// IsConnected returns whether the worker is registered with the server.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wsState == WebSocketStateConnected
}

// WorkerID returns the id assigned by the server at registration.
func (w *Worker) WorkerID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.workerID
}

// ActiveJobCount returns the number of jobs currently running.
func (w *Worker) ActiveJobCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.activeJobs)
}

// GetJobContext returns the context of a running job.
func (w *Worker) GetJobContext(jobID string) (*JobContext, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	jobCtx, ok := w.activeJobs[jobID]
	return jobCtx, ok
}

// Health returns a health status report.
func (w *Worker) Health() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"connected":    w.wsState == WebSocketStateConnected,
		"worker_id":    w.workerID,
		"status":       w.status.String(),
		"active_jobs":  len(w.activeJobs),
		"max_jobs":     w.opts.MaxJobs,
		"healthy":      w.healthCheck.isHealthy,
		"last_ping":    w.healthCheck.lastPing,
		"last_pong":    w.healthCheck.lastPong,
		"missed_pings": w.healthCheck.missedPings,
	}
}

// GetMetrics returns job counters.
func (w *Worker) GetMetrics() map[string]int64 {
	return map[string]int64{
		"jobs_accepted":  atomic.LoadInt64(&w.metrics.jobsAccepted),
		"jobs_rejected":  atomic.LoadInt64(&w.metrics.jobsRejected),
		"jobs_completed": atomic.LoadInt64(&w.metrics.jobsCompleted),
		"jobs_failed":    atomic.LoadInt64(&w.metrics.jobsFailed),
	}
}

// handleJobAssignment joins the assigned room and starts the job handler.
func (w *Worker) handleJobAssignment(assignment *livekit.JobAssignment) {
	job := assignment.GetJob()
	if job == nil {
		w.logger.Error("Received job assignment with nil job")
		return
	}

	w.logger.Info("Job assigned",
		"jobID", job.Id,
		"type", job.Type,
		"room", job.GetRoom().GetName(),
	)

	roomURL := w.serverURL
	if assignment.Url != nil && *assignment.Url != "" {
		roomURL = *assignment.Url
	}

	jobCtx := newJobContext(job, w.api, w.logger)

	room, err := w.connectRoom(roomURL, assignment.Token, jobCtx.roomCallback())
	if err != nil {
		w.logger.Error("Failed to connect to room", "error", err, "jobID", job.Id)
		jobCtx.Shutdown("room connection failed")
		w.updateJobStatus(job.Id, livekit.JobStatus_JS_FAILED, err.Error())
		atomic.AddInt64(&w.metrics.jobsFailed, 1)
		return
	}
	jobCtx.Room = room

	w.mu.Lock()
	w.activeJobs[job.Id] = jobCtx
	w.mu.Unlock()

	w.updateJobStatus(job.Id, livekit.JobStatus_JS_RUNNING, "")
	w.updateLoad()

	go w.runJobHandler(jobCtx)
}

// runJobHandler runs the job handler with panic recovery and reports the
// final job status.
func (w *Worker) runJobHandler(jobCtx *JobContext) {
	jobID := jobCtx.Job.Id
	failed := false

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Handler panic in OnJobAssigned", "panic", r, "jobID", jobID)
			w.updateJobStatus(jobID, livekit.JobStatus_JS_FAILED, fmt.Sprintf("handler panic: %v", r))
			failed = true
		}

		jobCtx.Shutdown("job completed")

		w.mu.Lock()
		delete(w.activeJobs, jobID)
		w.mu.Unlock()

		if jobCtx.Room != nil {
			jobCtx.Room.Disconnect()
		}

		if failed {
			atomic.AddInt64(&w.metrics.jobsFailed, 1)
		} else {
			w.updateJobStatus(jobID, livekit.JobStatus_JS_SUCCESS, "")
			atomic.AddInt64(&w.metrics.jobsCompleted, 1)
		}

		w.updateLoad()
	}()

	if err := w.handler.OnJobAssigned(jobCtx.Context(), jobCtx); err != nil {
		w.logger.Error("Job handler error", "error", err, "jobID", jobID)
		w.updateJobStatus(jobID, livekit.JobStatus_JS_FAILED, err.Error())
		failed = true
	}
}

// handleJobTermination shuts down a job at the server's request.
func (w *Worker) handleJobTermination(term *livekit.JobTermination) error {
	jobCtx, ok := w.GetJobContext(term.JobId)
	if ok {
		jobCtx.Shutdown("terminated by server")
	}

	w.handler.OnJobTerminated(context.Background(), term.JobId)
	if !ok {
		return fmt.Errorf("terminate %s: %w", term.JobId, ErrJobNotFound)
	}
	return nil
}
