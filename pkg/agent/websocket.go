package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second
)

// connect establishes the agent websocket and registers the worker.
func (w *Worker) connect(ctx context.Context) error {
	token, err := w.generateAuthToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, buildWebSocketURL(w.serverURL), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: status %d: %v", ErrConnectionFailed, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.wsState = WebSocketStateConnecting
	w.mu.Unlock()

	if err := w.sendRegister(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send registration: %w", err)
	}

	if err := w.waitForRegistration(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	w.mu.Lock()
	w.wsState = WebSocketStateConnected
	w.healthCheck.isHealthy = true
	w.healthCheck.missedPings = 0
	w.mu.Unlock()

	return nil
}

func (w *Worker) sendRegister() error {
	msg := &livekit.RegisterWorkerRequest{
		Type:      w.opts.JobType,
		AgentName: w.opts.AgentName,
		Version:   w.opts.Version,
	}
	if w.opts.Namespace != "" {
		msg.Namespace = &w.opts.Namespace
	}

	w.logger.Debug("Sending registration",
		"jobType", w.opts.JobType,
		"agentName", w.opts.AgentName,
		"version", w.opts.Version,
	)

	return w.sendMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Register{
			Register: msg,
		},
	})
}

// waitForRegistration reads until the register response arrives or the
// registration timeout passes.
func (w *Worker) waitForRegistration(ctx context.Context) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	deadline := time.Now().Add(w.opts.RegistrationTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var msg livekit.ServerMessage
		if err := w.readMessage(&msg); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return ErrRegistrationTimeout
			}
			return fmt.Errorf("failed to read registration response: %w", err)
		}

		reg := msg.GetRegister()
		if reg == nil {
			continue
		}
		if reg.WorkerId == "" {
			return ErrRegistrationRejected
		}

		w.mu.Lock()
		w.workerID = reg.WorkerId
		w.mu.Unlock()

		w.logger.Info("Worker registered", "workerID", reg.WorkerId, "agentName", w.opts.AgentName)
		return nil
	}
}

// sendMessage writes a protobuf frame to the server.
func (w *Worker) sendMessage(msg *livekit.WorkerMessage) error {
	w.mu.RLock()
	conn := w.conn
	state := w.wsState
	w.mu.RUnlock()

	if conn == nil || (state != WebSocketStateConnecting && state != WebSocketStateConnected) {
		return ErrNotConnected
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	w.writeMu.Lock()
	err = conn.WriteMessage(websocket.BinaryMessage, data)
	w.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// readMessage reads one server message, accepting protobuf or JSON frames.
func (w *Worker) readMessage(msg *livekit.ServerMessage) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	if err := proto.Unmarshal(data, msg); err != nil {
		if jsonErr := protojson.Unmarshal(data, msg); jsonErr != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
	}

	return nil
}

// handleMessages processes incoming messages until the connection drops.
func (w *Worker) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		var msg livekit.ServerMessage
		if err := w.readMessage(&msg); err != nil {
			select {
			case <-w.stopCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Info("WebSocket closed normally")
			} else {
				w.logger.Error("Failed to read message", "error", err)
			}
			w.handleConnectionError(err)
			return
		}

		if err := w.handleServerMessage(&msg); err != nil {
			w.logger.Error("Failed to handle message", "error", err)
		}
	}
}

func (w *Worker) handleServerMessage(msg *livekit.ServerMessage) error {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		return nil

	case *livekit.ServerMessage_Availability:
		return w.handleAvailabilityRequest(m.Availability)

	case *livekit.ServerMessage_Assignment:
		go w.handleJobAssignment(m.Assignment)
		return nil

	case *livekit.ServerMessage_Termination:
		return w.handleJobTermination(m.Termination)

	case *livekit.ServerMessage_Pong:
		w.mu.Lock()
		w.healthCheck.lastPong = time.Now()
		w.healthCheck.missedPings = 0
		w.healthCheck.isHealthy = true
		w.mu.Unlock()
		return nil

	default:
		w.logger.Debug("Ignoring unknown server message", "type", fmt.Sprintf("%T", m))
		return nil
	}
}

// handleAvailabilityRequest answers a job offer using the handler's decision
// and the worker's capacity.
func (w *Worker) handleAvailabilityRequest(req *livekit.AvailabilityRequest) error {
	job := req.GetJob()
	if job == nil {
		return fmt.Errorf("availability request without job")
	}

	w.mu.RLock()
	available := w.status == WorkerStatusAvailable
	if w.opts.MaxJobs > 0 && len(w.activeJobs) >= w.opts.MaxJobs {
		available = false
	}
	w.mu.RUnlock()

	accept, metadata := w.handler.OnJobRequest(context.Background(), job)

	reason := "accepted"
	switch {
	case !accept:
		reason = "handler rejected"
	case !available:
		reason = "worker not available"
		accept = false
	}

	if accept {
		atomic.AddInt64(&w.metrics.jobsAccepted, 1)
	} else {
		atomic.AddInt64(&w.metrics.jobsRejected, 1)
	}

	resp := &livekit.AvailabilityResponse{
		JobId:     job.Id,
		Available: accept,
	}
	if accept && metadata != nil {
		resp.SupportsResume = metadata.SupportsResume
		resp.ParticipantIdentity = metadata.ParticipantIdentity
		resp.ParticipantName = metadata.ParticipantName
		resp.ParticipantMetadata = metadata.ParticipantMetadata
		resp.ParticipantAttributes = metadata.ParticipantAttributes
	}

	w.logger.Info("Answering availability request",
		"jobID", job.Id,
		"room", job.GetRoom().GetName(),
		"available", accept,
		"reason", reason,
	)

	return w.sendMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Availability{
			Availability: resp,
		},
	})
}

// maintainConnection sends pings and reconnects after connection loss.
func (w *Worker) maintainConnection(ctx context.Context) {
	pingTicker := time.NewTicker(w.opts.PingInterval)
	defer pingTicker.Stop()

	var refresh <-chan time.Time
	if w.opts.StatusRefreshInterval > 0 {
		t := time.NewTicker(w.opts.StatusRefreshInterval)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-pingTicker.C:
			if err := w.sendPing(); err != nil {
				w.logger.Error("Failed to send ping", "error", err)
				w.handleConnectionError(err)
			}
		case <-refresh:
			if w.IsConnected() {
				w.updateLoad()
			}
		case <-w.reconnectChan:
			if !w.reconnectWithBackoff(ctx) {
				return
			}
			go w.handleMessages(ctx)
		}
	}
}

// reconnectDelay doubles with every failed attempt, capped at reconnectMaxDelay.
func reconnectDelay(attempt int) time.Duration {
	if attempt >= 16 {
		return reconnectMaxDelay
	}
	d := reconnectBaseDelay << uint(attempt)
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// reconnectWithBackoff retries until connected. It returns false if the
// worker stopped first.
func (w *Worker) reconnectWithBackoff(ctx context.Context) bool {
	for attempt := 0; ; attempt++ {
		err := w.reconnect(ctx)
		if err == nil {
			return true
		}

		delay := reconnectDelay(attempt)
		w.logger.Error("Failed to reconnect", "error", err, "attempt", attempt+1, "retryIn", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-w.stopCh:
			timer.Stop()
			return false
		}
	}
}

func (w *Worker) sendPing() error {
	w.mu.Lock()
	w.healthCheck.lastPing = time.Now()
	if !w.healthCheck.lastPong.IsZero() && time.Since(w.healthCheck.lastPong) > w.opts.PingTimeout+w.opts.PingInterval {
		w.healthCheck.missedPings++
		if w.healthCheck.missedPings > 3 {
			w.healthCheck.isHealthy = false
			missed := w.healthCheck.missedPings
			w.mu.Unlock()
			return fmt.Errorf("ping timeout: missed %d pongs", missed)
		}
	}
	w.mu.Unlock()

	return w.sendMessage(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Ping{
			Ping: &livekit.WorkerPing{
				Timestamp: time.Now().UnixMilli(),
			},
		},
	})
}

// handleConnectionError drops the connection and queues a reconnect.
func (w *Worker) handleConnectionError(err error) {
	select {
	case <-w.stopCh:
		return
	default:
	}

	w.mu.Lock()
	w.wsState = WebSocketStateDisconnected
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()

	w.logger.Warn("Connection lost, scheduling reconnect", "error", err)

	select {
	case w.reconnectChan <- struct{}{}:
	default:
	}
}

func (w *Worker) reconnect(ctx context.Context) error {
	w.logger.Info("Attempting to reconnect")

	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.wsState = WebSocketStateReconnecting
	w.mu.Unlock()

	if err := w.connect(ctx); err != nil {
		return err
	}

	w.flushPendingStatuses()
	w.updateLoad()

	w.logger.Info("Successfully reconnected", "workerID", w.WorkerID())
	return nil
}

// generateAuthToken creates the worker's access token.
func (w *Worker) generateAuthToken() (string, error) {
	at := auth.NewAccessToken(w.apiKey, w.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{Agent: true})
	at.SetValidFor(24 * time.Hour)
	return at.ToJWT()
}

// buildWebSocketURL builds the agent endpoint URL from a server URL.
func buildWebSocketURL(serverURL string) string {
	wsURL := serverURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	if !strings.HasSuffix(wsURL, "/") {
		wsURL += "/"
	}
	return fmt.Sprintf("%sagent?protocol=%d", wsURL, CurrentProtocol)
}
