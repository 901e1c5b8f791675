package agent

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"
)

// mockWebSocketServer simulates the LiveKit agent endpoint for testing
type mockWebSocketServer struct {
	*httptest.Server
	upgrader             websocket.Upgrader
	mu                   sync.Mutex
	writeMu              sync.Mutex
	connections          []*websocket.Conn
	receivedMsgs         []*livekit.WorkerMessage
	workerID             string
	suppressRegistration bool
	rejectRegistration   bool
}

func newMockWebSocketServer() *mockWebSocketServer {
	m := &mockWebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		workerID: "mock-worker-123",
	}

	m.Server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

func (m *mockWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "Missing auth token", http.StatusUnauthorized)
		return
	}
	if _, err := auth.ParseAPIToken(strings.TrimPrefix(authHeader, "Bearer ")); err != nil {
		http.Error(w, "Invalid auth token", http.StatusUnauthorized)
		return
	}
	if r.URL.Path != "/agent" || r.URL.Query().Get("protocol") != "1" {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	go m.handleConnection(conn)
}

func (m *mockWebSocketServer) handleConnection(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		for i, c := range m.connections {
			if c == conn {
				m.connections = append(m.connections[:i], m.connections[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg livekit.WorkerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			continue
		}

		m.mu.Lock()
		m.receivedMsgs = append(m.receivedMsgs, &msg)
		suppress := m.suppressRegistration
		reject := m.rejectRegistration
		m.mu.Unlock()

		switch msg.Message.(type) {
		case *livekit.WorkerMessage_Register:
			if suppress {
				continue
			}
			workerID := m.workerID
			if reject {
				workerID = ""
			}
			_ = m.write(conn, &livekit.ServerMessage{
				Message: &livekit.ServerMessage_Register{
					Register: &livekit.RegisterWorkerResponse{
						WorkerId:   workerID,
						ServerInfo: &livekit.ServerInfo{Version: "1.0.0"},
					},
				},
			})

		case *livekit.WorkerMessage_Ping:
			_ = m.write(conn, &livekit.ServerMessage{
				Message: &livekit.ServerMessage_Pong{
					Pong: &livekit.WorkerPong{LastTimestamp: msg.GetPing().Timestamp},
				},
			})
		}
	}
}

func (m *mockWebSocketServer) write(conn *websocket.Conn, msg *livekit.ServerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Send pushes a server message to every open connection.
func (m *mockWebSocketServer) Send(msg *livekit.ServerMessage) {
	m.mu.Lock()
	conns := append([]*websocket.Conn{}, m.connections...)
	m.mu.Unlock()
	for _, c := range conns {
		_ = m.write(c, msg)
	}
}

func (m *mockWebSocketServer) SendAvailabilityRequest(job *livekit.Job) {
	m.Send(&livekit.ServerMessage{
		Message: &livekit.ServerMessage_Availability{
			Availability: &livekit.AvailabilityRequest{Job: job},
		},
	})
}

func (m *mockWebSocketServer) SendJobAssignment(job *livekit.Job, token string) {
	m.Send(&livekit.ServerMessage{
		Message: &livekit.ServerMessage_Assignment{
			Assignment: &livekit.JobAssignment{Job: job, Token: token},
		},
	})
}

func (m *mockWebSocketServer) SendJobTermination(jobID string) {
	m.Send(&livekit.ServerMessage{
		Message: &livekit.ServerMessage_Termination{
			Termination: &livekit.JobTermination{JobId: jobID},
		},
	})
}

func (m *mockWebSocketServer) GetReceivedMessages() []*livekit.WorkerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*livekit.WorkerMessage{}, m.receivedMsgs...)
}

// WaitFor polls received messages until match returns true for one of them.
func (m *mockWebSocketServer) WaitFor(match func(*livekit.WorkerMessage) bool, timeout time.Duration) (*livekit.WorkerMessage, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, msg := range m.GetReceivedMessages() {
			if match(msg) {
				return msg, nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("timeout waiting for message")
}

func (m *mockWebSocketServer) Close() {
	m.mu.Lock()
	for _, conn := range m.connections {
		_ = conn.Close()
	}
	m.mu.Unlock()
	m.Server.Close()
}

func (m *mockWebSocketServer) URL() string {
	return strings.Replace(m.Server.URL, "http://", "ws://", 1)
}

func availabilityFor(jobID string) func(*livekit.WorkerMessage) bool {
	return func(msg *livekit.WorkerMessage) bool {
		return msg.GetAvailability() != nil && msg.GetAvailability().JobId == jobID
	}
}

func jobStatus(jobID string, status livekit.JobStatus) func(*livekit.WorkerMessage) bool {
	return func(msg *livekit.WorkerMessage) bool {
		u := msg.GetUpdateJob()
		return u != nil && u.JobId == jobID && u.Status == status
	}
}
