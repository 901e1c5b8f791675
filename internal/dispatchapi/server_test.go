package dispatchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitchtv/twirp"

	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/internal/test/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRooms struct {
	mu        sync.Mutex
	created   []*livekit.CreateRoomRequest
	deleted   []string
	createErr error
	deleteErr error
}

func (f *fakeRooms) CreateRoom(_ context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &livekit.Room{Name: req.Name, Sid: "RM_" + req.Name}, nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, req.Room)
	return &livekit.DeleteRoomResponse{}, nil
}

func newTestServer(auth *Verifier) (*Server, *fakeRooms, *callstore.MemoryStore) {
	rooms := &fakeRooms{}
	store := callstore.NewMemoryStore()
	return &Server{
		Rooms:       rooms,
		Store:       store,
		AgentName:   "telephony-agent",
		Auth:        auth,
		Logger:      mocks.NewMockLogger(),
		NewRoomName: func() string { return "call-fixed" },
	}, rooms, store
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(nil)
	rec := do(t, s.Router(), http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCreateOutboundCall(t *testing.T) {
	s, rooms, _ := newTestServer(nil)
	rec := do(t, s.Router(), http.MethodPost, "/v1/calls",
		`{"agent_id":"agent-42","phone_number":"+15551234567"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "call-fixed", resp.Room)
	assert.Equal(t, "RM_call-fixed", resp.RoomSID)
	assert.Equal(t, "outbound", resp.Direction)

	require.Len(t, rooms.created, 1)
	req := rooms.created[0]
	assert.Equal(t, "call-fixed", req.Name)
	require.Len(t, req.Agents, 1)
	assert.Equal(t, "telephony-agent", req.Agents[0].AgentName)
	assert.JSONEq(t, `{"agent_id":"agent-42","phone_number":"+15551234567"}`, req.Agents[0].Metadata)
}

func TestCreateInboundCallWithNamedRoom(t *testing.T) {
	s, rooms, _ := newTestServer(nil)
	rec := do(t, s.Router(), http.MethodPost, "/v1/calls", `{"room":"support-1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Contains(t, rec.Body.String(), `"direction":"inbound"`)
	require.Len(t, rooms.created, 1)
	assert.Equal(t, "support-1", rooms.created[0].Name)
	assert.JSONEq(t, `{}`, rooms.created[0].Agents[0].Metadata)
}

func TestCreateCallValidation(t *testing.T) {
	s, rooms, _ := newTestServer(nil)
	h := s.Router()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/calls", `{`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/calls", `{"phone_number":"5551234"}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/calls", `{"phone_number":"+1555abc4567"}`, "").Code)
	assert.Empty(t, rooms.created)
}

func TestCreateCallRoomServiceFailure(t *testing.T) {
	s, rooms, _ := newTestServer(nil)
	rooms.createErr = errors.New("livekit down")

	rec := do(t, s.Router(), http.MethodPost, "/v1/calls", `{"phone_number":"+15551234567"}`, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetCall(t *testing.T) {
	s, _, store := newTestServer(nil)
	require.NoError(t, store.Save(context.Background(), callstore.Record{
		Room:          "call-1",
		AgentID:       "agent-42",
		Outcome:       callstore.OutcomeSignalingFailed,
		SIPStatusCode: 486,
	}))
	h := s.Router()

	rec := do(t, h, http.MethodGet, "/v1/calls/call-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got callstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, callstore.OutcomeSignalingFailed, got.Outcome)
	assert.Equal(t, 486, got.SIPStatusCode)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/calls/unknown", "", "").Code)
}

func TestHangup(t *testing.T) {
	s, rooms, _ := newTestServer(nil)
	h := s.Router()

	rec := do(t, h, http.MethodDelete, "/v1/calls/call-1", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"call-1"}, rooms.deleted)

	rooms.deleteErr = twirp.NotFoundError("room not found")
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/calls/gone", "", "").Code)

	rooms.deleteErr = errors.New("boom")
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodDelete, "/v1/calls/call-2", "", "").Code)
}

func TestBearerAuth(t *testing.T) {
	v, err := NewVerifier("test-secret", "letta-telephony")
	require.NoError(t, err)
	s, _, _ := newTestServer(v)
	h := s.Router()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/calls/x", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/calls/x", "", "not-a-jwt").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)

	token, err := v.Issue(time.Now(), "ops", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/calls/x", "", token).Code)

	other, err := NewVerifier("test-secret", "someone-else")
	require.NoError(t, err)
	foreign, err := other.Issue(time.Now(), "ops", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/calls/x", "", foreign).Code)

	expired, err := v.Issue(time.Now().Add(-time.Hour), "ops", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/calls/x", "", expired).Code)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestRequestLogLevels(t *testing.T) {
	s, _, _ := newTestServer(nil)
	log := s.Logger.(*mocks.MockLogger)
	h := s.Router()

	do(t, h, http.MethodGet, "/healthz", "", "")
	do(t, h, http.MethodGet, "/v1/calls/none", "", "")

	assert.True(t, log.HasMessage("INFO", "http request"))
	assert.True(t, log.HasMessage("WARN", "http request"))
}
