// Package dispatchapi is the HTTP control surface for placing and ending
// calls. Creating a call creates a LiveKit room with an agent dispatch; the
// telephony agent picks up the job and dials out.
package dispatchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	"github.com/twitchtv/twirp"

	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/internal/telephony"
	"letta-telephony-agent/pkg/agent"
)

const (
	roomPrefix       = "call-"
	emptyRoomTimeout = 5 * 60
)

// RoomService is the part of *lksdk.RoomServiceClient the API uses.
type RoomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	telephony.RoomDeleter
}

// Server handles dispatch API requests.
type Server struct {
	Rooms     RoomService
	Store     callstore.Store
	AgentName string

	// Auth is optional. When nil every route is open.
	Auth   *Verifier
	Logger agent.Logger

	NewRoomName func() string
	Now         func() time.Time
}

// CreateCallRequest is the body of POST /v1/calls.
type CreateCallRequest struct {
	AgentID     string `json:"agent_id"`
	PhoneNumber string `json:"phone_number"`
	Room        string `json:"room"`
}

// CreateCallResponse is returned once the room and dispatch exist.
type CreateCallResponse struct {
	Room        string `json:"room"`
	RoomSID     string `json:"room_sid"`
	AgentName   string `json:"agent_name"`
	AgentID     string `json:"agent_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Direction   string `json:"direction"`
}

// dispatchMetadata is the job metadata the telephony agent resolves.
type dispatchMetadata struct {
	AgentID     string `json:"agent_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Router wires the routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog(s.Logger))

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	if s.Auth != nil {
		v1.Use(RequireBearer(s.Auth, s.now))
	}
	v1.POST("/calls", s.createCall)
	v1.GET("/calls/:room", s.getCall)
	v1.DELETE("/calls/:room", s.hangup)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "agent_name": s.AgentName})
}

func (s *Server) createCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber != "" && !validPhoneNumber(req.PhoneNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone_number must be in E.164 format"})
		return
	}

	room := strings.TrimSpace(req.Room)
	if room == "" {
		room = s.roomName()
	}

	md, err := json.Marshal(dispatchMetadata{AgentID: req.AgentID, PhoneNumber: req.PhoneNumber})
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode dispatch metadata"})
		return
	}

	created, err := s.Rooms.CreateRoom(c.Request.Context(), &livekit.CreateRoomRequest{
		Name:         room,
		EmptyTimeout: emptyRoomTimeout,
		Agents: []*livekit.RoomAgentDispatch{{
			AgentName: s.AgentName,
			Metadata:  string(md),
		}},
	})
	if err != nil {
		_ = c.Error(err)
		s.Logger.Error("Failed to create call room", "room", room, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "create room failed"})
		return
	}

	direction := callstore.DirectionInbound
	if req.PhoneNumber != "" {
		direction = callstore.DirectionOutbound
	}
	s.Logger.Info("Call dispatched", "room", room, "agentName", s.AgentName, "agentID", req.AgentID, "phoneNumber", req.PhoneNumber)

	c.JSON(http.StatusCreated, CreateCallResponse{
		Room:        created.GetName(),
		RoomSID:     created.GetSid(),
		AgentName:   s.AgentName,
		AgentID:     req.AgentID,
		PhoneNumber: req.PhoneNumber,
		Direction:   string(direction),
	})
}

func (s *Server) getCall(c *gin.Context) {
	room := c.Param("room")
	if s.Store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	rec, err := s.Store.Get(c.Request.Context(), room)
	switch {
	case errors.Is(err, callstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read call record"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) hangup(c *gin.Context) {
	room := c.Param("room")
	if err := telephony.Hangup(c.Request.Context(), s.Rooms, room); err != nil {
		_ = c.Error(err)
		var te twirp.Error
		if errors.As(err, &te) && te.Code() == twirp.NotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		s.Logger.Error("Failed to hang up call", "room", room, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "delete room failed"})
		return
	}

	s.Logger.Info("Call hung up", "room", room)
	c.Status(http.StatusNoContent)
}

func (s *Server) roomName() string {
	if s.NewRoomName != nil {
		return s.NewRoomName()
	}
	return roomPrefix + uuid.NewString()
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// validPhoneNumber accepts E.164: a plus sign and 8 to 15 digits.
func validPhoneNumber(s string) bool {
	if len(s) < 9 || len(s) > 16 || s[0] != '+' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
