package telephony

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/livekit/protocol/livekit"
	"github.com/twitchtv/twirp"

	"letta-telephony-agent/internal/callstore"
	"letta-telephony-agent/pkg/agent"
)

// ErrMissingTrunk is returned for an outbound call without a SIP trunk.
var ErrMissingTrunk = errors.New("LIVEKIT_SIP_TRUNK_ID required for outbound calls")

// SignalingError is a call attempt the SIP control plane rejected.
type SignalingError struct {
	Code    int
	Status  string
	Message string
	Err     error
}

func (e *SignalingError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("sip signaling failed: %s (SIP %d %s)", e.Message, e.Code, e.Status)
	}
	return "sip signaling failed: " + e.Message
}

func (e *SignalingError) Unwrap() error { return e.Err }

// CallPlacer creates SIP participants. *lksdk.SIPClient satisfies it.
type CallPlacer interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
}

// CallOutcome is the result of directing one call.
type CallOutcome struct {
	Direction   callstore.Direction
	Answered    bool
	Participant *livekit.SIPParticipantInfo
}

// Director places the outbound leg of a call.
type Director struct {
	Placer  CallPlacer
	TrunkID string
	Logger  agent.Logger
}

// Direct is a no-op for inbound calls. For outbound calls it makes a single
// CreateSIPParticipant request that blocks until the callee answers or the
// attempt fails; there is no retry.
func (d Director) Direct(ctx context.Context, roomName string, cfg ResolvedConfig) (CallOutcome, error) {
	if !cfg.Outbound() {
		return CallOutcome{Direction: callstore.DirectionInbound}, nil
	}

	out := CallOutcome{Direction: callstore.DirectionOutbound}
	if d.TrunkID == "" {
		d.Logger.Error("LIVEKIT_SIP_TRUNK_ID required for outbound calls", "phoneNumber", cfg.PhoneNumber)
		return out, ErrMissingTrunk
	}
	if d.Placer == nil {
		return out, errors.New("no SIP client configured")
	}

	d.Logger.Info("Placing outbound call", "phoneNumber", cfg.PhoneNumber, "room", roomName, "trunk", d.TrunkID)
	info, err := d.Placer.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          d.TrunkID,
		SipCallTo:           cfg.PhoneNumber,
		RoomName:            roomName,
		ParticipantIdentity: cfg.PhoneNumber,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		sigErr := asSignalingError(err)
		d.Logger.Error("Error creating SIP participant",
			"error", sigErr.Message,
			"sipStatusCode", sigErr.Code,
			"sipStatus", sigErr.Status,
		)
		return out, sigErr
	}

	out.Answered = true
	out.Participant = info
	d.Logger.Info("Outbound call connected successfully", "phoneNumber", cfg.PhoneNumber)
	return out, nil
}

func asSignalingError(err error) *SignalingError {
	sigErr := &SignalingError{Message: err.Error(), Err: err}

	var te twirp.Error
	if errors.As(err, &te) {
		sigErr.Message = te.Msg()
		sigErr.Status = te.Meta("sip_status")
		if code, convErr := strconv.Atoi(te.Meta("sip_status_code")); convErr == nil {
			sigErr.Code = code
		}
	}
	return sigErr
}
