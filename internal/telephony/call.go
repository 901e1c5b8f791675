package telephony

import (
	"context"
	"fmt"

	"github.com/livekit/protocol/livekit"

	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/voice"
)

// RoomDeleter deletes rooms. *lksdk.RoomServiceClient satisfies it.
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// Call is the job-side view of one call.
type Call interface {
	JobID() string
	RoomName() string
	JobMetadata() string
	RoomMetadata() string
	Connect(ctx context.Context, policy agent.AutoSubscribe) error
	Shutdown(reason string)

	AudioRoom() voice.Room
	Placer() CallPlacer
	Rooms() RoomDeleter
}

type jobCall struct {
	*agent.JobContext
}

// FromJob exposes a worker job as a Call.
func FromJob(j *agent.JobContext) Call {
	return jobCall{JobContext: j}
}

func (c jobCall) JobID() string         { return c.Job.GetId() }
func (c jobCall) AudioRoom() voice.Room { return voice.NewJobRoom(c.JobContext) }
func (c jobCall) Placer() CallPlacer    { return c.API().SIP }
func (c jobCall) Rooms() RoomDeleter    { return c.API().Rooms }

// Hangup ends the call for every participant by deleting its room.
func Hangup(ctx context.Context, rooms RoomDeleter, room string) error {
	if _, err := rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room}); err != nil {
		return fmt.Errorf("delete room %s: %w", room, err)
	}
	return nil
}
