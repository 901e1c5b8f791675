package agent

import (
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ServerAPI bundles the LiveKit server clients a job may need.
type ServerAPI struct {
	SIP      *lksdk.SIPClient
	Rooms    *lksdk.RoomServiceClient
	Dispatch *lksdk.AgentDispatchClient
}

// NewServerAPI creates clients for the LiveKit project at url.
func NewServerAPI(url, apiKey, apiSecret string) *ServerAPI {
	return &ServerAPI{
		SIP:      lksdk.NewSIPClient(url, apiKey, apiSecret),
		Rooms:    lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		Dispatch: lksdk.NewAgentDispatchServiceClient(url, apiKey, apiSecret),
	}
}
