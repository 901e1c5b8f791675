package app

import "github.com/livekit/protocol/livekit"

// Version is reported to the LiveKit agent service.
var Version = "dev"

const jobType = livekit.JobType_JT_ROOM
