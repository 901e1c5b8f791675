package main

import (
	"encoding/json"
	"errors"
	"strings"
)

const usage = "Usage: call-agent <agent_id> <room_name> <phone_number>"

var errUsage = errors.New(usage)

// callConfig is fixed at startup and handed to the job by value.
type callConfig struct {
	AgentID     string `json:"agent_id"`
	Room        string `json:"-"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

func parseArgs(args []string) (callConfig, error) {
	if len(args) != 3 {
		return callConfig{}, errUsage
	}
	cc := callConfig{
		AgentID:     strings.TrimSpace(args[0]),
		Room:        strings.TrimSpace(args[1]),
		PhoneNumber: strings.TrimSpace(args[2]),
	}
	if cc.AgentID == "" || cc.Room == "" {
		return callConfig{}, errUsage
	}
	return cc, nil
}

// dispatchMetadata is attached to the agent dispatch so the job carries the
// same values the dispatcher would send.
func (c callConfig) dispatchMetadata() string {
	b, _ := json.Marshal(c)
	return string(b)
}
