// Package telephony runs one phone call per job: it decides which Letta
// agent serves the room and whether to dial out, places the call, stands up
// the voice session and greets the caller.
package telephony

import (
	"encoding/json"
	"fmt"
	"os"

	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/pkg/agent"
)

// DefaultAgentID is used when neither the sources nor the resolver's
// default name an agent.
const DefaultAgentID = config.DefaultLettaAgentID

// Inputs are everything a Source may read.
type Inputs struct {
	Getenv      func(string) string
	JobMetadata string
	// RoomMetadata is a JSON string, raw JSON bytes or an already decoded map.
	RoomMetadata any
}

func (in Inputs) getenv(key string) string {
	if in.Getenv == nil {
		return os.Getenv(key)
	}
	return in.Getenv(key)
}

// Source yields a value or "" when it has nothing to say. An error means the
// source was present but unusable.
type Source struct {
	Name   string
	Lookup func(Inputs) (string, error)
}

// FromEnv reads the named environment variable.
func FromEnv(name string) Source {
	return Source{
		Name: "env:" + name,
		Lookup: func(in Inputs) (string, error) {
			return in.getenv(name), nil
		},
	}
}

// FromJobMetadata reads agent_id from the job's JSON metadata.
func FromJobMetadata() Source {
	return metadataSource("job_metadata", "agent_id", func(in Inputs) any { return in.JobMetadata })
}

// FromRoomMetadata reads agent_id from the room's metadata.
func FromRoomMetadata() Source {
	return metadataSource("room_metadata", "agent_id", func(in Inputs) any { return in.RoomMetadata })
}

// PhoneFromJobMetadata reads phone_number from the job's JSON metadata.
func PhoneFromJobMetadata() Source {
	return metadataSource("job_metadata", "phone_number", func(in Inputs) any { return in.JobMetadata })
}

// Static always yields v.
func Static(v string) Source {
	return Source{
		Name:   "static",
		Lookup: func(Inputs) (string, error) { return v, nil },
	}
}

// StaticPhone always yields the given number; "" means inbound.
func StaticPhone(v string) Source {
	s := Static(v)
	s.Name = "static_phone"
	return s
}

func metadataSource(name, key string, pick func(Inputs) any) Source {
	return Source{
		Name: name,
		Lookup: func(in Inputs) (string, error) {
			fields, err := decodeMetadata(pick(in))
			if err != nil {
				return "", fmt.Errorf("parse %s: %w", name, err)
			}
			return stringField(fields, key)
		},
	}
}

func decodeMetadata(raw any) (map[string]any, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("unsupported metadata type %T", raw)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is %T, not a string", key, v)
	}
	return s, nil
}

// ResolvedConfig is fixed for the rest of the call once resolved.
type ResolvedConfig struct {
	AgentID     string
	AgentSource string
	PhoneNumber string
}

// Outbound reports whether the call must be placed by the agent.
func (c ResolvedConfig) Outbound() bool {
	return c.PhoneNumber != ""
}

// Resolver picks the agent id from an ordered list of sources; the first
// non-empty value wins.
//
// The phone number is looked up on its own, whichever source supplied the
// agent id. A worker pinned with LETTA_AGENT_ID still dials the
// phone_number carried by a job's metadata.
type Resolver struct {
	AgentSources []Source
	Phone        Source
	// Default is used when every source is empty. Falls back to DefaultAgentID.
	Default string
	Logger  agent.Logger
}

// NewResolver returns the worker's resolution order: LETTA_AGENT_ID, job
// metadata, room metadata, then defaultID.
func NewResolver(defaultID string, logger agent.Logger) Resolver {
	return Resolver{
		AgentSources: []Source{
			FromEnv("LETTA_AGENT_ID"),
			FromJobMetadata(),
			FromRoomMetadata(),
		},
		Phone:   PhoneFromJobMetadata(),
		Default: defaultID,
		Logger:  logger,
	}
}

// Resolve never fails and never returns an empty agent id.
func (r Resolver) Resolve(in Inputs) ResolvedConfig {
	var cfg ResolvedConfig

	for _, src := range r.AgentSources {
		id, err := src.Lookup(in)
		if err != nil {
			r.warn("Failed to read agent id", "source", src.Name, "error", err)
			continue
		}
		if id != "" {
			cfg.AgentID, cfg.AgentSource = id, src.Name
			r.info("Resolved agent id", "source", src.Name, "agentID", id)
			break
		}
	}

	if cfg.AgentID == "" {
		cfg.AgentID, cfg.AgentSource = r.Default, "default"
		if cfg.AgentID == "" {
			cfg.AgentID = DefaultAgentID
		}
		r.warn("No agent ID found, using default", "agentID", cfg.AgentID)
	}

	if r.Phone.Lookup != nil {
		phone, err := r.Phone.Lookup(in)
		if err != nil {
			r.warn("Failed to read phone number", "source", r.Phone.Name, "error", err)
		}
		cfg.PhoneNumber = phone
	}

	return cfg
}

func (r Resolver) info(msg string, kv ...interface{}) {
	if r.Logger != nil {
		r.Logger.Info(msg, kv...)
	}
}

func (r Resolver) warn(msg string, kv ...interface{}) {
	if r.Logger != nil {
		r.Logger.Warn(msg, kv...)
	}
}
