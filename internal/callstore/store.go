// Package callstore keeps one record per call: who was called, how the call
// ended, and which session path served it.
package callstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for an unknown room.
var ErrNotFound = errors.New("call record not found")

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Outcome string

const (
	OutcomeInProgress      Outcome = "in_progress"
	OutcomeCompleted       Outcome = "completed"
	OutcomeMissingTrunk    Outcome = "missing_trunk"
	OutcomeSignalingFailed Outcome = "signaling_failed"
	OutcomeFailed          Outcome = "failed"
)

// Record describes one call, keyed by room name.
type Record struct {
	Room          string    `json:"room"`
	JobID         string    `json:"job_id,omitempty"`
	AgentID       string    `json:"agent_id"`
	AgentSource   string    `json:"agent_source,omitempty"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	Direction     Direction `json:"direction"`
	Outcome       Outcome   `json:"outcome"`
	SIPStatusCode int       `json:"sip_status_code,omitempty"`
	SIPStatus     string    `json:"sip_status,omitempty"`
	SessionPath   string    `json:"session_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	TranscriptURL string    `json:"transcript_url,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

// Store persists call records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, room string) (Record, error)
	Close() error
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.Room == "" {
		return errors.New("call record requires a room")
	}
	m.mu.Lock()
	m.records[rec.Room] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, room string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[room]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Close() error { return nil }
