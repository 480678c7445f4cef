// Package events defines the flare lifecycle events shared by the event bus
// and the status gateway.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event; it is also the last token of the bus subject.
type Type string

const (
	TypeFlareJoined       Type = "FlareJoined"
	TypeQuorumProgress    Type = "QuorumProgress"
	TypeFlareSynchronized Type = "FlareSynchronized"
	TypeOutputBegan       Type = "OutputBegan"
	TypeOutputEnded       Type = "OutputEnded"
	TypeFlareCompleted    Type = "FlareCompleted"
	TypeFlareAbandoned    Type = "FlareAbandoned"
	TypeFlareFailed       Type = "FlareFailed"

	// TypeTimerTick is only streamed to gateway viewers, never published.
	TypeTimerTick Type = "TimerTick"
)

// Event is the envelope written to the bus and to websocket viewers.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      Type            `json:"eventType"`
	FlareName string          `json:"flareName"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New wraps payload in an envelope with a fresh ID.
func New(t Type, flareName string, at time.Time, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      t,
		FlareName: flareName,
		Timestamp: at.UTC(),
		Payload:   raw,
	}, nil
}

type FlareJoinedPayload struct {
	ParticipantIndex int `json:"participant_index"`
}

type QuorumProgressPayload struct {
	JoinCount  int    `json:"join_count"`
	QuorumSize int    `json:"quorum_size"`
	State      string `json:"state"`
}

type FlareSynchronizedPayload struct {
	StartTime          time.Time `json:"start_time"`
	TargetTime         time.Time `json:"target_time"`
	CountdownSeconds   int       `json:"countdown_seconds"`
	RepeatDeciSeconds  int       `json:"repeat_deciseconds"`
	StaggerDeciSeconds int       `json:"stagger_deciseconds"`
	ParticipantIndex   int       `json:"participant_index"`
}

// OutputPayload is shared by OutputBegan and OutputEnded.
type OutputPayload struct {
	Cycle int `json:"cycle"`
}

type FlareCompletedPayload struct {
	Cycles int `json:"cycles"`
}

type FlareAbandonedPayload struct {
	State string `json:"state"`
}

type FlareFailedPayload struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type TimerTickPayload struct {
	RemainingSec int    `json:"remaining_sec"`
	Display      string `json:"display"`
	Phase        string `json:"phase"`
}

// ParsePayload decodes an envelope's payload into its concrete type.
func ParsePayload(e Event) (interface{}, error) {
	var target interface{}
	switch e.Type {
	case TypeFlareJoined:
		target = &FlareJoinedPayload{}
	case TypeQuorumProgress:
		target = &QuorumProgressPayload{}
	case TypeFlareSynchronized:
		target = &FlareSynchronizedPayload{}
	case TypeOutputBegan, TypeOutputEnded:
		target = &OutputPayload{}
	case TypeFlareCompleted:
		target = &FlareCompletedPayload{}
	case TypeFlareAbandoned:
		target = &FlareAbandonedPayload{}
	case TypeFlareFailed:
		target = &FlareFailedPayload{}
	case TypeTimerTick:
		target = &TimerTickPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return target, nil
}
