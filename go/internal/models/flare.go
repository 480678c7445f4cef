package models

import (
	"fmt"
	"time"
)

// Wire names of the properties exchanged with the coordinator.
const (
	KeyQuorumSize         = "quorumSize"
	KeyJoinCount          = "joinCount"
	KeyCountdownSeconds   = "countdownSeconds"
	KeyRepeatDeciSeconds  = "repeatDeciSeconds"
	KeyStaggerDeciSeconds = "staggerDeciSeconds"
	KeyCountdownStartTime = "countdownStartTime"
	KeyFlareName          = "flareName"
	KeyFlareType          = "flareType"
	KeyParticipantNumber  = "participantNumber"
	KeyLatitude           = "latitude"
	KeyLongitude          = "longitude"
)

// FlareType selects the output pattern of a flare.
type FlareType string

const (
	FlareTypeOnce       FlareType = "once"
	FlareTypeRepeat     FlareType = "repeat"
	FlareTypeWave       FlareType = "wave"
	FlareTypeWaveRepeat FlareType = "wave_repeat"
)

// ParseFlareType validates a user supplied flare type.
func ParseFlareType(s string) (FlareType, error) {
	switch t := FlareType(s); t {
	case FlareTypeOnce, FlareTypeRepeat, FlareTypeWave, FlareTypeWaveRepeat:
		return t, nil
	default:
		return "", fmt.Errorf("unknown flare type %q", s)
	}
}

// Staggered reports whether participants fire one after another.
func (t FlareType) Staggered() bool {
	return t == FlareTypeWave || t == FlareTypeWaveRepeat
}

// Repeats reports whether the output cycles after the first fire.
func (t FlareType) Repeats() bool {
	return t == FlareTypeRepeat || t == FlareTypeWaveRepeat
}

// Flare is the client's read-only projection of a coordinator session,
// refreshed on every poll.
type Flare struct {
	Name               string    `json:"flareName"`
	Type               FlareType `json:"flareType,omitempty"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	QuorumSize         int       `json:"quorumSize"`
	JoinCount          int       `json:"joinCount"`
	CountdownSeconds   int       `json:"countdownSeconds"`
	RepeatDeciSeconds  int       `json:"repeatDeciSeconds"`
	StaggerDeciSeconds int       `json:"staggerDeciSeconds"`
	// CountdownStartTime is epoch millis; 0 until the quorum is met.
	CountdownStartTime int64 `json:"countdownStartTime"`
}

// Started reports whether the coordinator has published a start instant.
func (f *Flare) Started() bool {
	return f.CountdownStartTime != 0
}

// StartInstant returns the published start as a time.Time.
func (f *Flare) StartInstant() time.Time {
	return time.UnixMilli(f.CountdownStartTime)
}

// Participant is the assignment returned by a successful join. Index is the
// 0-based join order and drives the stagger offset.
type Participant struct {
	FlareName string `json:"flareName"`
	Index     int    `json:"participantNumber"`
	Joined    bool   `json:"joined"`
}

// NearbyFlare is one entry of a list response.
type NearbyFlare struct {
	Name       string  `json:"name"`
	DistanceKm float64 `json:"km"`
}
