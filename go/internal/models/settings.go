package models

import "fmt"

// FlareSettings holds the properties a creator chooses for a new flare.
type FlareSettings struct {
	Type               FlareType `json:"flareType" yaml:"type"`
	QuorumSize         int       `json:"quorumSize" yaml:"quorum_size"`
	CountdownSeconds   int       `json:"countdownSeconds" yaml:"countdown_seconds"`
	RepeatDeciSeconds  int       `json:"repeatDeciSeconds,omitempty" yaml:"repeat_deciseconds"`
	StaggerDeciSeconds int       `json:"staggerDeciSeconds,omitempty" yaml:"stagger_deciseconds"`
}

// DefaultSettings returns the defaults offered for each flare type.
func DefaultSettings(t FlareType) FlareSettings {
	s := FlareSettings{
		Type:             t,
		QuorumSize:       1,
		CountdownSeconds: 10,
	}
	if t == FlareTypeRepeat {
		s.RepeatDeciSeconds = SecondsToDeci(2)
	}
	if t.Staggered() {
		s.StaggerDeciSeconds = 5
	}
	if t == FlareTypeWaveRepeat {
		// any non-zero value works; the coordinator computes the real cycle
		// from the participant count and the stagger
		s.RepeatDeciSeconds = SecondsToDeci(1)
	}
	return s
}

// SecondsToDeci converts user-entered repeat seconds into deciseconds.
func SecondsToDeci(seconds int) int {
	return seconds * 10
}

// Validate checks the settings before they are sent to the coordinator.
func (s FlareSettings) Validate() error {
	if _, err := ParseFlareType(string(s.Type)); err != nil {
		return err
	}
	if s.QuorumSize < 1 {
		return fmt.Errorf("quorum size must be at least 1, got %d", s.QuorumSize)
	}
	if s.CountdownSeconds < 0 {
		return fmt.Errorf("countdown seconds must not be negative, got %d", s.CountdownSeconds)
	}
	if s.RepeatDeciSeconds < 0 || s.StaggerDeciSeconds < 0 {
		return fmt.Errorf("repeat and stagger must not be negative")
	}
	return nil
}

// Properties builds the property map for a create call, anchored at loc.
func (s FlareSettings) Properties(loc Location) map[string]interface{} {
	props := map[string]interface{}{
		KeyFlareType:        string(s.Type),
		KeyQuorumSize:       s.QuorumSize,
		KeyCountdownSeconds: s.CountdownSeconds,
		KeyLatitude:         loc.Latitude,
		KeyLongitude:        loc.Longitude,
	}
	if s.RepeatDeciSeconds != 0 {
		props[KeyRepeatDeciSeconds] = s.RepeatDeciSeconds
	}
	if s.StaggerDeciSeconds != 0 {
		props[KeyStaggerDeciSeconds] = s.StaggerDeciSeconds
	}
	return props
}
