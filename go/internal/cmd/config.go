package main

import (
	"github.com/mobflare/mobflare/go/internal/models"
)

// createOptions are the flags of the create command. Flags left unset keep
// the defaults of the chosen flare type.
type createOptions struct {
	flareType string
	quorum    int
	countdown int
	repeat    int // seconds
	stagger   int // deciseconds
	name      string
}

func (o createOptions) settings(changed func(flag string) bool) (models.FlareSettings, error) {
	t, err := models.ParseFlareType(o.flareType)
	if err != nil {
		return models.FlareSettings{}, err
	}

	s := models.DefaultSettings(t)
	if changed("quorum") {
		s.QuorumSize = o.quorum
	}
	if changed("countdown") {
		s.CountdownSeconds = o.countdown
	}
	if changed("repeat") {
		s.RepeatDeciSeconds = models.SecondsToDeci(o.repeat)
	}
	if changed("stagger") {
		s.StaggerDeciSeconds = o.stagger
	}

	if err := s.Validate(); err != nil {
		return models.FlareSettings{}, err
	}
	return s, nil
}
