package models

import "time"

// Location is a snapshot delivered by a location provider. The zero value
// means "unavailable".
type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObtainedAt time.Time `json:"obtained_at"`
	Valid      bool      `json:"valid"`
}

// NewLocation returns a valid snapshot.
func NewLocation(lat, lon float64, at time.Time) Location {
	return Location{Latitude: lat, Longitude: lon, ObtainedAt: at, Valid: true}
}

// Age returns how old the snapshot is relative to now.
func (l Location) Age(now time.Time) time.Duration {
	return now.Sub(l.ObtainedAt)
}
