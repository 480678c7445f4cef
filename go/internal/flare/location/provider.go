// Package location resolves the device position used to list nearby flares
// and to anchor new ones.
package location

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mobflare/mobflare/go/internal/models"
)

// Listener receives the outcome of an update request. Implementations must
// not block.
type Listener interface {
	OnLocation(loc models.Location)
	OnUnavailable()
}

// Provider is the platform location source.
type Provider interface {
	LastKnown() (models.Location, bool)
	// RequestUpdates starts delivering fixes to l until stop is called.
	RequestUpdates(l Listener) (stop func())
}

// StaticProvider serves a fixed position, e.g. from configuration.
type StaticProvider struct {
	clock     clockwork.Clock
	latitude  float64
	longitude float64
}

func NewStaticProvider(clock clockwork.Clock, latitude, longitude float64) *StaticProvider {
	return &StaticProvider{clock: clock, latitude: latitude, longitude: longitude}
}

func (p *StaticProvider) LastKnown() (models.Location, bool) {
	return models.NewLocation(p.latitude, p.longitude, p.clock.Now()), true
}

func (p *StaticProvider) RequestUpdates(l Listener) func() {
	l.OnLocation(models.NewLocation(p.latitude, p.longitude, p.clock.Now()))
	return func() {}
}

// listeners is a registry of active update requests shared by providers
// that push fixes.
type listeners struct {
	mu   sync.Mutex
	next int
	set  map[int]Listener
}

func (ls *listeners) add(l Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.set == nil {
		ls.set = make(map[int]Listener)
	}
	id := ls.next
	ls.next++
	ls.set[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			defer ls.mu.Unlock()
			delete(ls.set, id)
		})
	}
}

func (ls *listeners) snapshot() []Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]Listener, 0, len(ls.set))
	for _, l := range ls.set {
		out = append(out, l)
	}
	return out
}

func (ls *listeners) location(loc models.Location) {
	for _, l := range ls.snapshot() {
		l.OnLocation(loc)
	}
}

func (ls *listeners) unavailable() {
	for _, l := range ls.snapshot() {
		l.OnUnavailable()
	}
}
