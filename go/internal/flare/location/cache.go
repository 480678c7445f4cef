package location

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mobflare/mobflare/go/internal/models"
)

// DefaultMaxAge is how long a cached fix counts as current.
const DefaultMaxAge = 5 * time.Minute

// Cache holds the latest known location for one host. It is safe for
// concurrent use.
type Cache struct {
	clock  clockwork.Clock
	maxAge time.Duration

	mu  sync.RWMutex
	loc models.Location
}

func NewCache(clock clockwork.Clock, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{clock: clock, maxAge: maxAge}
}

// Fresh returns the cached fix if it is not older than maxAge.
func (c *Cache) Fresh() (models.Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loc.Valid || c.loc.Age(c.clock.Now()) > c.maxAge {
		return models.Location{}, false
	}
	return c.loc, true
}

// Latest returns the cached fix regardless of age.
func (c *Cache) Latest() (models.Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc, c.loc.Valid
}

// Put stores loc unless it is older than what is already cached.
func (c *Cache) Put(loc models.Location) {
	if !loc.Valid {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loc.Valid && loc.ObtainedAt.Before(c.loc.ObtainedAt) {
		return
	}
	c.loc = loc
}
