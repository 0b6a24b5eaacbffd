// Package catalog caches the most recently fetched car/track catalog.
package catalog

import (
	"strconv"
	"sync"
	"time"

	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
)

// Entry is a car or a track.
type Entry struct {
	ID           uint32
	DisplayName  string
	PathOverride string // empty when the service sends none
}

// Catalog maps string ids to cars and tracks. A Catalog is never modified
// after it has been handed to Cache.Replace.
type Catalog struct {
	Cars      map[string]Entry
	Tracks    map[string]Entry
	FetchedAt time.Time
}

// FromProtocol converts the wire document into a Catalog.
func FromProtocol(p *protocol.Catalog) *Catalog {
	c := &Catalog{
		Cars:      make(map[string]Entry, len(p.Cars)),
		Tracks:    make(map[string]Entry, len(p.Tracks)),
		FetchedAt: time.Now(),
	}
	for key, e := range p.Cars {
		c.Cars[key] = entryFrom(e)
	}
	for key, e := range p.Tracks {
		c.Tracks[key] = entryFrom(e)
	}
	return c
}

func entryFrom(e protocol.CatalogEntry) Entry {
	out := Entry{ID: e.ID, DisplayName: e.DisplayName}
	if e.IRacingPath != nil {
		out.PathOverride = *e.IRacingPath
	}
	return out
}

// Car looks up a car by numeric id.
func (c *Catalog) Car(id uint32) (Entry, bool) {
	e, ok := c.Cars[strconv.FormatUint(uint64(id), 10)]
	return e, ok
}

// Track looks up a track by numeric id.
func (c *Catalog) Track(id uint32) (Entry, bool) {
	e, ok := c.Tracks[strconv.FormatUint(uint64(id), 10)]
	return e, ok
}

// Cache holds the current catalog. Readers get either the previous complete
// catalog or the new one.
type Cache struct {
	mu      sync.RWMutex
	current *Catalog
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the current catalog, or nil when none has been loaded.
func (c *Cache) Get() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Replace swaps in a new catalog.
func (c *Cache) Replace(next *Catalog) {
	c.mu.Lock()
	c.current = next
	c.mu.Unlock()
}
