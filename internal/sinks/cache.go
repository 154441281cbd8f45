package sinks

import (
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/sensorflow/internal/events"
)

// Cache keeps the latest record per stage for the status API. Entries
// expire after ttl so a stalled pipeline stops reporting stale results.
type Cache struct {
	c   *cache.Cache
	dec Decoder
}

// NewCache returns a cache whose entries live for ttl.
func NewCache(dec Decoder, ttl time.Duration) *Cache {
	return &Cache{c: cache.New(ttl, ttl*2), dec: dec}
}

// OnNewDataReady implements events.Listener.
func (c *Cache) OnNewDataReady(ev events.Event) error {
	rec, err := c.dec.Decode(ev)
	if err != nil {
		return err
	}
	c.c.Set(rec.Stage, rec, cache.DefaultExpiration)
	return nil
}

// Latest returns the newest unexpired record of stage.
func (c *Cache) Latest(stage string) (Record, bool) {
	v, ok := c.c.Get(stage)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// All returns every unexpired record ordered by stage name.
func (c *Cache) All() []Record {
	items := c.c.Items()
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(Record))
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Stage, b.Stage) })
	return out
}

// Flush drops every entry.
func (c *Cache) Flush() { c.c.Flush() }
