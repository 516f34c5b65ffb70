// Package cachesync keeps a local copy of the affiliate collection in step
// with the server. Local edits apply optimistically and are followed by a
// revalidation against the server.
package cachesync

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

const flightKey = "affiliates"

// Fetcher loads the authoritative affiliate collection.
type Fetcher interface {
	ListAffiliates(ctx context.Context) ([]model.AffiliateRecord, error)
}

// Listener receives the collection after every change.
type Listener func([]model.AffiliateRecord)

// Cache holds the affiliate collection for one session.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group

	mu        sync.Mutex
	records   []model.AffiliateRecord
	mutations uint64
	loaded    bool
	listeners map[int]Listener
	nextID    int

	bg sync.WaitGroup
}

// New creates an empty Cache backed by fetcher.
func New(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher, listeners: make(map[int]Listener)}
}

// Snapshot returns a copy of the current collection.
func (c *Cache) Snapshot() []model.AffiliateRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.records)
}

// Loaded reports whether the cache has been filled from the server at least once.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Subscribe registers fn and returns a func that removes it.
func (c *Cache) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Mutate applies fn to the collection, notifies listeners and starts a
// background revalidation. fn receives a copy it may modify and return.
func (c *Cache) Mutate(ctx context.Context, fn func([]model.AffiliateRecord) []model.AffiliateRecord) {
	c.mu.Lock()
	c.records = fn(clone(c.records))
	c.mutations++
	c.mu.Unlock()

	// A fetch already in flight predates this change.
	c.group.Forget(flightKey)
	c.notify()

	bgCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.Revalidate(bgCtx); err != nil {
			zap.L().Warn("cachesync: background revalidate failed", zap.Error(err))
		}
	}()
}

// Revalidate replaces the collection with the server's copy. Concurrent
// calls share one fetch. On error the current collection is kept.
func (c *Cache) Revalidate(ctx context.Context) error {
	_, err, shared := c.group.Do(flightKey, func() (any, error) {
		c.mu.Lock()
		start := c.mutations
		c.mu.Unlock()

		records, err := c.fetcher.ListAffiliates(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "cachesync: fetch affiliates")
		}

		c.mu.Lock()
		if c.mutations != start {
			c.mu.Unlock()
			zap.L().Debug("cachesync: discarding fetch overtaken by local change")
			return nil, nil
		}
		c.records = records
		c.loaded = true
		c.mu.Unlock()

		c.notify()
		return nil, nil
	})
	if err != nil {
		zap.L().Warn("cachesync: revalidate failed, keeping local state",
			zap.Bool("shared", shared), zap.Error(err))
	}
	return err
}

// Wait blocks until background revalidations started by Mutate finish.
func (c *Cache) Wait() {
	c.bg.Wait()
}

func (c *Cache) notify() {
	c.mu.Lock()
	snap := clone(c.records)
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func clone(in []model.AffiliateRecord) []model.AffiliateRecord {
	if in == nil {
		return nil
	}
	out := make([]model.AffiliateRecord, len(in))
	copy(out, in)
	return out
}
