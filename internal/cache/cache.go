// Package cache memoizes query results by fingerprint. One bounded local
// map with TTL and LRU eviction, single-flight per fingerprint, and an
// optional shared store consulted on local miss.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"datanerd/internal/driver"
	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 500
)

// Config tunes the cache; zero values select the defaults.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	Shared     SharedStore
}

// Stats is the counter snapshot returned by Stats.
type Stats struct {
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Size       int           `json:"size"`
	TTL        time.Duration `json:"ttl"`
	MaxEntries int           `json:"max_entries"`
}

type entry struct {
	key     string
	metric  string
	value   *driver.Result
	expires time.Time
	elem    *list.Element
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used
	hits    int64
	misses  int64

	group  singleflight.Group
	shared SharedStore
	ttl    time.Duration
	max    int
}

// New builds a cache from the config.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		shared:  cfg.Shared,
		ttl:     cfg.TTL,
		max:     cfg.MaxEntries,
	}
}

// Lookup returns a fresh value for the fingerprint. Expired entries are
// evicted here, lazily.
func (c *Cache) Lookup(fp string) (*driver.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// peek is Lookup without the hit/miss counters, for rechecks inside an
// already-counted computation.
func (c *Cache) peek(fp string) (*driver.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(e)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Store inserts or refreshes an entry and writes through to the shared
// store when one is configured. The metric tag supports name-based
// invalidation.
func (c *Cache) Store(fp, metric string, v *driver.Result) {
	c.storeLocal(fp, metric, v)
	if c.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := json.Marshal(sharedEnvelope{Metric: metric, Result: v})
	if err != nil {
		logging.CacheDebug("shared store encode failed: %v", err)
		return
	}
	if err := c.shared.Set(ctx, fp, payload, c.ttl); err != nil {
		logging.Get(logging.CategoryCache).Warn("shared store write failed, keeping local only: %v", err)
	}
}

func (c *Cache) storeLocal(fp, metric string, v *driver.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		e.value = v
		e.metric = metric
		e.expires = time.Now().Add(c.ttl)
		c.lru.MoveToFront(e.elem)
		return
	}
	e := &entry{key: fp, metric: metric, value: v, expires: time.Now().Add(c.ttl)}
	e.elem = c.lru.PushFront(e)
	c.entries[fp] = e
	for len(c.entries) > c.max {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
}

// GetOrCompute returns the cached value or runs compute under single
// flight: at most one execution per fingerprint; concurrent callers join
// the leader's result. The hit flag reports whether the value came from
// the cache without running compute in this call.
func (c *Cache) GetOrCompute(ctx context.Context, fp, metric string, compute func(context.Context) (*driver.Result, error)) (*driver.Result, bool, error) {
	if v, ok := c.Lookup(fp); ok {
		return v, true, nil
	}

	// Only the flight leader's closure runs; a waiter's own closure never
	// executes, so computed stays false for everyone who joined.
	computed := false
	ch := c.group.DoChan(fp, func() (any, error) {
		// A caller that lost the race may enter after the previous flight
		// stored; check once more inside the flight. The caller's initial
		// Lookup already counted this computation's miss.
		if v, ok := c.peek(fp); ok {
			return v, nil
		}
		if v, ok := c.sharedLookup(fp); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computed = true
		c.Store(fp, metric, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, errs.Wrap(ctx.Err(), errs.KindTimeout, "canceled while waiting on the in-flight query").
			WithHint("retry; the result may be cached by then")
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*driver.Result), !computed, nil
	}
}

type sharedEnvelope struct {
	Metric string         `json:"metric"`
	Result *driver.Result `json:"result"`
}

// sharedLookup consults the shared store on a local miss and promotes a
// hit into the local map. Errors degrade to local-only behavior.
func (c *Cache) sharedLookup(fp string) (*driver.Result, bool) {
	if c.shared == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := c.shared.Get(ctx, fp)
	if err != nil {
		logging.Get(logging.CategoryCache).Warn("shared store read failed: %v", err)
		return nil, false
	}
	if payload == nil {
		return nil, false
	}
	var env sharedEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Result == nil {
		logging.CacheDebug("shared store payload for %s is not decodable", fp)
		return nil, false
	}
	c.storeLocal(fp, env.Metric, env.Result)
	logging.CacheDebug("promoted %s from shared store", fp)
	return env.Result, true
}

// Stats returns a counter snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Size:       len(c.entries),
		TTL:        c.ttl,
		MaxEntries: c.max,
	}
}

// Invalidate removes entries. An empty pattern flushes everything;
// otherwise entries whose fingerprint starts with the pattern are removed.
// Returns the number of local entries dropped.
func (c *Cache) Invalidate(pattern string) int {
	return c.invalidate(func(e *entry) bool {
		return pattern == "" || strings.HasPrefix(e.key, pattern)
	})
}

// InvalidateMetric removes entries tagged with the metric name.
func (c *Cache) InvalidateMetric(name string) int {
	return c.invalidate(func(e *entry) bool { return e.metric == name })
}

func (c *Cache) invalidate(match func(*entry) bool) int {
	c.mu.Lock()
	var dropped []string
	for _, e := range c.entries {
		if match(e) {
			dropped = append(dropped, e.key)
		}
	}
	for _, key := range dropped {
		c.removeLocked(c.entries[key])
	}
	c.mu.Unlock()

	if c.shared != nil && len(dropped) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.shared.Del(ctx, dropped...); err != nil {
			logging.Get(logging.CategoryCache).Warn("shared store delete failed: %v", err)
		}
	}
	if len(dropped) > 0 {
		logging.CacheLog("invalidated %d cache entries", len(dropped))
	}
	return len(dropped)
}
