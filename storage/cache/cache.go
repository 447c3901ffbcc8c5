// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expireAt  time.Time
	elem      *list.Element
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Cache memoizes computed values per key with a time-to-live checked at read
// time. Concurrent misses on the same key share a single computation, and the
// oldest entries are evicted once the capacity is exceeded.
type Cache[V any] struct {
	name     string
	capacity int

	mu      sync.RWMutex
	entries map[string]*entry[V]
	order   *list.List

	group        singleflight.Group
	computations atomic.Int64

	hits, misses, evictions, computes prometheus.Counter
	computeSeconds                    prometheus.Observer
}

// New creates a cache. A capacity of zero or less leaves the cache unbounded.
func New[V any](name string, capacity int) *Cache[V] {
	return &Cache[V]{
		name:           name,
		capacity:       capacity,
		entries:        make(map[string]*entry[V]),
		order:          list.New(),
		hits:           HitsTotal.WithLabelValues(name),
		misses:         MissesTotal.WithLabelValues(name),
		evictions:      EvictionsTotal.WithLabelValues(name),
		computes:       ComputationsTotal.WithLabelValues(name),
		computeSeconds: ComputeSeconds.WithLabelValues(name),
	}
}

// GetOrCompute returns the fresh value of a key and its creation time, calling
// compute on a miss. Only one computation per key runs at a time; concurrent
// callers wait for it. Errors are returned to every waiting caller and never
// stored. A caller whose context ends stops waiting while the computation
// completes and populates the cache.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration,
	compute func(context.Context) (V, error)) (V, time.Time, error) {
	if e, ok := c.get(key); ok {
		c.hits.Inc()
		return e.value, e.createdAt, nil
	}
	c.misses.Inc()
	ch := c.group.DoChan(key, func() (any, error) {
		// a previous flight may have stored the value after our miss
		if e, ok := c.get(key); ok {
			return e, nil
		}
		c.computations.Inc()
		c.computes.Inc()
		start := time.Now()
		value, err := compute(context.WithoutCancel(ctx))
		c.computeSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		return c.set(key, value, ttl), nil
	})
	var zero V
	select {
	case result := <-ch:
		if result.Err != nil {
			return zero, time.Time{}, result.Err
		}
		e := result.Val.(*entry[V])
		return e.value, e.createdAt, nil
	case <-ctx.Done():
		return zero, time.Time{}, errors.Trace(ctx.Err())
	}
}

// Get returns the fresh value of a key without computing it.
func (c *Cache[V]) Get(key string) (V, time.Time, bool) {
	if e, ok := c.get(key); ok {
		return e.value, e.createdAt, true
	}
	var zero V
	return zero, time.Time{}, false
}

func (c *Cache[V]) get(key string) (*entry[V], bool) {
	now := time.Now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current == e {
			c.remove(e)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e, true
}

func (c *Cache[V]) set(key string, value V, ttl time.Duration) *entry[V] {
	now := time.Now()
	e := &entry[V]{key: key, value: value, createdAt: now}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	for c.capacity > 0 && len(c.entries) > c.capacity {
		oldest := c.order.Front().Value.(*entry[V])
		c.remove(oldest)
		c.evictions.Inc()
	}
	return e
}

func (c *Cache[V]) remove(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Computations returns how many times compute has been called.
func (c *Cache[V]) Computations() int64 {
	return c.computations.Load()
}

func (c *Cache[V]) Name() string {
	return c.name
}
