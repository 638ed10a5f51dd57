// Package cache is a bounded cache of reference-counted resources.
//
// It is not an LRU. An entry lives exactly as long as somebody holds a
// reference to it: Get pins, Release unpins and evicts at zero. When every
// slot is taken Get fails with common.ErrCacheFull instead of waiting.
package cache

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tuannm99/novadm/internal/common"
	locking "github.com/tuannm99/novadm/internal/lock"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
)

var (
	ErrClosed    = errors.New("cache: closed")
	ErrNotCached = errors.New("cache: key is not cached")
)

// Loader produces the resource for key on a miss.
type Loader[T any] func(key int64) (T, error)

// Evictor is called once the last reference to key is released, and for
// every entry left at Close.
type Evictor[T any] func(key int64, v T) error

type options struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = metrics.OrNew(m) }
}

type entry[T any] struct {
	value T
	refs  locking.RefCount
}

type Cache[T any] struct {
	mu       sync.Mutex
	entries  map[int64]*entry[T]
	count    int // cached entries + loads in flight
	capacity int
	closed   bool

	// at most one load per key in flight
	loads singleflight.Group

	load  Loader[T]
	evict Evictor[T]

	log     *zap.Logger
	metrics *metrics.Metrics
}

func New[T any](capacity int, load Loader[T], evict Evictor[T], opts ...Option) *Cache[T] {
	o := options{log: zap.NewNop(), metrics: metrics.New(nil)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		entries:  make(map[int64]*entry[T]),
		capacity: capacity,
		load:     load,
		evict:    evict,
		log:      o.log,
		metrics:  o.metrics,
	}
}

// Get returns the resource for key with one more reference on it. Callers
// asking for a key that is being loaded wait for that load and share its
// result.
func (c *Cache[T]) Get(key int64) (T, error) {
	var zero T
	miss := false
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}
		if e, ok := c.entries[key]; ok {
			e.refs.Inc()
			c.mu.Unlock()
			if !miss {
				c.metrics.CacheHits.Inc()
			}
			return e.value, nil
		}
		c.mu.Unlock()

		if !miss {
			miss = true
			c.metrics.CacheMisses.Inc()
		}
		_, err, _ := c.loads.Do(strconv.FormatInt(key, 10), func() (any, error) {
			return nil, c.fill(key)
		})
		if err != nil {
			return zero, err
		}
		// loaded with no reference yet, take ours on the next pass
	}
}

// fill loads key into the cache unless it is already there.
func (c *Cache[T]) fill(key int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return nil
	}
	if c.count >= c.capacity {
		c.mu.Unlock()
		c.metrics.CacheFull.Inc()
		return fmt.Errorf("cache: key %d, %d/%d slots taken: %w", key, c.count, c.capacity, common.ErrCacheFull)
	}
	c.count++
	c.mu.Unlock()

	v, err := c.load(key)
	c.metrics.CacheLoads.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.count--
		return fmt.Errorf("cache: load %d: %w", key, err)
	}
	if c.closed {
		c.count--
		return ErrClosed
	}
	c.entries[key] = &entry[T]{value: v}
	c.log.Debug("cache: loaded", zap.Int64("key", key))
	return nil
}

// Release drops one reference on key. The last release evicts the entry
// and frees its slot. If eviction fails the entry stays cached, unpinned.
func (c *Cache[T]) Release(key int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotCached, key)
	}
	if !e.refs.Dec() {
		return nil
	}
	if err := c.evict(key, e.value); err != nil {
		return fmt.Errorf("cache: evict %d: %w", key, err)
	}
	delete(c.entries, key)
	c.count--
	c.metrics.CacheEvictions.Inc()
	c.log.Debug("cache: evicted", zap.Int64("key", key))
	return nil
}

// Close evicts every entry in ascending key order, referenced or not.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, key := range slices.Sorted(maps.Keys(c.entries)) {
		e := c.entries[key]
		if n := e.refs.Get(); n > 0 {
			c.log.Warn("cache: closing with live references", zap.Int64("key", key), zap.Int32("refs", n))
		}
		if err := c.evict(key, e.value); err != nil {
			errs = append(errs, fmt.Errorf("cache: evict %d: %w", key, err))
		}
		delete(c.entries, key)
		c.count--
		c.metrics.CacheEvictions.Inc()
	}
	return errors.Join(errs...)
}

// Len is the number of occupied slots.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Cache[T]) Capacity() int { return c.capacity }

// Keys returns the cached keys in ascending order.
func (c *Cache[T]) Keys() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.entries))
}

// Refs returns the reference count of key, 0 when it is not cached.
func (c *Cache[T]) Refs(key int64) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.refs.Get()
	}
	return 0
}
