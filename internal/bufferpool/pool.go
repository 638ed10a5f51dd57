package bufferpool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/alias/util"
	"github.com/tuannm99/novadm/internal/cache"
	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
	"github.com/tuannm99/novadm/internal/storage"
)

type Option func(*PageCache)

func WithLogger(l *zap.Logger) Option {
	return func(pc *PageCache) { pc.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(pc *PageCache) { pc.metrics = metrics.OrNew(m) }
}

// PageCache caches pages of one .db file. Pages are checked out with
// GetPage and must be released exactly once; a dirty page is written back
// when its last reference is released.
type PageCache struct {
	pager *storage.Pager
	cache *cache.Cache[*storage.Page]

	// highest allocated page number
	pageNumbers atomic.Int64

	log     *zap.Logger
	metrics *metrics.Metrics
}

// Capacity is how many pages memory bytes can hold, or ErrMemTooSmall.
func Capacity(memory int64) (int, error) {
	capacity := memory / storage.PageSize
	if capacity < common.MinCachePages {
		return 0, fmt.Errorf("bufferpool: %d bytes hold %d pages, need %d: %w",
			memory, capacity, common.MinCachePages, common.ErrMemTooSmall)
	}
	return int(capacity), nil
}

// Create creates a new data file at path with a cache of memory bytes.
func Create(path string, memory int64, opts ...Option) (*PageCache, error) {
	capacity, err := Capacity(memory)
	if err != nil {
		return nil, err
	}
	pc := newPageCache(opts)
	pager, err := storage.CreatePager(path, pc.log)
	if err != nil {
		return nil, err
	}
	return pc.init(pager, capacity)
}

// Open opens the data file at path with a cache of memory bytes.
func Open(path string, memory int64, opts ...Option) (*PageCache, error) {
	capacity, err := Capacity(memory)
	if err != nil {
		return nil, err
	}
	pc := newPageCache(opts)
	pager, err := storage.OpenPager(path, pc.log)
	if err != nil {
		return nil, err
	}
	return pc.init(pager, capacity)
}

func newPageCache(opts []Option) *PageCache {
	pc := &PageCache{
		log:     zap.NewNop(),
		metrics: metrics.New(nil),
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

func (pc *PageCache) init(pager *storage.Pager, capacity int) (*PageCache, error) {
	n, err := pager.PageCount()
	if err != nil {
		util.CloseQuietly(pager, pc.log)
		return nil, err
	}
	pc.pager = pager
	pc.pageNumbers.Store(int64(n))
	pc.cache = cache.New(capacity, pc.loadPage, pc.evictPage,
		cache.WithLogger(pc.log),
		cache.WithMetrics(pc.metrics),
	)

	pc.log.Info("bufferpool: page cache ready", zap.Int("pages", n), zap.Int("capacity", capacity))
	return pc, nil
}

func (pc *PageCache) loadPage(key int64) (*storage.Page, error) {
	buf, err := pc.pager.ReadPage(int(key))
	if err != nil {
		return nil, err
	}
	return storage.NewPage(int(key), buf, pc), nil
}

func (pc *PageCache) evictPage(_ int64, p *storage.Page) error {
	if !p.IsDirty() {
		return nil
	}
	return pc.flush(p)
}

func (pc *PageCache) flush(p *storage.Page) error {
	if err := pc.pager.WritePage(p.PageNumber(), p.Data()); err != nil {
		return err
	}
	p.SetDirty(false)
	pc.metrics.PageFlushes.Inc()
	return nil
}

// NewPage allocates the next page number and writes init there. The page
// is not cached; fetch it with GetPage.
func (pc *PageCache) NewPage(init []byte) (int, error) {
	pgno := int(pc.pageNumbers.Add(1))
	p, err := storage.NewPageFrom(pgno, init, nil)
	if err != nil {
		return 0, err
	}
	if err := pc.flush(p); err != nil {
		return 0, err
	}
	pc.log.Debug("bufferpool: new page", zap.Int("pgno", pgno))
	return pgno, nil
}

// GetPage checks page pgno out of the cache, loading it on a miss.
func (pc *PageCache) GetPage(pgno int) (*storage.Page, error) {
	if pgno < 1 {
		return nil, fmt.Errorf("%w: %d", storage.ErrInvalidPage, pgno)
	}
	return pc.cache.Get(int64(pgno))
}

// Release returns a page obtained from GetPage.
func (pc *PageCache) Release(p *storage.Page) error {
	return pc.cache.Release(int64(p.PageNumber()))
}

// FlushPage writes p to disk now, keeping it checked out.
func (pc *PageCache) FlushPage(p *storage.Page) error {
	return pc.flush(p)
}

// ErrPageCached is returned by TruncateByPgno when a page past the cut is
// still checked out; releasing it later would grow the file again.
var ErrPageCached = errors.New("bufferpool: page past truncation point is cached")

// TruncateByPgno drops every page after maxPgno from the file. Pages past
// maxPgno must not be cached.
func (pc *PageCache) TruncateByPgno(maxPgno int) error {
	for _, key := range pc.cache.Keys() {
		if key > int64(maxPgno) {
			return fmt.Errorf("%w: page %d, truncating to %d", ErrPageCached, key, maxPgno)
		}
	}
	if err := pc.pager.Truncate(maxPgno); err != nil {
		return err
	}
	pc.pageNumbers.Store(int64(maxPgno))
	pc.log.Info("bufferpool: truncated", zap.Int("pages", maxPgno))
	return nil
}

func (pc *PageCache) PageNumber() int {
	return int(pc.pageNumbers.Load())
}

// Close flushes every cached page and closes the data file.
func (pc *PageCache) Close() error {
	cerr := pc.cache.Close()
	if err := pc.pager.Close(); err != nil {
		return err
	}
	return cerr
}
