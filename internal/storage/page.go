package storage

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tuannm99/novadm/internal/common"
)

const PageSize = common.PageSize

var (
	ErrWrongSize = errors.New("page: buffer size != PageSize")
	ErrNoSpace   = errors.New("page: not enough free space")
	ErrOutOfPage = errors.New("page: write past end of page")
)

// Owner is the cache a page was checked out from.
type Owner interface {
	Release(p *Page) error
}

// +------------------+ 0
// | page 1: meta     |  [100,108) open marker, [108,116) close marker
// | page n: FSO u16  |  free space offset
// +------------------+ 2
// |  records         |
// |  (grow up)       |
// +------------------+ <-- FSO
// |  free space      |
// +------------------+ PageSize (8192)
type Page struct {
	mu    sync.Mutex
	pgno  int
	buf   []byte
	dirty atomic.Bool
	owner Owner
}

// NewPage wraps buf as page pgno. buf must be exactly PageSize bytes and is
// owned by the page from now on.
func NewPage(pgno int, buf []byte, owner Owner) *Page {
	return &Page{pgno: pgno, buf: buf, owner: owner}
}

// NewPageFrom copies init into a fresh zeroed page buffer.
func NewPageFrom(pgno int, init []byte, owner Owner) (*Page, error) {
	if len(init) > PageSize {
		return nil, ErrWrongSize
	}
	buf := make([]byte, PageSize)
	copy(buf, init)
	return NewPage(pgno, buf, owner), nil
}

// Lock serializes callers that mutate the page concurrently. The cache does
// not take it.
func (p *Page) Lock()   { p.mu.Lock() }
func (p *Page) Unlock() { p.mu.Unlock() }

// Release hands the page back to the cache it came from.
func (p *Page) Release() error {
	if p.owner == nil {
		return nil
	}
	return p.owner.Release(p)
}

func (p *Page) SetDirty(dirty bool) { p.dirty.Store(dirty) }
func (p *Page) IsDirty() bool       { return p.dirty.Load() }
func (p *Page) PageNumber() int     { return p.pgno }

// Data is the live page buffer. Writes through it must be followed by
// SetDirty(true) to reach disk.
func (p *Page) Data() []byte { return p.buf }
