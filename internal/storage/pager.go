package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/logger"
)

var ErrInvalidPage = errors.New("pager: invalid page number")

// Pager owns the .db file. Pages are 1-indexed: page n lives at
// (n-1)*PageSize. mu guards file access only, callers keep their own
// bookkeeping locks.
type Pager struct {
	mu   sync.Mutex
	file *os.File
	log  *zap.Logger
}

// CreatePager creates a new, empty data file.
func CreatePager(path string, log *zap.Logger) (*Pager, error) {
	f, err := common.CreateFile(path)
	if err != nil {
		return nil, err
	}
	return &Pager{file: f, log: logger.OrNop(log)}, nil
}

// OpenPager opens an existing data file.
func OpenPager(path string, log *zap.Logger) (*Pager, error) {
	f, err := common.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &Pager{file: f, log: logger.OrNop(log)}, nil
}

func pageOffset(pgno int) int64 {
	return int64(pgno-1) * PageSize
}

// PageCount is the number of whole pages in the file.
func (p *Pager) PageCount() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("pager: stat: %w", err)
	}
	return int(info.Size() / PageSize), nil
}

// ReadPage reads page pgno into a new buffer. Bytes past the end of the
// file read as zero.
func (p *Pager) ReadPage(pgno int) ([]byte, error) {
	if pgno < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, pgno)
	}
	buf := make([]byte, PageSize)

	p.mu.Lock()
	n, err := p.file.ReadAt(buf, pageOffset(pgno))
	p.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("pager: read page %d: %w", pgno, err)
	}
	clear(buf[n:])

	p.log.Debug("pager: read page", zap.Int("pgno", pgno), zap.Int("bytes", n))
	return buf, nil
}

// WritePage writes data at page pgno and forces it to disk.
func (p *Pager) WritePage(pgno int, data []byte) error {
	if pgno < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, pgno)
	}
	if len(data) != PageSize {
		return fmt.Errorf("pager: page %d: %w", pgno, ErrWrongSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.file.WriteAt(data, pageOffset(pgno)); err != nil {
		return fmt.Errorf("pager: write page %d: %w", pgno, err)
	}
	if err := common.Force(p.file); err != nil {
		return err
	}
	p.log.Debug("pager: wrote page", zap.Int("pgno", pgno))
	return nil
}

// Truncate cuts the file to exactly pages pages.
func (p *Pager) Truncate(pages int) error {
	if pages < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, pages)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.file.Truncate(int64(pages) * PageSize); err != nil {
		return fmt.Errorf("pager: truncate to %d pages: %w", pages, err)
	}
	return common.Force(p.file)
}

func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}
