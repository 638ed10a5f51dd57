package bufferpool

import "github.com/tuannm99/novadm/internal/storage"

// Manager is the page cache surface used by the layers above the data
// manager.
type Manager interface {
	NewPage(init []byte) (int, error)
	GetPage(pgno int) (*storage.Page, error)
	Release(page *storage.Page) error
	FlushPage(page *storage.Page) error
	TruncateByPgno(maxPgno int) error
	PageNumber() int
	Close() error
}

var _ Manager = (*PageCache)(nil)
