package common

import (
	"errors"
)

const (
	OneB  = 1 << 0
	OneKB = 1 << 10
	OneMB = 1 << 20

	// PageSize is fixed by the .db format: 8 KiB, pages are 1-indexed.
	PageSize = 1 << 13

	// MinCachePages is the smallest page cache the engine can run with.
	MinCachePages = 10

	// Seed of the rolling log checksum.
	Seed = 13331
)

// .xid layout: [counter u64][state byte per xid, 1-indexed]
const (
	XIDHeaderLen = 8
	XIDFieldSize = 1
)

const (
	XIDSuffix = ".xid"
	LogSuffix = ".log"
	DBSuffix  = ".db"
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

var (
	ErrFileExists    = errors.New("common: file already exists")
	ErrFileNotExists = errors.New("common: file does not exist")
	ErrFileCannotRW  = errors.New("common: file cannot be read or written")

	// Fatal: on-disk state can not be trusted or configuration is unusable.
	ErrBadXIDFile  = errors.New("common: bad xid file")
	ErrBadLogFile  = errors.New("common: bad log file")
	ErrMemTooSmall = errors.New("common: memory budget too small")

	// ErrCacheFull is backpressure, the caller must release and retry.
	ErrCacheFull = errors.New("common: cache is full")
)

// IsFatal reports whether err means the data manager must stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadXIDFile) ||
		errors.Is(err, ErrBadLogFile) ||
		errors.Is(err, ErrMemTooSmall)
}
