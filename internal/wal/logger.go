package wal

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/alias/bx"
	"github.com/tuannm99/novadm/internal/alias/util"
	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
)

// File layout:
//
//	[XCheckSum u32] [record]* [bad tail?]
//	record = [len u32][checksum u32][len bytes of data]
//
// XCheckSum is Combine over the serialized bytes of every record, in append
// order, starting from 0.
const (
	headerLen       = 4
	offSize         = 0
	offChecksum     = offSize + 4
	offData         = offChecksum + 4
	recordHeaderLen = offData
)

var (
	ErrClosed       = errors.New("wal: logger is closed")
	ErrRecordTooBig = errors.New("wal: record larger than 4 GiB")
)

type Option func(*Logger)

func WithLogger(l *zap.Logger) Option {
	return func(lg *Logger) { lg.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Logger) { lg.metrics = metrics.OrNew(m) }
}

// Logger owns the .log file. Every file-position dependent operation runs
// under mu; the read cursor is shared, so recovery scans are expected to be
// single-threaded.
type Logger struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	position  int64 // read cursor, >= headerLen
	size      int64 // current file length
	xCheckSum uint32

	log     *zap.Logger
	metrics *metrics.Metrics
}

func newLogger(f *os.File, path string, opts []Option) *Logger {
	l := &Logger{
		f:        f,
		path:     path,
		position: headerLen,
		log:      zap.NewNop(),
		metrics:  metrics.New(nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create makes a new log holding only a zero XCheckSum.
func Create(path string, opts ...Option) (*Logger, error) {
	f, err := common.CreateFile(path)
	if err != nil {
		return nil, err
	}
	l := newLogger(f, path, opts)

	if _, err := f.WriteAt(bx.U32Bytes(0), 0); err != nil {
		util.CloseQuietly(f, l.log)
		return nil, fmt.Errorf("wal: write header: %w", err)
	}
	if err := common.Force(f); err != nil {
		util.CloseQuietly(f, l.log)
		return nil, err
	}
	l.size = headerLen

	l.log.Info("wal: created log file", zap.String("path", path))
	return l, nil
}

// Open opens an existing log, verifies the records against the stored
// XCheckSum and cuts off a bad tail left by an interrupted append.
// A log whose good records do not add up to the stored XCheckSum is
// ErrBadLogFile.
func Open(path string, opts ...Option) (*Logger, error) {
	f, err := common.OpenFile(path)
	if err != nil {
		return nil, err
	}
	l := newLogger(f, path, opts)

	if err := l.init(); err != nil {
		util.CloseQuietly(f, l.log)
		return nil, err
	}
	return l, nil
}

func (l *Logger) init() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}
	if info.Size() < headerLen {
		return fmt.Errorf("wal: file shorter than header (%d bytes): %w", info.Size(), common.ErrBadLogFile)
	}
	l.size = info.Size()

	hdr := make([]byte, headerLen)
	if _, err := l.f.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}
	l.xCheckSum = bx.U32(hdr)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkAndRemoveTail()
}

// checkAndRemoveTail scans every well-formed record from the start.
//
// The good records must fold to the stored XCheckSum. If they fold past it,
// the trailing records were appended but never sealed (crash between the
// append and the header update); they are dropped back to the last record
// boundary the header covers. Anything else is a corrupt log.
func (l *Logger) checkAndRemoveTail() error {
	l.position = headerLen

	var acc uint32
	sealed := int64(-1)
	if acc == l.xCheckSum {
		sealed = headerLen
	}
	records := 0
	for {
		rec, err := l.nextRecord()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		records++
		acc = Combine(acc, rec)
		if acc == l.xCheckSum {
			sealed = l.position
		}
	}

	end := l.position
	if acc != l.xCheckSum {
		if sealed < 0 {
			return fmt.Errorf("wal: %s: checksum %#x of %d records, header says %#x: %w",
				l.path, acc, records, l.xCheckSum, common.ErrBadLogFile)
		}
		l.log.Warn("wal: dropping unsealed records",
			zap.String("path", l.path),
			zap.Int64("from", sealed),
			zap.Int64("to", end),
		)
		end = sealed
	}

	if end < l.size {
		l.log.Warn("wal: truncating bad tail",
			zap.String("path", l.path),
			zap.Int64("good", end),
			zap.Int64("size", l.size),
		)
		if err := l.truncate(end); err != nil {
			return err
		}
		l.metrics.LogTailRepaired.Inc()
	}

	l.position = headerLen
	l.log.Info("wal: opened log file", zap.String("path", l.path), zap.Int64("size", l.size))
	return nil
}

// nextRecord reads the serialized record at the cursor and advances past it.
// It returns nil without moving when the record is truncated or fails its
// checksum.
func (l *Logger) nextRecord() ([]byte, error) {
	if l.position+recordHeaderLen > l.size {
		return nil, nil
	}

	hdr := make([]byte, recordHeaderLen)
	if _, err := l.f.ReadAt(hdr, l.position); err != nil {
		return nil, fmt.Errorf("wal: read record header at %d: %w", l.position, err)
	}
	n := int64(bx.U32At(hdr, offSize))
	if l.position+recordHeaderLen+n > l.size {
		return nil, nil
	}

	rec := make([]byte, recordHeaderLen+n)
	if _, err := l.f.ReadAt(rec, l.position); err != nil {
		return nil, fmt.Errorf("wal: read record at %d: %w", l.position, err)
	}
	if Checksum(rec[offData:]) != bx.U32At(rec, offChecksum) {
		return nil, nil
	}

	l.position += int64(len(rec))
	return rec, nil
}

func wrap(data []byte) []byte {
	rec := make([]byte, recordHeaderLen+len(data))
	bx.PutU32At(rec, offSize, uint32(len(data)))
	bx.PutU32At(rec, offChecksum, Checksum(data))
	copy(rec[offData:], data)
	return rec
}

// Log appends data as one record and seals it into the XCheckSum header.
// Both steps are forced to disk, in that order; a crash between them leaves
// a tail that Open removes.
func (l *Logger) Log(data []byte) error {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return ErrRecordTooBig
	}
	rec := wrap(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrClosed
	}
	if err := l.appendRecord(rec); err != nil {
		return err
	}
	if err := l.seal(rec); err != nil {
		return err
	}

	l.metrics.LogAppends.Inc()
	l.metrics.LogBytes.Add(float64(len(rec)))
	return nil
}

func (l *Logger) appendRecord(rec []byte) error {
	if _, err := l.f.WriteAt(rec, l.size); err != nil {
		return fmt.Errorf("wal: append at %d: %w", l.size, err)
	}
	if err := common.Force(l.f); err != nil {
		return err
	}
	l.size += int64(len(rec))
	return nil
}

func (l *Logger) seal(rec []byte) error {
	l.xCheckSum = Combine(l.xCheckSum, rec)
	if _, err := l.f.WriteAt(bx.U32Bytes(l.xCheckSum), 0); err != nil {
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	return common.Force(l.f)
}

// Next returns the payload of the record at the cursor. ok is false once
// the log is exhausted or the next record is not valid.
func (l *Logger) Next() (data []byte, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil, false, ErrClosed
	}
	rec, err := l.nextRecord()
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec[offData:], true, nil
}

// Rewind moves the cursor back to the first record.
func (l *Logger) Rewind() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.position = headerLen
}

// Replay rewinds and hands every record to fn in append order, stopping at
// the first error fn returns. The cursor is rewound again afterwards.
func (l *Logger) Replay(fn func(data []byte) error) error {
	l.Rewind()
	defer l.Rewind()

	for {
		data, ok, err := l.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}

// Truncate cuts the file to pos bytes.
func (l *Logger) Truncate(pos int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return ErrClosed
	}
	return l.truncate(pos)
}

func (l *Logger) truncate(pos int64) error {
	if err := l.f.Truncate(pos); err != nil {
		return fmt.Errorf("wal: truncate to %d: %w", pos, err)
	}
	if err := common.Force(l.f); err != nil {
		return err
	}
	l.size = pos
	if l.position > pos {
		l.position = pos
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
