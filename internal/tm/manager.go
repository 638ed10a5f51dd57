package tm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/alias/bx"
	"github.com/tuannm99/novadm/internal/alias/util"
	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
)

// XID identifies a transaction. Issued XIDs start at 1.
type XID uint64

// SuperXID is always committed and never stored in the file.
const SuperXID XID = 0

// State is the one-byte status of a transaction.
type State byte

const (
	Active    State = 0
	Committed State = 1
	Aborted   State = 2
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

var (
	ErrUnknownXID        = errors.New("tm: xid was never issued")
	ErrIllegalTransition = errors.New("tm: transaction already ended in another state")
	ErrClosed            = errors.New("tm: manager is closed")
)

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = logger.OrNop(l) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics.OrNew(mt) }
}

// Manager owns the .xid file.
//
// File layout: [counter u64][state byte for xid 1][state byte for xid 2]...
// File length is always XIDHeaderLen + counter.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	counter uint64

	log     *zap.Logger
	metrics *metrics.Metrics
}

func newManager(f *os.File, opts []Option) *Manager {
	m := &Manager{
		f:       f,
		log:     zap.NewNop(),
		metrics: metrics.New(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create makes a new xid file with a zero counter.
func Create(path string, opts ...Option) (*Manager, error) {
	f, err := common.CreateFile(path)
	if err != nil {
		return nil, err
	}
	m := newManager(f, opts)

	if _, err := f.WriteAt(make([]byte, common.XIDHeaderLen), 0); err != nil {
		util.CloseQuietly(f, m.log)
		return nil, fmt.Errorf("tm: write header: %w", err)
	}
	if err := common.Force(f); err != nil {
		util.CloseQuietly(f, m.log)
		return nil, err
	}

	m.log.Info("tm: created xid file", zap.String("path", path))
	return m, nil
}

// Open opens an existing xid file and validates its length against the
// stored counter. A mismatch is ErrBadXIDFile.
func Open(path string, opts ...Option) (*Manager, error) {
	f, err := common.OpenFile(path)
	if err != nil {
		return nil, err
	}
	m := newManager(f, opts)

	if err := m.checkCounter(); err != nil {
		util.CloseQuietly(f, m.log)
		return nil, err
	}

	m.log.Info("tm: opened xid file", zap.String("path", path), zap.Uint64("xids", m.counter))
	return m, nil
}

func (m *Manager) checkCounter() error {
	info, err := m.f.Stat()
	if err != nil {
		return fmt.Errorf("tm: stat: %w", err)
	}
	size := info.Size()
	if size < common.XIDHeaderLen {
		return fmt.Errorf("tm: file shorter than header (%d bytes): %w", size, common.ErrBadXIDFile)
	}

	hdr := make([]byte, common.XIDHeaderLen)
	if _, err := m.f.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("tm: read header: %w", err)
	}
	m.counter = bx.U64(hdr)

	if want := position(XID(m.counter + 1)); want != size {
		return fmt.Errorf("tm: counter %d expects %d bytes, file has %d: %w",
			m.counter, want, size, common.ErrBadXIDFile)
	}
	return nil
}

// position is the offset of xid's state byte.
func position(xid XID) int64 {
	return common.XIDHeaderLen + int64(xid-1)*common.XIDFieldSize
}

// Begin issues a new transaction in the active state.
//
// The state byte is made durable before the counter, so a crash in between
// leaves an orphan slot past the counter rather than a counted transaction
// with no state.
func (m *Manager) Begin() (XID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrClosed
	}

	xid := XID(m.counter + 1)
	if err := m.writeState(xid, Active); err != nil {
		return 0, err
	}
	if err := m.incrCounter(); err != nil {
		return 0, err
	}

	m.metrics.TxnBegun.Inc()
	m.log.Debug("tm: begin", zap.Uint64("xid", uint64(xid)))
	return xid, nil
}

func (m *Manager) incrCounter() error {
	next := m.counter + 1
	if _, err := m.f.WriteAt(bx.U64Bytes(next), 0); err != nil {
		return fmt.Errorf("tm: write counter: %w", err)
	}
	if err := common.Force(m.f); err != nil {
		return err
	}
	m.counter = next
	return nil
}

func (m *Manager) writeState(xid XID, s State) error {
	if _, err := m.f.WriteAt([]byte{byte(s)}, position(xid)); err != nil {
		return fmt.Errorf("tm: write state of xid %d: %w", xid, err)
	}
	return common.Force(m.f)
}

func (m *Manager) readState(xid XID) (State, error) {
	if m.f == nil {
		return 0, ErrClosed
	}
	if uint64(xid) > m.counter {
		return 0, fmt.Errorf("tm: xid %d (counter %d): %w", xid, m.counter, ErrUnknownXID)
	}
	b := make([]byte, common.XIDFieldSize)
	if _, err := m.f.ReadAt(b, position(xid)); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("tm: state of xid %d missing: %w", xid, common.ErrBadXIDFile)
		}
		return 0, fmt.Errorf("tm: read state of xid %d: %w", xid, err)
	}
	return State(b[0]), nil
}

// Commit marks xid committed. Committing twice is a no-op; committing an
// aborted transaction is ErrIllegalTransition.
func (m *Manager) Commit(xid XID) error {
	changed, err := m.end(xid, Committed)
	if changed {
		m.metrics.TxnCommitted.Inc()
	}
	return err
}

// Abort marks xid aborted, with the same rules as Commit.
func (m *Manager) Abort(xid XID) error {
	changed, err := m.end(xid, Aborted)
	if changed {
		m.metrics.TxnAborted.Inc()
	}
	return err
}

func (m *Manager) end(xid XID, to State) (bool, error) {
	if xid == SuperXID {
		return false, fmt.Errorf("tm: super xid can not be %s: %w", to, ErrIllegalTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.readState(xid)
	if err != nil {
		return false, err
	}
	switch cur {
	case to:
		return false, nil
	case Active:
	default:
		return false, fmt.Errorf("tm: xid %d is %s, can not become %s: %w", xid, cur, to, ErrIllegalTransition)
	}

	if err := m.writeState(xid, to); err != nil {
		return false, err
	}
	m.log.Debug("tm: end", zap.Uint64("xid", uint64(xid)), zap.Stringer("state", to))
	return true, nil
}

func (m *Manager) is(xid XID, s State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.readState(xid)
	if err != nil {
		return false, err
	}
	return cur == s, nil
}

func (m *Manager) IsActive(xid XID) (bool, error) {
	if xid == SuperXID {
		return false, nil
	}
	return m.is(xid, Active)
}

func (m *Manager) IsCommitted(xid XID) (bool, error) {
	if xid == SuperXID {
		return true, nil
	}
	return m.is(xid, Committed)
}

func (m *Manager) IsAborted(xid XID) (bool, error) {
	if xid == SuperXID {
		return false, nil
	}
	return m.is(xid, Aborted)
}

// State returns the stored state of xid.
func (m *Manager) State(xid XID) (State, error) {
	if xid == SuperXID {
		return Committed, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readState(xid)
}

// XIDCount returns how many transactions have been issued.
func (m *Manager) XIDCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}
