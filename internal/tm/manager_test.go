package tm

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/metrics"
)

func xidPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test"+common.XIDSuffix)
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := xidPath(t)
	m, err := Create(path, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

func requireState(t *testing.T, m *Manager, xid XID, active, committed, aborted bool) {
	t.Helper()
	a, err := m.IsActive(xid)
	require.NoError(t, err)
	c, err := m.IsCommitted(xid)
	require.NoError(t, err)
	ab, err := m.IsAborted(xid)
	require.NoError(t, err)
	assert.Equal(t, active, a, "active")
	assert.Equal(t, committed, c, "committed")
	assert.Equal(t, aborted, ab, "aborted")
}

func TestCreate_WritesZeroHeader(t *testing.T) {
	m, path := newTestManager(t)
	require.Equal(t, uint64(0), m.XIDCount())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, make([]byte, common.XIDHeaderLen), b)
}

func TestCreate_ExistingFile(t *testing.T) {
	_, path := newTestManager(t)

	_, err := Create(path)
	require.ErrorIs(t, err, common.ErrFileExists)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(xidPath(t))
	require.ErrorIs(t, err, common.ErrFileNotExists)
}

func TestLifecycle_Commit(t *testing.T) {
	m, _ := newTestManager(t)

	xid, err := m.Begin()
	require.NoError(t, err)
	require.Equal(t, XID(1), xid)
	requireState(t, m, xid, true, false, false)

	require.NoError(t, m.Commit(xid))
	requireState(t, m, xid, false, true, false)
}

func TestLifecycle_Abort(t *testing.T) {
	m, _ := newTestManager(t)

	xid, err := m.Begin()
	require.NoError(t, err)

	require.NoError(t, m.Abort(xid))
	requireState(t, m, xid, false, false, true)
}

func TestSuperXID(t *testing.T) {
	m, _ := newTestManager(t)
	requireState(t, m, SuperXID, false, true, false)

	st, err := m.State(SuperXID)
	require.NoError(t, err)
	require.Equal(t, Committed, st)

	require.ErrorIs(t, m.Abort(SuperXID), ErrIllegalTransition)
}

func TestEnd_SameStateIsNoop_ConflictRejected(t *testing.T) {
	m, _ := newTestManager(t)

	xid, err := m.Begin()
	require.NoError(t, err)

	require.NoError(t, m.Commit(xid))
	require.NoError(t, m.Commit(xid))
	require.ErrorIs(t, m.Abort(xid), ErrIllegalTransition)
	requireState(t, m, xid, false, true, false)
}

func TestUnknownXID(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.IsActive(1)
	require.ErrorIs(t, err, ErrUnknownXID)
	require.ErrorIs(t, m.Commit(7), ErrUnknownXID)
}

func TestReopen_KeepsStates(t *testing.T) {
	m, path := newTestManager(t)

	x1, err := m.Begin()
	require.NoError(t, err)
	x2, err := m.Begin()
	require.NoError(t, err)
	x3, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(x1))
	require.NoError(t, m.Abort(x2))
	require.NoError(t, m.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()

	require.Equal(t, uint64(3), m2.XIDCount())
	requireState(t, m2, x1, false, true, false)
	requireState(t, m2, x2, false, false, true)
	requireState(t, m2, x3, true, false, false)

	x4, err := m2.Begin()
	require.NoError(t, err)
	require.Equal(t, XID(4), x4)
}

func TestOpen_BadLength(t *testing.T) {
	m, path := newTestManager(t)
	_, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// orphan slot past the counter, as left by a crash inside Begin
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(Active)})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, common.ErrBadXIDFile)
	require.True(t, common.IsFatal(err))
}

func TestOpen_ShortHeader(t *testing.T) {
	path := xidPath(t)
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0}, 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, common.ErrBadXIDFile)
}

func TestBegin_Concurrent(t *testing.T) {
	m, path := newTestManager(t)

	const n = 32
	var wg sync.WaitGroup
	seen := make(chan XID, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			xid, err := m.Begin()
			assert.NoError(t, err)
			seen <- xid
		}()
	}
	wg.Wait()
	close(seen)

	uniq := map[XID]bool{}
	for x := range seen {
		uniq[x] = true
	}
	require.Len(t, uniq, n)
	require.Equal(t, uint64(n), m.XIDCount())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(common.XIDHeaderLen+n), info.Size())
}

func TestMetrics(t *testing.T) {
	mt := metrics.New(nil)
	m, err := Create(xidPath(t), WithMetrics(mt))
	require.NoError(t, err)
	defer m.Close()

	x1, _ := m.Begin()
	x2, _ := m.Begin()
	require.NoError(t, m.Commit(x1))
	require.NoError(t, m.Abort(x2))

	require.Equal(t, float64(2), testutil.ToFloat64(mt.TxnBegun))
	require.Equal(t, float64(1), testutil.ToFloat64(mt.TxnCommitted))
	require.Equal(t, float64(1), testutil.ToFloat64(mt.TxnAborted))
}

func TestClosed(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Begin()
	require.ErrorIs(t, err, ErrClosed)
}
