package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadm/internal/alias/bx"
	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/metrics"
)

func logPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test"+common.LogSuffix)
}

func readAll(t *testing.T, l *Logger) [][]byte {
	t.Helper()
	var out [][]byte
	require.NoError(t, l.Replay(func(data []byte) error {
		out = append(out, data)
		return nil
	}))
	return out
}

// writeLog creates a log at path holding records and closes it.
func writeLog(t *testing.T, path string, records ...[]byte) {
	t.Helper()
	l, err := Create(path)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, l.Log(r))
	}
	require.NoError(t, l.Close())
}

func appendRaw(t *testing.T, path string, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(b)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestChecksum(t *testing.T) {
	require.Equal(t, uint32(0), Checksum(nil))
	require.Equal(t, uint32(13333), Checksum([]byte{1, 2}))
	// bytes are signed
	require.Equal(t, uint32(0xffffffff), Checksum([]byte{0xff}))
	require.Equal(t, Combine(Checksum([]byte{1}), []byte{2}), Checksum([]byte{1, 2}))
}

func TestCreate_Header(t *testing.T) {
	path := logPath(t)
	writeLog(t, path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, b)

	_, err = Create(path)
	require.ErrorIs(t, err, common.ErrFileExists)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(logPath(t))
	require.ErrorIs(t, err, common.ErrFileNotExists)
}

func TestRoundTrip(t *testing.T) {
	path := logPath(t)
	l, err := Create(path)
	require.NoError(t, err)
	defer l.Close()

	want := [][]byte{
		[]byte("hello"),
		{},
		{0x00, 0xff, 0x80, 0x7f},
		make([]byte, 9000),
	}
	for _, d := range want {
		require.NoError(t, l.Log(d))
	}
	require.Equal(t, want, readAll(t, l))

	// interleaved append after a scan is visible to the next scan
	require.NoError(t, l.Log([]byte("late")))
	got := readAll(t, l)
	require.Len(t, got, len(want)+1)
	require.Equal(t, []byte("late"), got[len(want)])
}

func TestNext_ExhaustedAndRewind(t *testing.T) {
	path := logPath(t)
	writeLog(t, path, []byte("a"), []byte("b"))

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	for _, want := range []string{"a", "b"} {
		d, ok, err := l.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, string(d))
	}
	_, ok, err := l.Next()
	require.NoError(t, err)
	require.False(t, ok)

	l.Rewind()
	d, ok, err := l.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(d))
}

func TestReopen_StoredChecksumMatches(t *testing.T) {
	path := logPath(t)
	writeLog(t, path, []byte("one"), []byte("two"))

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Log([]byte("three")))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, readAll(t, l))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, Combine(0, b[headerLen:]), bx.U32(b))
}

func TestOpen_TruncatesIncompleteRecord(t *testing.T) {
	path := logPath(t)
	records := [][]byte{[]byte("r1"), []byte("r2"), []byte("r3")}
	writeLog(t, path, records...)
	good := fileSize(t, path)

	// record header promising 100 bytes, only 5 written
	partial := wrap(make([]byte, 100))[:recordHeaderLen+5]
	appendRaw(t, path, partial)

	mt := metrics.New(nil)
	l, err := Open(path, WithMetrics(mt))
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, good, fileSize(t, path))
	require.Equal(t, records, readAll(t, l))
	require.Equal(t, float64(1), testutil.ToFloat64(mt.LogTailRepaired))
}

func TestOpen_TruncatesHeaderFragment(t *testing.T) {
	path := logPath(t)
	writeLog(t, path, []byte("r1"))
	good := fileSize(t, path)

	appendRaw(t, path, []byte{0, 0, 0})

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, good, fileSize(t, path))
}

func TestOpen_DropsUnsealedRecord(t *testing.T) {
	path := logPath(t)
	writeLog(t, path, []byte("sealed"))
	good := fileSize(t, path)

	// crash after the append was forced but before the header was rewritten
	appendRaw(t, path, wrap([]byte("unsealed")))

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, good, fileSize(t, path))
	require.Equal(t, [][]byte{[]byte("sealed")}, readAll(t, l))

	// the log stays usable after the repair
	require.NoError(t, l.Log([]byte("next")))
	require.NoError(t, l.Close())
	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	require.Equal(t, [][]byte{[]byte("sealed"), []byte("next")}, readAll(t, l2))
}

func TestOpen_BitFlipIsNeverAccepted(t *testing.T) {
	for _, idx := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("record_%d", idx), func(t *testing.T) {
			path := logPath(t)
			writeLog(t, path, []byte("first"), []byte("second"), []byte("third"))

			b, err := os.ReadFile(path)
			require.NoError(t, err)

			off := int64(headerLen)
			for i := 0; i < idx; i++ {
				off += recordHeaderLen + int64(bx.U32At(b, int(off)))
			}
			b[off+recordHeaderLen] ^= 0x01
			require.NoError(t, os.WriteFile(path, b, 0o644))

			_, err = Open(path)
			require.ErrorIs(t, err, common.ErrBadLogFile)
			require.True(t, common.IsFatal(err))
		})
	}
}

func TestOpen_ShortFile(t *testing.T) {
	path := logPath(t)
	require.NoError(t, os.WriteFile(path, []byte{0, 0}, 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, common.ErrBadLogFile)
}

func TestTruncate(t *testing.T) {
	path := logPath(t)
	l, err := Create(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Log([]byte("abc")))
	require.NoError(t, l.Truncate(headerLen))
	require.Equal(t, int64(headerLen), fileSize(t, path))
	require.Empty(t, readAll(t, l))
}

func TestReplay_StopsOnError(t *testing.T) {
	path := logPath(t)
	writeLog(t, path, []byte("a"), []byte("b"))

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	boom := fmt.Errorf("boom")
	seen := 0
	err = l.Replay(func([]byte) error {
		seen++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, seen)
}

func TestLog_Metrics(t *testing.T) {
	mt := metrics.New(nil)
	l, err := Create(logPath(t), WithMetrics(mt))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Log([]byte("abcd")))
	require.Equal(t, float64(1), testutil.ToFloat64(mt.LogAppends))
	require.Equal(t, float64(recordHeaderLen+4), testutil.ToFloat64(mt.LogBytes))
}

func TestClosed(t *testing.T) {
	l, err := Create(logPath(t))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	require.ErrorIs(t, l.Log([]byte("x")), ErrClosed)
	_, _, err = l.Next()
	require.ErrorIs(t, err, ErrClosed)
}
