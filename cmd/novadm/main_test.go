package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/config"
	"github.com/tuannm99/novadm/internal/dm"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateAndInspect(t *testing.T) {
	dir := t.TempDir()
	flags := []string{"--dir", dir, "--name", "cli", "--memory", "1MiB", "--log-level", "error"}

	out, err := run(t, append([]string{"create"}, flags...)...)
	require.NoError(t, err)
	require.Contains(t, out, "created")

	out, err = run(t, append([]string{"inspect"}, flags...)...)
	require.NoError(t, err)
	require.Contains(t, out, "clean shutdown: true")
	require.Contains(t, out, "transactions:   0")
	require.Contains(t, out, "pages:          1")
	require.Contains(t, out, "8.0 KiB")
}

func TestCreate_Twice(t *testing.T) {
	flags := []string{"--dir", t.TempDir(), "--log-level", "error"}

	_, err := run(t, append([]string{"create"}, flags...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"create"}, flags...)...)
	require.ErrorIs(t, err, common.ErrFileExists)
}

func TestInspect_Missing(t *testing.T) {
	_, err := run(t, "inspect", "--dir", t.TempDir(), "--log-level", "error")
	require.ErrorIs(t, err, common.ErrFileNotExists)
}

func TestCreate_MemoryTooSmall(t *testing.T) {
	_, err := run(t, "create", "--dir", t.TempDir(), "--memory", "16KiB", "--log-level", "error")
	require.ErrorIs(t, err, common.ErrMemTooSmall)
	require.True(t, common.IsFatal(err))
}

func TestInspect_KeepsUncleanShutdown(t *testing.T) {
	dir := t.TempDir()
	flags := []string{"--dir", dir, "--name", "crash", "--memory", "1MiB", "--log-level", "error"}

	_, err := run(t, append([]string{"create"}, flags...)...)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Storage.Dir = dir
	cfg.Storage.Name = "crash"
	cfg.Storage.MemoryBudget = "1MiB"

	// an engine that opens and never closes leaves the markers apart
	crashed, err := dm.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, crashed.PageCache().Close())
	require.NoError(t, crashed.Logger().Close())
	require.NoError(t, crashed.TM().Close())

	for range 2 {
		out, err := run(t, append([]string{"inspect"}, flags...)...)
		require.NoError(t, err)
		require.Contains(t, out, "clean shutdown: false")
	}

	d, err := dm.Open(cfg)
	require.NoError(t, err)
	defer d.Close()
	require.False(t, d.CleanShutdown())
}
