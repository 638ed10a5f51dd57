// Package dm ties the transaction manager, the write-ahead log and the page
// cache of one database together.
package dm

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/alias/util"
	"github.com/tuannm99/novadm/internal/bufferpool"
	"github.com/tuannm99/novadm/internal/config"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
	"github.com/tuannm99/novadm/internal/storage"
	"github.com/tuannm99/novadm/internal/tm"
	"github.com/tuannm99/novadm/internal/wal"
)

// ErrBadPageOne means the data file does not start with a valid page 1.
var ErrBadPageOne = errors.New("dm: page 1 is missing")

type Option func(*DataManager)

// ReadOnly opens a file set without touching page 1's markers, so a crashed
// database still reports an unclean shutdown to the next Open. The log tail
// is repaired as on any open.
func ReadOnly() Option {
	return func(d *DataManager) { d.readOnly = true }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *DataManager) { d.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DataManager) { d.metrics = metrics.OrNew(m) }
}

// DataManager owns <dir>/<name>.xid, .log and .db.
//
// Page 1 stays checked out while the DataManager is open. Its validity
// markers tell the next Open whether this run was closed cleanly.
type DataManager struct {
	tm      *tm.Manager
	wal     *wal.Logger
	pc      *bufferpool.PageCache
	pageOne *storage.Page

	cleanShutdown bool
	readOnly      bool

	log     *zap.Logger
	metrics *metrics.Metrics
}

func newDataManager(opts []Option) *DataManager {
	d := &DataManager{
		log:     zap.NewNop(),
		metrics: metrics.New(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create makes a fresh file set. Any existing file is ErrFileExists. On
// failure the files this call created are removed again.
func Create(cfg *config.Config, opts ...Option) (*DataManager, error) {
	memory, err := cfg.Memory()
	if err != nil {
		return nil, err
	}
	d := newDataManager(opts)

	if _, err := bufferpool.Capacity(memory); err != nil {
		return nil, err
	}

	var created []string
	fail := func(err error) (*DataManager, error) {
		d.abandon()
		for _, p := range created {
			if rerr := os.Remove(p); rerr != nil {
				d.log.Warn("dm: remove partial file", zap.String("path", p), zap.Error(rerr))
			}
		}
		return nil, err
	}

	if d.tm, err = tm.Create(cfg.XIDPath(), tm.WithLogger(d.log), tm.WithMetrics(d.metrics)); err != nil {
		return fail(err)
	}
	created = append(created, cfg.XIDPath())
	if d.wal, err = wal.Create(cfg.LogPath(), wal.WithLogger(d.log), wal.WithMetrics(d.metrics)); err != nil {
		return fail(err)
	}
	created = append(created, cfg.LogPath())
	d.pc, err = bufferpool.Create(cfg.DBPath(), memory,
		bufferpool.WithLogger(d.log), bufferpool.WithMetrics(d.metrics))
	if err != nil {
		return fail(err)
	}
	created = append(created, cfg.DBPath())

	pgno, err := d.pc.NewPage(storage.InitPageOneRaw())
	if err != nil {
		return fail(err)
	}
	if pgno != 1 {
		return fail(fmt.Errorf("%w: first allocated page is %d", ErrBadPageOne, pgno))
	}
	if d.pageOne, err = d.pc.GetPage(1); err != nil {
		return fail(err)
	}
	d.cleanShutdown = true

	d.log.Info("dm: created", zap.String("base", cfg.BasePath()), zap.Int64("memory", memory))
	return d, nil
}

// Open opens an existing file set. Opening the log repairs a bad tail.
func Open(cfg *config.Config, opts ...Option) (*DataManager, error) {
	memory, err := cfg.Memory()
	if err != nil {
		return nil, err
	}
	d := newDataManager(opts)

	if _, err := bufferpool.Capacity(memory); err != nil {
		return nil, err
	}
	if d.tm, err = tm.Open(cfg.XIDPath(), tm.WithLogger(d.log), tm.WithMetrics(d.metrics)); err != nil {
		return nil, err
	}
	if d.wal, err = wal.Open(cfg.LogPath(), wal.WithLogger(d.log), wal.WithMetrics(d.metrics)); err != nil {
		d.abandon()
		return nil, err
	}
	d.pc, err = bufferpool.Open(cfg.DBPath(), memory,
		bufferpool.WithLogger(d.log), bufferpool.WithMetrics(d.metrics))
	if err != nil {
		d.abandon()
		return nil, err
	}
	if d.pc.PageNumber() < 1 {
		d.abandon()
		return nil, ErrBadPageOne
	}
	if d.pageOne, err = d.pc.GetPage(1); err != nil {
		d.abandon()
		return nil, err
	}

	d.cleanShutdown = storage.CheckVc(d.pageOne)
	if !d.readOnly {
		storage.SetVcOpen(d.pageOne)
		if err := d.pc.FlushPage(d.pageOne); err != nil {
			d.abandon()
			return nil, err
		}
	}

	if !d.cleanShutdown {
		d.log.Warn("dm: previous run did not shut down cleanly", zap.String("base", cfg.BasePath()))
	}
	d.log.Info("dm: opened", zap.String("base", cfg.BasePath()),
		zap.Uint64("xids", d.tm.XIDCount()), zap.Int("pages", d.pc.PageNumber()))
	return d, nil
}

// abandon closes whatever was opened so far without touching page 1's
// markers.
func (d *DataManager) abandon() {
	if d.pageOne != nil {
		if err := d.pageOne.Release(); err != nil {
			d.log.Warn("dm: release page 1", zap.Error(err))
		}
		d.pageOne = nil
	}
	if d.pc != nil {
		util.CloseQuietly(d.pc, d.log)
	}
	if d.wal != nil {
		util.CloseQuietly(d.wal, d.log)
	}
	if d.tm != nil {
		util.CloseQuietly(d.tm, d.log)
	}
}

// CleanShutdown reports whether the previous run closed the database
// cleanly. A false result means the log must be replayed by the caller.
func (d *DataManager) CleanShutdown() bool { return d.cleanShutdown }

func (d *DataManager) TM() *tm.Manager              { return d.tm }
func (d *DataManager) Logger() *wal.Logger          { return d.wal }
func (d *DataManager) PageCache() bufferpool.Manager { return d.pc }

// Close marks page 1 closed and closes the page cache, the log and the
// transaction manager. A ReadOnly manager leaves page 1 as it found it.
func (d *DataManager) Close() error {
	if d.pageOne == nil {
		return nil
	}
	if !d.readOnly {
		storage.SetVcClose(d.pageOne)
	}
	err := d.pc.Release(d.pageOne)
	d.pageOne = nil

	return errors.Join(err, d.pc.Close(), d.wal.Close(), d.tm.Close())
}
