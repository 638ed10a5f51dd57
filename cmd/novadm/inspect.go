package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tuannm99/novadm/internal/config"
	"github.com/tuannm99/novadm/internal/dm"
	"github.com/tuannm99/novadm/internal/tm"
)

type report struct {
	XIDs          uint64
	States        map[tm.State]uint64
	Records       int
	LogBytes      uint64
	Pages         int
	CleanShutdown bool
	Sizes         map[string]int64
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Open a file set and print a summary of its contents",
		Long: "Open a file set and print a summary of its contents.\n" +
			"Opening repairs a bad log tail like any open. The shutdown markers on page 1\n" +
			"are left untouched, so a crashed database still reports an unclean shutdown.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := inspect(a)
			if err != nil {
				return err
			}
			r.print(cmd.OutOrStdout(), a.cfg)
			return nil
		},
	}
}

func inspect(a *app) (*report, error) {
	d, err := dm.Open(a.cfg, dm.ReadOnly(), dm.WithLogger(a.log), dm.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	r := &report{
		XIDs:          d.TM().XIDCount(),
		States:        map[tm.State]uint64{},
		Pages:         d.PageCache().PageNumber(),
		CleanShutdown: d.CleanShutdown(),
		Sizes:         map[string]int64{},
	}
	for xid := tm.XID(1); uint64(xid) <= r.XIDs; xid++ {
		st, err := d.TM().State(xid)
		if err != nil {
			return nil, errors.Join(err, d.Close())
		}
		r.States[st]++
	}
	err = d.Logger().Replay(func(data []byte) error {
		r.Records++
		r.LogBytes += uint64(len(data))
		return nil
	})
	if err != nil {
		return nil, errors.Join(err, d.Close())
	}
	if err := d.Close(); err != nil {
		return nil, err
	}

	for _, p := range []string{a.cfg.XIDPath(), a.cfg.LogPath(), a.cfg.DBPath()} {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		r.Sizes[p] = info.Size()
	}
	return r, nil
}

func (r *report) print(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "database:       %s\n", cfg.BasePath())
	fmt.Fprintf(w, "clean shutdown: %t\n", r.CleanShutdown)
	fmt.Fprintf(w, "transactions:   %s\n", humanize.Comma(int64(r.XIDs)))
	for _, st := range []tm.State{tm.Active, tm.Committed, tm.Aborted} {
		fmt.Fprintf(w, "  %-10s    %s\n", st, humanize.Comma(int64(r.States[st])))
	}
	fmt.Fprintf(w, "log records:    %s (%s payload)\n",
		humanize.Comma(int64(r.Records)), humanize.IBytes(r.LogBytes))
	fmt.Fprintf(w, "pages:          %s\n", humanize.Comma(int64(r.Pages)))
	for _, p := range []string{cfg.XIDPath(), cfg.LogPath(), cfg.DBPath()} {
		fmt.Fprintf(w, "  %s: %s\n", p, humanize.IBytes(uint64(r.Sizes[p])))
	}
}
