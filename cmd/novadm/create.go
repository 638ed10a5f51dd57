package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuannm99/novadm/internal/dm"
)

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new .xid/.log/.db file set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := dm.Create(a.cfg, dm.WithLogger(a.log), dm.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			if err := d.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s.{xid,log,db}\n", a.cfg.BasePath())
			return nil
		},
	}
}
