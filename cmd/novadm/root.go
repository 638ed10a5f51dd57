package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tuannm99/novadm/internal/config"
	"github.com/tuannm99/novadm/internal/logger"
	"github.com/tuannm99/novadm/internal/metrics"
)

// app is the state shared by every subcommand.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "novadm",
		Short:         "Administer novadm data manager files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	pf.String("dir", "", "directory holding the database files")
	pf.String("name", "", "base name of the database files")
	pf.String("memory", "", "page cache memory budget, e.g. 64MiB")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Bool("metrics", false, "print collected metrics when the command ends")

	for key, flag := range map[string]string{
		"storage.dir":           "dir",
		"storage.name":          "name",
		"storage.memory_budget": "memory",
		"log.level":             "log-level",
		"metrics.enabled":       "metrics",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newCreateCmd(a), newInspectCmd(a))
	return root
}

func (a *app) setup() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		a.v.SetConfigType("yaml")
		if err := a.v.ReadInConfig(); err != nil {
			return err
		}
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log, err = logger.New(cfg.Log); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(a.registry)
	} else {
		a.metrics = metrics.New(nil)
	}
	return nil
}

func (a *app) teardown() {
	if a.registry != nil {
		a.dumpMetrics()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) dumpMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.log.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil && c.GetValue() > 0 {
				a.log.Info("metric", zap.String("name", mf.GetName()), zap.Float64("value", c.GetValue()))
			}
		}
	}
}
