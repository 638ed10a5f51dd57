// Package config loads the data manager settings with viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/tuannm99/novadm/internal/common"
	"github.com/tuannm99/novadm/internal/logger"
)

const EnvPrefix = "NOVADM"

type Config struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Dir  string `mapstructure:"dir"`
		Name string `mapstructure:"name"`
		// MemoryBudget is a size such as "64MiB" or "1048576".
		MemoryBudget string `mapstructure:"memory_budget"`
	} `mapstructure:"storage"`

	Log logger.Config `mapstructure:"log"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// SetDefaults installs the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novadm")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.name", "novadm")
	v.SetDefault("storage.memory_budget", "64MiB")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "stderr")
	v.SetDefault("metrics.enabled", false)
}

// New returns a viper instance with defaults and NOVADM_ environment
// overrides, e.g. NOVADM_STORAGE_MEMORY_BUDGET.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the YAML file at path. An empty path uses defaults and
// environment only.
func LoadConfig(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Storage.Name == "" {
		return errors.New("config: storage.name is empty")
	}
	if _, err := c.Memory(); err != nil {
		return err
	}
	return nil
}

// Memory parses the memory budget in bytes.
func (c *Config) Memory() (int64, error) {
	n, err := humanize.ParseBytes(c.Storage.MemoryBudget)
	if err != nil {
		return 0, fmt.Errorf("config: memory_budget %q: %w", c.Storage.MemoryBudget, err)
	}
	return int64(n), nil
}

// BasePath is the path of the file set without suffix.
func (c *Config) BasePath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.Name)
}

func (c *Config) XIDPath() string { return c.BasePath() + common.XIDSuffix }
func (c *Config) LogPath() string { return c.BasePath() + common.LogSuffix }
func (c *Config) DBPath() string  { return c.BasePath() + common.DBSuffix }
