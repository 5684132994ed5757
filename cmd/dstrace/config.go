package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	dstrace "github.com/kroma-labs/dstrace/sql"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. DSTRACE_DSN.
	EnvPrefix = "DSTRACE"
	// DefaultConfigFileName is the name of the config file, without extension.
	DefaultConfigFileName = "dstrace"
)

// dbSystems maps supported driver names to their db.system value.
var dbSystems = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "postgresql",
	"pgx":      "postgresql",
	"mysql":    "mysql",
}

// Config is the resolved command configuration.
type Config struct {
	// Driver is the database/sql driver name.
	Driver string `mapstructure:"driver"`

	// DSN is handed to the driver unchanged.
	DSN string `mapstructure:"dsn"`

	DataSource DataSourceConfig `mapstructure:"datasource"`

	Log LogConfig `mapstructure:"log"`
}

// DataSourceConfig configures tracing of the data source.
type DataSourceConfig struct {
	// Name appears in span names. Empty means a generated name.
	Name string `mapstructure:"name"`

	// Include lists the traced categories. Empty means all.
	Include string `mapstructure:"include"`

	// RowCount tags spans with row counts.
	RowCount bool `mapstructure:"row_count"`
}

// LogConfig configures the zerolog output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig resolves configuration from flags, DSTRACE_* environment
// variables, the config file and defaults, in that order of precedence.
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", ":memory:")
	v.SetDefault("datasource.name", "")
	v.SetDefault("datasource.include", "")
	v.SetDefault("datasource.row_count", true)
	v.SetDefault("log.level", "info")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, ok := dbSystems[c.Driver]; !ok {
		drivers := make([]string, 0, len(dbSystems))
		for name := range dbSystems {
			drivers = append(drivers, name)
		}
		slices.Sort(drivers)
		return fmt.Errorf("unsupported driver %q (supported: %s)", c.Driver, strings.Join(drivers, ", "))
	}
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if _, err := dstrace.ParseCategories(c.DataSource.Include); err != nil {
		return fmt.Errorf("datasource.include: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Options translates the configuration into driver wrapper options.
func (c *Config) Options() []dstrace.Option {
	// Validate has already accepted the list.
	cats, _ := dstrace.ParseCategories(c.DataSource.Include)

	opts := []dstrace.Option{
		dstrace.WithDBSystem(dbSystems[c.Driver]),
		dstrace.WithCategories(cats...),
		dstrace.WithTraceRowCount(c.DataSource.RowCount),
	}
	if c.DataSource.Name != "" {
		opts = append(opts, dstrace.WithDataSourceName(c.DataSource.Name))
	}
	return opts
}
