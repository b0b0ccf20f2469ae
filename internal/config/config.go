// Package config loads the worker's only configurable knobs: the IPC
// listener path, log level/format, and the metrics bind address.
// Per-check deadlines, retry counts, and the HTTP request template are
// fixed constants and are never exposed here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything hckworker reads at startup.
type Config struct {
	Listener ListenerConfig `mapstructure:"listener"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ListenerConfig controls the IPC socket the worker binds.
type ListenerConfig struct {
	// Path is the Unix-domain socket path. A leading '@' requests
	// Linux's abstract namespace; ignored (stripped) elsewhere.
	Path string `mapstructure:"path"`
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus HTTP endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from built-in defaults, an optional file,
// and environment variables prefixed HCKWORKER_ (e.g.
// HCKWORKER_LOG_LEVEL for log.level), in that order of increasing
// precedence handled by viper.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hckworker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hckworker")
	}

	v.SetEnvPrefix("HCKWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listener.path", "@hck")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", "")
}
