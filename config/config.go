// Package config loads datastore configuration from files and the
// environment. Settings come from, in increasing precedence: built-in
// defaults, an optional config file, a .env file in the working
// directory, and TANAGER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is everything needed to open a datastore
type Config struct {
	// Driver is the storage driver name, e.g. "memory" or "bbolt"
	Driver string `mapstructure:"driver"`
	// Path is where persistent drivers keep their data
	Path string `mapstructure:"path"`
	// SequenceBatchSize is how many ids a node reserves per batch
	SequenceBatchSize uint32 `mapstructure:"sequence_batch_size"`
	// QueryTimeout bounds queries that do not set their own timeout
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	// LogLevel is the minimum level emitted by the datastore logger
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the optional file at path. An empty
// path loads defaults, .env, and environment variables only.
func Load(path string) (Config, error) {
	// Missing .env files are fine, the environment still applies
	godotenv.Load()

	v := viper.New()

	v.SetDefault("driver", "memory")
	v.SetDefault("path", "")
	v.SetDefault("sequence_batch_size", 100)
	v.SetDefault("query_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("TANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	var config Config

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("could not unmarshal config: %w", err)
	}

	return config, nil
}
