package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for canwhat.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Cache   CacheConfig   `mapstructure:"cache"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type CacheConfig struct {
	Path string        `mapstructure:"path"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type HTTPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type MetricsConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type EngineConfig struct {
	ShrinkActionLists bool `mapstructure:"shrink_action_lists"`
}

// DefaultConfigPath returns the default path to the config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canwhat/config.yaml"
	}
	return filepath.Join(home, ".canwhat", "config.yaml")
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	cachePath := filepath.Join(home, ".canwhat", "cache.db")
	return &Config{
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Cache: CacheConfig{
			Path: cachePath,
			TTL:  15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Endpoint: "0.0.0.0:8080",
		},
		Metrics: MetricsConfig{
			Endpoint: "0.0.0.0:9090",
		},
		Engine: EngineConfig{
			ShrinkActionLists: true,
		},
	}
}

// Load reads configuration from the given path using viper.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("aws.region", def.AWS.Region)
	v.SetDefault("cache.path", def.Cache.Path)
	v.SetDefault("cache.ttl", def.Cache.TTL.String())
	v.SetDefault("http.endpoint", def.HTTP.Endpoint)
	v.SetDefault("metrics.endpoint", def.Metrics.Endpoint)
	v.SetDefault("engine.shrink_action_lists", def.Engine.ShrinkActionLists)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found at %s — run 'canwhat init' to create one", path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	return &cfg, nil
}

// ExpandPath expands ~ in a file path to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
