package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the parleyd service configuration, loaded from an optional
// parleyd.yaml plus PARLEY_* environment overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	Store   StoreConfig   `mapstructure:"store"`
	Janitor JanitorConfig `mapstructure:"janitor"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ModelConfig struct {
	Provider    string   `mapstructure:"provider"` // "deepseek", "ollama", "gemini"
	Name        string   `mapstructure:"name"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature *float64 `mapstructure:"temperature"`
}

type StoreConfig struct {
	Type       string        `mapstructure:"type"` // "memory", "redis", "sqlite", "postgres"
	Connection string        `mapstructure:"connection"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxIdle  time.Duration `mapstructure:"max_idle"`
	Schedule string        `mapstructure:"schedule"`
}

// LoadConfig reads the configuration file (if present) and environment
// overrides, falling back to defaults suited to local development.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("parleyd")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/parleyd")
	}

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("model.provider", "deepseek")
	v.SetDefault("model.name", "")
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.connection", "chat_history.sqlite")
	v.SetDefault("janitor.enabled", false)
	v.SetDefault("janitor.max_idle", 30*24*time.Hour)
	v.SetDefault("janitor.schedule", "@hourly")

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
