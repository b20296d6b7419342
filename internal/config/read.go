package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ReadConfig reads the configuration from the specified JSON file.
// Missing keys fall back to defaults, so an empty file is a valid config.
func ReadConfig(configPath string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetDefault("log_level", "info")
	v.SetDefault("relay_port", 9190)
	v.SetDefault("relay_url", "ws://localhost:9190/ws")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("redis_url", "")
	// 5s staleness over a 2s ping period tolerates two missed pings
	// before a peer is declared dead.
	v.SetDefault("heartbeat_interval", 2*time.Second)
	v.SetDefault("heartbeat_timeout", 5*time.Second)

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// MustReadConfig reads the configuration or panics if there's an error.
func MustReadConfig(configPath string) Config {
	cfg, err := ReadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return cfg
}

// Default returns the built-in configuration, used when no config file
// is supplied on the command line.
func Default() Config {
	return Config{
		LogLevel:          "info",
		RelayPort:         9190,
		RelayURL:          "ws://localhost:9190/ws",
		NATSURL:           "nats://localhost:4222",
		HeartbeatInterval: 2 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}
