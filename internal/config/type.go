package config

import "time"

type Config struct {
	LogLevel          string        `mapstructure:"log_level"`
	RelayPort         int           `mapstructure:"relay_port"`
	RelayURL          string        `mapstructure:"relay_url"`
	NATSURL           string        `mapstructure:"nats_url"`
	RedisURL          string        `mapstructure:"redis_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
}
