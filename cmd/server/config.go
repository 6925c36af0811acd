package main

import (
	"fmt"
	"time"
)

const (
	busMemory = "memory"
	busRedis  = "redis"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	// Empty keeps the user search index in memory, rebuilt at startup.
	BlugeFilepath string `env:"BLUGE_FILEPATH"`

	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	MaxContentLength int `env:"MAX_CONTENT_LENGTH,default=2000"`

	Bus         string `env:"BUS,default=memory"`
	RedisURL    string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	RedisPrefix string `env:"REDIS_PREFIX,default=dm-lab:"`

	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=128"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s"`

	ModerationEnabled    bool   `env:"MODERATION_ENABLED,default=false"`
	CharacterReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) Validate() error {
	if c.Bus != busMemory && c.Bus != busRedis {
		return fmt.Errorf("BUS must be %q or %q, got %q", busMemory, busRedis, c.Bus)
	}
	if len(c.AuthSecret) < 16 {
		return fmt.Errorf("AUTH_SECRET must hold at least 16 characters")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	_, err := CharacterRune(c.CharacterReplacement)
	return err
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
