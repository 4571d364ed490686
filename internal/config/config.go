package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"welcome/internal/logger"
	"welcome/internal/privatestate"
)

type Config struct {
	LogFile      string `env:"WELCOME_LOG_FILE"`
	ErrorLogFile string `env:"WELCOME_ERROR_LOG_FILE"`
	LogLevel     string `env:"WELCOME_LOG_LEVEL" envDefault:"info"`
	LogConsole   bool   `env:"WELCOME_LOG_CONSOLE" envDefault:"true"`

	DBPath                string `env:"WELCOME_DB_PATH" envDefault:"welcome.db"`
	PrivateStateStoreName string `env:"WELCOME_PRIVATE_STATE_STORE_NAME" envDefault:"welcome-private-state"`

	WatchRetryCount     uint          `env:"WELCOME_WATCH_RETRY_COUNT" envDefault:"15"`
	WatchRetryBaseDelay time.Duration `env:"WELCOME_WATCH_RETRY_BASE_DELAY" envDefault:"5ms"`

	InitialParticipants []string      `env:"WELCOME_INITIAL_PARTICIPANTS" envSeparator:","`
	BlockTime           time.Duration `env:"WELCOME_BLOCK_TIME" envDefault:"1s"`
	ActionTimeout       time.Duration `env:"WELCOME_ACTION_TIMEOUT" envDefault:"2m"`
}

// Load reads the given .env files, when present, and parses the environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Logger() logger.Configuration {
	return logger.Configuration{
		LogFile:   c.LogFile,
		ErrorFile: c.ErrorLogFile,
		Level:     c.LogLevel,
		Console:   c.LogConsole,
	}
}

func (c Config) RetryPolicy() privatestate.RetryPolicy {
	return privatestate.RetryPolicy{
		Retries:   c.WatchRetryCount,
		BaseDelay: c.WatchRetryBaseDelay,
	}
}
