package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	DiscordToken  string   `env:"DISCORD_TOKEN,required"`
	DefaultPrefix string   `env:"DEFAULT_PREFIX" envDefault:"?"`
	DeveloperIDs  []string `env:"DEVELOPER_IDS" envSeparator:","`

	StoragePath string `env:"STORAGE_PATH" envDefault:"astolfo.json"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	RateLimitThreshold int           `env:"RATE_LIMIT_THRESHOLD" envDefault:"4"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"6s"`

	SessionTimeout  time.Duration `env:"SESSION_TIMEOUT" envDefault:"1m"`
	ListenerTTL     time.Duration `env:"LISTENER_TTL" envDefault:"10m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`

	ChatbotProvider string `env:"CHATBOT_PROVIDER" envDefault:"pollinations"`
	ChatbotURL      string `env:"CHATBOT_URL" envDefault:"https://text.pollinations.ai/openai"`
}

// New loads .env if present and parses the environment.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// IsDeveloper reports whether a user ID is one of the configured developers.
func (c *Config) IsDeveloper(userID string) bool {
	for _, id := range c.DeveloperIDs {
		if id == userID {
			return true
		}
	}
	return false
}
