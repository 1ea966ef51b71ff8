package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the server reads from the environment. DSN and
// secret have no defaults on purpose: booting without them must fail.
type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	DatabaseDSN     string        `envconfig:"DB_DSN" required:"true"`
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	HistoryPageSize int           `envconfig:"HISTORY_PAGE_SIZE" default:"50"`
	MaxContentLen   int           `envconfig:"MAX_CONTENT_LENGTH" default:"4000"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
