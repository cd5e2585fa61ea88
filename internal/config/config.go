package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	DatabaseHost     string `env:"DATABASE_HOST,default=localhost"`
	DatabasePort     string `env:"DATABASE_PORT,default=5432"`
	DatabaseUser     string `env:"DATABASE_USER,default=postgres"`
	DatabasePassword string `env:"DATABASE_PASSWORD,default=password"`
	DatabaseName     string `env:"DATABASE_NAME,default=shop"`
	DatabaseSSLMode  string `env:"DATABASE_SSLMODE,default=disable"`
	DatabaseMaxConns int    `env:"DATABASE_MAX_CONNS,default=20"`

	ServerPort     string        `env:"SERVER_PORT,default=8080"`
	JWTSecret      string        `env:"JWT_SECRET,default=secret"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=1h"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=5s"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST,default=200"`
	BcryptCost     int           `env:"BCRYPT_COST,default=10"`

	Storage      string `env:"STORAGE,default=postgres"`
	CatalogFile  string `env:"CATALOG_FILE"`
	TxMaxRetries int    `env:"TX_MAX_RETRIES,default=5"`

	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT,default=false"`
}

// LoadConfig reads an optional .env file (or the one named by ENV_FILE) and
// then decodes the environment on top of the defaults.
func LoadConfig() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must not be empty")
	}
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE %q", c.Storage)
	}
	if c.TxMaxRetries < 1 {
		return fmt.Errorf("config: TX_MAX_RETRIES must be at least 1, got %d", c.TxMaxRetries)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.DatabaseMaxConns < 1 {
		return fmt.Errorf("config: DATABASE_MAX_CONNS must be at least 1, got %d", c.DatabaseMaxConns)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseName,
		c.DatabaseSSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
