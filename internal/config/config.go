package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	SSLMode   string
	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	ApiPort    string
	ApiEnabled string
	GRPCPort   string

	GameApiURL  string
	BrokerURL   string
	ProxiesFile string

	LoginDelay time.Duration
	SendDelay  time.Duration
	BlockHours int
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if GIFTPOOL_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start. The same applies to the
// gRPC health server via GRPCAddr().
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:      os.Getenv("GIFTPOOL_POSTGRES_USER"),
		DBPass:      os.Getenv("GIFTPOOL_POSTGRES_PASSWORD"),
		DBHost:      os.Getenv("GIFTPOOL_POSTGRES_HOST"),
		DBPort:      os.Getenv("GIFTPOOL_POSTGRES_PORT"),
		DBName:      os.Getenv("GIFTPOOL_POSTGRES_DB"),
		SSLMode:     os.Getenv("GIFTPOOL_POSTGRES_SSLMODE"),
		RedisHost:   os.Getenv("GIFTPOOL_REDIS_HOST"),
		RedisPort:   os.Getenv("GIFTPOOL_REDIS_PORT"),
		NatsHost:    os.Getenv("GIFTPOOL_NATS_HOST"),
		NatsPort:    os.Getenv("GIFTPOOL_NATS_PORT"),
		ApiPort:     os.Getenv("GIFTPOOL_API_PORT"),
		ApiEnabled:  os.Getenv("GIFTPOOL_API_ENABLED"),
		GRPCPort:    os.Getenv("GIFTPOOL_GRPC_PORT"),
		GameApiURL:  os.Getenv("GIFTPOOL_GAME_API_URL"),
		BrokerURL:   os.Getenv("GIFTPOOL_BROKER_URL"),
		ProxiesFile: os.Getenv("GIFTPOOL_PROXIES_FILE"),
		LoginDelay:  getEnvDuration("GIFTPOOL_LOGIN_DELAY_MS", 2000*time.Millisecond),
		SendDelay:   getEnvDuration("GIFTPOOL_SEND_DELAY_MS", 1000*time.Millisecond),
		BlockHours:  getEnvInt("GIFTPOOL_BLOCK_HOURS", 24),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: GIFTPOOL_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: GIFTPOOL_REDIS_HOST/PORT")
	}

	// Required: nats bus
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats bus: GIFTPOOL_NATS_HOST/PORT")
	}

	// Required: remote game platform and local session broker
	if cfg.GameApiURL == "" {
		return nil, fmt.Errorf("missing required env: GIFTPOOL_GAME_API_URL")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("missing required env: GIFTPOOL_BROKER_URL")
	}

	// Optional: HTTP API — ApiAddr() will return an error if not enabled.
	// Optional: gRPC health server — GRPCAddr() will return an error if not configured.
	// Optional: proxies file — without it every remote call goes direct.

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if GIFTPOOL_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("GIFTPOOL_API_PORT is required when GIFTPOOL_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (GIFTPOOL_API_ENABLED != true)")
}

// GRPCAddr returns the gRPC health listen address if configured.
func (c *Config) GRPCAddr() (string, error) {
	if c.GRPCPort == "" {
		return "", fmt.Errorf("gRPC health server is disabled (GIFTPOOL_GRPC_PORT not set)")
	}
	return ":" + c.GRPCPort, nil
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	ms := getEnvInt(key, -1)
	if ms < 0 {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
