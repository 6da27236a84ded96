package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the YAML file
const (
	EnvMongoURI      = "COMMUNITY_CONNECT_MONGO_URI"
	EnvPostgresURL   = "COMMUNITY_CONNECT_POSTGRES_URL"
	EnvRedisPassword = "COMMUNITY_CONNECT_REDIS_PASSWORD"
	EnvJWTSecret     = "COMMUNITY_CONNECT_JWT_SECRET"
)

// DatabaseConfig selects and configures the primary store
type DatabaseConfig struct {
	Backend       string `yaml:"backend" validate:"required,oneof=mongo postgres"`
	MongoURI      string `yaml:"mongoURI,omitempty" validate:"required_if=Backend mongo"`
	MongoDatabase string `yaml:"mongoDatabase,omitempty" validate:"required_if=Backend mongo"`
	PostgresURL   string `yaml:"postgresURL,omitempty" validate:"required_if=Backend postgres"`
}

// RedisConfig configures the optional Redis ledger
type RedisConfig struct {
	Address  string `yaml:"address,omitempty" validate:"omitempty,hostname_port"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" validate:"min=0"`
}

// EmailConfig selects and configures the outbound email transport
type EmailConfig struct {
	Provider     string        `yaml:"provider" validate:"required,oneof=gmail ses"`
	Sender       string        `yaml:"sender" validate:"required,email"`
	GmailUserID  string        `yaml:"gmailUserID,omitempty" validate:"required_if=Provider gmail"`
	SESRegion    string        `yaml:"sesRegion,omitempty" validate:"required_if=Provider ses"`
	SendInterval time.Duration `yaml:"sendInterval,omitempty" validate:"min=0"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Address        string   `yaml:"address,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" validate:"dive,required"`
	JWTSecret      string   `yaml:"-"`
}

// NotificationsConfig configures the chat notification ledger and digests
type NotificationsConfig struct {
	LedgerBackend   string        `yaml:"ledgerBackend,omitempty" validate:"oneof=store redis"`
	LedgerRetention time.Duration `yaml:"ledgerRetention,omitempty" validate:"min=0"`
	DigestInterval  time.Duration `yaml:"digestInterval,omitempty" validate:"min=0"`
	DigestLookback  time.Duration `yaml:"digestLookback,omitempty" validate:"min=0"`
}

// RecurrenceConfig configures expansion of recurring opportunities
type RecurrenceConfig struct {
	HorizonMonths int `yaml:"horizonMonths,omitempty" validate:"min=1,max=24"`
}

// Config represents the application configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis,omitempty"`
	Email         EmailConfig         `yaml:"email"`
	Server        ServerConfig        `yaml:"server,omitempty"`
	Notifications NotificationsConfig `yaml:"notifications,omitempty"`
	Recurrence    RecurrenceConfig    `yaml:"recurrence,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration for an environment from
// community_connect.<env>.yaml. It looks for the config file in the current
// directory first, then in the user's home directory. A .env file next to the
// config file, if present, supplies secrets.
func Load(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
// Environment variables override the file's secrets.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvMongoURI); v != "" {
		cfg.Database.MongoURI = v
	}
	if v := os.Getenv(EnvPostgresURL); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	cfg.Server.JWTSecret = os.Getenv(EnvJWTSecret)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Notifications.LedgerBackend == "" {
		cfg.Notifications.LedgerBackend = "store"
	}
	if cfg.Notifications.LedgerRetention == 0 {
		cfg.Notifications.LedgerRetention = 7 * 24 * time.Hour
	}
	if cfg.Notifications.DigestInterval == 0 {
		cfg.Notifications.DigestInterval = 5 * time.Minute
	}
	if cfg.Notifications.DigestLookback == 0 {
		cfg.Notifications.DigestLookback = time.Hour
	}
	if cfg.Recurrence.HorizonMonths == 0 {
		cfg.Recurrence.HorizonMonths = 3
	}
	if cfg.Email.SendInterval == 0 && cfg.Email.Provider == "gmail" {
		cfg.Email.SendInterval = 3 * time.Second
	}
}

// Validate validates the configuration struct and the cross-section rules
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Notifications.LedgerBackend == "redis" && cfg.Redis.Address == "" {
		return fmt.Errorf("config validation failed: redis.address is required when notifications.ledgerBackend is redis")
	}

	return nil
}

// findConfigFile searches for community_connect.<env>.yaml
func findConfigFile(env string) (string, error) {
	return findFile(fmt.Sprintf("community_connect.%s.yaml", env))
}

// findFile looks for name in the current directory, then the user's home directory
func findFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(homeDir, name)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", name)
}
