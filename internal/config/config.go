// Package config assembles the pipeline configuration from defaults, an
// optional .env file, process environment variables and an optional JSON
// config file, in that order of precedence. CLI flags are applied on top
// by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBucket    = "hg-dpi-prod-ch-dataload1"
	defaultRegion    = "eu-north-1"
	defaultModel     = "all-MiniLM-L6-v2"
	defaultDim       = 768
	defaultBatchSize = 32
)

// S3Config holds the object-store connection settings.
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Endpoint        string `json:"endpoint"` // optional custom endpoint; empty selects AWS S3
	UseSSL          bool   `json:"use_ssl"`
}

// DatabaseConfig holds the relational-store connection settings.
type DatabaseConfig struct {
	Driver   string `json:"driver"` // "postgres" (lib/pq) or "pgx"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

// EmbeddingConfig holds the encoder settings.
type EmbeddingConfig struct {
	Model     string `json:"model"`
	Host      string `json:"host"` // OpenAI-compatible base URL; empty engages the deterministic fallback
	Dim       int    `json:"dim"`
	BatchSize int    `json:"batch_size"`
}

// LoggingConfig holds the process logging settings.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Config is the full pipeline configuration.
type Config struct {
	S3        S3Config        `json:"s3"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Logging   LoggingConfig   `json:"logging"`
}

// Default returns the configuration with every built-in default applied.
func Default() *Config {
	return &Config{
		S3: S3Config{
			Bucket: defaultBucket,
			Region: defaultRegion,
			UseSSL: true,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Name:     "postgres",
			User:     "postgres",
			Password: "postgres",
			SSLMode:  "disable",
		},
		Embedding: EmbeddingConfig{
			Model:     defaultModel,
			Dim:       defaultDim,
			BatchSize: defaultBatchSize,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			File:  fmt.Sprintf("pipeline_%s.log", time.Now().Format("20060102")),
		},
	}
}

// Load builds the configuration from defaults, a best-effort .env file in
// the working directory, and the process environment.
func Load() *Config {
	_ = godotenv.Load()
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = getEnv("AWS_REGION", c.S3.Region)
	c.S3.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.UseSSL = getEnvBool("S3_USE_SSL", c.S3.UseSSL)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Host = getEnv("EMBEDDING_HOST", c.Embedding.Host)
	c.Embedding.Dim = getEnvInt("EMBEDDING_DIM", c.Embedding.Dim)
	c.Embedding.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", c.Embedding.BatchSize)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

// MergeFile overlays values from a JSON config file. Keys absent from the
// file keep their current values.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Database.Port)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive, got %d", c.Embedding.BatchSize)
	}
	return nil
}

// DSN renders the database settings as a postgres connection URL, accepted
// by both registered drivers.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
