// Package config loads the engine configuration from a TOML file with
// environment-variable overrides, so operators can inject secrets at
// deploy time without touching the file.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel string   `toml:"log_level"`
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Redis    Redis    `toml:"redis"`
	Fees     Fees     `toml:"fees"`
	S3       S3       `toml:"s3"`
}

// Server configures the HTTP listener.
type Server struct {
	Port int `toml:"port"`
}

// Database configures the PostgreSQL source of truth. An empty URL falls
// back to the in-memory store.
type Database struct {
	URL string `toml:"url"`
}

// Redis configures the optional read-through cache. An empty URL disables
// caching.
type Redis struct {
	URL string `toml:"url"`
}

// Fees configures the pay-per-call gates. Amounts are decimal strings in
// the FEE asset; "0" disables the gate.
type Fees struct {
	Create   string `toml:"create"`
	Resolve  string `toml:"resolve"`
	Treasury string `toml:"treasury"`
}

// S3 configures the evidence blob store. An empty bucket falls back to
// the in-memory blob store.
type S3 struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server:   Server{Port: 8080},
		Fees: Fees{
			Create:   "0",
			Resolve:  "0",
			Treasury: "treasury",
		},
	}
}

// Load reads the TOML file at path (skipped when path is empty), merges
// it on top of the defaults, applies WALMARKET_* environment overrides,
// and returns the final Config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "WALMARKET_LOG_LEVEL")

	setInt(&cfg.Server.Port, "WALMARKET_PORT")

	setStr(&cfg.Database.URL, "WALMARKET_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Redis.URL, "WALMARKET_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // compatibility alias

	setStr(&cfg.Fees.Create, "WALMARKET_FEE_CREATE")
	setStr(&cfg.Fees.Resolve, "WALMARKET_FEE_RESOLVE")
	setStr(&cfg.Fees.Treasury, "WALMARKET_FEE_TREASURY")

	setStr(&cfg.S3.Endpoint, "WALMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WALMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "WALMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WALMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WALMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WALMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WALMARKET_S3_FORCE_PATH_STYLE")
}

// Typed env-var helpers. Each only mutates the target when the
// environment variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
