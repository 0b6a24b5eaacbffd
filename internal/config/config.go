// Package config loads configuration from environment variables and,
// optionally, a JSON credential file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MichelGerding/remote-iracing-setups/internal/credential"
	"github.com/MichelGerding/remote-iracing-setups/internal/remote"
)

// Config holds all agent configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Credentials. With CONFIG_FILE set they come from the file, otherwise
	// from REFRESH_TOKEN / ADMIN_* and are never written back.
	ConfigFile        string
	RefreshToken      string
	AccessToken       string
	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	// Storage backend ("local" or "s3", default: "local")
	StorageBackend string
	SetupsDir      string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3Prefix       string

	// Remote services
	AuthURL       string
	CatalogURL    string
	MemberURL     string
	RemoteTimeout time.Duration // 0 = no overall timeout

	// Jobs
	TokenRefreshInterval time.Duration
	SyncInterval         time.Duration
	ContinueOnError      bool

	// Control surface
	AuthFailuresPerMinute int // 0 = unlimited

	// History (optional, in-memory when empty)
	DatabaseURL string

	file *FileStore
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:            envOr("LISTEN_ADDR", "0.0.0.0:3000"),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogFormat:             envOr("LOG_FORMAT", "console"),
		ConfigFile:            os.Getenv("CONFIG_FILE"),
		RefreshToken:          os.Getenv("REFRESH_TOKEN"),
		AdminUsername:         envOr("ADMIN_USERNAME", "admin"),
		AdminPassword:         envOr("ADMIN_PASSWORD", "changeme"),
		AdminPasswordHash:     os.Getenv("ADMIN_PASSWORD_HASH"),
		StorageBackend:        envOr("STORAGE_BACKEND", "local"),
		SetupsDir:             envOr("SETUPS_DIR", "setups"),
		S3Endpoint:            os.Getenv("S3_ENDPOINT"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Region:              envOr("S3_REGION", "us-east-1"),
		S3Prefix:              envOr("S3_PREFIX", "setups"),
		AuthURL:               envOr("AUTH_URL", remote.DefaultAuthURL),
		CatalogURL:            envOr("CATALOG_URL", remote.DefaultCatalogURL),
		MemberURL:             envOr("MEMBER_URL", remote.DefaultMemberURL),
		RemoteTimeout:         envDuration("REMOTE_TIMEOUT", 0),
		TokenRefreshInterval:  envDuration("TOKEN_REFRESH_INTERVAL", 50*time.Minute),
		SyncInterval:          envDuration("SYNC_INTERVAL", 2*time.Hour),
		ContinueOnError:       envBool("SYNC_CONTINUE_ON_ERROR", false),
		AuthFailuresPerMinute: envInt("AUTH_FAILURES_PER_MINUTE", 10),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
	}
	if _, set := os.LookupEnv("METRICS_ADDR"); !set {
		cfg.MetricsAddr = ":9090"
	}

	if cfg.ConfigFile != "" {
		fs, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		doc := fs.Document()
		cfg.file = fs
		cfg.RefreshToken = doc.RefreshToken
		cfg.AccessToken = doc.JWTToken
		cfg.AdminUsername = doc.AdminUsername
		cfg.AdminPassword = doc.AdminPassword
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RefreshToken == "" {
		return fmt.Errorf("REFRESH_TOKEN is required")
	}
	if c.AdminUsername == "" || (c.AdminPassword == "" && c.AdminPasswordHash == "") {
		return fmt.Errorf("admin username and password are required")
	}
	switch c.StorageBackend {
	case "local":
		if c.SetupsDir == "" {
			return fmt.Errorf("SETUPS_DIR must not be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want local or s3)", c.StorageBackend)
	}
	if c.TokenRefreshInterval <= 0 || c.SyncInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	return nil
}

// Persister returns the credential file when the file-backed variant is in
// use, or nil.
func (c *Config) Persister() credential.Persister {
	if c.file == nil {
		return nil
	}
	return c.file
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
