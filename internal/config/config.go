package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string        `yaml:"addr"`
	BackendURL     string        `yaml:"backend_url"`
	RefreshPath    string        `yaml:"refresh_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestRPS     float64       `yaml:"request_rps"`
	RequestBurst   int           `yaml:"request_burst"`
	// Window that absorbs rapid document re-selection before history loads.
	HistoryDebounce time.Duration `yaml:"history_debounce"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CORSOrigin      string        `yaml:"cors_origin"`
	// Redis Configuration
	RedisURL string `yaml:"redis_url"`
	// Notes mirror and search
	DatabaseURL    string `yaml:"database_url"`
	MigrationsDir  string `yaml:"migrations_dir"`
	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`
	NotesVaultDir  string `yaml:"notes_vault_dir"`
	NotesSyncCron  string `yaml:"notes_sync_cron"`
	// Export archive
	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
}

func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		Addr:            getenv("THINKTHANK_ADDR", ":8790"),
		BackendURL:      strings.TrimRight(getenv("THINKTHANK_BACKEND_URL", "http://127.0.0.1:8000/api"), "/"),
		RefreshPath:     getenv("THINKTHANK_REFRESH_PATH", "/token/refresh/"),
		RequestTimeout:  getenvDuration("THINKTHANK_REQUEST_TIMEOUT", 60*time.Second),
		RequestRPS:      getenvFloat("THINKTHANK_REQUEST_RPS", 20),
		RequestBurst:    getenvInt("THINKTHANK_REQUEST_BURST", 10),
		HistoryDebounce: getenvDuration("THINKTHANK_HISTORY_DEBOUNCE", 100*time.Millisecond),
		SessionTTL:      time.Duration(getenvInt("THINKTHANK_SESSION_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:      getenv("THINKTHANK_CORS_ORIGIN", "*"),
		RedisURL:        getenv("REDIS_URL", ""),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrationsDir:   getenv("THINKTHANK_MIGRATIONS_DIR", "./db/migrations"),
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		NotesVaultDir:   getenv("THINKTHANK_NOTES_VAULT_DIR", "./data/notes"),
		NotesSyncCron:   getenv("THINKTHANK_NOTES_SYNC_CRON", "*/15 * * * *"),
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getenv("MINIO_BUCKET", "thinkthank-exports"),
		MinioUseSSL:     getenvBool("MINIO_USE_SSL", false),
	}
}

// LoadWithFile applies the YAML file at path over the environment defaults.
// Keys missing from the file keep their environment value.
func LoadWithFile(path string) (Config, error) {
	cfg := Load()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
