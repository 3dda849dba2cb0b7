package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr     string
	DataDir        string
	BaseURL        string
	SessionSecret  string
	CSRFSecret     string
	MaxUploadBytes int64
	LogLevel       string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	GeoEnabled        bool
	ReconcileInterval time.Duration
}

func Load() *Config {
	return &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		DataDir:        envOr("DATA_DIR", "./data"),
		BaseURL:        envOr("BASE_URL", "http://localhost:8080"),
		SessionSecret:  envOr("SESSION_SECRET", "change-me-in-production-32-bytes!"),
		CSRFSecret:     envOr("CSRF_SECRET", "change-me-too-32-bytes-of-secret!"),
		MaxUploadBytes: envInt64Or("MAX_UPLOAD_BYTES", 100*1024*1024),
		LogLevel:       envOr("LOG_LEVEL", "info"),

		CloudinaryCloudName: envOr("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    envOr("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: envOr("CLOUDINARY_API_SECRET", ""),

		GeoEnabled:        envBoolOr("GEO_ENABLED", true),
		ReconcileInterval: envDurationOr("RECONCILE_INTERVAL", time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
