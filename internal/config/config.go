// Package config reads the environment of the service and listener binaries.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type ServiceConfig struct {
	Port          string
	RedisURL      string
	DatabaseURL   string
	StoreBackend  string
	JWTSecret     []byte
	AllowedOrigin string
	SendBuffer    int
}

// LoadServiceConfig reads the registry service settings. An empty REDIS_URL
// delivers broadcasts to the hub without the Redis channel; an empty JWT_SECRET
// trusts the user ids sent in payloads.
func LoadServiceConfig() (ServiceConfig, error) {
	cfg := ServiceConfig{
		Port:          getenv("PORT", "3004"),
		RedisURL:      getenv("REDIS_URL", ""),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		StoreBackend:  strings.ToLower(getenv("STORE_BACKEND", BackendMemory)),
		JWTSecret:     []byte(getenv("JWT_SECRET", "")),
		AllowedOrigin: getenv("ALLOWED_ORIGIN", ""),
		SendBuffer:    getenvInt("SEND_BUFFER", 256),
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return ServiceConfig{}, errors.New("config: STORE_BACKEND=redis needs REDIS_URL")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return ServiceConfig{}, errors.New("config: STORE_BACKEND=postgres needs DATABASE_URL")
		}
	default:
		return ServiceConfig{}, errors.New("config: unknown STORE_BACKEND " + cfg.StoreBackend)
	}
	return cfg, nil
}

type ListenerConfig struct {
	ServerURL    string
	AccessToken  string
	UserID       string
	RadioID      string
	CatalogURL   string
	CatalogToken string
	RedisURL     string
	SyncInterval time.Duration
	MetadataTTL  time.Duration
}

// LoadListenerConfig reads the headless listener settings.
func LoadListenerConfig() (ListenerConfig, error) {
	cfg := ListenerConfig{
		ServerURL:    getenv("SERVER_URL", "ws://localhost:3004/ws"),
		AccessToken:  getenv("ACCESS_TOKEN", ""),
		UserID:       getenv("USER_ID", ""),
		RadioID:      getenv("RADIO_ID", ""),
		CatalogURL:   getenv("CATALOG_API_URL", "https://api.spotify.com/v1"),
		CatalogToken: getenv("CATALOG_TOKEN", ""),
		RedisURL:     getenv("REDIS_URL", ""),
		SyncInterval: getenvDuration("SYNC_INTERVAL", 5*time.Second),
		MetadataTTL:  getenvDuration("METADATA_TTL", time.Hour),
	}

	if cfg.RadioID == "" {
		return ListenerConfig{}, errors.New("config: RADIO_ID is empty")
	}
	if cfg.AccessToken == "" && cfg.UserID == "" {
		return ListenerConfig{}, errors.New("config: one of ACCESS_TOKEN or USER_ID is required")
	}
	if cfg.CatalogToken == "" {
		return ListenerConfig{}, errors.New("config: CATALOG_TOKEN is empty")
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
