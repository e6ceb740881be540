// Package config loads configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the service configuration.
type Config struct {
	DevMode bool

	// Logging
	LogLevel  string
	LogFormat string

	// Local server
	ListenAddr     string
	RateLimitRPS   float64
	RateLimitBurst int

	// URLs
	FrontendURL string
	RedirectURL string // OAuth redirect target shared by every provider
	DocumentAPI string // backing job-board API base URL

	// DynamoDB / KMS
	ProviderTokensTable string
	PendingAuthTable    string
	KMSKeyID            string

	// OAuth clients. Secrets are parameter names resolved through secret.Resolver.
	GoogleClientID          string
	GoogleClientSecretParam string
	DropboxClientID         string
	OneDriveClientID        string
	OneDriveTenant          string
	ZoomClientID            string
	ZoomClientSecretParam   string

	JWTSecretParam        string
	APIGatewaySecretParam string

	// Picker and pipeline
	ScratchDir   string
	PageSize     int
	HTTPTimeout  time.Duration
	CacheTTL     time.Duration
	SessionIdle  time.Duration
	MaxFileBytes int64
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		DevMode:   envBool("DEV_MODE", false),
		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),

		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		FrontendURL: envOr("FRONTEND_URL", "http://localhost:3000"),
		DocumentAPI: strings.TrimSuffix(envOr("DOCUMENT_API_URL", "http://localhost:4000/api"), "/"),

		ProviderTokensTable: envOr("PROVIDER_TOKENS_TABLE", "ProviderTokens"),
		PendingAuthTable:    envOr("PENDING_AUTH_TABLE", "PendingAuthorizations"),
		KMSKeyID:            envOr("KMS_KEY_ID", "alias/docpick-token-key"),

		GoogleClientID:          os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecretParam: envOr("GOOGLE_CLIENT_SECRET_PARAM", "/docpick/google-client-secret"),
		DropboxClientID:         os.Getenv("DROPBOX_CLIENT_ID"),
		OneDriveClientID:        os.Getenv("ONEDRIVE_CLIENT_ID"),
		OneDriveTenant:          envOr("ONEDRIVE_TENANT", "common"),
		ZoomClientID:            os.Getenv("ZOOM_CLIENT_ID"),
		ZoomClientSecretParam:   envOr("ZOOM_CLIENT_SECRET_PARAM", "/docpick/zoom-client-secret"),

		JWTSecretParam:        envOr("JWT_SECRET_PARAM", "/docpick/jwt-secret"),
		APIGatewaySecretParam: envOr("API_GATEWAY_SECRET_PARAM", "/docpick/api-gateway-secret"),

		ScratchDir:   envOr("SCRATCH_DIR", filepath.Join(os.TempDir(), "docpick")),
		PageSize:     envInt("PAGE_SIZE", 5),
		HTTPTimeout:  envDuration("HTTP_TIMEOUT", 30*time.Second),
		CacheTTL:     envDuration("CACHE_TTL", 5*time.Minute),
		SessionIdle:  envDuration("BROWSE_SESSION_IDLE", 15*time.Minute),
		MaxFileBytes: envInt64("MAX_FILE_BYTES", 10*1024*1024),
	}

	cfg.RedirectURL = os.Getenv("OAUTH_REDIRECT_URL")
	if cfg.RedirectURL == "" {
		if cfg.DevMode {
			cfg.RedirectURL = "http://localhost:8080/providers/callback"
		} else {
			cfg.RedirectURL = cfg.FrontendURL + "/api/providers/callback"
		}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return d
}
