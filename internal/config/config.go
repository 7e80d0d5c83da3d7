// Package config loads proxy settings from the environment and the CLI
// profile from TOML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/skillre/mindmap-qoder/internal/secret"
)

// Store backends.
const (
	BackendGitHub = "github"
	BackendDrive  = "drive"
)

// Config holds proxy settings.
type Config struct {
	DevMode     bool
	FrontendURL string
	Port        string
	LogLevel    string

	Backend       string
	GitHubAPIURL  string
	DriveFolderID string

	DocumentsTable string
	ProfilesTable  string
	KMSKeyID       string

	SessionSecretParam      string
	OriginVerifySecretParam string
	RedisURLParam           string

	SessionTTL      time.Duration
	RateLimit       int
	RateLimitWindow time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var result *multierror.Error

	cfg := &Config{
		DevMode:     getenv("DEV_MODE", "") == "true",
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3000"),
		Port:        getenv("PORT", "8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		Backend:       strings.ToLower(getenv("STORE_BACKEND", BackendGitHub)),
		GitHubAPIURL:  getenv("GITHUB_API_URL", "https://api.github.com"),
		DriveFolderID: getenv("DRIVE_BASE_FOLDER_ID", "root"),

		DocumentsTable: getenv("DOCUMENT_STORE_TABLE", "MindmapDocuments"),
		ProfilesTable:  getenv("PROFILES_TABLE", "MindmapProfiles"),
		KMSKeyID:       getenv("KMS_KEY_ID", "alias/mindmap-token-key"),

		SessionSecretParam:      getenv("SESSION_SECRET_PARAM", secret.ParamSessionSecret),
		OriginVerifySecretParam: getenv("ORIGIN_VERIFY_SECRET_PARAM", secret.ParamOriginVerifySecret),
		RedisURLParam:           getenv("REDIS_URL_PARAM", secret.ParamRedisURL),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.RateLimit, err = getInt("RATE_LIMIT_MAX", 100); err != nil {
		result = multierror.Append(result, err)
	}
	if err := cfg.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Backend != BackendGitHub && c.Backend != BackendDrive {
		result = multierror.Append(result, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendGitHub, BackendDrive, c.Backend))
	}
	if u, err := url.Parse(c.GitHubAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("GITHUB_API_URL %q is not an absolute URL", c.GitHubAPIURL))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		result = multierror.Append(result, fmt.Errorf("PORT %q is not a number", c.Port))
	}
	if c.RateLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("RATE_LIMIT_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		result = multierror.Append(result, fmt.Errorf("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.SessionTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("SESSION_TTL must be positive"))
	}
	return result.ErrorOrNil()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
