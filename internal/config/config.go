// Package config loads the service configuration once at startup. Nothing
// downstream reads viper or the environment directly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Scan     ScanConfig
}

// ServerConfig controls the HTTP listener and its middleware.
type ServerConfig struct {
	Port         int
	CORSOrigins  []string
	RateLimitRPS int
}

// AuthConfig describes the token callers must present.
type AuthConfig struct {
	Header string
	Token  string
}

// ProviderConfig configures the upstream reputation provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string

	// Timeout bounds each lookup; zero leaves lookups unbounded.
	Timeout time.Duration

	// RequestsPerMinute throttles outbound lookups; zero disables throttling.
	RequestsPerMinute int
}

// ScanConfig holds pipeline response policy.
type ScanConfig struct {
	CollapseUpstreamErrors bool
}

var (
	ErrMissingAuthToken = errors.New("config: auth.token is required")
	ErrMissingAPIKey    = errors.New("config: provider.api_key (or VT_API) is required")
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("auth.header", "Bearer")
	v.SetDefault("auth.token", "")
	v.SetDefault("provider.base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "0s")
	v.SetDefault("provider.requests_per_minute", 0)
	v.SetDefault("scan.collapse_upstream_errors", false)
}

// Load reads configuration into a Config. file may be empty, in which case
// hashverdict.yaml is searched for in ./configs and the working directory.
// Environment variables override file values (server.port → SERVER_PORT);
// VT_API is also accepted for the provider API key.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("hashverdict")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("provider.api_key", "PROVIDER_API_KEY", "VT_API"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// FromViper builds a Config from already-populated viper state.
func FromViper(v *viper.Viper) (*Config, error) {
	timeout, err := time.ParseDuration(v.GetString("provider.timeout"))
	if err != nil {
		return nil, fmt.Errorf("parse provider.timeout: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			CORSOrigins:  v.GetStringSlice("server.cors_origins"),
			RateLimitRPS: v.GetInt("server.rate_limit_rps"),
		},
		Auth: AuthConfig{
			Header: v.GetString("auth.header"),
			Token:  v.GetString("auth.token"),
		},
		Provider: ProviderConfig{
			BaseURL:           v.GetString("provider.base_url"),
			APIKey:            v.GetString("provider.api_key"),
			Timeout:           timeout,
			RequestsPerMinute: v.GetInt("provider.requests_per_minute"),
		},
		Scan: ScanConfig{
			CollapseUpstreamErrors: v.GetBool("scan.collapse_upstream_errors"),
		},
	}, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	if c.Auth.Token == "" {
		return ErrMissingAuthToken
	}
	if c.Provider.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("config: provider.timeout must not be negative")
	}
	return nil
}
