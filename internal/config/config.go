// Package config loads gateway configuration from an optional YAML file and
// IFLOW_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultBaseURL        = "https://apis.iflow.cn/v1"
	DefaultPort           = 28000
	DefaultModel          = "glm-5"
	DefaultMaxConcurrency = 1
	DefaultTimeoutSeconds = 300
)

// ReasoningMode controls how upstream reasoning_content is surfaced.
type ReasoningMode string

const (
	// ReasoningMerge folds reasoning text into the regular content stream.
	ReasoningMerge ReasoningMode = "merge"
	// ReasoningPreserve keeps reasoning as a distinct field or thinking block.
	ReasoningPreserve ReasoningMode = "preserve"
)

// TransportHTTP is the only supported upstream backend.
const TransportHTTP = "http"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Proxy    ProxyConfig    `koanf:"proxy"`
	Log      LogConfig      `koanf:"log"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type UpstreamConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	Transport      string `koanf:"transport"`
	ProxyURL       string `koanf:"proxy_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	UserInfoURL    string `koanf:"user_info_url"`
	// OAuthAccessToken is exchanged for an API key at startup when APIKey is empty.
	OAuthAccessToken string `koanf:"oauth_access_token"`
}

type ProxyConfig struct {
	MaxConcurrency int           `koanf:"max_concurrency"`
	ReasoningMode  ReasoningMode `koanf:"reasoning_mode"`
	DefaultModel   string        `koanf:"default_model"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "text"
}

// TracingConfig toggles the stdout OpenTelemetry exporter.
type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (when non-empty and present) and then overlays environment
// variables such as IFLOW_UPSTREAM__API_KEY.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("IFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "IFLOW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"server.host":              "0.0.0.0",
		"server.port":              DefaultPort,
		"upstream.base_url":        DefaultBaseURL,
		"upstream.transport":       TransportHTTP,
		"upstream.timeout_seconds": DefaultTimeoutSeconds,
		"upstream.user_info_url":   "https://iflow.cn/api/oauth/getUserInfo",
		"proxy.max_concurrency":    DefaultMaxConcurrency,
		"proxy.reasoning_mode":     string(ReasoningPreserve),
		"proxy.default_model":      DefaultModel,
		"log.level":                "info",
		"log.format":               "json",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)
	cfg.Upstream.BaseURL = strings.TrimSuffix(cfg.Upstream.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Proxy.MaxConcurrency < 1 {
		return fmt.Errorf("proxy.max_concurrency must be >= 1, got %d", c.Proxy.MaxConcurrency)
	}
	switch c.Proxy.ReasoningMode {
	case ReasoningMerge, ReasoningPreserve:
	default:
		return fmt.Errorf("proxy.reasoning_mode must be %q or %q, got %q", ReasoningMerge, ReasoningPreserve, c.Proxy.ReasoningMode)
	}
	if c.Upstream.Transport != TransportHTTP {
		return fmt.Errorf("upstream.transport %q is not supported", c.Upstream.Transport)
	}
	if c.Upstream.ProxyURL != "" {
		if _, err := url.Parse(c.Upstream.ProxyURL); err != nil {
			return fmt.Errorf("upstream.proxy_url: %w", err)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
