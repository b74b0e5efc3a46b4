package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AnyOrigin is the CORS origin value that admits every caller.
const AnyOrigin = "*"

// Config holds all application configuration loaded from environment variables.
// It is read once at startup and never mutated afterwards.
type Config struct {
	// General
	Environment     string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	Port            int           `envconfig:"PORT" default:"4000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// CORS
	FrontendURL string `envconfig:"FRONTEND_URL" default:"*"`

	// Flowise chat endpoint (optional, chat returns 500 when unset)
	FlowiseAPIURL string `envconfig:"FLOWISE_API_URL"`
	FlowiseAPIKey string `envconfig:"FLOWISE_API_KEY"`

	// GitHub repository listing
	GitHubUser   string `envconfig:"GITHUB_USER" default:"jxtnz"`
	GitHubAPIURL string `envconfig:"GITHUB_API_URL" default:"https://api.github.com/"`
	GitHubToken  string `envconfig:"GITHUB_TOKEN"`

	// Applied to every outbound call.
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`
}

// ChatEnabled returns true if the Flowise endpoint is configured.
func (c *Config) ChatEnabled() bool {
	return strings.TrimSpace(c.FlowiseAPIURL) != ""
}

// AllowCredentials reports whether CORS responses may carry credentials.
// Browsers reject credentialed responses for the wildcard origin.
func (c *Config) AllowCredentials() bool {
	return c.FrontendURL != "" && c.FrontendURL != AnyOrigin
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks values envconfig cannot express as tags and normalizes
// the GitHub API root to end in a slash.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.GitHubUser == "" {
		return fmt.Errorf("GITHUB_USER must not be empty")
	}
	if err := validateOrigins(c.FrontendURL); err != nil {
		return err
	}
	if !strings.HasSuffix(c.GitHubAPIURL, "/") {
		c.GitHubAPIURL += "/"
	}
	return nil
}

// Load reads an optional .env file, then configuration from environment variables.
// Variables already present in the environment win over the .env file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// validateOrigins rejects FRONTEND_URL entries the CORS middleware would
// refuse at startup. Each comma-separated entry must be a bare
// scheme://host[:port] origin; a leading "*." subdomain wildcard is allowed.
func validateOrigins(origins string) error {
	if origins == "" || origins == AnyOrigin {
		return nil
	}
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		candidate := origin
		if i := strings.Index(candidate, "://*."); i != -1 {
			candidate = candidate[:i+3] + candidate[i+5:]
		}
		u, err := url.Parse(candidate)
		switch {
		case err != nil,
			u.Scheme != "http" && u.Scheme != "https",
			u.Host == "",
			strings.Contains(u.Host, "*"),
			u.Path != "" && u.Path != "/",
			u.RawQuery != "" || u.Fragment != "" || u.User != nil:
			return fmt.Errorf("invalid FRONTEND_URL %q: want an origin such as https://example.com", origin)
		}
	}
	return nil
}
