// Package config provides configuration management for the typedown auth
// relay. It handles loading and parsing the YAML configuration file and
// merges in the secrets that only ever arrive through the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SessionSecretEnv names the environment variable holding the cookie
// encryption secret. The secret never appears in the YAML file.
const SessionSecretEnv = "TYPEDOWN_SESSION_KEY"

// Config represents the relay configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the relay listens on.
	Port int `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// RequestLog enables detailed request logging for relay routes.
	RequestLog bool `yaml:"request-log"`

	// LoggingToFile redirects logs to rotated files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir is the directory for rotated log files when LoggingToFile is set.
	LogDir string `yaml:"log-dir"`

	// ProxyURL is the URL of an optional proxy server for outbound requests
	// to the identity provider (socks5://, http:// or https://).
	ProxyURL string `yaml:"proxy-url"`

	// OAuth holds the identity-provider client registration.
	OAuth OAuthConfig `yaml:"oauth"`

	// SessionSecret is the cookie encryption secret, populated from the
	// environment. Handlers that touch cookies refuse to start without it.
	SessionSecret string `yaml:"-"`
}

// OAuthConfig holds the OAuth client registration for the identity provider.
type OAuthConfig struct {
	// ClientID is the OAuth client identifier.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the OAuth client secret. A web-application client
	// still uses PKCE; the secret alone cannot redeem an authorization code.
	ClientSecret string `yaml:"client-secret"`

	// RedirectURL is the absolute URL of the callback handler as registered
	// with the provider.
	RedirectURL string `yaml:"redirect-url"`

	// AuthURL and TokenURL override the provider endpoints, mainly so tests
	// can point the relay at a fake provider. Empty values select Google.
	AuthURL  string `yaml:"auth-url"`
	TokenURL string `yaml:"token-url"`
}

const (
	defaultPort     = 8788
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// LoadConfig reads and parses the configuration file at the given path, then
// applies environment overrides and defaults.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
	}

	cfg.SessionSecret = strings.TrimSpace(os.Getenv(SessionSecretEnv))
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.OAuth.AuthURL == "" {
		c.OAuth.AuthURL = defaultAuthURL
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = defaultTokenURL
	}
}

// Validate reports the first fatal configuration problem. The session secret
// and client registration are startup requirements; everything else has a
// workable default.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("config: %s is not set", SessionSecretEnv)
	}
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("config: oauth.client-id is not set")
	}
	if c.OAuth.RedirectURL == "" {
		return fmt.Errorf("config: oauth.redirect-url is not set")
	}
	return nil
}
