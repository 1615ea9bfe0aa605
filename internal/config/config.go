package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "depi.yml"

// Environment overrides, applied after the file is parsed.
const (
	EnvRedisURL    = "DEPI_REDIS_URL"
	EnvServerURL   = "DEPI_SERVER_URL"
	EnvUser        = "DEPI_USER"
	EnvPassword    = "DEPI_PASSWORD"
	EnvTokenSecret = "DEPI_TOKEN_SECRET"
)

// DepiConfig represents the top-level depi.yml configuration
type DepiConfig struct {
	Version string                `yaml:"version"`
	Server  *ServerConfig         `yaml:"server,omitempty"`
	Client  *ClientConfig         `yaml:"client,omitempty"`
	Tools   map[string]ToolConfig `yaml:"tools,omitempty"`
}

// ServerConfig configures the graph service
type ServerConfig struct {
	Listen            string `yaml:"listen,omitempty"`    // Default ":5150"
	Path              string `yaml:"path,omitempty"`      // Websocket endpoint, default "/depi"
	RedisURL          string `yaml:"redis_url,omitempty"` // Default redis://localhost:6379/0
	SessionTTLSeconds *int   `yaml:"session_ttl_seconds,omitempty"`
	TokenTTLSeconds   *int   `yaml:"token_ttl_seconds,omitempty"`
	TokenSecretEnv    string `yaml:"token_secret_env,omitempty"` // Env var holding the signing secret

	// TokenSecret is read from TokenSecretEnv, never from the file.
	TokenSecret string `yaml:"-"`
}

// ClientConfig configures the CLI and the host shell
type ClientConfig struct {
	ServerURL           string `yaml:"server_url,omitempty"` // Default ws://localhost:5150/depi
	User                string `yaml:"user,omitempty"`
	Branch              string `yaml:"branch,omitempty"`
	PingIntervalSeconds *int   `yaml:"ping_interval_seconds,omitempty"` // Default 30
	CallTimeoutSeconds  *int   `yaml:"call_timeout_seconds,omitempty"`  // Default 30
	TokenFile           string `yaml:"token_file,omitempty"`            // Default ~/.depi/tokens.json

	// Password is read from DEPI_PASSWORD, never from the file.
	Password string `yaml:"-"`
}

// ToolConfig describes how a tool structures its resource urls
type ToolConfig struct {
	PathDivider string `yaml:"path_divider,omitempty"` // Default "/"
}

// Default returns a configuration with every default applied.
func Default() *DepiConfig {
	c := &DepiConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation and fills in defaults
func (c *DepiConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}

	if c.Client == nil {
		c.Client = &ClientConfig{}
	}
	if err := c.Client.Validate(); err != nil {
		return err
	}

	if c.Tools == nil {
		c.Tools = make(map[string]ToolConfig)
	}
	if _, ok := c.Tools["git"]; !ok {
		c.Tools["git"] = ToolConfig{}
	}
	for name, tool := range c.Tools {
		if tool.PathDivider == "" {
			tool.PathDivider = "/"
		}
		if strings.TrimSpace(tool.PathDivider) != tool.PathDivider {
			return fmt.Errorf("tool '%s': path_divider must not contain whitespace", name)
		}
		c.Tools[name] = tool
	}
	return nil
}

// Validate checks the server section and applies its defaults
func (s *ServerConfig) Validate() error {
	if s.Listen == "" {
		s.Listen = ":5150"
	}
	if s.Path == "" {
		s.Path = "/depi"
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", s.Path)
	}
	if s.RedisURL == "" {
		s.RedisURL = "redis://localhost:6379/0"
	}
	if _, err := redis.ParseURL(s.RedisURL); err != nil {
		return fmt.Errorf("server.redis_url is invalid: %w", err)
	}
	if err := positive("server.session_ttl_seconds", &s.SessionTTLSeconds, 86400); err != nil {
		return err
	}
	if err := positive("server.token_ttl_seconds", &s.TokenTTLSeconds, 604800); err != nil {
		return err
	}
	if s.TokenSecretEnv == "" {
		s.TokenSecretEnv = EnvTokenSecret
	}
	return nil
}

// Validate checks the client section and applies its defaults
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		c.ServerURL = "ws://localhost:5150/depi"
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("client.server_url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client.server_url must use ws or wss, got %q", u.Scheme)
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if err := positive("client.ping_interval_seconds", &c.PingIntervalSeconds, 30); err != nil {
		return err
	}
	if err := positive("client.call_timeout_seconds", &c.CallTimeoutSeconds, 30); err != nil {
		return err
	}
	if c.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("client.token_file not set and no home directory: %w", err)
		}
		c.TokenFile = filepath.Join(home, ".depi", "tokens.json")
	}
	return nil
}

func positive(name string, v **int, def int) error {
	if *v == nil {
		*v = &def
		return nil
	}
	if **v <= 0 {
		return fmt.Errorf("%s must be > 0, got %d", name, **v)
	}
	return nil
}

// SessionTTL returns the idle session lifetime.
func (s *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(*s.SessionTTLSeconds) * time.Second
}

// TokenTTL returns the login token lifetime.
func (s *ServerConfig) TokenTTL() time.Duration {
	return time.Duration(*s.TokenTTLSeconds) * time.Second
}

// PingInterval returns the keepalive interval.
func (c *ClientConfig) PingInterval() time.Duration {
	return time.Duration(*c.PingIntervalSeconds) * time.Second
}

// CallTimeout returns the bound on a single remote call.
func (c *ClientConfig) CallTimeout() time.Duration {
	return time.Duration(*c.CallTimeoutSeconds) * time.Second
}

// PathDividers maps each configured tool to its path divider.
func (c *DepiConfig) PathDividers() map[string]string {
	dividers := make(map[string]string, len(c.Tools))
	for name, tool := range c.Tools {
		dividers[name] = tool.PathDivider
	}
	return dividers
}

// LoadEnv loads .env files into the process environment. Missing files are ignored;
// variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides file settings with DEPI_* environment variables.
func (c *DepiConfig) ApplyEnv() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Client == nil {
		c.Client = &ClientConfig{}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisURL)); v != "" {
		c.Server.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerURL)); v != "" {
		c.Client.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUser)); v != "" {
		c.Client.User = v
	}
	c.Client.Password = os.Getenv(EnvPassword)

	secretEnv := c.Server.TokenSecretEnv
	if secretEnv == "" {
		secretEnv = EnvTokenSecret
	}
	c.Server.TokenSecret = os.Getenv(secretEnv)
}

// Load reads depi.yml from path, applies the environment and validates
func Load(path string) (*DepiConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config DepiConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with the
// environment applied.
func LoadOrDefault(path string) (*DepiConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		config := &DepiConfig{Version: "1.0"}
		config.ApplyEnv()
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}
	return Load(path)
}

// Update applies fn to the file at path as written, without defaults or environment,
// and writes it back. A missing file starts from an empty version 1.0 config.
func Update(path string, fn func(*DepiConfig)) error {
	config := DepiConfig{Version: "1.0"}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	fn(&config)

	out, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
