// Package config provides configuration management for the open-interest tracker.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a field is unset.
const (
	defaultMode              = "live"
	defaultAPIEndpoint       = "https://api.schwabapi.com/marketdata/v1"
	defaultTimeout           = "10s"
	defaultRequestsPerMinute = 120
	defaultMaxRetries        = 2
	defaultInitialBackoff    = "500ms"
	defaultMaxBackoff        = "5s"
	defaultCBMaxRequests     = 3
	defaultCBInterval        = "60s"
	defaultCBTimeout         = "30s"
	defaultCBMinRequests     = 5
	defaultCBFailureRatio    = 0.6
	defaultTimezone          = "America/New_York"
	defaultWorkers           = 1
	defaultOutputDir         = "."
	defaultServerAddr        = ":3001"
)

var defaultSymbols = []string{"SPY", "QQQ", "DIA"}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.$/^-]{1,12}$`)

// Config represents the complete application configuration.
type Config struct {
	Environment    EnvironmentConfig    `yaml:"environment"`
	Broker         BrokerConfig         `yaml:"broker"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Engine         EngineConfig         `yaml:"engine"`
	Output         OutputConfig         `yaml:"output"`
	Server         ServerConfig         `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode          string `yaml:"mode"`       // live | mock
	LogLevel      string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat     string `yaml:"log_format"` // text | json
	LogOutput     string `yaml:"log_output"` // stdout | stderr | file path
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// BrokerConfig defines market-data API settings.
type BrokerConfig struct {
	APIEndpoint string `yaml:"api_endpoint"`
	// AccessToken is a static bearer token. TokenFile takes precedence when both are set.
	AccessToken string `yaml:"access_token"`
	// TokenFile points at a tokens.json maintained by an external refresher.
	TokenFile         string `yaml:"token_file"`
	Timeout           string `yaml:"timeout"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// RetryConfig defines the bounded retry budget for transient failures.
type RetryConfig struct {
	MaxRetries     *int   `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// CircuitBreakerConfig defines circuit breaker settings for the market-data client.
type CircuitBreakerConfig struct {
	Enabled      *bool   `yaml:"enabled"`
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// EngineConfig defines which symbols are processed and how.
type EngineConfig struct {
	Symbols  []string `yaml:"symbols"`
	Timezone string   `yaml:"timezone"`
	Workers  int      `yaml:"workers"`
}

// OutputConfig defines where artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig defines the artifact server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config, expanding ${VAR} references from the environment.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns a mock-mode configuration with every default applied.
func Default() *Config {
	c := &Config{Environment: EnvironmentConfig{Mode: "mock"}}
	c.normalize()
	return c
}

// Validate applies defaults and checks that all configuration values are valid.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "live" && c.Environment.Mode != "mock" {
		return fmt.Errorf("environment.mode must be 'live' or 'mock'")
	}
	switch c.Environment.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}
	if c.Environment.LogMaxAgeDays < 0 {
		return fmt.Errorf("environment.log_max_age_days must be >= 0")
	}

	// Broker validation
	if c.IsLive() && c.Broker.AccessToken == "" && c.Broker.TokenFile == "" {
		return fmt.Errorf("broker.access_token or broker.token_file is required in live mode")
	}
	if !strings.HasPrefix(c.Broker.APIEndpoint, "http://") && !strings.HasPrefix(c.Broker.APIEndpoint, "https://") {
		return fmt.Errorf("broker.api_endpoint must be an http(s) URL")
	}
	if d, err := time.ParseDuration(c.Broker.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("broker.timeout must be a positive duration")
	}
	if c.Broker.RequestsPerMinute < 0 {
		return fmt.Errorf("broker.requests_per_minute must be >= 0")
	}

	// Retry validation
	if *c.Retry.MaxRetries < 0 || *c.Retry.MaxRetries > 10 {
		return fmt.Errorf("retry.max_retries must be between 0 and 10")
	}
	initial, err1 := time.ParseDuration(c.Retry.InitialBackoff)
	maxBackoff, err2 := time.ParseDuration(c.Retry.MaxBackoff)
	if err1 != nil || err2 != nil || initial <= 0 || maxBackoff < initial {
		return fmt.Errorf("retry backoff invalid: need 0 < initial_backoff <= max_backoff")
	}

	// Circuit breaker validation
	if _, err := time.ParseDuration(c.CircuitBreaker.Interval); err != nil {
		return fmt.Errorf("circuit_breaker.interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.CircuitBreaker.Timeout); err != nil {
		return fmt.Errorf("circuit_breaker.timeout invalid: %w", err)
	}
	if c.CircuitBreaker.FailureRatio <= 0 || c.CircuitBreaker.FailureRatio > 1 {
		return fmt.Errorf("circuit_breaker.failure_ratio must be in (0,1]")
	}

	// Engine validation
	for _, s := range c.Engine.Symbols {
		if !symbolPattern.MatchString(s) {
			return fmt.Errorf("engine.symbols: invalid symbol %q", s)
		}
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone invalid: %w", err)
	}
	if c.Engine.Workers < 1 || c.Engine.Workers > 16 {
		return fmt.Errorf("engine.workers must be between 1 and 16")
	}

	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	c.Environment.Mode = strings.ToLower(strings.TrimSpace(c.Environment.Mode))
	if c.Environment.Mode == "" {
		c.Environment.Mode = defaultMode
	}
	c.Environment.LogFormat = strings.ToLower(c.Environment.LogFormat)

	c.Broker.AccessToken = strings.TrimSpace(c.Broker.AccessToken)
	if c.Broker.APIEndpoint == "" {
		c.Broker.APIEndpoint = defaultAPIEndpoint
	}
	c.Broker.APIEndpoint = strings.TrimRight(c.Broker.APIEndpoint, "/")
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = defaultTimeout
	}
	if c.Broker.RequestsPerMinute == 0 {
		c.Broker.RequestsPerMinute = defaultRequestsPerMinute
	}

	if c.Retry.MaxRetries == nil {
		n := defaultMaxRetries
		c.Retry.MaxRetries = &n
	}
	if c.Retry.InitialBackoff == "" {
		c.Retry.InitialBackoff = defaultInitialBackoff
	}
	if c.Retry.MaxBackoff == "" {
		c.Retry.MaxBackoff = defaultMaxBackoff
	}

	if c.CircuitBreaker.Enabled == nil {
		enabled := true
		c.CircuitBreaker.Enabled = &enabled
	}
	if c.CircuitBreaker.MaxRequests == 0 {
		c.CircuitBreaker.MaxRequests = defaultCBMaxRequests
	}
	if c.CircuitBreaker.Interval == "" {
		c.CircuitBreaker.Interval = defaultCBInterval
	}
	if c.CircuitBreaker.Timeout == "" {
		c.CircuitBreaker.Timeout = defaultCBTimeout
	}
	if c.CircuitBreaker.MinRequests == 0 {
		c.CircuitBreaker.MinRequests = defaultCBMinRequests
	}
	if c.CircuitBreaker.FailureRatio == 0 {
		c.CircuitBreaker.FailureRatio = defaultCBFailureRatio
	}

	c.Engine.Symbols = normalizeSymbols(c.Engine.Symbols)
	if len(c.Engine.Symbols) == 0 {
		c.Engine.Symbols = append([]string(nil), defaultSymbols...)
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = defaultTimezone
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = defaultWorkers
	}

	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutputDir
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
}

// normalizeSymbols upper-cases, trims and de-duplicates, keeping first occurrence order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// IsLive returns true if the tracker talks to the real market-data API.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}

// BrokerTimeout returns the per-call timeout.
func (c *Config) BrokerTimeout() time.Duration {
	return parseDuration(c.Broker.Timeout, 10*time.Second)
}

// InitialBackoff returns the first retry delay.
func (c *Config) InitialBackoff() time.Duration {
	return parseDuration(c.Retry.InitialBackoff, 500*time.Millisecond)
}

// MaxBackoff returns the retry delay cap.
func (c *Config) MaxBackoff() time.Duration {
	return parseDuration(c.Retry.MaxBackoff, 5*time.Second)
}

// MaxRetries returns the number of retries after the first attempt.
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.Retry.MaxRetries
}

// CircuitBreakerEnabled reports whether the market-data client is wrapped in a breaker.
func (c *Config) CircuitBreakerEnabled() bool {
	return c.CircuitBreaker.Enabled == nil || *c.CircuitBreaker.Enabled
}

// CircuitBreakerInterval returns the breaker count-reset interval.
func (c *Config) CircuitBreakerInterval() time.Duration {
	return parseDuration(c.CircuitBreaker.Interval, 60*time.Second)
}

// CircuitBreakerTimeout returns how long the breaker stays open.
func (c *Config) CircuitBreakerTimeout() time.Duration {
	return parseDuration(c.CircuitBreaker.Timeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
