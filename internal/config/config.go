package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL            = "https://assessment.ksensetech.com/api"
	DefaultAPITimeout         = 15 * time.Second
	DefaultAPIKeyHeader       = "x-api-key"
	DefaultPageSize           = 20
	DefaultStaggerInterval    = time.Second
	DefaultStaleDuration      = 5 * time.Minute
	DefaultServerErrorRetries = 3
	DefaultServerErrorDelay   = 3 * time.Second
	DefaultRateLimitPadding   = 500 * time.Millisecond
	DefaultRateLimitInitial   = time.Second
	DefaultRateLimitMax       = 30 * time.Second
	DefaultHTTPPort           = 8080
	DefaultBroadcastInterval  = 5 * time.Second
	DefaultSubmitPath         = "/submit-assessment"
	DefaultScoringTable       = "clinical"
)

// EnvPrefix is the prefix for environment overrides, e.g. PATIENTWATCH_API_BASE_URL.
const EnvPrefix = "patientwatch"

// Config is the full configuration tree. Fields map 1:1 to config.example.yaml.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Collector CollectorConfig `yaml:"collector"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Server    ServerConfig    `yaml:"server"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Submit    SubmitConfig    `yaml:"submit"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig describes the remote patients API.
type APIConfig struct {
	// BaseURL is prepended to /patients and the submit path.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single HTTP request, not a whole retry sequence.
	Timeout time.Duration `yaml:"timeout"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how requests to the patients API are authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header carries the API key when Mode == "apikey". Defaults to x-api-key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// TLSConfig holds TLS dial options for the patients API.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// CollectorConfig controls paging, staggering and retries.
type CollectorConfig struct {
	PageSize int `yaml:"page_size"`

	// StaggerInterval is the minimum spacing between dispatches of pages 2..N.
	StaggerInterval time.Duration `yaml:"stagger_interval"`

	// MaxConcurrentPageFetches caps in-flight page requests. 0 means unbounded.
	MaxConcurrentPageFetches int `yaml:"max_concurrent_page_fetches"`

	// StaleDuration is how long a finished report is served before a new
	// collection is started.
	StaleDuration time.Duration `yaml:"stale_duration"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig parameterizes the per-error-class retry policy.
type RetryConfig struct {
	ServerErrorAttempts      int           `yaml:"server_error_attempts"`
	ServerErrorDelay         time.Duration `yaml:"server_error_delay"`
	RateLimitPadding         time.Duration `yaml:"rate_limit_padding"`
	RateLimitFallbackInitial time.Duration `yaml:"rate_limit_fallback_initial"`
	RateLimitFallbackMax     time.Duration `yaml:"rate_limit_fallback_max"`
}

// ScoringConfig selects the point table.
type ScoringConfig struct {
	// Table is one of: clinical | assessment.
	Table string `yaml:"table"`
}

// ServerConfig holds the dashboard server settings.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval controls the websocket snapshot cadence.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	Auth ServerAuthConfig `yaml:"auth"`
}

// ServerAuthConfig configures dashboard API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the request header checked in apikey mode. Defaults to X-API-Key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the server API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header or the default X-API-Key.
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return "X-API-Key"
	}
	return a.Header
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold condition over a collection report.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "high_risk_count > 10",
	// "average_risk_score >= 3", "failed_pages > 0".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// SubmitConfig controls submission of alert lists to the scoring endpoint.
type SubmitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | console.
	Format string `yaml:"format"`
}

// envOverrides are read with envconfig after the file is parsed. Empty or zero
// values leave the file setting untouched.
type envOverrides struct {
	APIBaseURL      string        `envconfig:"API_BASE_URL"`
	APIURL          string        `envconfig:"API_URL"`
	APIURLPrefix    string        `envconfig:"API_URL_PREFIX"`
	APIKeyEnv       string        `envconfig:"API_KEY_ENV"`
	PageSize        int           `envconfig:"PAGE_SIZE"`
	StaggerInterval time.Duration `envconfig:"STAGGER_INTERVAL"`
	StaleDuration   time.Duration `envconfig:"STALE_DURATION"`
	ScoringTable    string        `envconfig:"SCORING_TABLE"`
	HTTPPort        int           `envconfig:"HTTP_PORT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	LogFormat       string        `envconfig:"LOG_FORMAT"`
}

// Load reads and parses the YAML config file at path, applies environment
// overrides and validates the result. An empty path skips the file and
// starts from defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultAPITimeout,
			Auth: AuthConfig{
				Mode:   "apikey",
				Header: DefaultAPIKeyHeader,
				KeyEnv: "PATIENTS_API_KEY",
			},
		},
		Collector: CollectorConfig{
			PageSize:        DefaultPageSize,
			StaggerInterval: DefaultStaggerInterval,
			StaleDuration:   DefaultStaleDuration,
			Retry: RetryConfig{
				ServerErrorAttempts:      DefaultServerErrorRetries,
				ServerErrorDelay:         DefaultServerErrorDelay,
				RateLimitPadding:         DefaultRateLimitPadding,
				RateLimitFallbackInitial: DefaultRateLimitInitial,
				RateLimitFallbackMax:     DefaultRateLimitMax,
			},
		},
		Scoring: ScoringConfig{Table: DefaultScoringTable},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Submit: SubmitConfig{Path: DefaultSubmitPath},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	switch {
	case env.APIBaseURL != "":
		cfg.API.BaseURL = env.APIBaseURL
	case env.APIURL != "":
		cfg.API.BaseURL = strings.TrimRight(env.APIURL, "/") + env.APIURLPrefix
	}
	if env.APIKeyEnv != "" {
		cfg.API.Auth.KeyEnv = env.APIKeyEnv
	}
	if env.PageSize > 0 {
		cfg.Collector.PageSize = env.PageSize
	}
	if env.StaggerInterval > 0 {
		cfg.Collector.StaggerInterval = env.StaggerInterval
	}
	if env.StaleDuration > 0 {
		cfg.Collector.StaleDuration = env.StaleDuration
	}
	if env.ScoringTable != "" {
		cfg.Scoring.Table = env.ScoringTable
	}
	if env.HTTPPort > 0 {
		cfg.Server.HTTPPort = env.HTTPPort
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Log.Format = env.LogFormat
	}
	return nil
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	switch cfg.API.Auth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("api.auth: unknown mode %q", cfg.API.Auth.Mode)
	}
	if cfg.Collector.PageSize <= 0 {
		return fmt.Errorf("collector.page_size must be positive")
	}
	if cfg.Collector.StaggerInterval < 0 {
		return fmt.Errorf("collector.stagger_interval must not be negative")
	}
	if cfg.Collector.MaxConcurrentPageFetches < 0 {
		return fmt.Errorf("collector.max_concurrent_page_fetches must not be negative")
	}
	if cfg.Collector.StaleDuration <= 0 {
		return fmt.Errorf("collector.stale_duration must be positive")
	}
	r := cfg.Collector.Retry
	if r.ServerErrorAttempts < 0 {
		return fmt.Errorf("collector.retry.server_error_attempts must not be negative")
	}
	if r.ServerErrorDelay < 0 || r.RateLimitPadding < 0 || r.RateLimitFallbackInitial < 0 {
		return fmt.Errorf("collector.retry: delays must not be negative")
	}
	if r.RateLimitFallbackMax < r.RateLimitFallbackInitial {
		return fmt.Errorf("collector.retry.rate_limit_fallback_max must be >= rate_limit_fallback_initial")
	}
	switch cfg.Scoring.Table {
	case "clinical", "assessment":
	default:
		return fmt.Errorf("scoring.table: unknown table %q", cfg.Scoring.Table)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}
	for i, rule := range cfg.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(rule.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"field op value\"", i, rule.Name)
		}
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	if cfg.Submit.Path == "" {
		cfg.Submit.Path = DefaultSubmitPath
	}
	return nil
}
