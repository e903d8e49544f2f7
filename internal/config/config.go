package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete mention-sync configuration
type Config struct {
	API       API       `yaml:"api"`
	Socket    Socket    `yaml:"socket"`
	Session   Session   `yaml:"session"`
	Reconnect Reconnect `yaml:"reconnect"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
	Queues    Queues    `yaml:"queues"`
	Echo      Echo      `yaml:"echo"`
	Feeds     Feeds     `yaml:"feeds"`
	Logging   Logging   `yaml:"logging"`
}

// API contains REST backend settings
type API struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Timeout returns the request timeout as a duration
func (a *API) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Socket contains push-channel settings
type Socket struct {
	URL                string `yaml:"url"`
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms"`
}

// HandshakeTimeout returns the dial timeout as a duration
func (s *Socket) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMs) * time.Millisecond
}

// Session contains the authenticated user context
type Session struct {
	UserID string `yaml:"user_id"`
	// Token is never read from the config file; set MENTION_TOKEN instead.
	Token string `yaml:"-"`
}

// Reconnect contains the reconnection backoff policy
type Reconnect struct {
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	MaxAttempts int     `yaml:"max_attempts"`
	Jitter      float64 `yaml:"jitter"`
}

// BaseDelay returns the first-attempt delay as a duration
func (r *Reconnect) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration
func (r *Reconnect) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// Heartbeat contains connection health monitoring settings
type Heartbeat struct {
	CheckIntervalMs  int `yaml:"check_interval_ms"`
	StaleAfterMs     int `yaml:"stale_after_ms"`
	FailureThreshold int `yaml:"failure_threshold"`
}

// CheckInterval returns the health check period as a duration
func (h *Heartbeat) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalMs) * time.Millisecond
}

// StaleAfter returns the pong staleness bound as a duration
func (h *Heartbeat) StaleAfter() time.Duration {
	return time.Duration(h.StaleAfterMs) * time.Millisecond
}

// Queues contains update-queue batching settings
type Queues struct {
	FeedWindowMs       int `yaml:"feed_window_ms"`
	EngagementWindowMs int `yaml:"engagement_window_ms"`
	// PendingFactor bounds a feed queue at factor × feeds.page_size
	// pending items; overflow trims to the most recent.
	PendingFactor int `yaml:"pending_factor"`
}

// FeedWindow returns the feed debounce window as a duration
func (q *Queues) FeedWindow() time.Duration {
	return time.Duration(q.FeedWindowMs) * time.Millisecond
}

// EngagementWindow returns the engagement debounce window as a duration
func (q *Queues) EngagementWindow() time.Duration {
	return time.Duration(q.EngagementWindowMs) * time.Millisecond
}

// Echo contains own-action echo suppression settings
type Echo struct {
	WindowMs int `yaml:"window_ms"`
}

// Window returns the echo suppression window as a duration
func (e *Echo) Window() time.Duration {
	return time.Duration(e.WindowMs) * time.Millisecond
}

// Feeds contains feed fetching settings
type Feeds struct {
	PageSize int `yaml:"page_size"`
	// Join lists the feed kinds subscribed on connect.
	Join []string `yaml:"join"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

var validFeedKinds = map[string]bool{
	"foryou":    true,
	"following": true,
	"saved":     true,
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		API: API{
			BaseURL:   "https://api.mention.earth",
			TimeoutMs: 10000,
		},
		Socket: Socket{
			URL:                "wss://api.mention.earth/socket",
			HandshakeTimeoutMs: 5000,
		},
		Reconnect: Reconnect{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			MaxAttempts: 10,
			Jitter:      0.25,
		},
		Heartbeat: Heartbeat{
			CheckIntervalMs:  30000,
			StaleAfterMs:     60000,
			FailureThreshold: 3,
		},
		Queues: Queues{
			FeedWindowMs:       500,
			EngagementWindowMs: 200,
			PendingFactor:      2,
		},
		Echo: Echo{
			WindowMs: 1500,
		},
		Feeds: Feeds{
			PageSize: 20,
			Join:     []string{"foryou"},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.TimeoutMs == 0 {
		cfg.API.TimeoutMs = defaults.API.TimeoutMs
	}

	if cfg.Socket.URL == "" {
		cfg.Socket.URL = defaults.Socket.URL
	}
	if cfg.Socket.HandshakeTimeoutMs == 0 {
		cfg.Socket.HandshakeTimeoutMs = defaults.Socket.HandshakeTimeoutMs
	}

	if cfg.Reconnect.BaseDelayMs == 0 {
		cfg.Reconnect.BaseDelayMs = defaults.Reconnect.BaseDelayMs
	}
	if cfg.Reconnect.MaxDelayMs == 0 {
		cfg.Reconnect.MaxDelayMs = defaults.Reconnect.MaxDelayMs
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = defaults.Reconnect.MaxAttempts
	}
	if cfg.Reconnect.Jitter == 0 {
		cfg.Reconnect.Jitter = defaults.Reconnect.Jitter
	}

	if cfg.Heartbeat.CheckIntervalMs == 0 {
		cfg.Heartbeat.CheckIntervalMs = defaults.Heartbeat.CheckIntervalMs
	}
	if cfg.Heartbeat.StaleAfterMs == 0 {
		cfg.Heartbeat.StaleAfterMs = defaults.Heartbeat.StaleAfterMs
	}
	if cfg.Heartbeat.FailureThreshold == 0 {
		cfg.Heartbeat.FailureThreshold = defaults.Heartbeat.FailureThreshold
	}

	if cfg.Queues.FeedWindowMs == 0 {
		cfg.Queues.FeedWindowMs = defaults.Queues.FeedWindowMs
	}
	if cfg.Queues.EngagementWindowMs == 0 {
		cfg.Queues.EngagementWindowMs = defaults.Queues.EngagementWindowMs
	}
	if cfg.Queues.PendingFactor == 0 {
		cfg.Queues.PendingFactor = defaults.Queues.PendingFactor
	}

	if cfg.Echo.WindowMs == 0 {
		cfg.Echo.WindowMs = defaults.Echo.WindowMs
	}

	if cfg.Feeds.PageSize == 0 {
		cfg.Feeds.PageSize = defaults.Feeds.PageSize
	}
	if cfg.Feeds.Join == nil {
		cfg.Feeds.Join = defaults.Feeds.Join
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) error {
	// The session token is secret material and only ever comes from
	// the environment.
	if token := os.Getenv("MENTION_TOKEN"); token != "" {
		cfg.Session.Token = token
	}

	if userID := os.Getenv("MENTION_USER_ID"); userID != "" {
		cfg.Session.UserID = userID
	}

	if apiURL := os.Getenv("MENTION_API_URL"); apiURL != "" {
		cfg.API.BaseURL = apiURL
	}

	if socketURL := os.Getenv("MENTION_SOCKET_URL"); socketURL != "" {
		cfg.Socket.URL = socketURL
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Validate checks a configuration for consistency
func Validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must start with http:// or https://: %s", cfg.API.BaseURL)
	}

	if cfg.Socket.URL == "" {
		return fmt.Errorf("socket.url is required")
	}
	if !strings.HasPrefix(cfg.Socket.URL, "ws://") && !strings.HasPrefix(cfg.Socket.URL, "wss://") &&
		!strings.HasPrefix(cfg.Socket.URL, "http://") && !strings.HasPrefix(cfg.Socket.URL, "https://") {
		return fmt.Errorf("socket.url must start with ws://, wss://, http:// or https://: %s", cfg.Socket.URL)
	}

	if cfg.Reconnect.BaseDelayMs < 1 {
		return fmt.Errorf("reconnect.base_delay_ms must be positive")
	}
	if cfg.Reconnect.MaxDelayMs < cfg.Reconnect.BaseDelayMs {
		return fmt.Errorf("reconnect.max_delay_ms must be >= reconnect.base_delay_ms")
	}
	if cfg.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be positive")
	}
	if cfg.Reconnect.Jitter < 0 || cfg.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1")
	}

	if cfg.Heartbeat.CheckIntervalMs < 1 {
		return fmt.Errorf("heartbeat.check_interval_ms must be positive")
	}
	if cfg.Heartbeat.StaleAfterMs < cfg.Heartbeat.CheckIntervalMs {
		return fmt.Errorf("heartbeat.stale_after_ms must be >= heartbeat.check_interval_ms")
	}
	if cfg.Heartbeat.FailureThreshold < 1 {
		return fmt.Errorf("heartbeat.failure_threshold must be positive")
	}

	if cfg.Queues.FeedWindowMs < 1 || cfg.Queues.EngagementWindowMs < 1 {
		return fmt.Errorf("queue windows must be positive")
	}
	if cfg.Queues.PendingFactor < 1 {
		return fmt.Errorf("queues.pending_factor must be at least 1")
	}

	if cfg.Echo.WindowMs < 1 {
		return fmt.Errorf("echo.window_ms must be positive")
	}

	if cfg.Feeds.PageSize < 1 || cfg.Feeds.PageSize > 100 {
		return fmt.Errorf("feeds.page_size must be between 1 and 100")
	}
	for _, kind := range cfg.Feeds.Join {
		if !validFeedKinds[kind] {
			return fmt.Errorf("invalid feed kind in feeds.join: %s (must be one of: foryou, following, saved)", kind)
		}
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", cfg.Logging.Format)
	}

	return nil
}
