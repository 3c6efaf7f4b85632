// Package config holds the gateway's static configuration, matching the
// enumerated options of spec §6. Structs mirror the teacher's
// internal/config/config.go shape: plain values with yaml tags, grouped by
// concern, validated once via Validate().
package config

import (
	"fmt"
	"time"
)

// Config is the complete gateway configuration.
type Config struct {
	Limits        LimitsConfig        `yaml:"limits"`
	Forwarding    ForwardingConfig    `yaml:"forwarding"`
	RateLimiting  RateLimitingConfig  `yaml:"rate_limiting"`
	TrustedProxy  TrustedProxyConfig  `yaml:"trusted_proxy"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Transport     TransportConfig     `yaml:"transport"`
	Shutdown      ShutdownConfig      `yaml:"shutdown"`
}

// LimitsConfig bounds inbound request size.
type LimitsConfig struct {
	MaxBodySize         int64 `yaml:"max_body_size"`
	MaxHeaderSize       int64 `yaml:"max_header_size"`
	MaxTotalHeadersSize int64 `yaml:"max_total_headers_size"`
}

// ForwardingConfig controls the forwarding-header builder (§4.4).
type ForwardingConfig struct {
	UseRFC7239 bool `yaml:"use_rfc7239"`
}

// RateLimitingConfig is the platform-wide rate-limit policy (§4.5, §6).
type RateLimitingConfig struct {
	Enabled                      bool               `yaml:"enabled"`
	PlatformMaxRequestsPerWindow int                `yaml:"platform_max_requests_per_window"`
	WindowSeconds                int                `yaml:"window_seconds"`
	BurstCapacity                int                `yaml:"burst_capacity"`
	IncludeHeaders                bool              `yaml:"include_headers"`
	WebSocket                    WSRateLimitingConfig `yaml:"websocket"`
	Backend                      string             `yaml:"backend"` // "memory" or "redis"
	RedisAddr                    string             `yaml:"redis_addr"`
}

// WSRateLimitingConfig configures WS connection- and message-level limits.
type WSRateLimitingConfig struct {
	Connection RateLimitToggle `yaml:"connection"`
	Message    RateLimitToggle `yaml:"message"`
}

// RateLimitToggle is a toggle plus a requests/window/burst triple.
type RateLimitToggle struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerWindow int  `yaml:"requests_per_window"`
	WindowSeconds     int  `yaml:"window_seconds"`
	BurstCapacity     int  `yaml:"burst_capacity"`
}

// TrustedProxyConfig configures the trusted-proxy validator (§4.3 support).
type TrustedProxyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Proxies []string `yaml:"proxies"` // IPs/CIDRs
}

// WebSocketConfig configures the WS gateway pipeline (§4.7).
type WebSocketConfig struct {
	MaxConnections  int           `yaml:"max_connections"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxLifetime     time.Duration `yaml:"max_lifetime"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ReadLimitBytes  int64         `yaml:"read_limit_bytes"`
}

// CacheConfig configures the registry's local TTL/LRU snapshot cache (§4.2).
type CacheConfig struct {
	LocalTTL       time.Duration `yaml:"local_ttl"`
	LocalMaxEntries int          `yaml:"local_max_entries"`
}

// AuthConfig configures downstream token minting (§4.3).
type AuthConfig struct {
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RequireAudience bool          `yaml:"require_audience"`
	SigningKeyPath  string        `yaml:"signing_key_path"`
	SigningKeyID    string        `yaml:"signing_key_id"`
	JWKSURL         string        `yaml:"jwks_url"`
	JWKSRefresh     time.Duration `yaml:"jwks_refresh"`
}

// LoggingConfig configures the zap/lumberjack logging sink (SPEC_FULL B.1).
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig configures the OpenTelemetry exporter (SPEC_FULL Part C).
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	ServiceName    string  `yaml:"service_name"`
}

// TransportConfig configures the outbound HTTP/WS transport (§4.8).
type TransportConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int       `yaml:"max_idle_conns_per_host"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-upstream breaker (SPEC_FULL Part C).
type CircuitBreakerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	FailureThreshold  uint32        `yaml:"failure_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
}

// ShutdownConfig tunes graceful drain (§5).
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// Validate checks internal consistency. It is run once at load and again on
// every hot reload; a failing reload never replaces the active config.
func (c *Config) Validate() error {
	if c.RateLimiting.Enabled {
		if c.RateLimiting.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limiting.window_seconds must be > 0")
		}
		if c.RateLimiting.PlatformMaxRequestsPerWindow < 0 || c.RateLimiting.BurstCapacity < 0 {
			return fmt.Errorf("rate_limiting limits must be >= 0")
		}
	}
	if c.WebSocket.MaxConnections < 0 {
		return fmt.Errorf("websocket.max_connections must be >= 0")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be >= 0")
	}
	return nil
}

// Default returns the configuration defaults named throughout spec §6.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxBodySize:         10 << 20,
			MaxHeaderSize:       1 << 20,
			MaxTotalHeadersSize: 1 << 20,
		},
		Forwarding: ForwardingConfig{UseRFC7239: true},
		RateLimiting: RateLimitingConfig{
			Enabled:                      true,
			PlatformMaxRequestsPerWindow: 1000,
			WindowSeconds:                60,
			BurstCapacity:                100,
			IncludeHeaders:               true,
			Backend:                      "memory",
			WebSocket: WSRateLimitingConfig{
				Connection: RateLimitToggle{Enabled: true, RequestsPerWindow: 10, WindowSeconds: 60, BurstCapacity: 10},
				Message:    RateLimitToggle{Enabled: true, RequestsPerWindow: 120, WindowSeconds: 60, BurstCapacity: 30},
			},
		},
		TrustedProxy: TrustedProxyConfig{Enabled: false},
		WebSocket: WebSocketConfig{
			MaxConnections: 10000,
			IdleTimeout:    5 * time.Minute,
			MaxLifetime:    24 * time.Hour,
			DialTimeout:    10 * time.Second,
			ReadLimitBytes: 1 << 20,
		},
		Cache: CacheConfig{LocalTTL: 30 * time.Second, LocalMaxEntries: 10000},
		Auth: AuthConfig{
			Issuer:   "aussie-gateway",
			TokenTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Output: "stdout"},
		Tracing: TracingConfig{ServiceName: "aussie-gateway"},
		Transport: TransportConfig{
			ConnectTimeout:      3 * time.Second,
			RequestTimeout:      30 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
		},
		Shutdown: ShutdownConfig{DrainTimeout: 15 * time.Second},
	}
}
