package models

import (
	"time"
)

// Config holds the core configuration for AegisGate.
type Config struct {
	AppName  string         `json:"app_name" toml:"app_name"`
	Secret   string         `json:"secret" toml:"secret" validate:"required,min=16"`
	Logger   LoggerConfig   `json:"logger" toml:"logger"`
	Database DatabaseConfig `json:"database" toml:"database"`
	EventBus EventBusConfig `json:"event_bus" toml:"event_bus"`
	Store    StoreConfig    `json:"store" toml:"store"`

	Vault VaultConfig `json:"vault" toml:"vault"`
	Auth  AuthConfig  `json:"auth" toml:"auth"`
	Guard GuardConfig `json:"guard" toml:"guard"`
	DDoS  DDoSConfig  `json:"ddos" toml:"ddos"`

	Maintenance MaintenanceConfig `json:"maintenance" toml:"maintenance"`
}

type LoggerConfig struct {
	Level string `json:"level" toml:"level"`
}

// DatabaseConfig configures the optional write-behind persistence layer.
// When Provider is empty, audit trails stay in memory only.
type DatabaseConfig struct {
	Provider        string        `json:"provider" toml:"provider"`
	URL             string        `json:"url" toml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

type EventBusConfig struct {
	Prefix                string           `json:"prefix" toml:"prefix"`
	MaxConcurrentHandlers int              `json:"max_concurrent_handlers" toml:"max_concurrent_handlers"`
	Provider              string           `json:"provider" toml:"provider"`
	GoChannel             *GoChannelConfig `json:"go_channel" toml:"go_channel"`
	Redis                 *RedisConfig     `json:"redis" toml:"redis"`
}

type GoChannelConfig struct {
	BufferSize int `json:"buffer_size" toml:"buffer_size"`
}

type RedisConfig struct {
	URL           string `json:"url" toml:"url"`
	ConsumerGroup string `json:"consumer_group" toml:"consumer_group"`
}

// StoreConfig selects the key-value backend used for rate-limit counters.
// Options: "memory" (default), "redis".
type StoreConfig struct {
	Provider string       `json:"provider" toml:"provider"`
	Redis    *RedisConfig `json:"redis" toml:"redis"`
}

type VaultConfig struct {
	// Algorithm for new encryptions: "aes-256-gcm" (default) or "xchacha20-poly1305"
	Algorithm string `json:"algorithm" toml:"algorithm"`
	// HashAlgorithm for new hashes: "argon2id" (default) or "pbkdf2-sha256"
	HashAlgorithm string `json:"hash_algorithm" toml:"hash_algorithm"`
	// HashIterations applies to pbkdf2-sha256 only
	HashIterations int `json:"hash_iterations" toml:"hash_iterations"`
	// RotationInterval between automatic key rotations
	RotationInterval time.Duration `json:"rotation_interval" toml:"rotation_interval"`
	// RotationGrace is how long a demoted key stays decryptable
	RotationGrace time.Duration `json:"rotation_grace" toml:"rotation_grace"`
}

type AuthConfig struct {
	Issuer               string        `json:"issuer" toml:"issuer"`
	AccessTokenTTL       time.Duration `json:"access_token_ttl" toml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `json:"refresh_token_ttl" toml:"refresh_token_ttl"`
	SessionIdleTimeout   time.Duration `json:"session_idle_timeout" toml:"session_idle_timeout"`
	LockoutThreshold     int           `json:"lockout_threshold" toml:"lockout_threshold"`
	LockoutDuration      time.Duration `json:"lockout_duration" toml:"lockout_duration"`
	PasswordMinLength    int           `json:"password_min_length" toml:"password_min_length"`
	PasswordRequireMixed bool          `json:"password_require_mixed" toml:"password_require_mixed"`
	// AttemptRetention bounds the in-memory login attempt log
	AttemptRetention time.Duration `json:"attempt_retention" toml:"attempt_retention"`
}

type GuardConfig struct {
	RateLimiting       bool `json:"rate_limiting" toml:"rate_limiting"`
	BotDetection       bool `json:"bot_detection" toml:"bot_detection"`
	SpamDetection      bool `json:"spam_detection" toml:"spam_detection"`
	InjectionDetection bool `json:"injection_detection" toml:"injection_detection"`
	DDoSDetection      bool `json:"ddos_detection" toml:"ddos_detection"`

	AutoBlock         bool          `json:"auto_block" toml:"auto_block"`
	AutoBlockDuration time.Duration `json:"auto_block_duration" toml:"auto_block_duration"`

	// EscalationThreshold is the number of unresolved suspicious activities
	// from one source within the last hour before it is auto-blocked
	EscalationThreshold int `json:"escalation_threshold" toml:"escalation_threshold"`

	// RequestsPerMinute is the per-source ceiling used as the guard-side
	// first line of DDoS defense
	RequestsPerMinute int `json:"requests_per_minute" toml:"requests_per_minute"`

	SpamKeywords []string `json:"spam_keywords" toml:"spam_keywords"`

	Whitelist []string `json:"whitelist" toml:"whitelist"`
	Blacklist []string `json:"blacklist" toml:"blacklist"`

	GeoBlocking      bool     `json:"geo_blocking" toml:"geo_blocking"`
	BlockedCountries []string `json:"blocked_countries" toml:"blocked_countries"`

	Rules []RateLimitRule `json:"rules" toml:"rules"`
}

type DDoSConfig struct {
	// RequestsPerSecond marks a single source suspicious above this rate
	RequestsPerSecond float64 `json:"requests_per_second" toml:"requests_per_second"`
	// GlobalRequestsPerSecond raises a volumetric alert across all sources
	GlobalRequestsPerSecond float64 `json:"global_requests_per_second" toml:"global_requests_per_second"`
	// DistinctSources raises a distributed alert over the 1-minute horizon
	DistinctSources int `json:"distinct_sources" toml:"distinct_sources"`
	// MinSample is the minimum per-source volume before endpoint-concentration
	// heuristics apply
	MinSample int `json:"min_sample" toml:"min_sample"`
	// BurstThreshold requests inside BurstWindow marks a burst
	BurstThreshold int           `json:"burst_threshold" toml:"burst_threshold"`
	BurstWindow    time.Duration `json:"burst_window" toml:"burst_window"`
	// PatternRetention prunes idle sources past this horizon
	PatternRetention time.Duration `json:"pattern_retention" toml:"pattern_retention"`
}

type MaintenanceConfig struct {
	BlocklistPurgeInterval time.Duration `json:"blocklist_purge_interval" toml:"blocklist_purge_interval"`
	PatternPruneInterval   time.Duration `json:"pattern_prune_interval" toml:"pattern_prune_interval"`
	LogTruncateInterval    time.Duration `json:"log_truncate_interval" toml:"log_truncate_interval"`
	AttackSweepInterval    time.Duration `json:"attack_sweep_interval" toml:"attack_sweep_interval"`
}
