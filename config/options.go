package config

import (
	"fmt"
	"os"
	"time"

	"github.com/AegisGate/aegis-gate/env"
	"github.com/AegisGate/aegis-gate/models"
)

const defaultSecret = "aegis-gate-secret-0123456789abcd"

type ConfigOption func(*models.Config)

// NewConfig builds a Config using functional options with sensible defaults.
// Panics if the required secret is missing in production.
func NewConfig(options ...ConfigOption) *models.Config {
	config := &models.Config{
		AppName: "AegisGate",
		Secret:  defaultSecret,
		Logger:  models.LoggerConfig{},
		Database: models.DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Minute * 10,
		},
		EventBus: models.EventBusConfig{},
		Store:    models.StoreConfig{Provider: "memory"},
		Vault: models.VaultConfig{
			Algorithm:        models.AlgorithmAESGCM,
			HashAlgorithm:    models.HashArgon2id,
			HashIterations:   100_000,
			RotationInterval: 24 * time.Hour,
			RotationGrace:    30 * 24 * time.Hour,
		},
		Auth: models.AuthConfig{
			Issuer:               "aegis-gate",
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			SessionIdleTimeout:   30 * time.Minute,
			LockoutThreshold:     5,
			LockoutDuration:      15 * time.Minute,
			PasswordMinLength:    8,
			PasswordRequireMixed: true,
			AttemptRetention:     24 * time.Hour,
		},
		Guard: models.GuardConfig{
			RateLimiting:        true,
			BotDetection:        true,
			SpamDetection:       true,
			InjectionDetection:  true,
			DDoSDetection:       true,
			AutoBlock:           true,
			AutoBlockDuration:   30 * time.Minute,
			EscalationThreshold: 10,
			RequestsPerMinute:   300,
			SpamKeywords:        defaultSpamKeywords(),
		},
		DDoS: models.DDoSConfig{
			RequestsPerSecond:       100,
			GlobalRequestsPerSecond: 1000,
			DistinctSources:         100,
			MinSample:               20,
			BurstThreshold:          50,
			BurstWindow:             10 * time.Second,
			PatternRetention:        10 * time.Minute,
		},
		Maintenance: models.MaintenanceConfig{
			BlocklistPurgeInterval: time.Minute,
			PatternPruneInterval:   time.Minute,
			LogTruncateInterval:    5 * time.Minute,
			AttackSweepInterval:    30 * time.Second,
		},
	}

	for _, option := range options {
		option(config)
	}

	if os.Getenv(env.EnvGoEnvironment) == "production" && config.Secret == defaultSecret {
		panic(fmt.Errorf("a custom secret must be set in production mode. Set one via configuration or the %s environment variable", env.EnvSecret))
	}

	return config
}

func defaultSpamKeywords() []string {
	return []string{
		"free money", "click here", "limited offer", "act now", "winner",
		"congratulations", "100% free", "risk free", "no obligation",
		"earn cash", "double your", "guaranteed income", "casino bonus",
	}
}

func WithAppName(name string) ConfigOption {
	return func(c *models.Config) {
		if name != "" {
			c.AppName = name
		}
	}
}

func WithSecret(secret string) ConfigOption {
	return func(c *models.Config) {
		if envValue := os.Getenv(env.EnvSecret); envValue != "" {
			c.Secret = envValue
		} else if secret != "" {
			c.Secret = secret
		}
	}
}

func WithLogger(config models.LoggerConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Level != "" {
			c.Logger = config
		}
	}
}

func WithDatabase(config models.DatabaseConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Provider != "" {
			c.Database.Provider = config.Provider
			c.Database.URL = config.URL
		}
		if config.MaxOpenConns > 0 {
			c.Database.MaxOpenConns = config.MaxOpenConns
		}
		if config.MaxIdleConns > 0 {
			c.Database.MaxIdleConns = config.MaxIdleConns
		}
		if config.ConnMaxLifetime > 0 {
			c.Database.ConnMaxLifetime = config.ConnMaxLifetime
		}
	}
}

func WithEventBus(config models.EventBusConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Provider != "" {
			c.EventBus = config
		}
	}
}

func WithStore(config models.StoreConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Provider != "" {
			c.Store = config
		}
	}
}

func WithVault(config models.VaultConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Algorithm != "" {
			c.Vault.Algorithm = config.Algorithm
		}
		if config.HashAlgorithm != "" {
			c.Vault.HashAlgorithm = config.HashAlgorithm
		}
		if config.HashIterations > 0 {
			c.Vault.HashIterations = config.HashIterations
		}
		if config.RotationInterval > 0 {
			c.Vault.RotationInterval = config.RotationInterval
		}
		if config.RotationGrace > 0 {
			c.Vault.RotationGrace = config.RotationGrace
		}
	}
}

func WithAuth(config models.AuthConfig) ConfigOption {
	return func(c *models.Config) {
		if config.Issuer != "" {
			c.Auth.Issuer = config.Issuer
		}
		if config.AccessTokenTTL > 0 {
			c.Auth.AccessTokenTTL = config.AccessTokenTTL
		}
		if config.RefreshTokenTTL > 0 {
			c.Auth.RefreshTokenTTL = config.RefreshTokenTTL
		}
		if config.SessionIdleTimeout > 0 {
			c.Auth.SessionIdleTimeout = config.SessionIdleTimeout
		}
		if config.LockoutThreshold > 0 {
			c.Auth.LockoutThreshold = config.LockoutThreshold
		}
		if config.LockoutDuration > 0 {
			c.Auth.LockoutDuration = config.LockoutDuration
		}
		if config.PasswordMinLength > 0 {
			c.Auth.PasswordMinLength = config.PasswordMinLength
		}
		c.Auth.PasswordRequireMixed = config.PasswordRequireMixed
		if config.AttemptRetention > 0 {
			c.Auth.AttemptRetention = config.AttemptRetention
		}
	}
}

// WithGuard replaces the guard configuration wholesale. Zero-valued toggles
// turn detectors off, so callers should start from NewConfig defaults. A
// fully zero config means the section was absent and the defaults stand.
func WithGuard(config models.GuardConfig) ConfigOption {
	return func(c *models.Config) {
		absent := !config.RateLimiting && !config.BotDetection &&
			!config.SpamDetection && !config.InjectionDetection &&
			!config.DDoSDetection && !config.AutoBlock && !config.GeoBlocking &&
			config.RequestsPerMinute == 0 && config.EscalationThreshold == 0 &&
			len(config.SpamKeywords) == 0 && len(config.Whitelist) == 0 &&
			len(config.Blacklist) == 0 && len(config.Rules) == 0
		if absent {
			return
		}

		if config.AutoBlockDuration == 0 {
			config.AutoBlockDuration = c.Guard.AutoBlockDuration
		}
		if config.EscalationThreshold == 0 {
			config.EscalationThreshold = c.Guard.EscalationThreshold
		}
		if config.RequestsPerMinute == 0 {
			config.RequestsPerMinute = c.Guard.RequestsPerMinute
		}
		if len(config.SpamKeywords) == 0 {
			config.SpamKeywords = c.Guard.SpamKeywords
		}
		c.Guard = config
	}
}

func WithDDoS(config models.DDoSConfig) ConfigOption {
	return func(c *models.Config) {
		if config.RequestsPerSecond > 0 {
			c.DDoS.RequestsPerSecond = config.RequestsPerSecond
		}
		if config.GlobalRequestsPerSecond > 0 {
			c.DDoS.GlobalRequestsPerSecond = config.GlobalRequestsPerSecond
		}
		if config.DistinctSources > 0 {
			c.DDoS.DistinctSources = config.DistinctSources
		}
		if config.MinSample > 0 {
			c.DDoS.MinSample = config.MinSample
		}
		if config.BurstThreshold > 0 {
			c.DDoS.BurstThreshold = config.BurstThreshold
		}
		if config.BurstWindow > 0 {
			c.DDoS.BurstWindow = config.BurstWindow
		}
		if config.PatternRetention > 0 {
			c.DDoS.PatternRetention = config.PatternRetention
		}
	}
}

func WithMaintenance(config models.MaintenanceConfig) ConfigOption {
	return func(c *models.Config) {
		if config.BlocklistPurgeInterval > 0 {
			c.Maintenance.BlocklistPurgeInterval = config.BlocklistPurgeInterval
		}
		if config.PatternPruneInterval > 0 {
			c.Maintenance.PatternPruneInterval = config.PatternPruneInterval
		}
		if config.LogTruncateInterval > 0 {
			c.Maintenance.LogTruncateInterval = config.LogTruncateInterval
		}
		if config.AttackSweepInterval > 0 {
			c.Maintenance.AttackSweepInterval = config.AttackSweepInterval
		}
	}
}
