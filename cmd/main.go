package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	aegisgate "github.com/AegisGate/aegis-gate"
	aegisconfig "github.com/AegisGate/aegis-gate/config"
	"github.com/AegisGate/aegis-gate/env"
	"github.com/AegisGate/aegis-gate/internal/metrics"
	"github.com/AegisGate/aegis-gate/models"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Run AegisGate in standalone mode.
func main() {
	if err := godotenv.Load(); err != nil {
		if os.Getenv(env.EnvGoEnvironment) != "production" {
			slog.Debug("no .env file found")
		}
	}

	fileConfig := loadConfigFromFile()
	applyEnvOverrides(&fileConfig)

	config := aegisconfig.NewConfig(
		aegisconfig.WithAppName(fileConfig.AppName),
		aegisconfig.WithSecret(fileConfig.Secret),
		aegisconfig.WithLogger(fileConfig.Logger),
		aegisconfig.WithDatabase(fileConfig.Database),
		aegisconfig.WithEventBus(fileConfig.EventBus),
		aegisconfig.WithStore(fileConfig.Store),
		aegisconfig.WithVault(fileConfig.Vault),
		aegisconfig.WithAuth(fileConfig.Auth),
		aegisconfig.WithGuard(fileConfig.Guard),
		aegisconfig.WithDDoS(fileConfig.DDoS),
		aegisconfig.WithMaintenance(fileConfig.Maintenance),
	)

	gate, err := aegisgate.New(config)
	if err != nil {
		slog.Error("failed to initialize gateway", "error", err)
		os.Exit(1)
	}
	metrics.Init()

	port := getEnv(env.EnvPort, "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(gate),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("starting AegisGate standalone server", "port", port)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdownChan:
		slog.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}

	if err := gate.Close(); err != nil {
		slog.Error("gateway close error", "error", err)
	}
}

// loadConfigFromFile reads the TOML configuration when present; a missing
// file means env vars and defaults apply.
func loadConfigFromFile() models.Config {
	configPath := getEnv(env.EnvConfigPath, "config.toml")
	var config models.Config

	if _, err := os.Stat(configPath); err != nil {
		return config
	}
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		slog.Warn("failed to parse config file, using environment and defaults", "path", configPath, "error", err)
	}
	return config
}

func applyEnvOverrides(config *models.Config) {
	if secret := os.Getenv(env.EnvSecret); secret != "" {
		config.Secret = secret
	}
	if url := os.Getenv(env.EnvDatabaseURL); url != "" {
		config.Database.URL = url
	}
}
