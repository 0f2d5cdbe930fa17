package aegisgate

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-playground/validator/v10"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/internal/bootstrap"
	internalevents "github.com/AegisGate/aegis-gate/internal/events"
	"github.com/AegisGate/aegis-gate/models"
)

var validate = validator.New()

func validateConfig(config *models.Config) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func initLogger(config *models.Config) models.Logger {
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	return bootstrap.InitLogger(bootstrap.LoggerOptions{Level: config.Logger.Level})
}

func initEventBus(config *models.Config) (models.EventBus, error) {
	if config.EventBus.Provider == "" {
		config.EventBus.Provider = string(events.ProviderGoChannel)
	}

	wmLogger := watermill.NewStdLogger(false, false)
	pubSub, err := internalevents.InitWatermillProvider(&config.EventBus, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("initializing event bus provider: %w", err)
	}

	return internalevents.NewEventBus(config, wmLogger, pubSub), nil
}
