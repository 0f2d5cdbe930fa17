package env

const (
	// AEGIS GATE

	EnvConfigPath  = "AEGIS_GATE_CONFIG_PATH"
	EnvSecret      = "AEGIS_GATE_SECRET"
	EnvDatabaseURL = "AEGIS_GATE_DATABASE_URL"

	// REDIS

	EnvRedisURL = "REDIS_URL"

	// EVENT BUS

	EnvEventBusConsumerGroup = "EVENT_BUS_CONSUMER_GROUP"

	// ENVIRONMENT

	EnvGoEnvironment = "GO_ENV"
	EnvPort          = "PORT"
)
