package events

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/AegisGate/aegis-gate/env"
	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/models"
)

// InitWatermillProvider initializes a Watermill PubSub based on the provider config
func InitWatermillProvider(config *models.EventBusConfig, logger watermill.LoggerAdapter) (models.PubSub, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	provider := events.EventBusProvider(config.Provider)

	switch provider {
	case events.ProviderGoChannel:
		return initGoChannel(logger, config.GoChannel)
	case events.ProviderRedis:
		return initRedis(logger, config.Redis)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.Provider)
	}
}

// initGoChannel initializes an in-memory GoChannel provider
func initGoChannel(logger watermill.LoggerAdapter, config *models.GoChannelConfig) (models.PubSub, error) {
	bufferSize := 100
	if config != nil && config.BufferSize > 0 {
		bufferSize = config.BufferSize
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(bufferSize),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return NewWatermillPubSub(pubSub, pubSub), nil
}

// initRedis initializes a Redis Streams provider
func initRedis(logger watermill.LoggerAdapter, config *models.RedisConfig) (models.PubSub, error) {
	url := os.Getenv(env.EnvRedisURL)
	if url == "" && config != nil {
		url = config.URL
	}
	if url == "" {
		return nil, fmt.Errorf("redis config with url is required (set %s env var or provide config)", env.EnvRedisURL)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	consumerGroup := os.Getenv(env.EnvEventBusConsumerGroup)
	if consumerGroup == "" {
		if config != nil && config.ConsumerGroup != "" {
			consumerGroup = config.ConsumerGroup
		} else {
			consumerGroup = "aegisgate_consumer_group"
		}
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	return NewWatermillPubSub(publisher, subscriber), nil
}
