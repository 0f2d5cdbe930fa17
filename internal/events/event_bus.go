package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"

	"github.com/AegisGate/aegis-gate/models"
)

// Consumer retry tuning. Backoff doubles per failed subscribe up to the
// ceiling, with jitter so restarting consumers don't retry in lockstep.
const (
	retryBase    = 500 * time.Millisecond
	retryCeiling = 30 * time.Second
	retryJitter  = 250 * time.Millisecond
)

// subscriber is one registered handler on a topic.
type subscriber struct {
	id models.SubscriptionID
	fn models.EventHandler
}

// fanout is the per-topic delivery state. cancel stops the topic's
// consumer loop once the last subscriber leaves.
type fanout struct {
	subs   []subscriber
	cancel context.CancelFunc
}

type eventBus struct {
	config *models.Config
	pubsub models.PubSub
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	topics map[string]*fanout
	nextID atomic.Uint64

	// sem caps in-flight handler goroutines across all topics
	sem chan struct{}

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEventBus(config *models.Config, logger watermill.LoggerAdapter, ps models.PubSub) models.EventBus {
	rootCtx, cancel := context.WithCancel(context.Background())

	inFlight := config.EventBus.MaxConcurrentHandlers
	if inFlight <= 0 {
		inFlight = 100
	}

	return &eventBus{
		config:  config,
		pubsub:  ps,
		logger:  logger,
		topics:  make(map[string]*fanout),
		sem:     make(chan struct{}, inFlight),
		rootCtx: rootCtx,
		cancel:  cancel,
	}
}

// topic maps an event type onto a transport topic, applying the configured
// namespace prefix so multiple deployments can share one broker.
func (bus *eventBus) topic(eventType string) string {
	if prefix := bus.config.EventBus.Prefix; prefix != "" {
		return prefix + "." + eventType
	}
	return eventType
}

func (bus *eventBus) Publish(ctx context.Context, event models.Event) error {
	if event.Type == "" {
		return fmt.Errorf("eventbus: event type must not be empty")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]string)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return bus.pubsub.Publish(ctx, bus.topic(event.Type), &models.Message{
		UUID:    event.ID,
		Payload: payload,
		Metadata: map[string]string{
			"event_type": event.Type,
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		},
	})
}

func (bus *eventBus) Subscribe(eventType string, handler models.EventHandler) (models.SubscriptionID, error) {
	if handler == nil {
		return 0, fmt.Errorf("eventbus: handler must not be nil")
	}

	topic := bus.topic(eventType)
	id := models.SubscriptionID(bus.nextID.Add(1))

	bus.mu.Lock()
	defer bus.mu.Unlock()

	state, ok := bus.topics[topic]
	if !ok {
		// first subscriber on the topic brings up its consumer loop
		ctx, cancel := context.WithCancel(bus.rootCtx)
		state = &fanout{cancel: cancel}
		bus.topics[topic] = state

		bus.wg.Add(1)
		go bus.consume(ctx, topic)
	}
	state.subs = append(state.subs, subscriber{id: id, fn: handler})

	return id, nil
}

func (bus *eventBus) Unsubscribe(eventType string, id models.SubscriptionID) {
	topic := bus.topic(eventType)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	state, ok := bus.topics[topic]
	if !ok {
		return
	}
	for i, sub := range state.subs {
		if sub.id == id {
			state.subs = append(state.subs[:i], state.subs[i+1:]...)
			break
		}
	}
	if len(state.subs) == 0 {
		// last subscriber gone, tear the consumer down
		state.cancel()
		delete(bus.topics, topic)
	}
}

// consume keeps one transport subscription alive for the topic, retrying
// with backoff when the subscribe call fails and re-subscribing when the
// message channel closes underneath it.
func (bus *eventBus) consume(ctx context.Context, topic string) {
	defer bus.wg.Done()

	delay := retryBase
	for {
		msgs, err := bus.pubsub.Subscribe(ctx, topic)
		if err != nil {
			wait := delay + time.Duration(rand.Int63n(int64(retryJitter)))
			bus.logger.Error("failed to subscribe to topic, will retry", err,
				watermill.LogFields{"topic": topic, "retry_in_ms": wait.Milliseconds()})

			if !bus.sleep(ctx, wait) {
				return
			}
			if delay *= 2; delay > retryCeiling {
				delay = retryCeiling
			}
			continue
		}
		delay = retryBase

		bus.logger.Debug("consumer attached", watermill.LogFields{"topic": topic})
		bus.pump(ctx, topic, msgs)
		bus.logger.Debug("consumer detached", watermill.LogFields{"topic": topic})

		if ctx.Err() != nil {
			return
		}
		// channel closed without cancellation: transport hiccup, re-attach
		if !bus.sleep(ctx, retryBase) {
			return
		}
	}
}

// pump drains the subscription channel, fanning each event out to the
// topic's current subscribers.
func (bus *eventBus) pump(ctx context.Context, topic string, msgs <-chan *models.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var event models.Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				bus.logger.Error("failed to unmarshal event", err,
					watermill.LogFields{"topic": topic, "message_id": msg.UUID})
				continue
			}

			for _, sub := range bus.snapshot(topic) {
				bus.sem <- struct{}{}
				bus.wg.Add(1)
				go bus.deliver(ctx, sub.fn, event)
			}
		}
	}
}

// snapshot copies the topic's subscriber list so delivery runs without the
// lock. The topic may already be gone when a message races an unsubscribe.
func (bus *eventBus) snapshot(topic string) []subscriber {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	state := bus.topics[topic]
	if state == nil {
		return nil
	}
	return append([]subscriber(nil), state.subs...)
}

// deliver invokes one handler. Panics and errors are logged and contained;
// one broken handler must not take delivery down for the rest.
func (bus *eventBus) deliver(ctx context.Context, handler models.EventHandler, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("event handler panicked", fmt.Errorf("panic: %v", r),
				watermill.LogFields{"event_type": event.Type, "event_id": event.ID})
		}
		<-bus.sem
		bus.wg.Done()
	}()

	if err := handler(ctx, event); err != nil {
		bus.logger.Error("event handler error", err,
			watermill.LogFields{"event_type": event.Type, "event_id": event.ID})
	}
}

// sleep waits for d or until the context ends, reporting whether the
// caller should keep going.
func (bus *eventBus) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (bus *eventBus) Close() error {
	bus.cancel()
	bus.wg.Wait()
	return bus.pubsub.Close()
}
