// Package events publishes booking domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	// DefaultExchange is the topic exchange that carries booking events.
	DefaultExchange = "grind.booking.events"

	exchangeKindTopic       = "topic"
	contentTypeJSON         = "application/json"
	breakerName             = "amqp-publisher"
	defaultMaxRequests      = 1
	defaultBreakerInterval  = time.Minute
	defaultBreakerTimeout   = 30 * time.Second
	defaultFailureThreshold = 5
)

// Publisher sends an encoded event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// BreakerConfig tunes the circuit breaker that guards the broker.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after five consecutive publish failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      defaultMaxRequests,
		Interval:         defaultBreakerInterval,
		Timeout:          defaultBreakerTimeout,
		FailureThreshold: defaultFailureThreshold,
	}
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages through a circuit breaker.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	breaker  *gobreaker.CircuitBreaker[any]
	logger   *zap.Logger
	nowFn    func() time.Time
	mu       sync.Mutex
}

// NewAMQPPublisher dials the broker and declares the topic exchange.
func NewAMQPPublisher(url string, exchange string, breakerConfig BreakerConfig, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	publisher := newAMQPPublisher(channel, exchange, breakerConfig, logger)
	publisher.conn = conn
	logger.Info("amqp publisher connected", zap.String("exchange", exchange))
	return publisher, nil
}

func newAMQPPublisher(channel amqpChannel, exchange string, breakerConfig BreakerConfig, logger *zap.Logger) *AMQPPublisher {
	publisher := &AMQPPublisher{
		channel:  channel,
		exchange: exchange,
		logger:   logger,
		nowFn:    time.Now,
	}
	publisher.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breakerConfig.MaxRequests,
		Interval:    breakerConfig.Interval,
		Timeout:     breakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConfig.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return publisher
}

// Publish sends payload to the exchange. While the breaker is open it fails
// fast with gobreaker.ErrOpenState.
func (publisher *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	_, err := publisher.breaker.Execute(func() (any, error) {
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		return nil, publisher.channel.PublishWithContext(ctx, publisher.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    publisher.nowFn().UTC(),
			Body:         payload,
		})
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	publisher.logger.Debug("event published", zap.String("routing_key", routingKey), zap.Int("size", len(payload)))
	return nil
}

// Close releases the channel and the connection.
func (publisher *AMQPPublisher) Close() error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.channel != nil {
		if err := publisher.channel.Close(); err != nil {
			publisher.logger.Warn("error closing channel", zap.Error(err))
		}
	}
	if publisher.conn != nil {
		return publisher.conn.Close()
	}
	return nil
}

// NoopPublisher drops events. It is used when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher returns a publisher that only logs at debug level.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopPublisher{logger: logger}
}

func (publisher *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	publisher.logger.Debug("noop publish", zap.String("routing_key", routingKey), zap.Int("size", len(payload)))
	return nil
}

func (publisher *NoopPublisher) Close() error {
	return nil
}
