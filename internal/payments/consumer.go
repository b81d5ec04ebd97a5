// Package payments applies approved payments as credit top-ups.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultQueueName is the durable queue bound to approved payments.
	DefaultQueueName = "grind.payments.approved"
	// RoutingKeyPaymentApproved is the routing key payment providers publish under.
	RoutingKeyPaymentApproved = "payment.approved"

	idempotencyKeyPrefix = "payment:"
	metadataSource       = "payment"
	exchangeKindTopic    = "topic"
)

// CreditTopUp applies an idempotent credit grant.
type CreditTopUp interface {
	TopUpCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON) (booking.Credits, error)
}

// PaymentApproved is the message body of a payment.approved event.
type PaymentApproved struct {
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	Credits    int64     `json:"credits"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	// OutcomeAck settles an applied or already-applied payment.
	OutcomeAck Outcome = iota
	// OutcomeReject drops a message that can never be applied.
	OutcomeReject
	// OutcomeRetry returns the message to the queue.
	OutcomeRetry
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeAck:
		return "ack"
	case OutcomeReject:
		return "reject"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Handler decodes approved payments and credits the member.
type Handler struct {
	topUp  CreditTopUp
	logger *zap.Logger
}

// NewHandler wires a Handler.
func NewHandler(topUp CreditTopUp, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{topUp: topUp, logger: logger}
}

// Handle applies one message body and reports how to settle it.
func (handler *Handler) Handle(ctx context.Context, body []byte) Outcome {
	payment, err := decodePayment(body)
	if err != nil {
		handler.logger.Error("discarding malformed payment", zap.Error(err))
		return OutcomeReject
	}
	userID, err := booking.NewUserID(payment.UserID)
	if err != nil {
		handler.logger.Error("discarding payment with invalid user", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return OutcomeReject
	}
	amount, err := booking.NewPositiveCredits(payment.Credits)
	if err != nil {
		handler.logger.Error("discarding payment with invalid credits", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return OutcomeReject
	}
	idempotencyKey, err := booking.NewIdempotencyKey(idempotencyKeyPrefix + payment.PaymentID)
	if err != nil {
		handler.logger.Error("discarding payment with invalid id", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return OutcomeReject
	}
	metadata, err := paymentMetadata(payment)
	if err != nil {
		handler.logger.Error("discarding payment with unencodable metadata", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return OutcomeReject
	}

	balance, err := handler.topUp.TopUpCredits(ctx, userID, amount, idempotencyKey, metadata)
	switch {
	case err == nil:
		handler.logger.Info("payment applied",
			zap.String("payment_id", payment.PaymentID),
			zap.String("user_id", userID.String()),
			zap.Int64("credits", amount.Int64()),
			zap.Int64("balance", balance.Int64()),
		)
		return OutcomeAck
	case errors.Is(err, booking.ErrDuplicateGrant):
		handler.logger.Info("payment already applied", zap.String("payment_id", payment.PaymentID))
		return OutcomeAck
	case errors.Is(err, booking.ErrUserNotFound):
		handler.logger.Error("discarding payment for unknown member", zap.String("payment_id", payment.PaymentID), zap.String("user_id", userID.String()))
		return OutcomeReject
	default:
		handler.logger.Warn("payment top-up failed, will retry", zap.String("payment_id", payment.PaymentID), zap.Error(err))
		return OutcomeRetry
	}
}

func decodePayment(body []byte) (PaymentApproved, error) {
	var payment PaymentApproved
	if err := json.Unmarshal(body, &payment); err != nil {
		return PaymentApproved{}, fmt.Errorf("decode payment: %w", err)
	}
	if strings.TrimSpace(payment.PaymentID) == "" {
		return PaymentApproved{}, errors.New("payment_id is required")
	}
	return payment, nil
}

func paymentMetadata(payment PaymentApproved) (booking.MetadataJSON, error) {
	encoded, err := json.Marshal(map[string]any{
		"source":      metadataSource,
		"payment_id":  payment.PaymentID,
		"occurred_at": payment.OccurredAt.UTC(),
	})
	if err != nil {
		return booking.MetadataJSON{}, err
	}
	return booking.NewMetadataJSON(string(encoded))
}

// ConsumerConfig configures the RabbitMQ consumer.
type ConsumerConfig struct {
	URL       string
	Exchange  string
	QueueName string
	Logger    *zap.Logger
}

// Consumer reads payment.approved messages and settles them manually.
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	handler   *Handler
	logger    *zap.Logger
	mu        sync.Mutex
	running   bool
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewConsumer dials the broker, declares the queue and binds it to payment.approved.
func NewConsumer(cfg ConsumerConfig, handler *Handler) (*Consumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultQueueName
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	closeAll := func() {
		_ = channel.Close()
		_ = conn.Close()
	}
	if err := channel.ExchangeDeclare(cfg.Exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(cfg.QueueName, RoutingKeyPaymentApproved, cfg.Exchange, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	cfg.Logger.Info("payment consumer connected", zap.String("queue", cfg.QueueName), zap.String("exchange", cfg.Exchange))
	return &Consumer{
		conn:      conn,
		channel:   channel,
		queue:     cfg.QueueName,
		handler:   handler,
		logger:    cfg.Logger,
		closeChan: make(chan struct{}),
	}, nil
}

// Start consumes until ctx is cancelled or Close is called.
func (consumer *Consumer) Start(ctx context.Context) error {
	consumer.mu.Lock()
	if consumer.running {
		consumer.mu.Unlock()
		return errors.New("consumer already running")
	}
	consumer.running = true
	consumer.mu.Unlock()

	if err := consumer.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := consumer.channel.Consume(consumer.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	consumer.logger.Info("consuming payments", zap.String("queue", consumer.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-consumer.closeChan:
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			settle(ctx, consumer.handler, delivery, consumer.logger)
		}
	}
}

func settle(ctx context.Context, handler *Handler, delivery amqp.Delivery, logger *zap.Logger) {
	outcome := handler.Handle(ctx, delivery.Body)
	var err error
	switch outcome {
	case OutcomeAck:
		err = delivery.Ack(false)
	case OutcomeReject:
		err = delivery.Nack(false, false)
	default:
		err = delivery.Nack(false, true)
	}
	if err != nil {
		logger.Error("failed to settle delivery", zap.String("outcome", outcome.String()), zap.Error(err))
	}
}

// Close stops Start and releases the connection.
func (consumer *Consumer) Close() error {
	consumer.closeOnce.Do(func() { close(consumer.closeChan) })
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	consumer.running = false
	if consumer.channel != nil {
		if err := consumer.channel.Close(); err != nil {
			consumer.logger.Warn("error closing channel", zap.Error(err))
		}
	}
	if consumer.conn != nil {
		return consumer.conn.Close()
	}
	return nil
}
