package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/dmitrijs2005/creditshare/internal/server/metrics"
	"github.com/segmentio/kafka-go"
)

// Header names set on every outbound Kafka message.
const (
	HeaderRoutingKey = "routing-key"
	HeaderRecipient  = "recipient-static-id"
	HeaderSender     = "sender-static-id"
)

// Transport is the part of *kafka.Writer used by the publisher.
type Transport interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	Topic           string
	CompanyStaticID string
	MaxAttempts     int
	Backoff         time.Duration
}

// Publisher delivers envelopes to one recipient at a time. Each Send is
// attempted up to MaxAttempts times; delivery is at-least-once.
type Publisher struct {
	transport Transport
	cfg       PublisherConfig
	logger    logging.Logger
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewPublisher(transport Transport, cfg PublisherConfig, logger logging.Logger, m *metrics.Metrics) *Publisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Publisher{
		transport: transport,
		cfg:       cfg,
		logger:    logging.ForModule(logger, "publisher"),
		metrics:   m,
		sleep:     sleepCtx,
	}
}

// NewKafkaWriter builds the writer used as Transport. Retries are done by
// the publisher, so the writer itself makes a single attempt.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  1,
	}
}

// Send publishes env to recipientID with messageType as routing key. The
// envelope's version, routing and sender fields are overwritten. A transport
// failure after all attempts is returned as *MessageSendingError.
func (p *Publisher) Send(ctx context.Context, messageType MessageType, recipientID string, env Envelope) error {
	env.Version = Version
	env.MessageType = messageType
	env.RecipientStaticID = recipientID
	switch messageType {
	case ShareCreditLine, RevokeCreditLine:
		env.OwnerStaticID = p.cfg.CompanyStaticID
	default:
		env.CompanyStaticID = p.cfg.CompanyStaticID
	}

	value, err := json.Marshal(env)
	if err != nil {
		return &MessageSendingError{MessageType: messageType, Recipient: recipientID, Err: err}
	}

	msg := kafka.Message{
		Topic: p.cfg.Topic,
		Key:   []byte(recipientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderRoutingKey, Value: []byte(messageType)},
			{Key: HeaderRecipient, Value: []byte(recipientID)},
			{Key: HeaderSender, Value: []byte(p.cfg.CompanyStaticID)},
		},
		Time: time.Now().UTC(),
	}

	backoff := p.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err = p.transport.WriteMessages(ctx, msg)
		if err == nil {
			p.metrics.Published(string(messageType))
			p.logger.Debug(ctx, "message published", "message_type", messageType, "recipient", recipientID, "attempt", attempt)
			return nil
		}
		if attempt >= p.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		p.logger.Warn(ctx, "publish attempt failed", "message_type", messageType, "recipient", recipientID, "attempt", attempt, "error", err)
		if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
			break
		}
		backoff *= 2
	}

	p.metrics.PublishFailed(string(messageType))
	p.logger.Error(ctx, "failed to send message", "routing_key", messageType, "recipient", recipientID, "error", err)
	return &MessageSendingError{MessageType: messageType, Recipient: recipientID, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
