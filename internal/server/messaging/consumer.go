package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/creditshare/internal/logging"
	"github.com/segmentio/kafka-go"
)

// Reader is the part of *kafka.Reader used by the consumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one decoded inbound message. Returning nil acknowledges
// it; an error wrapping ErrReject drops it; any other error retries it.
type Handler interface {
	Handle(ctx context.Context, routingKey MessageType, env *Envelope) error
}

// NewKafkaReader builds a consumer-group reader on topic.
func NewKafkaReader(brokers []string, groupID, topic string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: []string{topic},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	}), nil
}

// Consumer feeds inbound messages to a Handler one at a time and commits
// them once handled or rejected. Messages failing with a retryable error
// are retried with exponential backoff until they succeed or ctx ends, in
// which case they stay uncommitted and are redelivered after restart.
type Consumer struct {
	reader     Reader
	handler    Handler
	logger     logging.Logger
	backoff    time.Duration
	maxBackoff time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewConsumer(reader Reader, handler Handler, backoff time.Duration, logger logging.Logger) *Consumer {
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Consumer{
		reader:     reader,
		handler:    handler,
		logger:     logging.ForModule(logger, "consumer"),
		backoff:    backoff,
		maxBackoff: 30 * time.Second,
		sleep:      sleepCtx,
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	routingKey, env, err := Decode(msg)
	if err != nil {
		c.logger.Error(ctx, "rejecting undecodable message", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		return nil
	}

	backoff := c.backoff
	for {
		err := c.handler.Handle(ctx, routingKey, env)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrReject):
			c.logger.Warn(ctx, "message rejected", "routing_key", routingKey, "sender", env.Sender(), "error", err)
			return nil
		}

		c.logger.Error(ctx, "message processing failed, requeueing", "routing_key", routingKey, "sender", env.Sender(), "error", err)
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// Decode extracts the routing key and envelope of a Kafka message. The
// routing-key header wins over the envelope's messageType.
func Decode(msg kafka.Message) (MessageType, *Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(msg.Value, env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	routingKey := env.MessageType
	for _, h := range msg.Headers {
		if h.Key == HeaderRoutingKey && len(h.Value) > 0 {
			routingKey = MessageType(h.Value)
		}
	}
	if env.RecipientStaticID == "" {
		for _, h := range msg.Headers {
			if h.Key == HeaderRecipient {
				env.RecipientStaticID = string(h.Value)
			}
		}
	}
	return routingKey, env, nil
}
