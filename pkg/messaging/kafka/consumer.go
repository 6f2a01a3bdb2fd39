package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/eterna-labs/swapflow/pkg/messaging"
)

// newConsumer builds the underlying sarama consumer; tests swap it out
var newConsumer = func(brokers []string) (sarama.Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	return sarama.NewConsumer(brokers, cfg)
}

// SettlementConsumer reads settlement records from a Kafka topic
type SettlementConsumer struct {
	consumer sarama.Consumer
	topic    string
}

// NewSettlementConsumer creates a consumer attached to the broker
func NewSettlementConsumer(brokerAddr, topic string) (*SettlementConsumer, error) {
	consumer, err := newConsumer([]string{brokerAddr})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &SettlementConsumer{
		consumer: consumer,
		topic:    topic,
	}, nil
}

// ConsumeSettlements delivers each decoded settlement record to the
// handler until the context is cancelled or the message stream closes.
// Undecodable payloads are skipped, not fatal.
func (c *SettlementConsumer) ConsumeSettlements(ctx context.Context, handler func(*messaging.SettlementMessage) error) error {
	partition, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partition.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-partition.Messages():
			if !ok {
				return nil
			}
			var settlement messaging.SettlementMessage
			if err := json.Unmarshal(msg.Value, &settlement); err != nil {
				continue
			}
			if err := handler(&settlement); err != nil {
				return err
			}
		case consumeErr, ok := <-partition.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("kafka consume error: %w", consumeErr.Err)
		}
	}
}

// Close closes the underlying consumer
func (c *SettlementConsumer) Close() error {
	return c.consumer.Close()
}

// SetupConsumer starts a background consumer that logs every settlement
// record. Failure to reach Kafka is not fatal: the service runs without
// settlement tailing.
func SetupConsumer(ctx context.Context, brokerAddr, topic string, logger zerolog.Logger) (*SettlementConsumer, error) {
	consumer, err := NewSettlementConsumer(brokerAddr, topic)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create Kafka consumer - continuing without settlement feed")
		return nil, err
	}

	go func() {
		logger.Info().Str("topic", topic).Msg("Starting settlement consumer")
		err := consumer.ConsumeSettlements(ctx, func(msg *messaging.SettlementMessage) error {
			logger.Info().
				Str("order_id", msg.OrderID).
				Str("status", msg.Status).
				Str("venue", msg.Venue).
				Str("amount_out", msg.AmountOut).
				Str("settlement_ref", msg.SettlementRef).
				Str("fail_reason", msg.FailReason).
				Msg("Received settlement record")
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Settlement consumer error")
		}
	}()

	return consumer, nil
}
