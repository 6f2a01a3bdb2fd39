package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eterna-labs/swapflow/pkg/messaging"
)

// KafkaSettlementSender implements SettlementSender using Kafka
type KafkaSettlementSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSettlementSender creates a new Kafka settlement sender
func NewKafkaSettlementSender(brokerAddr, topic string) (*KafkaSettlementSender, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaSettlementSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendSettlement publishes a settlement record to Kafka, keyed by
// order ID so records for one order land on one partition.
func (k *KafkaSettlementSender) SendSettlement(ctx context.Context, settlement *messaging.SettlementMessage) error {
	data, err := json.Marshal(settlement)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(settlement.OrderID),
		Value: data,
		Time:  time.Now(),
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(sendCtx, msg); err != nil {
		return fmt.Errorf("failed to send settlement to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (k *KafkaSettlementSender) Close() error {
	return k.writer.Close()
}

// Ensure KafkaSettlementSender implements SettlementSender
var _ messaging.SettlementSender = (*KafkaSettlementSender)(nil)
