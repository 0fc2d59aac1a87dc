package consumer

import (
	"context"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

const (
	pollTimeoutMs = 100
	maxAttempts   = 5
	retryBackoff  = 500 * time.Millisecond
)

// client is the part of *kafka.Consumer the consumer loop uses.
type client interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	StoreMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) error
}

// KafkaConsumer feeds topic messages to a handler. Offsets are stored only
// once a message is handled, so a message whose settlement kept failing with
// a transient error is delivered again.
type KafkaConsumer struct {
	logger   *logger.Logger
	consumer client
	topic    string
	handler  MessageHandler
	backoff  time.Duration
}

// NewConfigMap returns the consumer settings used by the settlement service.
func NewConfigMap(bootstrapServers, groupID string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":        bootstrapServers,
		"group.id":                 groupID,
		"auto.offset.reset":        "earliest",
		"enable.auto.offset.store": false,
	}
}

func NewKafkaConsumer(consumer client, topic string, handler MessageHandler, logger *logger.Logger) (*KafkaConsumer, error) {
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		return nil, err
	}
	logger.Info("Subscribed to Kafka topic", "topic", topic)
	return &KafkaConsumer{logger: logger, consumer: consumer, topic: topic, handler: handler, backoff: retryBackoff}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer stopping due to context cancellation")
			return ctx.Err()
		default:
			ev := c.consumer.Poll(pollTimeoutMs)
			if ev == nil {
				continue
			}

			switch e := ev.(type) {
			case *kafka.Message:
				c.handle(ctx, e)
			case kafka.Error:
				c.logger.Error("Kafka error", "error", e)
				if e.IsFatal() {
					return e
				}
			}
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg *kafka.Message) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.handler.HandleMessage(ctx, msg.Value)
		if err == nil || !models.IsRetryable(err) || attempt == maxAttempts {
			break
		}
		c.logger.Warn("Retrying message", "offset", msg.TopicPartition.Offset, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	if err != nil && models.IsRetryable(err) {
		// Rewind so the message comes back on the next poll.
		c.logger.Error("Failed to handle message, rewinding", "offset", msg.TopicPartition.Offset, "error", err)
		if seekErr := c.consumer.Seek(msg.TopicPartition, 0); seekErr != nil {
			c.logger.Error("Failed to rewind partition", "error", seekErr)
		}
		return
	}
	if err != nil {
		c.logger.Error("Failed to handle message, dropping", "offset", msg.TopicPartition.Offset, "error", err)
	}
	if _, err := c.consumer.StoreMessage(msg); err != nil {
		c.logger.Error("Failed to store offset", "offset", msg.TopicPartition.Offset, "error", err)
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
