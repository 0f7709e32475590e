package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaSendTimeout bounds the metadata lookup WriteMessages may do before enqueueing.
const kafkaSendTimeout = 2 * time.Second

// KafkaNotifier writes messages to a topic keyed by user id, so one user's events stay ordered.
// Writes are asynchronous: Send enqueues and returns, delivery failures are logged by the writer.
type KafkaNotifier struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaNotifier builds an async writer for topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka notification delivery failed", "messages", len(messages), "error", err)
			}
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka_notifier")
		}),
	}
	return &KafkaNotifier{writer: writer, timeout: kafkaSendTimeout}
}

func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	ctx, cancel := sendContext(ctx, n.timeout)
	defer cancel()
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(message.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// sendContext detaches from the caller's cancellation, since notifications go out after the
// ledger commit, and bounds the time spent enqueueing.
func sendContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Close flushes pending writes.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
