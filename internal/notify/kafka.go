package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// DefaultTopic is the Kafka topic notifications are published to.
const DefaultTopic = "ledger_notifications"

// NotificationEvent is the message published for every committed
// notification.
type NotificationEvent struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Kind      model.NotificationKind `json:"kind"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	TsUnixMs  int64                  `json:"ts_unix_ms"`
	CreatedAt time.Time              `json:"created_at"`
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes notifications to a Kafka topic, keyed by user so one
// user's alerts stay ordered within a partition.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter builds a writer for a comma-separated broker list.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink wraps a writer as a Sink.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(NotificationEvent{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		TsUnixMs:  n.CreatedAt.UnixMilli(),
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: payload,
		Time:  n.CreatedAt,
	})
}
