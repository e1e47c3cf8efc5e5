package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/riskeye/internal/alert"
)

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes level changes to a topic, keyed by alert id.
type KafkaNotifier struct {
	writer MessageWriter
}

type LevelChange struct {
	AlertID    string    `json:"alert_id"`
	AlertType  string    `json:"alert_type"`
	AlertClass string    `json:"alert_class"`
	Previous   string    `json:"previous"`
	Level      string    `json:"level"`
	Value      float64   `json:"value"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Name() string {
	return "kafka"
}

func (k *KafkaNotifier) Send(ctx context.Context, a alert.EvaluatedAlert) error {
	body, err := json.Marshal(&LevelChange{
		AlertID:    a.Config.ID,
		AlertType:  a.Config.AlertType,
		AlertClass: a.Config.AlertClass,
		Previous:   string(a.Previous),
		Level:      string(a.State.Level),
		Value:      a.Value,
		Message:    a.Message,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Config.ID),
		Value: body,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to publish level change: %w", err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
