package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
)

// MessageWriter is the part of *kafka.Writer used for alerts.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON keyed by transaction id.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

// Compile-time interface check.
var _ poller.Notifier = (*KafkaNotifier)(nil)

// NewKafkaWriter creates a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaNotifier creates a notifier over writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

// alertMessage is the wire form of an alert.
type alertMessage struct {
	AlertID     string `json:"alert_id"`
	Target      string `json:"target"`
	TxID        string `json:"tx_id"`
	BlockTime   int64  `json:"block_time"`
	FromAddress string `json:"from_address"`
	Amount      string `json:"amount"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	Platform    string `json:"platform"`
	DetectedAt  string `json:"detected_at"`
}

// Deliver publishes one alert.
func (n *KafkaNotifier) Deliver(ctx context.Context, t domain.Trade) error {
	a := NewAlert(t, n.now())
	value, err := json.Marshal(alertMessage{
		AlertID:     a.AlertID,
		Target:      a.Target,
		TxID:        t.TxID,
		BlockTime:   t.BlockTime.Unix(),
		FromAddress: t.FromAddress,
		Amount:      t.Amount.String(),
		TokenIn:     t.TokenIn,
		TokenOut:    t.TokenOut,
		Platform:    t.Platform,
		DetectedAt:  a.DetectedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal alert: %w", domain.ErrNotify, err)
	}

	msg := kafka.Message{
		Key:   []byte(t.TxID),
		Value: value,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka write: %w", domain.ErrNotify, err)
	}
	return nil
}

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
