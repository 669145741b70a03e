package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/config"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces layer-ready notices to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes layer notices in a single WriteMessages
// call. Notices are keyed by dataset so one dataset's rebuilds stay ordered.
func (w *Writer) LoadBatch(ctx context.Context, notices []domain.LayerNotice) error {
	if len(notices) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(notices))
	for i := range notices {
		msg, err := serializeToMessage(notices[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write layer notices: %w", err)
	}
	w.logger.Debug("layer notices written", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a LayerNotice into a Kafka message.
func serializeToMessage(n domain.LayerNotice) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize layer notice: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.Key.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dataset", Value: []byte(n.Key.Kind)},
			{Key: "period", Value: []byte(n.Key.Period)},
			{Key: "rendered_at", Value: []byte(n.RenderedAt.Format(time.RFC3339))},
		},
	}, nil
}
