package relay

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
)

// Firehose publishes every canonical public message to a kafka topic for
// downstream consumers (archival, search indexing). Publishing is best
// effort and never affects delivery.
type Firehose struct {
	writer *kafka.Writer
}

func NewFirehose(brokers []string, topic string) *Firehose {
	return &Firehose{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (f *Firehose) Publish(ctx context.Context, msg model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failed to marshal firehose message")
		return
	}
	if err := f.writer.WriteMessages(ctx, kafka.Message{Value: data, Time: msg.Timestamp}); err != nil {
		log.WithError(err).WithField("id", msg.ID).Warn("firehose publish failed")
	}
}

func (f *Firehose) Close() error {
	return f.writer.Close()
}
