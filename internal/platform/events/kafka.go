package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a single topic keyed by aggregate id.
type Kafka struct {
	log    *slog.Logger
	writer Writer
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafka(log *slog.Logger, writer Writer) *Kafka {
	return &Kafka{log: log, writer: writer}
}

func (k *Kafka) Publish(ctx context.Context, event Event) error {
	msg, err := Encode(ctx, event)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Error("event publish failed", "eventId", event.ID, "type", event.Type, "err", err)
		return err
	}
	k.log.Debug("event published", "eventId", event.ID, "type", event.Type, "aggregateId", event.AggregateID)
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Encode builds the wire message, carrying the trace context in headers.
func Encode(ctx context.Context, event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	return kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: InjectHeaders(ctx, headers),
		Time:    event.OccurredAt,
	}, nil
}

func InjectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func ExtractHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
