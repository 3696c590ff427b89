package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEvent() Event {
	return Event{
		ID:          "0b5c7c1e-5d3c-4f0e-9d4c-3c1a2b3c4d5e",
		Type:        "payroll.run.completed",
		AggregateID: "run-1",
		OccurredAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:     json.RawMessage(`{"status":"completed","completedItems":2,"totalItems":2}`),
	}
}

func TestEncodeGolden(t *testing.T) {
	msg, err := Encode(context.Background(), fixedEvent())
	require.NoError(t, err)
	assert.Equal(t, "run-1", string(msg.Key))
	assert.Equal(t, "payroll.run.completed", HeaderValue(msg.Headers, "event_type"))

	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, msg.Value, "", "  "))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_completed_event", buf.Bytes())
}

func TestNewEncodesPayload(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 0, 0, 0, time.FixedZone("x", 2*3600))
	ev, err := New("payroll.item.settled", "run-9", map[string]string{"itemId": "i1"}, at)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())
	assert.JSONEq(t, `{"itemId":"i1"}`, string(ev.Payload))

	_, err = New("bad", "run-9", make(chan int), at)
	assert.Error(t, err)
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestKafkaPublish(t *testing.T) {
	w := &captureWriter{}
	pub := NewKafka(slog.New(slog.NewTextHandler(io.Discard, nil)), w)
	require.NoError(t, pub.Publish(context.Background(), fixedEvent()))
	require.Len(t, w.msgs, 1)
	assert.Empty(t, w.msgs[0].Topic)

	w.err = errors.New("broker down")
	assert.Error(t, pub.Publish(context.Background(), fixedEvent()))
}

func TestMemoryPublisher(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Publish(ctx, Event{Type: "a"}))
	require.NoError(t, m.Publish(ctx, Event{Type: "b"}))
	assert.Len(t, m.Events(), 2)
	assert.Len(t, m.OfType("b"), 1)

	m.FailWith(errors.New("down"))
	assert.Error(t, m.Publish(ctx, Event{Type: "c"}))
	m.FailWith(nil)
	m.Reset()
	assert.Empty(t, m.Events())
}
