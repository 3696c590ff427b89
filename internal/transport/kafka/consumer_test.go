package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrollx/internal/domain/payroll"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	done      chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{pending: msgs, done: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []payroll.IdempotencyKey
	errs  []error
}

func (h *fakeHandler) OnItemResult(_ context.Context, key payroll.IdempotencyKey, _ payroll.Outcome) (payroll.Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, key)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return payroll.Run{}, err
	}
	return payroll.Run{ID: key.RunID}, nil
}

func message(t *testing.T, offset int64, msg payroll.ResultMessage) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: raw}
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	require.NoError(t, <-errc)
}

func TestConsumerAppliesAndCommits(t *testing.T) {
	reader := newFakeReader(
		message(t, 1, payroll.ResultMessage{IdempotencyKey: "run-1:item-1", Status: "success", Signature: "sig"}),
		kafka.Message{Offset: 2, Value: []byte("not json")},
		message(t, 3, payroll.ResultMessage{IdempotencyKey: "broken", Status: "success", Signature: "sig"}),
		message(t, 4, payroll.ResultMessage{IdempotencyKey: "run-1:item-2", Status: "failed", Reason: "timeout"}),
	)
	handler := &fakeHandler{}
	consumer := NewConsumer(reader, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	runUntilDrained(t, consumer, reader)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.Committed())
	assert.Equal(t, []payroll.IdempotencyKey{{RunID: "run-1", ItemID: "item-1"}, {RunID: "run-1", ItemID: "item-2"}}, handler.calls)
}

func TestConsumerRetriesRetryableErrors(t *testing.T) {
	reader := newFakeReader(message(t, 7, payroll.ResultMessage{IdempotencyKey: "run-1:item-1", Status: "success", Signature: "sig"}))
	handler := &fakeHandler{errs: []error{payroll.ErrRunBusy, payroll.ErrVersionConflict}}
	consumer := NewConsumer(reader, handler, slog.New(slog.NewTextHandler(io.Discard, nil))).WithBackoff(time.Millisecond, 5*time.Millisecond)

	runUntilDrained(t, consumer, reader)

	assert.Len(t, handler.calls, 3)
	assert.Equal(t, []int64{7}, reader.Committed())
}

func TestConsumerCommitsPermanentFailures(t *testing.T) {
	reader := newFakeReader(
		message(t, 1, payroll.ResultMessage{IdempotencyKey: "run-1:item-1", Status: "success", Signature: "other"}),
		message(t, 2, payroll.ResultMessage{IdempotencyKey: "run-9:item-1", Status: "success", Signature: "sig"}),
	)
	handler := &fakeHandler{errs: []error{payroll.ErrConflictingCompletion, errors.Join(payroll.ErrRunNotFound)}}
	consumer := NewConsumer(reader, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	runUntilDrained(t, consumer, reader)

	assert.Len(t, handler.calls, 2)
	assert.Equal(t, []int64{1, 2}, reader.Committed())
}
