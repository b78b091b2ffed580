package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/membership-system/pkg/logger"
)

// =============================================================================
// Фейки
// =============================================================================

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader отдаёт заранее заданные сообщения, затем блокируется до отмены ctx.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
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

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []*Message
	err  error
}

func (d *fakeDLQ) SendToDLQ(_ context.Context, msg *Message, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

var fastRetry = RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}

// =============================================================================
// Producer
// =============================================================================

func TestProducer_SendMessage_AddsHeadersFromContext(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w)
	p.now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }

	ctx := logger.NewContextWithIDs(context.Background(), "trace-1", "corr-1")
	msg := &Message{
		Topic:   TopicNotifications,
		Key:     []byte("TX1"),
		Value:   []byte(`{"kind":"payment_succeeded"}`),
		Headers: map[string]string{HeaderCorrelationID: "corr-own", HeaderEventType: "payment_succeeded"},
	}
	require.NoError(t, p.SendMessage(ctx, msg))

	require.Len(t, w.msgs, 1)
	sent := fromKafkaMessage(w.msgs[0])
	assert.Equal(t, TopicNotifications, sent.Topic)
	assert.Equal(t, "TX1", string(sent.Key))
	assert.Equal(t, "trace-1", sent.Headers[HeaderTraceID])
	assert.Equal(t, "corr-own", sent.Headers[HeaderCorrelationID], "заданный header не перезаписывается")
	assert.Equal(t, "2024-03-15T10:00:00Z", sent.Headers[HeaderTimestamp])
	assert.Equal(t, "payment_succeeded", sent.Headers[HeaderEventType])
}

func TestProducer_SendMessage_Error(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("leader not available")})

	err := p.SendMessage(context.Background(), &Message{Topic: TopicNotifications})
	assert.ErrorContains(t, err, "leader not available")
}

func TestProducer_SendToDLQ(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w)

	original := &Message{
		Topic:   TopicNotifications,
		Key:     []byte("TX1"),
		Value:   []byte("not json"),
		Headers: map[string]string{HeaderTraceID: "trace-1"},
	}
	require.NoError(t, p.SendToDLQ(context.Background(), original, errors.New("некорректное событие")))

	require.Len(t, w.msgs, 1)
	sent := fromKafkaMessage(w.msgs[0])
	assert.Equal(t, TopicDLQ, sent.Topic)
	assert.Equal(t, "not json", string(sent.Value))
	assert.Equal(t, "некорректное событие", sent.Headers[HeaderDLQError])
	assert.Equal(t, TopicNotifications, sent.Headers[HeaderDLQOriginalTopic])
	assert.Equal(t, "trace-1", sent.Headers[HeaderTraceID])
	assert.NotContains(t, original.Headers, HeaderDLQError, "исходное сообщение не меняется")
}

// =============================================================================
// Consumer
// =============================================================================

func runConsumer(t *testing.T, c *Consumer, handler MessageHandler, until func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()

	assert.Eventually(t, until, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumer_CommitsHandledMessages(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("a"), Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("trace-1")}}},
		{Offset: 2, Value: []byte("b")},
	}}
	c := newConsumer(r, TopicNotifications, fastRetry)

	var (
		mu     sync.Mutex
		traces []string
	)
	handler := func(ctx context.Context, _ *Message) error {
		mu.Lock()
		defer mu.Unlock()
		traces = append(traces, logger.TraceIDFromContext(ctx))
		return nil
	}

	runConsumer(t, c, handler, func() bool { return len(r.commits()) == 2 })

	assert.Equal(t, []int64{1, 2}, r.commits())
	assert.Equal(t, []string{"trace-1", ""}, traces)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: []byte("x")}}}
	dlq := &fakeDLQ{}
	c := newConsumer(r, TopicNotifications, fastRetry).WithDeadLetter(dlq)

	var (
		mu    sync.Mutex
		calls int
	)
	handler := func(context.Context, *Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("smtp down")
	}

	runConsumer(t, c, handler, func() bool { return len(r.commits()) == 1 })

	assert.Equal(t, 3, calls, "первая попытка и два повтора")
	assert.Equal(t, 1, dlq.count())
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 3}}}
	dlq := &fakeDLQ{}
	c := newConsumer(r, TopicNotifications, fastRetry).WithDeadLetter(dlq)

	var (
		mu    sync.Mutex
		calls int
	)
	handler := func(context.Context, *Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return Permanent(errors.New("неизвестный тип события"))
	}

	runConsumer(t, c, handler, func() bool { return len(r.commits()) == 1 })

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, dlq.count())
}

func TestConsumer_DoesNotCommitWhenDLQFails(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 4}, {Offset: 5, Value: []byte("ok")}}}
	dlq := &fakeDLQ{err: errors.New("dlq unavailable")}
	c := newConsumer(r, TopicNotifications, RetryPolicy{}).WithDeadLetter(dlq)

	handler := func(_ context.Context, msg *Message) error {
		if string(msg.Value) == "ok" {
			return nil
		}
		return errors.New("smtp down")
	}

	runConsumer(t, c, handler, func() bool { return len(r.commits()) == 1 })

	assert.Equal(t, []int64{5}, r.commits())
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	cause := errors.New("bad payload")
	err := Permanent(cause)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, cause)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 800*time.Millisecond, p.delay(3))
}

func TestMessage_HeadersRoundTrip(t *testing.T) {
	msg := &Message{
		Topic:   TopicNotifications,
		Key:     []byte("TX1"),
		Headers: map[string]string{HeaderTraceID: "t", HeaderEventType: "payment_failed", HeaderCorrelationID: "c"},
	}

	km := msg.toKafkaMessage()
	keys := make([]string, 0, len(km.Headers))
	for _, h := range km.Headers {
		keys = append(keys, h.Key)
	}
	assert.Equal(t, []string{HeaderCorrelationID, HeaderEventType, HeaderTraceID}, keys)
	assert.Equal(t, msg.Headers, fromKafkaMessage(km).Headers)
}
