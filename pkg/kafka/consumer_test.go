package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls   atomic.Int32
	failFor int32
	err     error
	panics  bool
}

func (h *countingHandler) Topic() string { return "guardrail.test" }

func (h *countingHandler) Handle(context.Context, []byte) error {
	n := h.calls.Add(1)
	if h.panics {
		panic("boom")
	}
	if n <= h.failFor {
		return h.err
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	return c
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestHandleWithRetry_RecoversAfterTransientErrors(t *testing.T) {
	c := newTestConsumer(t, 3)
	h := &countingHandler{failFor: 2, err: errors.New("ledger busy")}

	attempts, err := c.handleWithRetry(h, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestHandleWithRetry_GivesUp(t *testing.T) {
	c := newTestConsumer(t, 2)
	h := &countingHandler{failFor: 100, err: errors.New("ledger busy")}

	attempts, err := c.handleWithRetry(h, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestHandleWithRetry_PermanentErrorNotRetried(t *testing.T) {
	c := newTestConsumer(t, 5)
	h := &countingHandler{failFor: 100, err: fmt.Errorf("decode: %w", ErrPermanent)}

	attempts, err := c.handleWithRetry(h, nil)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)
}

func TestHandleWithRetry_PanicIsAnError(t *testing.T) {
	c := newTestConsumer(t, 0)
	h := &countingHandler{panics: true}

	_, err := c.handleWithRetry(h, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRegisterHandler_FirstWins(t *testing.T) {
	c := newTestConsumer(t, 0)
	first := &countingHandler{}
	c.RegisterHandler(first)
	c.RegisterHandler(&countingHandler{})
	assert.Same(t, first, c.handlers["guardrail.test"])
}

func TestPartitionLock_Stable(t *testing.T) {
	c := newTestConsumer(t, 0)
	assert.Same(t, c.partitionLock("a", 1), c.partitionLock("a", 1))
	assert.NotSame(t, c.partitionLock("a", 1), c.partitionLock("a", 2))
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 200*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}
