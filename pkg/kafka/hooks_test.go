package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookChainOrder(t *testing.T) {
	var calls []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				calls = append(calls, "before:"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				calls = append(calls, "after:"+name)
			},
		}
	}

	chain := NewHookChain(mk("a"), nil, mk("b"))
	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "xab", string(data))

	chain.AfterHandle(ctx, "t", km, data, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, calls)
}

func TestHookChainRecoversPanics(t *testing.T) {
	var seen error
	chain := NewHookChain(
		HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err }},
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		}},
		HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { panic("after") }},
	)

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	require.ErrorIs(t, err, ErrHookPanic)
	assert.Equal(t, err, seen)

	assert.NotPanics(t, func() {
		chain.AfterHandle(context.Background(), "t", kafka.Message{}, nil, nil)
	})
}

func TestLoggingHookStoresTraceID(t *testing.T) {
	h := NewLoggingHook(nil)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, _, err := h.BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	_, ok := StartTime(ctx)
	assert.True(t, ok)
	assert.NotPanics(t, func() { h.AfterHandle(ctx, "t", km, nil, nil) })
}

func TestTraceIDFallsBackToRequestID(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "x-request-id", Value: []byte("req-1")}}}
	assert.Equal(t, "req-1", headerTraceID(km))
	assert.Empty(t, headerTraceID(kafka.Message{}))
}

func TestSizeLimitHook(t *testing.T) {
	h := NewSizeLimitHook(4)
	_, _, _, err := h.BeforeHandle(context.Background(), "jobs", kafka.Message{}, []byte("12345"))
	assert.ErrorIs(t, err, ErrPermanent)
	_, _, _, err = h.BeforeHandle(context.Background(), "jobs", kafka.Message{}, []byte("1234"))
	assert.NoError(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestShardIsStablePerPartition(t *testing.T) {
	for p := 0; p < 12; p++ {
		a := shard("astrocal.search.jobs", p, 4)
		assert.Equal(t, a, shard("astrocal.search.jobs", p, 4))
		assert.GreaterOrEqual(t, a, 0)
		assert.Less(t, a, 4)
	}
	assert.Equal(t, 0, shard("t", 3, 1))
}

type recordingHandler struct {
	calls int
	errs  []error
}

func (h *recordingHandler) Topic() string { return "jobs" }

func (h *recordingHandler) Handle(context.Context, []byte) error {
	h.calls++
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func TestHandleWithRetry(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond))
	require.NoError(t, err)
	km := kafka.Message{Topic: "jobs", Value: []byte("{}")}

	h := &recordingHandler{errs: []error{errors.New("flaky")}}
	attempts, err := c.handleWithRetry(context.Background(), h, km)
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	h = &recordingHandler{errs: []error{fmt.Errorf("bad job: %w", ErrPermanent)}}
	attempts, err = c.handleWithRetry(context.Background(), h, km)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, attempts)

	down := errors.New("down")
	h = &recordingHandler{errs: []error{down, down, down, down}}
	attempts, err = c.handleWithRetry(context.Background(), h, km)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 3, attempts)
}

func TestStartRequiresHandler(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
	_, err = NewProducer()
	assert.Error(t, err)
}
