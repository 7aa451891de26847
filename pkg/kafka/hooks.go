package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	applogger "AstroCal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// ErrPermanent marks a handler error that retrying cannot fix, such as a
// malformed payload. Wrap it with %w.
var ErrPermanent = errors.New("permanent failure")

// ErrHookPanic is returned by a chain whose BeforeHandle hook panicked.
var ErrHookPanic = errors.New("consumer hook panicked")

// ConsumerHook observes message handling. An error from BeforeHandle skips
// the handler; the message is then treated as failed.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil fields do nothing.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

// HookChain runs BeforeHandle in order, each hook seeing what the previous
// one returned, and AfterHandle in reverse. A panicking hook is contained.
type HookChain []ConsumerHook

// NewHookChain drops nil hooks.
func NewHookChain(hooks ...ConsumerHook) HookChain {
	chain := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	for _, h := range c {
		nctx, nkm, ndata, err := guardedBefore(h, ctx, topic, km, data)
		if err != nil {
			c.OnError(ctx, topic, km, data, err)
			return ctx, km, data, err
		}
		ctx, km, data = nctx, nkm, ndata
	}
	return ctx, km, data, nil
}

func (c HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		guarded(func() { c[i].AfterHandle(ctx, topic, km, data, err) })
	}
}

func (c HookChain) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for _, h := range c {
		guarded(func() { h.OnError(ctx, topic, km, data, err) })
	}
}

func guardedBefore(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, data []byte) (rctx context.Context, rkm kafka.Message, rdata []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			rctx, rkm, rdata = ctx, km, data
			err = fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	return h.BeforeHandle(ctx, topic, km, data)
}

func guarded(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

type ctxKey int

const (
	startKey ctxKey = iota
	traceKey
)

// TraceHeaders are checked in order for a correlation id.
var TraceHeaders = []string{"trace_id", "x-request-id"}

func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey, id)
}

// TraceID returns the id set by WithTraceID, or "".
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey).(string)
	return s
}

// StartTime returns when the logging hook saw the message.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startKey).(time.Time)
	return t, ok
}

func headerTraceID(km kafka.Message) string {
	for _, name := range TraceHeaders {
		for _, h := range km.Headers {
			if h.Key == name && len(h.Value) > 0 {
				return string(h.Value)
			}
		}
	}
	return ""
}

// NewLoggingHook puts the trace id and start time on the context and logs
// every handled message at debug.
func NewLoggingHook(l *applogger.Logger) ConsumerHook {
	if l == nil {
		l = applogger.Nop()
	}
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = context.WithValue(ctx, startKey, time.Now())
			return WithTraceID(ctx, headerTraceID(km)), km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			fields := []applogger.Field{
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.String("trace_id", TraceID(ctx)),
				applogger.Bool("ok", err == nil),
			}
			if t, ok := StartTime(ctx); ok {
				fields = append(fields, applogger.Duration("took", time.Since(t)))
			}
			l.Debug("kafka message handled", fields...)
		},
	}
}

// NewSizeLimitHook rejects payloads over max bytes as permanent failures.
func NewSizeLimitHook(max int) ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			if max > 0 && len(data) > max {
				return ctx, km, data, fmt.Errorf("%s payload is %d bytes, limit %d: %w", topic, len(data), max, ErrPermanent)
			}
			return ctx, km, data, nil
		},
	}
}
