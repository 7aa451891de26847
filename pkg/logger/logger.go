// Package logger wraps zerolog with typed fields and an optional collector
// that aggregates repeated errors before shipping them to a publisher.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

// Logger is safe for concurrent use. Children made with With share the
// parent's collector, including one attached after the child was made.
type Logger struct {
	zl   zerolog.Logger
	sink *collectorSink
}

type collectorSink struct {
	c atomic.Pointer[LogCollector]
}

func New(cfg *Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		lv, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lv
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	zerolog.DurationFieldUnit = time.Millisecond

	switch cfg.Format {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl, sink: &collectorSink{}}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: &collectorSink{}}
}

func (l *Logger) With(fields ...Field) *Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = zc.Interface(f.Key, f.Value)
	}
	return &Logger{zl: zc.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...Field) { l.log(zerolog.FatalLevel, msg, fields) }

func (l *Logger) log(level zerolog.Level, msg string, fields []Field) {
	if c := l.collector(); c != nil && level >= c.minLevel && level < zerolog.FatalLevel {
		c.AddLog(level.String(), msg, fieldMap(fields), callerOf(3))
	}
	ev := l.zl.WithLevel(level)
	if ev == nil {
		if level == zerolog.FatalLevel {
			os.Exit(1)
		}
		return
	}
	for _, f := range fields {
		f.add(ev)
	}
	ev.Msg(msg)
	if level == zerolog.FatalLevel {
		os.Exit(1)
	}
}

func (l *Logger) collector() *LogCollector {
	if l.sink == nil {
		return nil
	}
	return l.sink.c.Load()
}

// AddCollector attaches a collector, closing any previous one.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.sink == nil {
		return
	}
	if old := l.sink.c.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector detaches the collector after a final flush.
func (l *Logger) RemoveCollector() {
	if l.sink == nil {
		return
	}
	if old := l.sink.c.Swap(nil); old != nil {
		old.Close()
	}
}

func fieldMap(fields []Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// callerOf reports dir/file.go:line for the frame skip levels up.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	dir := filepath.Base(filepath.Dir(file))
	return fmt.Sprintf("%s/%s:%d", dir, filepath.Base(file), line)
}

// Field is one structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
	add   func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: strings.Join(value, ","), add: func(e *zerolog.Event) { e.Strs(key, value) }}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Float64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Duration is written in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.Milliseconds(), add: func(e *zerolog.Event) { e.Dur(key, value) }}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339), add: func(e *zerolog.Event) { e.Time(key, value) }}
}

// Error uses the "error" key. A nil error is logged as null.
func Error(err error) Field {
	var msg interface{}
	if err != nil {
		msg = err.Error()
	}
	return Field{Key: zerolog.ErrorFieldName, Value: msg, add: func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value, add: func(e *zerolog.Event) { e.Interface(key, value) }}
}
