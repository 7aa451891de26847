// Package cache holds ephemeris lookups in memory, in Redis, or in both.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is a typed key-value cache. Values are JSON encoded, so a value
// written by one backend decodes the same way from another.
type Service interface {
	// Get decodes the value stored at key into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores value at key. A non-positive ttl uses the backend default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Key joins a namespace and its parts with ':'.
func Key(namespace string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// DecodeError reports a stored value that no longer matches its destination.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("cache: decode %s: %v", e.Key, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(value)
	}
}

func decode(key string, data []byte, dest interface{}) error {
	if d, ok := dest.(*[]byte); ok {
		*d = append([]byte(nil), data...)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	return nil
}
