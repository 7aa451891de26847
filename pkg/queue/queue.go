package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a job error that retrying cannot fix. Such messages go
// straight to the dead letter list.
var ErrPermanent = errors.New("permanent job failure")

// Enqueuer submits messages for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

type Config struct {
	Workers    int           // number of workers
	RetryLimit int           // retries before the dead letter list
	RetryDelay time.Duration // delay before a failed message is retried
	// PopTimeout bounds one blocking pop so workers notice Stop.
	PopTimeout time.Duration
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
