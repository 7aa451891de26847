package queue

import "context"

// Job handles every message of one type.
type Job interface {
	// Name identifies the job in logs.
	Name() string
	// Type is the message type the job consumes.
	Type() string
	Handle(ctx context.Context, payload []byte) error
}
