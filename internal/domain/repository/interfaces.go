package repository

import (
	"context"
	"time"

	"AstroCal/internal/domain/models"
)

// ChartStore persists assembled charts and the conjunction events found for them.
type ChartStore interface {
	SaveChart(ctx context.Context, c *models.Chart) error
	// GetChart returns models.ErrNotFound for unknown ids.
	GetChart(ctx context.Context, id string) (*models.Chart, error)
	SaveEvents(ctx context.Context, chartID string, events []models.ConjunctionEvent) error
	// ListEvents returns events dated within [from, to] in date order. Zero
	// bounds are open; limit <= 0 means no limit.
	ListEvents(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.ConjunctionEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher fans found events out to downstream consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, chartID string, events []models.ConjunctionEvent) error
	Close() error
}

// Metrics is implemented by pkg/metrics.Recorder.
type Metrics interface {
	RecordProviderCall(op string, err error, seconds float64)
	RecordCache(op string, hit bool)
	RecordChart(kind string)
	RecordSearch(body string, events int, precision string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
