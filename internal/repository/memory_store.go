package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
)

// MemoryChartStore keeps charts and events in process. Used when no
// ClickHouse is configured and by tests.
type MemoryChartStore struct {
	mu     sync.RWMutex
	charts map[string]models.Chart
	events map[string]map[string]models.ConjunctionEvent // chart id -> event id
}

var _ domrepo.ChartStore = (*MemoryChartStore)(nil)

func NewMemoryChartStore() *MemoryChartStore {
	return &MemoryChartStore{
		charts: make(map[string]models.Chart),
		events: make(map[string]map[string]models.ConjunctionEvent),
	}
}

// SaveChart stores c, replacing any chart with the same id.
func (s *MemoryChartStore) SaveChart(_ context.Context, c *models.Chart) error {
	if c == nil || c.ID == "" {
		return models.NewValidationError("chart.id", "is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts[c.ID] = *c
	return nil
}

func (s *MemoryChartStore) GetChart(_ context.Context, id string) (*models.Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.charts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

// SaveEvents upserts events by id.
func (s *MemoryChartStore) SaveEvents(_ context.Context, chartID string, events []models.ConjunctionEvent) error {
	if chartID == "" {
		return models.NewValidationError("chart_id", "is required")
	}
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.events[chartID]
	if !ok {
		m = make(map[string]models.ConjunctionEvent, len(events))
		s.events[chartID] = m
	}
	for _, ev := range events {
		ev.ChartID = chartID
		m[ev.ID] = ev
	}
	return nil
}

func (s *MemoryChartStore) ListEvents(_ context.Context, chartID string, from, to time.Time, limit int) ([]models.ConjunctionEvent, error) {
	s.mu.RLock()
	out := make([]models.ConjunctionEvent, 0, len(s.events[chartID]))
	for _, ev := range s.events[chartID] {
		if !from.IsZero() && ev.Date.Before(from) {
			continue
		}
		if !to.IsZero() && ev.Date.After(to) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryChartStore) Health(context.Context) error { return nil }

func (s *MemoryChartStore) Close() error { return nil }
