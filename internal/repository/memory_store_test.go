package repository

import (
	"context"
	"testing"
	"time"

	"AstroCal/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, 10, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryChartStoreCharts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryChartStore()

	_, err := s.GetChart(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, s.SaveChart(ctx, &models.Chart{}), models.ErrValidation)

	c := &models.Chart{ID: "c1", Kind: models.NatalChart}
	require.NoError(t, s.SaveChart(ctx, c))
	got, err := s.GetChart(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.NatalChart, got.Kind)
}

func TestMemoryChartStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryChartStore()

	events := []models.ConjunctionEvent{
		{ID: "e3", Target: "Venus", Date: day(20)},
		{ID: "e1", Target: "Sun", Date: day(5)},
		{ID: "e2", Target: "Mars", Date: day(5)},
	}
	require.NoError(t, s.SaveEvents(ctx, "c1", events))
	// re-saving the same ids does not duplicate
	require.NoError(t, s.SaveEvents(ctx, "c1", events[:1]))

	all, err := s.ListEvents(ctx, "c1", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Mars", "Sun", "Venus"}, []string{all[0].Target, all[1].Target, all[2].Target})
	assert.Equal(t, "c1", all[0].ChartID)

	window, err := s.ListEvents(ctx, "c1", day(6), day(20), 0)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "e3", window[0].ID)

	limited, err := s.ListEvents(ctx, "c1", time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListEvents(ctx, "other", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.ErrorIs(t, s.SaveEvents(ctx, "", events), models.ErrValidation)
}
