package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"AstroCal/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChartConfigMergesDefaults(t *testing.T) {
	f := newFixture(SearchDefaults{})
	f.charts.defaults.AspectBodies = []string{"Sun", "Moon"}

	cfg := f.charts.Config(ChartInput{})
	assert.Equal(t, models.Placidus, cfg.HouseSystem)
	assert.Len(t, cfg.Points, 12)
	assert.Equal(t, []string{"Sun", "Moon"}, cfg.Aspects.Bodies)

	cfg = f.charts.Config(ChartInput{HouseSystem: models.WholeSign, Points: []models.Body{models.Sun}, AllPoints: true})
	assert.Equal(t, models.WholeSign, cfg.HouseSystem)
	assert.Equal(t, []models.Body{models.Sun}, cfg.Points)
	assert.True(t, cfg.Aspects.AllPoints)
}

func TestChartCreateAndGet(t *testing.T) {
	f := newFixture(SearchDefaults{})
	ctx := context.Background()

	c, err := f.charts.Create(ctx, ChartInput{Birth: testBirth()})
	require.NoError(t, err)
	assert.Equal(t, models.NatalChart, c.Kind)
	assert.Contains(t, c.Points, "Dsc")

	_, err = f.charts.Get(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "unsaved charts are not stored")

	c, err = f.charts.Create(ctx, ChartInput{Birth: testBirth(), Save: true})
	require.NoError(t, err)
	got, err := f.charts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = f.charts.Create(ctx, ChartInput{Birth: testBirth(), HouseSystem: "topocentric"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "validation", errorKind(fmt.Errorf("x: %w", models.NewValidationError("f", "bad"))))
	assert.Equal(t, "configuration", errorKind(models.NewConfigurationError("f", "bad")))
	assert.Equal(t, "provider_unavailable", errorKind(&models.ProviderError{Unavailable: true}))
	assert.Equal(t, "provider", errorKind(&models.ProviderError{}))
	assert.Equal(t, "cancelled", errorKind(context.DeadlineExceeded))
	assert.Equal(t, "internal", errorKind(errors.New("boom")))
}
