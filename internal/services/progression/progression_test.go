package progression

import (
	"context"
	"errors"
	"testing"
	"time"

	"AstroCal/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	lon     float64
	err     error
	missing bool
	queries []models.EphemerisQuery
}

func (p *recordingProvider) Positions(_ context.Context, q models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error) {
	p.queries = append(p.queries, q)
	if p.err != nil {
		return nil, p.err
	}
	if p.missing {
		return map[models.Body]models.Position{}, nil
	}
	return map[models.Body]models.Position{bodies[0]: {Longitude: p.lon}}, nil
}

func (p *recordingProvider) HouseCusps(context.Context, models.EphemerisQuery, models.HouseSystem) (map[int]float64, error) {
	return nil, errors.New("not used")
}

func natal() models.BirthData {
	return models.BirthData{
		Instant:   time.Date(1964, 12, 26, 21, 12, 0, 0, time.FixedZone("-03", -3*3600)),
		Latitude:  -34.6118,
		Longitude: -58.3960,
	}
}

func TestProgressedInstantDayForAYear(t *testing.T) {
	b := natal().Instant
	oneYear := time.Duration(YearDays * float64(24*time.Hour))

	assert.True(t, ProgressedInstant(b, b).Equal(b))
	assert.True(t, ProgressedInstant(b, b.Add(oneYear)).Equal(b.Add(24*time.Hour)))
	assert.WithinDuration(t, b.Add(60*24*time.Hour), ProgressedInstant(b, b.Add(60*oneYear)), time.Millisecond)

	_, off := ProgressedInstant(b, b.Add(oneYear)).Zone()
	assert.Equal(t, -3*3600, off, "location kept")
}

func TestYearsElapsed(t *testing.T) {
	b := natal().Instant
	target := time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)
	years := YearsElapsed(b, target)
	assert.InDelta(t, 60.83, years, 0.01)
}

func TestYearsElapsedUsesMeanTropicalYear(t *testing.T) {
	b := natal().Instant
	julianYear := b.Add(36525 * 24 * time.Hour / 100)
	assert.InDelta(t, 365.25/365.2421897, YearsElapsed(b, julianYear), 1e-9)
}

func TestCalculatorQueriesProgressedInstantAtNatalPlace(t *testing.T) {
	p := &recordingProvider{lon: 370.5}
	c := NewCalculator(p)
	b := natal()
	target := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := c.Longitude(context.Background(), b, target, models.Moon)
	require.NoError(t, err)
	require.Len(t, p.queries, 1)

	q := p.queries[0]
	assert.True(t, q.Instant.Equal(ProgressedInstant(b.Instant, target)))
	assert.False(t, q.Instant.Equal(target), "never a direct epoch lookup")
	assert.Equal(t, b.Latitude, q.Latitude)
	assert.Equal(t, b.Longitude, q.Longitude)

	assert.InDelta(t, 10.5, got.Longitude, 1e-9)
	assert.Equal(t, models.PrecisionEphemeris, got.Precision)
	assert.Equal(t, "Aries", got.Position.Sign)
	assert.Equal(t, models.PrecisionEphemeris, c.Precision())
}

func TestCalculatorErrors(t *testing.T) {
	c := NewCalculator(&recordingProvider{err: errors.New("julian day out of range")})
	_, err := c.Longitude(context.Background(), natal(), time.Now(), models.Moon)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.Moon, perr.Body)
	assert.False(t, perr.Instant.IsZero())

	c = NewCalculator(&recordingProvider{missing: true})
	_, err = c.Longitude(context.Background(), natal(), time.Now(), models.Moon)
	assert.ErrorIs(t, err, models.ErrProvider)

	unavailable := &models.ProviderError{Op: "positions", Unavailable: true, Err: errors.New("dial tcp")}
	c = NewCalculator(&recordingProvider{err: unavailable})
	_, err = c.Longitude(context.Background(), natal(), time.Now(), models.Moon)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestMeanMotion(t *testing.T) {
	b := natal()
	m := NewMeanMotion(map[models.Body]float64{models.Moon: 350})
	target := b.Instant.Add(time.Duration(2 * YearDays * float64(24*time.Hour)))

	got, err := m.Longitude(context.Background(), b, target, models.Moon)
	require.NoError(t, err)
	assert.InDelta(t, 350+2*13.176358-360, got.Longitude, 1e-6)
	assert.Equal(t, models.PrecisionMeanMotion, got.Precision)
	assert.Equal(t, models.PrecisionMeanMotion, m.Precision())

	_, err = m.Longitude(context.Background(), b, target, models.Sun)
	assert.ErrorIs(t, err, models.ErrConfiguration, "no natal anchor")

	_, err = m.Longitude(context.Background(), b, target, models.Chiron)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
