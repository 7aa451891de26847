package usecase

import (
	"context"
	"sync"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/repository"
	"AstroCal/internal/services/chart"
	"AstroCal/internal/services/progression"
	"AstroCal/internal/services/zodiac"
	"AstroCal/pkg/metrics"

	"github.com/stretchr/testify/mock"
)

type fakeProvider struct {
	mu        sync.Mutex
	positions map[models.Body]models.Position
	calls     int
}

func (f *fakeProvider) Positions(_ context.Context, _ models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make(map[models.Body]models.Position, len(bodies))
	for _, b := range bodies {
		if p, ok := f.positions[b]; ok {
			out[b] = p
		}
	}
	return out, nil
}

func (f *fakeProvider) HouseCusps(context.Context, models.EphemerisQuery, models.HouseSystem) (map[int]float64, error) {
	cusps := make(map[int]float64, 12)
	for i := 1; i <= 12; i++ {
		cusps[i] = zodiac.Normalize(100 + float64(i-1)*30)
	}
	return cusps, nil
}

func newProvider() *fakeProvider {
	return &fakeProvider{positions: map[models.Body]models.Position{
		models.Sun:           {Longitude: 275.2667},
		models.Moon:          {Longitude: 5.2667},
		models.Mercury:       {Longitude: 256.1},
		models.Venus:         {Longitude: 240.9},
		models.Mars:          {Longitude: 213.4},
		models.Jupiter:       {Longitude: 51.2},
		models.Saturn:        {Longitude: 334.8},
		models.Uranus:        {Longitude: 162.1},
		models.Neptune:       {Longitude: 228.6},
		models.Pluto:         {Longitude: 175.9},
		models.Asc:           {Longitude: 100},
		models.MC:            {Longitude: 350.5},
		models.TrueNorthNode: {Longitude: 70.25},
	}}
}

// lineSource moves each body linearly from windowStart. It is stateless so
// concurrent searches can share it.
type lineSource struct {
	base map[models.Body]float64
	rate map[models.Body]float64
	err  error
}

func (s *lineSource) Longitude(_ context.Context, _ models.BirthData, target time.Time, body models.Body) (models.ProgressedPosition, error) {
	if s.err != nil {
		return models.ProgressedPosition{}, s.err
	}
	days := target.Sub(windowStart).Hours() / 24
	lon := zodiac.Normalize(s.base[body] + s.rate[body]*days)
	return models.ProgressedPosition{Body: body, TargetDate: target, Longitude: lon, Precision: s.Precision()}, nil
}

func (s *lineSource) Precision() models.Precision { return models.PrecisionEphemeris }

var _ progression.Source = (*lineSource)(nil)

type publisherMock struct{ mock.Mock }

func (m *publisherMock) PublishEvents(ctx context.Context, chartID string, events []models.ConjunctionEvent) error {
	return m.Called(ctx, chartID, events).Error(0)
}

func (m *publisherMock) Close() error { return nil }

var windowStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return windowStart.AddDate(0, 0, n) }

func testBirth() models.BirthData {
	return models.BirthData{
		Instant:   time.Date(1964, 12, 26, 21, 12, 0, 0, time.FixedZone("-03", -3*3600)),
		Latitude:  -34.6118,
		Longitude: -58.3960,
		TimeZone:  "America/Argentina/Buenos_Aires",
	}
}

type fixture struct {
	provider  *fakeProvider
	source    *lineSource
	store     *repository.MemoryChartStore
	publisher *publisherMock
	charts    *ChartUseCase
	search    *ProgressionUseCase
}

func newFixture(defaults SearchDefaults) *fixture {
	f := &fixture{
		provider: newProvider(),
		source: &lineSource{
			base: map[models.Body]float64{models.Moon: 270},
			rate: map[models.Body]float64{models.Moon: 0.1},
		},
		store:     repository.NewMemoryChartStore(),
		publisher: &publisherMock{},
	}
	points := append([]models.Body{}, models.ClassicalBodies...)
	points = append(points, models.Asc, models.MC)
	f.charts = NewChartUseCase(chart.NewAssembler(f.provider), f.store, metrics.Noop{}, ChartDefaults{
		Points:      points,
		HouseSystem: models.Placidus,
	})
	f.search = NewProgressionUseCase(f.charts, f.source, f.store, f.publisher, metrics.Noop{}, defaults)
	return f
}
