package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/chart"
	"AstroCal/internal/services/conjunction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSearchAssemblesNatalChartAndPersists(t *testing.T) {
	f := newFixture(SearchDefaults{})
	wantID := chart.ChartID(testBirth(), models.NatalChart, models.Placidus)
	f.publisher.On("PublishEvents", mock.Anything, wantID, mock.MatchedBy(func(evs []models.ConjunctionEvent) bool {
		return len(evs) == 2
	})).Return(nil).Once()

	res, err := f.search.Search(context.Background(), SearchInput{
		Birth: testBirth(),
		Start: windowStart,
		End:   day(120),
		Save:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, wantID, res.ChartID)

	// Progressed Moon runs 270..282; natal Sun sits at 275.2667 and Dsc at 280.
	require.Len(t, res.Events, 2)
	assert.Equal(t, "Sun", res.Events[0].Target)
	assert.True(t, res.Events[0].Date.Equal(day(53)))
	assert.Equal(t, "Dsc", res.Events[1].Target)
	assert.True(t, res.Events[1].Date.Equal(day(100)))
	for _, ev := range res.Events {
		assert.Equal(t, wantID, ev.ChartID)
		assert.Equal(t, models.Moon, ev.ProgressedBody)
		assert.Equal(t, models.PrecisionEphemeris, ev.Precision)
	}

	_, err = f.store.GetChart(context.Background(), wantID)
	require.NoError(t, err)
	stored, err := f.search.Events(context.Background(), wantID, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	f.publisher.AssertExpectations(t)
}

func TestSearchWithoutSaveSkipsStoreAndPublisher(t *testing.T) {
	f := newFixture(SearchDefaults{})
	res, err := f.search.Search(context.Background(), SearchInput{
		Birth: testBirth(),
		Natal: map[string]float64{"Sun": 275.2667},
		Start: windowStart,
		End:   day(120),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	stored, err := f.store.ListEvents(context.Background(), res.ChartID, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
	f.publisher.AssertNotCalled(t, "PublishEvents", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.provider.calls, "explicit natal longitudes need no chart")
}

func TestSearchExcludesProgressedBodyUnlessAsked(t *testing.T) {
	f := newFixture(SearchDefaults{})
	in := SearchInput{
		Birth: testBirth(),
		Natal: map[string]float64{"Moon": 275, "Sun": 275.2667},
		Start: windowStart,
		End:   day(120),
	}
	res, err := f.search.Search(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Sun", res.Events[0].Target)

	in.IncludeSelf = true
	res, err = f.search.Search(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "Moon", res.Events[0].Target)
	assert.True(t, res.Events[0].Date.Equal(day(50)))
}

func TestSearchExplicitSelfTargetIsKept(t *testing.T) {
	f := newFixture(SearchDefaults{})
	in := SearchInput{
		Birth:   testBirth(),
		Natal:   map[string]float64{"Moon": 275},
		Targets: []string{"Moon"},
		Start:   windowStart,
		End:     day(120),
	}
	res, err := f.search.Search(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Moon", res.Events[0].Target)
	assert.True(t, res.Events[0].Date.Equal(day(50)))
}

func TestSearchSeveralBodiesMergedInDateOrder(t *testing.T) {
	f := newFixture(SearchDefaults{Parallelism: 2})
	f.source.base[models.Sun] = 271.95
	f.source.rate[models.Sun] = 0.001

	var progressCalls atomic.Int64
	res, err := f.search.Search(context.Background(), SearchInput{
		Birth:  testBirth(),
		Natal:  map[string]float64{"Venus": 272, "Mars": 276},
		Bodies: []models.Body{models.Moon, models.Sun, models.Moon},
		Start:  windowStart,
		End:    day(120),
		Progress: func(models.Body, conjunction.Progress) {
			progressCalls.Add(1)
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)

	assert.Equal(t, models.Moon, res.Events[0].ProgressedBody)
	assert.Equal(t, "Venus", res.Events[0].Target)
	assert.True(t, res.Events[0].Date.Equal(day(20)))

	assert.Equal(t, models.Sun, res.Events[1].ProgressedBody)
	assert.Equal(t, "Venus", res.Events[1].Target)
	assert.True(t, res.Events[1].Date.Equal(day(50)))

	assert.Equal(t, models.Moon, res.Events[2].ProgressedBody)
	assert.Equal(t, "Mars", res.Events[2].Target)
	assert.True(t, res.Events[2].Date.Equal(day(60)))

	// duplicate bodies are searched once: 121 steps each
	assert.Equal(t, int64(2*121), progressCalls.Load())
}

func TestSearchFallsBackToMeanMotion(t *testing.T) {
	f := newFixture(SearchDefaults{})
	f.source.err = &models.ProviderError{Op: "progressed", Unavailable: true}

	in := SearchInput{
		Birth: testBirth(),
		Natal: map[string]float64{"Moon": 5.2667, "Sun": 275.2667},
		Start: windowStart,
		End:   day(10),
	}
	_, err := f.search.Search(context.Background(), in)
	require.ErrorIs(t, err, models.ErrProviderUnavailable)

	allow := true
	in.Fallback = &allow
	var precision models.Precision
	in.Progress = func(_ models.Body, p conjunction.Progress) { precision = p.Precision }
	_, err = f.search.Search(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PrecisionMeanMotion, precision)
}

func TestSearchRejectsBadInput(t *testing.T) {
	f := newFixture(SearchDefaults{MaxWindow: 30 * 24 * time.Hour})
	ctx := context.Background()
	base := SearchInput{Birth: testBirth(), Natal: map[string]float64{"Sun": 1}, Start: windowStart, End: day(10)}

	tests := []struct {
		name   string
		mutate func(*SearchInput)
		want   error
	}{
		{"window too long", func(in *SearchInput) { in.End = day(31) }, models.ErrValidation},
		{"end before start", func(in *SearchInput) { in.End = day(-1) }, models.ErrValidation},
		{"no birth", func(in *SearchInput) { in.Birth = models.BirthData{} }, models.ErrValidation},
		{"unknown target", func(in *SearchInput) { in.Targets = []string{"Eris"} }, models.ErrValidation},
		{"angle cannot progress", func(in *SearchInput) { in.Bodies = []models.Body{models.Asc} }, models.ErrValidation},
		{"unknown chart", func(in *SearchInput) { in.ChartID = "missing" }, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.search.Search(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSearchFromStoredChart(t *testing.T) {
	f := newFixture(SearchDefaults{})
	ctx := context.Background()

	natal, err := f.charts.Create(ctx, ChartInput{Birth: testBirth(), Save: true})
	require.NoError(t, err)

	res, err := f.search.Search(ctx, SearchInput{
		ChartID: natal.ID,
		Targets: []string{"Sun"},
		Start:   windowStart,
		End:     day(120),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, natal.ID, res.Events[0].ChartID)

	draconic, err := f.charts.Create(ctx, ChartInput{
		Birth:    testBirth(),
		Points:   []models.Body{models.Sun, models.Moon, models.TrueNorthNode},
		Draconic: true,
		Save:     true,
	})
	require.NoError(t, err)
	_, err = f.search.Search(ctx, SearchInput{ChartID: draconic.ID, Start: windowStart, End: day(10)})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPosition(t *testing.T) {
	f := newFixture(SearchDefaults{})
	pos, err := f.search.Position(context.Background(), testBirth(), day(10), "")
	require.NoError(t, err)
	assert.Equal(t, models.Moon, pos.Body)
	assert.InDelta(t, 271.0, pos.Longitude, 1e-9)

	_, err = f.search.Position(context.Background(), testBirth(), day(10), models.MC)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.search.Position(context.Background(), models.BirthData{}, day(10), models.Moon)
	assert.ErrorIs(t, err, models.ErrValidation)
}
