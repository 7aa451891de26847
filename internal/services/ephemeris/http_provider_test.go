package ephemeris

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"AstroCal/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func query() models.EphemerisQuery {
	return models.EphemerisQuery{
		Instant:   time.Date(1964, 12, 26, 21, 12, 0, 0, time.FixedZone("-03", -3*3600)),
		Latitude:  -34.6118,
		Longitude: -58.3960,
	}
}

func TestHTTPProviderPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req positionsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1964-12-26T21:12:00-03:00", req.Instant, "offset preserved")
		assert.Equal(t, -34.6118, req.Latitude)
		assert.Equal(t, []models.Body{models.Sun, models.Moon}, req.Bodies)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"positions": map[string]interface{}{
				"Sun":  map[string]interface{}{"longitude": 275.2667, "speed": 1.01},
				"Moon": map[string]interface{}{"longitude": 5.1},
			},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, 0)
	got, err := p.Positions(context.Background(), query(), models.Sun, models.Moon)
	require.NoError(t, err)
	assert.Equal(t, 275.2667, got[models.Sun].Longitude)
	assert.Equal(t, 1.01, got[models.Sun].Speed)
	assert.Equal(t, 0.0, got[models.Moon].Latitude, "absent fields default to zero")
	assert.False(t, got[models.Moon].Retrograde)
}

func TestHTTPProviderHouses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/houses", r.URL.Path)
		var req housesRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.Placidus, req.System)
		_, _ = w.Write([]byte(`{"cusps":{"1":100.5,"2":130,"3":160,"4":190,"5":220,"6":250,"7":280.5,"8":310,"9":340,"10":10,"11":40,"12":70}}`))
	}))
	defer srv.Close()

	got, err := NewHTTPProvider(srv.URL, time.Second, 0).HouseCusps(context.Background(), query(), models.Placidus)
	require.NoError(t, err)
	assert.Len(t, got, 12)
	assert.Equal(t, 100.5, got[1])
	assert.Equal(t, 280.5, got[7])
}

func TestHTTPProviderClientErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "date out of supported range", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second, 3).Positions(context.Background(), query(), models.Chiron)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.NotErrorIs(t, err, models.ErrProviderUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.Chiron, perr.Body)
	assert.Contains(t, err.Error(), "date out of supported range")
}

func TestHTTPProviderServerErrorRetriesThenUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second, 2).HouseCusps(context.Background(), query(), models.Placidus)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestHTTPProviderRecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"positions":{"Moon":{"longitude":12}}}`))
	}))
	defer srv.Close()

	got, err := NewHTTPProvider(srv.URL, time.Second, 1).Positions(context.Background(), query(), models.Moon)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got[models.Moon].Longitude)
}

func TestHTTPProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPProvider(url, 200*time.Millisecond, 0).Positions(context.Background(), query(), models.Moon)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestHTTPProviderMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"positions":`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second, 2).Positions(context.Background(), query(), models.Moon)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
}
