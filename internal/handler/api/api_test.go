package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/repository"
	"AstroCal/internal/services/chart"
	"AstroCal/internal/services/zodiac"
	"AstroCal/internal/usecase"
	xlogger "AstroCal/pkg/logger"
	"AstroCal/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct{ err error }

func (p staticProvider) Positions(_ context.Context, _ models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[models.Body]models.Position, len(bodies))
	for i, b := range bodies {
		out[b] = models.Position{Longitude: float64(i) * 27.5}
	}
	return out, nil
}

func (p staticProvider) HouseCusps(context.Context, models.EphemerisQuery, models.HouseSystem) (map[int]float64, error) {
	cusps := make(map[int]float64, 12)
	for i := 1; i <= 12; i++ {
		cusps[i] = float64(i-1) * 30
	}
	return cusps, nil
}

var searchStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// moonSource advances the progressed Moon 0.1 degrees per day from 270.
type moonSource struct{ err error }

func (s moonSource) Longitude(_ context.Context, _ models.BirthData, target time.Time, body models.Body) (models.ProgressedPosition, error) {
	if s.err != nil {
		return models.ProgressedPosition{}, s.err
	}
	lon := zodiac.Normalize(270 + 0.1*target.Sub(searchStart).Hours()/24)
	return models.ProgressedPosition{Body: body, TargetDate: target, Longitude: lon, Precision: models.PrecisionEphemeris}, nil
}

func (moonSource) Precision() models.Precision { return models.PrecisionEphemeris }

func newTestEcho(provider staticProvider, source moonSource) *echo.Echo {
	store := repository.NewMemoryChartStore()
	charts := usecase.NewChartUseCase(chart.NewAssembler(provider), store, metrics.Noop{}, usecase.ChartDefaults{
		Points:      append(append([]models.Body{}, models.ClassicalBodies...), models.Asc, models.MC),
		HouseSystem: models.Placidus,
	})
	search := usecase.NewProgressionUseCase(charts, source, store, repository.NoopPublisher{}, metrics.Noop{}, usecase.SearchDefaults{
		MaxWindow: 5 * 365 * 24 * time.Hour,
	})

	e := echo.New()
	NewChartsHandler(xlogger.Nop(), charts, search).RegisterRoutes(e)
	ph := NewProgressionsHandler(xlogger.Nop(), search)
	ph.streamEvery = 10
	ph.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

const birthJSON = `{"datetime":"1964-12-26 21:00","timezone":"America/Chicago","latitude":41.8781,"longitude":-87.6298}`

func TestCreateAndFetchChart(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})

	rec, out := do(t, e, http.MethodPost, "/api/charts", `{"birth":`+birthJSON+`,"save":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := out["data"].(map[string]interface{})
	id := data["id"].(string)
	assert.Equal(t, "natal", data["kind"])
	assert.Contains(t, data["points"], "Dsc")

	rec, out = do(t, e, http.MethodGet, "/api/charts/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, out["data"].(map[string]interface{})["id"])

	rec, _ = do(t, e, http.MethodGet, "/api/charts/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateChartValidation(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})

	rec, _ := do(t, e, http.MethodPost, "/api/charts", `{"birth":{"datetime":"1964-12-26 21:00"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/charts", `{"birth":{"datetime":"1964-12-26 21:00","latitude":1,"longitude":2}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "local time without a zone")

	rec, out := do(t, e, http.MethodPost, "/api/charts", `{"birth":`+birthJSON+`,"points":["Sun","Eris"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errs := out["data"].([]interface{})
	assert.Equal(t, "ERR_CONFIGURATION", errs[0].(map[string]interface{})["code"])
}

func TestProviderFailuresMapToGatewayStatuses(t *testing.T) {
	unavailable := newTestEcho(staticProvider{err: &models.ProviderError{Op: "positions", Unavailable: true}}, moonSource{})
	rec, _ := do(t, unavailable, http.MethodPost, "/api/charts", `{"birth":`+birthJSON+`}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	broken := newTestEcho(staticProvider{err: &models.ProviderError{Op: "positions", Err: errors.New("bad payload")}}, moonSource{})
	rec, _ = do(t, broken, http.MethodPost, "/api/charts", `{"birth":`+birthJSON+`}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestConjunctionsAndStoredEvents(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})
	body := `{"birth":` + birthJSON + `,"natal":{"Sun":275.2667,"Mars":10},"start":"2025-01-01","end":"2025-05-01","save":true}`

	rec, out := do(t, e, http.MethodPost, "/api/progressions/conjunctions", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := out["data"].(map[string]interface{})
	events := data["events"].([]interface{})
	require.Len(t, events, 1)
	ev := events[0].(map[string]interface{})
	assert.Equal(t, "Sun", ev["target"])
	assert.Equal(t, "Moon", ev["progressed_body"])
	assert.Equal(t, "2025-02-23T00:00:00Z", ev["date"])

	chartID := data["chart_id"].(string)
	rec, out = do(t, e, http.MethodGet, "/api/charts/"+chartID+"/events?from=2025-02-01&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := out["data"].(map[string]interface{})
	assert.EqualValues(t, 1, list["total"])

	rec, _ = do(t, e, http.MethodGet, "/api/charts/"+chartID+"/events?limit=9999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConjunctionsRequireChartOrBirth(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})
	rec, _ := do(t, e, http.MethodPost, "/api/progressions/conjunctions", `{"start":"2025-01-01","end":"2025-05-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/progressions/conjunctions", `{"chart_id":"missing","start":"2025-01-01","end":"2025-05-01"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPosition(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})
	q := "datetime=1964-12-26T21:00:00-06:00&lat=41.8781&lon=-87.6298&date=2025-01-11"
	rec, out := do(t, e, http.MethodGet, "/api/progressions/position?"+q, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "Moon", data["body"])
	assert.InDelta(t, 271.0, data["longitude"], 1e-9)

	rec, _ = do(t, e, http.MethodGet, "/api/progressions/position?"+q+"&body=MC", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionRequiresCoordinates(t *testing.T) {
	e := newTestEcho(staticProvider{}, moonSource{})
	for _, q := range []string{
		"datetime=1964-12-26T21:00:00-06:00&date=2025-01-11",
		"datetime=1964-12-26T21:00:00-06:00&lat=41.8781&date=2025-01-11",
		"datetime=1964-12-26T21:00:00-06:00&lat=95&lon=-87.6&date=2025-01-11",
	} {
		rec, _ := do(t, e, http.MethodGet, "/api/progressions/position?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("f", "bad"), http.StatusBadRequest},
		{models.NewConfigurationError("f", "bad"), http.StatusUnprocessableEntity},
		{fmt.Errorf("chart x: %w", models.ErrNotFound), http.StatusNotFound},
		{&models.ProviderError{Unavailable: true}, http.StatusServiceUnavailable},
		{&models.ProviderError{}, http.StatusBadGateway},
		{fmt.Errorf("search: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toAppError(tt.err).Status, tt.err.Error())
	}
}

func TestStreamReportsProgressThenResult(t *testing.T) {
	srv := httptest.NewServer(newTestEcho(staticProvider{}, moonSource{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/progressions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"birth": json.RawMessage(birthJSON),
		"natal": map[string]float64{"Sun": 275.2667},
		"start": "2025-01-01",
		"end":   "2025-01-31",
	}))

	var progress int
	for {
		var f StreamFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == "progress" {
			progress++
			continue
		}
		require.Equal(t, "result", f.Type)
		require.NotNil(t, f.Result)
		assert.Empty(t, f.Result.Events)
		break
	}
	// steps 1, 10, 20, 30 and the last of 31
	assert.Equal(t, 5, progress)
}

func TestStreamRejectsInvalidRequest(t *testing.T) {
	srv := httptest.NewServer(newTestEcho(staticProvider{}, moonSource{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/progressions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"start": "2025-01-01"}))
	var f StreamFrame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "error", f.Type)
	require.NotNil(t, f.Error)
	assert.Equal(t, "ERR_VALIDATION", f.Error.Code)
}

type downStore struct{ *repository.MemoryChartStore }

func (downStore) Health(context.Context) error { return errors.New("connection refused") }

func TestRouterHealth(t *testing.T) {
	e := echo.New()
	NewRouter(repository.NewMemoryChartStore(), &ChartsHandler{}, &ProgressionsHandler{}).RegisterRoutes(e)
	rec, out := do(t, e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", out["status"])

	down := echo.New()
	NewRouter(downStore{repository.NewMemoryChartStore()}, &ChartsHandler{}, &ProgressionsHandler{}).RegisterRoutes(down)
	rec, _ = do(t, down, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
