package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/conjunction"
	"AstroCal/internal/usecase"
	xhttp "AstroCal/pkg/http"
	xlogger "AstroCal/pkg/logger"
	"AstroCal/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// ProgressionsHandler serves progressed positions and conjunction searches.
type ProgressionsHandler struct {
	logger   *xlogger.Logger
	search   *usecase.ProgressionUseCase
	upgrader websocket.Upgrader
	// streamEvery throttles progress frames on the stream endpoint.
	streamEvery int
}

func NewProgressionsHandler(logger *xlogger.Logger, search *usecase.ProgressionUseCase) *ProgressionsHandler {
	return &ProgressionsHandler{
		logger: logger,
		search: search,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		streamEvery: 30,
	}
}

func (h *ProgressionsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/progressions")
	g.GET("/position", h.Position)
	g.POST("/conjunctions", h.Conjunctions)
	g.GET("/stream", h.Stream)
}

// Position returns the secondary-progressed longitude of one body for a date.
func (h *ProgressionsHandler) Position(c echo.Context) error {
	req := &models.PositionQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	// Both already passed the latitude/longitude validators.
	lat, lon := util.ParseFloatDefault(req.Latitude, 0), util.ParseFloatDefault(req.Longitude, 0)
	birth, err := models.BirthRequest{DateTime: req.DateTime, TimeZone: req.TimeZone, Latitude: &lat, Longitude: &lon}.Resolve()
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	date, ok := util.ParseTime(req.Date)
	if !ok {
		return xhttp.AppErrorResponse(c, toAppError(models.NewValidationError("date", "invalid time %q", req.Date)))
	}

	pos, err := h.search.Position(c.Request().Context(), birth, date, models.Body(req.Body))
	if err != nil {
		h.logger.Error("position usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, pos)
}

// Conjunctions runs a search and returns every event at once.
func (h *ProgressionsHandler) Conjunctions(c echo.Context) error {
	req := &models.ConjunctionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	in, err := usecase.SearchInputFrom(*req)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	res, err := h.search.Search(c.Request().Context(), in)
	if err != nil {
		h.logger.Error("conjunction usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

// StreamFrame is one websocket message of a streamed search.
type StreamFrame struct {
	Type     string                `json:"type"` // progress, result or error
	Body     models.Body           `json:"body,omitempty"`
	Progress *conjunction.Progress `json:"progress,omitempty"`
	Result   *usecase.SearchResult `json:"result,omitempty"`
	Error    *xhttp.AppError       `json:"error,omitempty"`
}

// Stream upgrades to a websocket, reads one ConjunctionRequest and reports
// search progress until the result frame. The search stops when the client
// goes away.
func (h *ProgressionsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	var mu sync.Mutex
	send := func(f StreamFrame) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(f)
	}
	fail := func(err error) error {
		_ = send(StreamFrame{Type: "error", Error: toAppError(err)})
		return nil
	}

	req := &models.ConjunctionRequest{}
	if err := conn.ReadJSON(req); err != nil {
		return fail(models.NewValidationError("request", "invalid JSON: %v", err))
	}
	if err := xhttp.ValidateStruct(c.Request().Context(), req); err != nil {
		return fail(models.NewValidationError("request", "%v", err))
	}
	in, err := usecase.SearchInputFrom(*req)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	// Any read after the request (including close) ends the search.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	every := h.streamEvery
	in.Progress = func(body models.Body, p conjunction.Progress) {
		if p.Step != 1 && p.Step != p.Total && p.Step%every != 0 {
			return
		}
		if err := send(StreamFrame{Type: "progress", Body: body, Progress: &p}); err != nil {
			cancel()
		}
	}

	res, err := h.search.Search(ctx, in)
	if err != nil {
		h.logger.Warn("streamed search failed", xlogger.Error(err))
		return fail(err)
	}
	_ = send(StreamFrame{Type: "result", Result: res})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

var _ xhttp.Handler = (*ProgressionsHandler)(nil)
