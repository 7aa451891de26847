package api

import (
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/usecase"
	xhttp "AstroCal/pkg/http"
	xlogger "AstroCal/pkg/logger"
	"AstroCal/pkg/util"

	"github.com/labstack/echo/v4"
)

// ChartsHandler serves natal chart assembly and stored chart lookups.
type ChartsHandler struct {
	logger *xlogger.Logger
	charts *usecase.ChartUseCase
	search *usecase.ProgressionUseCase
}

func NewChartsHandler(logger *xlogger.Logger, charts *usecase.ChartUseCase, search *usecase.ProgressionUseCase) *ChartsHandler {
	return &ChartsHandler{logger: logger, charts: charts, search: search}
}

func (h *ChartsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/charts")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/events", h.Events)
}

func (h *ChartsHandler) Create(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	in, err := usecase.ChartInputFrom(*req)
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	chart, err := h.charts.Create(c.Request().Context(), in)
	if err != nil {
		h.logger.Error("chart usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	if in.Save {
		return xhttp.CreatedResponse(c, chart)
	}
	return xhttp.SuccessResponse(c, chart)
}

func (h *ChartsHandler) Get(c echo.Context) error {
	chart, err := h.charts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, chart)
}

// Events lists stored conjunction events; from and to accept RFC3339 or dates.
func (h *ChartsHandler) Events(c echo.Context) error {
	req := &models.EventsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	from := util.ParseTimeDefault(req.From, time.Time{})
	to := util.ParseTimeDefault(req.To, time.Time{})

	events, err := h.search.Events(c.Request().Context(), req.ID, from, to, req.Limit)
	if err != nil {
		h.logger.Error("events usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.ListResponse(c, events, len(events))
}

var _ xhttp.Handler = (*ChartsHandler)(nil)
