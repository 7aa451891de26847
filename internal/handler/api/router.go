package api

import (
	"context"
	"net/http"
	"time"

	domrepo "AstroCal/internal/domain/repository"
	xhttp "AstroCal/pkg/http"

	"github.com/labstack/echo/v4"
)

// Router mounts every API handler plus health probes.
type Router struct {
	store    domrepo.ChartStore
	handlers []xhttp.Handler
}

func NewRouter(store domrepo.ChartStore, charts *ChartsHandler, progressions *ProgressionsHandler) *Router {
	return &Router{store: store, handlers: []xhttp.Handler{charts, progressions}}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", r.ready)
	for _, h := range r.handlers {
		h.RegisterRoutes(e)
	}
}

func (r *Router) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := r.store.Health(ctx); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("chart store unavailable").WithError(err))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

var _ xhttp.Handler = (*Router)(nil)
