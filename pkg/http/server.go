package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"AstroCal/pkg/http/middleware"
	applogger "AstroCal/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler mounts a group of routes.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

type ServerOption func(*serverSettings)

type serverSettings struct {
	host            string
	port            int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	cors            bool
	metricsPath     string
	slowRequest     time.Duration
	logger          *applogger.Logger
	middleware      []echo.MiddlewareFunc
}

func WithHost(host string) ServerOption {
	return func(s *serverSettings) { s.host = host }
}

// WithPort sets the listen port; 0 picks a free one.
func WithPort(port int) ServerOption {
	return func(s *serverSettings) { s.port = port }
}

// WithTimeouts sets read and write timeouts and the graceful shutdown budget.
// Streaming routes live within the write timeout.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(s *serverSettings) {
		s.readTimeout, s.writeTimeout, s.shutdownTimeout = read, write, shutdown
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(s *serverSettings) { s.cors = enabled }
}

// WithMetrics exposes Prometheus metrics on path and records request metrics.
// An empty path disables both.
func WithMetrics(path string) ServerOption {
	return func(s *serverSettings) { s.metricsPath = path }
}

// WithSlowRequest sets the latency above which requests log at warn.
func WithSlowRequest(d time.Duration) ServerOption {
	return func(s *serverSettings) { s.slowRequest = d }
}

func WithLogger(l *applogger.Logger) ServerOption {
	return func(s *serverSettings) { s.logger = l }
}

// WithMiddleware appends middleware applied after the built-in stack.
func WithMiddleware(m ...echo.MiddlewareFunc) ServerOption {
	return func(s *serverSettings) { s.middleware = append(s.middleware, m...) }
}

// Server runs the echo instance. It satisfies the application's worker
// contract through Start and Stop.
type Server struct {
	echo     *echo.Echo
	settings serverSettings
	l        *applogger.Logger
	addr     net.Addr
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	s := serverSettings{
		host:            "0.0.0.0",
		port:            8080,
		readTimeout:     15 * time.Second,
		writeTimeout:    2 * time.Minute,
		shutdownTimeout: 15 * time.Second,
		slowRequest:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	l := s.logger
	if l == nil {
		l = applogger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = s.readTimeout
	e.Server.WriteTimeout = s.writeTimeout

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l, s.slowRequest))
	if s.metricsPath != "" {
		e.Use(middleware.Metrics(nil))
	}
	if s.cors {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
	e.Use(s.middleware...)

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	if s.metricsPath != "" {
		e.GET(s.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	return &Server{echo: e, settings: s, l: l}
}

// Start binds the listener, so address errors surface here, then serves in
// the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.settings.host, strconv.Itoa(s.settings.port)))
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.addr = ln.Addr()
	s.echo.Listener = ln

	go func() {
		s.l.Info("http server: listening", applogger.String("addr", s.addr.String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http server error", applogger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Stop drains in-flight requests within the shutdown budget.
func (s *Server) Stop(ctx context.Context) error {
	if s.settings.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.shutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.l.Info("http server: stopped")
	return nil
}

// Echo exposes the router, mostly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
