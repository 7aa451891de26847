package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "AstroCal/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				l.Error("panic in http handler",
					applogger.String("route", c.Path()),
					applogger.String("request_id", GetRequestID(c)),
					applogger.Error(perr),
					applogger.String("stack", string(debug.Stack())),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":     http.StatusInternalServerError,
					"message":    http.StatusText(http.StatusInternalServerError),
					"request_id": GetRequestID(c),
				})
			}()
			return next(c)
		}
	}
}
