package middleware

import (
	"time"

	applogger "klinecast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each completed request through the structured
// logger at debug level; failures surface through the metrics
// middleware and handler logs instead.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			if l != nil {
				req := c.Request()
				l.Debug("http request",
					applogger.String("method", req.Method),
					applogger.String("uri", req.RequestURI),
					applogger.String("remote", req.RemoteAddr),
					applogger.Int("status", c.Response().Status),
					applogger.Duration("duration_ms", time.Since(start)),
				)
			}
			return err
		}
	}
}
