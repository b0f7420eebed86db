package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "OTCFeed/pkg/logger"
)

// RequestLogging logs every request at debug level. The subscriber socket is
// long-lived, so its upgrade is logged when it closes.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			l.Debug("request",
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)))
			return err
		}
	}
}
