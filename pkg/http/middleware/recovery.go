package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	applogger "klinecast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover converts handler panics into a 500 with the uniform error
// body so one bad request cannot take the process down.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					err, ok := r.(error)
					if !ok {
						err = fmt.Errorf("%v", r)
					}
					if l != nil {
						l.Error("handler panic",
							applogger.Error(err),
							applogger.String("stack", string(debug.Stack())),
						)
					}
					_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"success": false,
						"error":   "internal error",
					})
				}
			}()
			return next(c)
		}
	}
}
