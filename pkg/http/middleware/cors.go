package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORS lets browser clients (the chart UI) call the API cross-origin.
// The API is unauthenticated and read-mostly, so an empty origin list
// means allow-all.
func CORS(allowOrigins []string) echo.MiddlewareFunc {
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	allowAll := allowOrigins[0] == "*"
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	headers := strings.Join([]string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept}, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)

			switch {
			case allowAll:
				c.Response().Header().Set("Access-Control-Allow-Origin", "*")
			case originAllowed(allowOrigins, origin):
				c.Response().Header().Set("Access-Control-Allow-Origin", origin)
			default:
				return next(c)
			}
			c.Response().Header().Set("Access-Control-Allow-Methods", methods)
			c.Response().Header().Set("Access-Control-Allow-Headers", headers)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}
