package correlation

import (
	"github.com/labstack/echo/v4"
)

// Header carries the correlation id on HTTP requests and responses.
const Header = "X-Correlation-ID"

// Middleware attaches a correlation id to every request context.
// An incoming header value is reused (truncated to 64 bytes); otherwise a new id is generated.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(Header)
			if len(id) > 64 {
				id = id[:64]
			}
			if id == "" {
				id = NewID()
			}

			req := c.Request()
			c.SetRequest(req.WithContext(WithID(req.Context(), id)))
			c.Response().Header().Set(Header, id)
			return next(c)
		}
	}
}
