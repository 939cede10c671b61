package middleware

// identity.go holds the context helpers shared by the middleware and the
// handlers: the resolved client IP and the authenticated user.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/ratelimit"
)

const (
	ctxUser     = "user"
	ctxClientIP = "client_ip"
)

// ClientIP resolves the caller's address once per request and stores it in
// the echo context and in the request context for security events.
func ClientIP() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := ratelimit.ClientIP(c.Request())
			c.Set(ctxClientIP, ip)
			c.SetRequest(c.Request().WithContext(auth.WithClientIP(c.Request().Context(), ip)))
			return next(c)
		}
	}
}

// RemoteIP returns the address stored by ClientIP, resolving it on the spot
// when the middleware did not run.
func RemoteIP(c echo.Context) string {
	if ip, ok := c.Get(ctxClientIP).(string); ok && ip != "" {
		return ip
	}
	return ratelimit.ClientIP(c.Request())
}

func SetUser(c echo.Context, u *model.User) { c.Set(ctxUser, u) }

// CurrentUser returns the user resolved by RequireAuth, or nil.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(ctxUser).(*model.User)
	return u
}
