package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/agency-api/internal/response"
)

// RequireRole lets the request through only when the user resolved by
// RequireAuth holds one of roles; otherwise 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return response.Error(c, http.StatusUnauthorized, "Not authenticated")
			}
			if !allowed[u.Role] {
				return response.Error(c, http.StatusForbidden, "Forbidden")
			}
			return next(c)
		}
	}
}
