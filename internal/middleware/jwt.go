package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/response"
)

// Authenticator resolves a raw bearer token to a live account.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*model.User, error)
}

// RequireAuth rejects requests without a valid access token for an active
// account with 401.  The account is re-read on every request, so disabling
// it takes effect before its tokens expire.
func RequireAuth(a Authenticator, debug bool, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := a.Authenticate(c.Request().Context(), auth.TokenFromRequest(c.Request()))
			if err != nil {
				log.Error("authenticate failed", zap.Error(err))
				return response.Internal(c, err, debug)
			}
			if u == nil {
				return response.Error(c, http.StatusUnauthorized, "Not authenticated")
			}
			SetUser(c, u)
			c.Set("user_id", u.ID)
			c.Set("role", u.Role)
			return next(c)
		}
	}
}
