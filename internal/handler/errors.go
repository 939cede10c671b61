package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/response"
)

// fail maps authenticator outcomes onto status codes.  Anything it does not
// recognise is a store fault and answers 500.
func fail(c echo.Context, err error, debug bool, log *zap.Logger) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return response.Error(c, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken):
		return response.Error(c, http.StatusUnauthorized, "Invalid or expired refresh token")
	case errors.Is(err, auth.ErrUnauthenticated):
		return response.Error(c, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, auth.ErrEmailTaken):
		return response.Error(c, http.StatusConflict, "Email already registered")
	case errors.Is(err, auth.ErrUserNotFound):
		return response.Error(c, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrPasswordTooLong):
		return response.Unprocessable(c, map[string][]string{
			"password": {fmt.Sprintf("The password must not exceed %d bytes.", auth.MaxPasswordBytes)},
		})
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return response.Internal(c, err, debug)
}

// bind decodes a JSON object body into a field map.  Path and query
// parameters are left out.
func bind(c echo.Context) (map[string]any, error) {
	m := map[string]any{}
	if err := (&echo.DefaultBinder{}).BindBody(c, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func optStr(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func badBody(c echo.Context) error {
	return response.Error(c, http.StatusBadRequest, "Invalid request body")
}
