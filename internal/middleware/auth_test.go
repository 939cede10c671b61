package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/agency-api/internal/model"
)

type stubAuth struct {
	users map[string]*model.User
	err   error
}

func (s stubAuth) Authenticate(_ context.Context, raw string) (*model.User, error) {
	return s.users[raw], s.err
}

func serve(e *echo.Echo, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthAndRole(t *testing.T) {
	a := stubAuth{users: map[string]*model.User{
		"admin-token": {ID: "a1", Role: model.RoleAdmin},
		"user-token":  {ID: "u1", Role: model.RoleUser},
	}}
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, CurrentUser(c).ID)
	}, RequireAuth(a, false, nil), RequireRole(model.RoleAdmin))

	rec := serve(e, "Bearer admin-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, serve(e, "Bearer user-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "Bearer unknown").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "").Code)
}

func TestRequireAuthStoreFailure(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		RequireAuth(stubAuth{err: errors.New("dial tcp: refused")}, false, nil))

	rec := serve(e, "Bearer x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")

	e = echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		RequireAuth(stubAuth{err: errors.New("dial tcp: refused")}, true, nil))
	assert.Contains(t, serve(e, "Bearer x").Body.String(), "refused")
}

func TestRequireRoleWithoutUser(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequireRole(model.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(e, "").Code)
}
