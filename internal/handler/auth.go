package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/middleware"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/response"
	"github.com/iliyamo/agency-api/internal/validate"
)

var (
	registerRules = validate.MustCompile(map[string]string{
		"email":                 "required|email|max:255",
		"password":              "required|string|min:8|max_bytes:72|confirmed",
		"password_confirmation": "required|string",
		"full_name":             "nullable|string|max:100",
	})
	loginRules = validate.MustCompile(map[string]string{
		"email":    "required|email|max:255",
		"password": "required|string|min:6",
	})
	passwordRules = validate.MustCompile(map[string]string{
		"current_password": "required|string",
		"password":         "required|string|min:8|max_bytes:72|confirmed",
	})
	profileRules = validate.MustCompile(map[string]string{
		"full_name":  "nullable|string|max:100",
		"avatar_url": "nullable|string|url|max:500",
		"bio":        "nullable|string|max:1000",
		"phone":      "nullable|string|max:32",
	})
)

// AuthHandler serves /v1/auth.
type AuthHandler struct {
	Auth  *auth.Authenticator
	Debug bool
	Log   *zap.Logger
}

func NewAuthHandler(a *auth.Authenticator, debug bool, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Auth: a, Debug: debug, Log: log}
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := registerRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	s, err := h.Auth.Register(c.Request().Context(), str(in, "email"), str(in, "password"), optStr(in, "full_name"))
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.Created(c, "Registration successful", s)
}

func (h *AuthHandler) Login(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := loginRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	s, err := h.Auth.Login(c.Request().Context(), str(in, "email"), str(in, "password"))
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Login successful", s)
}

// Refresh rotates the presented refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	raw := str(in, "refresh_token")
	if raw == "" {
		return response.Error(c, http.StatusBadRequest, "Refresh token is required")
	}
	s, err := h.Auth.Refresh(c.Request().Context(), raw)
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Token refreshed successfully", s)
}

// Logout ends every session of the current user.
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.Auth.Logout(c.Request().Context(), middleware.CurrentUser(c)); err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Logged out successfully", nil)
}

func (h *AuthHandler) Me(c echo.Context) error {
	u := middleware.CurrentUser(c)
	if u == nil {
		return response.Error(c, http.StatusUnauthorized, "Not authenticated")
	}
	return response.OK(c, "Success", u)
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := passwordRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	err = h.Auth.ChangePassword(c.Request().Context(), middleware.CurrentUser(c), str(in, "current_password"), str(in, "password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return response.Unprocessable(c, map[string][]string{
			"current_password": {"The current password is incorrect."},
		})
	}
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Password changed successfully", nil)
}

// Profile returns the current user's profile.
func (h *AuthHandler) Profile(c echo.Context) error {
	p, err := h.Auth.Profile(c.Request().Context(), middleware.CurrentUser(c))
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Success", p)
}

// UpdateProfile changes full_name, avatar_url, bio and phone.  Absent keys
// are left alone; null clears a field.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := profileRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	fields := map[string]*string{}
	for _, name := range model.ProfileFields {
		if _, ok := in[name]; ok {
			fields[name] = optStr(in, name)
		}
	}
	p, err := h.Auth.UpdateProfile(c.Request().Context(), middleware.CurrentUser(c), fields)
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Profile updated successfully", p)
}
