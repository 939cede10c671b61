// Package router registers the HTTP routes and their middleware chains.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/config"
	"github.com/iliyamo/agency-api/internal/handler"
	"github.com/iliyamo/agency-api/internal/middleware"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/response"
)

// Deps is everything the route table needs.
type Deps struct {
	Cfg    config.Config
	Log    *zap.Logger
	Guard  *middleware.Guard
	Authn  middleware.Authenticator
	Auth   *handler.AuthHandler
	Admin  *handler.AdminHandler
	Health echo.HandlerFunc
}

// New builds an echo instance with the global middleware and all routes.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(d.Cfg.Debug)

	e.Use(echomw.RequestID())
	e.Use(middleware.ClientIP())
	e.Use(middleware.RequestLog(d.Log))
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{DisableStackAll: true}))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	if len(d.Cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     d.Cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
			ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		}))
	}
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/healthz", d.Health)

	rl := d.Cfg.RateLimit
	v1 := e.Group("/v1")
	if rl.Enabled {
		v1.Use(d.Guard.BlockList(), d.Guard.Limit(rl.API, "api", "Rate limit exceeded. Please try again later."))
	}
	limit := func(p ratelimit.Policy, key, msg string) []echo.MiddlewareFunc {
		if !rl.Enabled {
			return nil
		}
		return []echo.MiddlewareFunc{d.Guard.Limit(p, key, msg)}
	}
	bearer := middleware.RequireAuth(d.Authn, d.Cfg.Debug, d.Log)

	a := v1.Group("/auth")
	a.POST("/register", d.Auth.Register, limit(rl.Register, "register", "Too many registration attempts. Please try again later.")...)
	a.POST("/login", d.Auth.Login, limit(rl.Login, "login", "Too many login attempts. Please try again later.")...)
	a.POST("/refresh", d.Auth.Refresh)
	a.POST("/logout", d.Auth.Logout, bearer)
	a.GET("/me", d.Auth.Me, bearer)
	a.PUT("/password", d.Auth.ChangePassword, bearer)
	a.GET("/profile", d.Auth.Profile, bearer)
	a.PUT("/profile", d.Auth.UpdateProfile, bearer)

	adm := v1.Group("/admin", bearer, middleware.RequireRole(model.RoleAdmin))
	adm.GET("/blocks", d.Admin.ListBlocks)
	adm.POST("/blocks", d.Admin.BlockIP)
	adm.DELETE("/blocks/:ip", d.Admin.UnblockIP)
	adm.PUT("/users/:id/active", d.Admin.SetActive)

	return e
}

// errorHandler renders echo's own errors (404, 405, body limit, panics)
// in the response envelope.
func errorHandler(debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "Internal server error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			switch code {
			case http.StatusNotFound:
				msg = "Endpoint not found"
			case http.StatusMethodNotAllowed:
				msg = "Method not allowed"
			default:
				msg = http.StatusText(code)
			}
		} else if debug {
			msg = err.Error()
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, response.Envelope{Message: msg})
	}
}
