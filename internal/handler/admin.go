package handler

import (
	"fmt"
	"math"
	"net/http"
	"net/netip"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/auth"
	"github.com/iliyamo/agency-api/internal/middleware"
	"github.com/iliyamo/agency-api/internal/model"
	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/response"
	"github.com/iliyamo/agency-api/internal/validate"
)

// maxBlockSeconds bounds manual blocks to one year.
const maxBlockSeconds = 365 * 24 * 60 * 60

var (
	blockRules = validate.MustCompile(map[string]string{
		"ip":               "required|string",
		"duration_seconds": fmt.Sprintf("nullable|min:1|max:%d", maxBlockSeconds),
		"reason":           "nullable|string|max:255",
	})
	activeRules = validate.MustCompile(map[string]string{
		"is_active": "required|boolean",
	})
)

// AdminHandler serves the operator endpoints under /v1/admin.
type AdminHandler struct {
	Limiter  *ratelimit.Limiter
	Auth     *auth.Authenticator
	Events   middleware.EventPublisher
	BlockFor time.Duration
	Debug    bool
	Log      *zap.Logger
}

// BlockIP adds a manual block.
func (h *AdminHandler) BlockIP(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := blockRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	addr, err := netip.ParseAddr(str(in, "ip"))
	if err != nil {
		return response.Unprocessable(c, map[string][]string{"ip": {"The ip must be a valid IP address."}})
	}
	d := h.BlockFor
	if v, set := in["duration_seconds"]; set && v != nil {
		secs, ok := v.(float64)
		if !ok || secs != math.Trunc(secs) || secs < 1 || secs > maxBlockSeconds {
			return response.Unprocessable(c, map[string][]string{
				"duration_seconds": {fmt.Sprintf("The duration_seconds must be a whole number between 1 and %d.", maxBlockSeconds)},
			})
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return response.Unprocessable(c, map[string][]string{
			"duration_seconds": {"The duration_seconds field is required."},
		})
	}
	reason := str(in, "reason")
	if reason == "" {
		reason = "Blocked by administrator"
	}

	ctx := c.Request().Context()
	ip := addr.Unmap().String()
	until, err := h.Limiter.BlockIP(ctx, ip, d, reason)
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	if h.Events != nil {
		actor := ""
		if u := middleware.CurrentUser(c); u != nil {
			actor = u.ID
		}
		if err := h.Events.Publish(ctx, queue.NewEvent(queue.KindIPBlocked, actor, ip, reason, time.Now())); err != nil {
			h.Log.Warn("security event not published", zap.Error(err))
		}
	}
	return response.Created(c, "IP blocked", model.BlockedIP{IPAddress: ip, BlockedUntil: until, Reason: reason})
}

// ListBlocks returns the blocks currently in force.
func (h *AdminHandler) ListBlocks(c echo.Context) error {
	blocks, err := h.Limiter.ActiveBlocks(c.Request().Context())
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	if blocks == nil {
		blocks = []model.BlockedIP{}
	}
	return response.OK(c, "Active blocks", blocks)
}

// UnblockIP lifts every block on :ip.
func (h *AdminHandler) UnblockIP(c echo.Context) error {
	addr, err := netip.ParseAddr(c.Param("ip"))
	if err != nil {
		return response.Error(c, http.StatusBadRequest, "Invalid IP address")
	}
	existed, err := h.Limiter.UnblockIP(c.Request().Context(), addr.Unmap().String())
	if err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	if !existed {
		return response.Error(c, http.StatusNotFound, "No block found for this IP")
	}
	return response.OK(c, "IP unblocked", nil)
}

// SetActive enables or disables the account :id.
func (h *AdminHandler) SetActive(c echo.Context) error {
	in, err := bind(c)
	if err != nil {
		return badBody(c)
	}
	if errs := activeRules.Validate(in); errs != nil {
		return response.Unprocessable(c, errs)
	}
	active := truthy(in["is_active"])
	if err := h.Auth.SetActive(c.Request().Context(), c.Param("id"), active); err != nil {
		return fail(c, err, h.Debug, h.Log)
	}
	return response.OK(c, "Account updated", map[string]any{"id": c.Param("id"), "is_active": active})
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		return t == "1" || t == "true"
	}
	return false
}
