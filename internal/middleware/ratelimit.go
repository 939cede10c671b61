package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/response"
)

// EventPublisher receives ip_blocked events.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SecurityEvent) error
}

// Guard puts the limiter in front of handlers.  Violations of any policy are
// themselves counted under Violations; an IP exceeding that is blocked for
// BlockFor.  Debug logs every limit decision.
type Guard struct {
	Limiter    *ratelimit.Limiter
	Violations ratelimit.Policy
	BlockFor   time.Duration
	Events     EventPublisher
	Debug      bool
	Log        *zap.Logger
	Now        func() time.Time
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// BlockList turns away blocked IPs with 403 before any accounting runs.
// A failing block lookup lets the request through.
func (g *Guard) BlockList() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := RemoteIP(c)
			blocked, err := g.Limiter.IsBlocked(c.Request().Context(), ip)
			if err != nil {
				g.logger().Warn("block lookup failed, allowing request", zap.String("ip", ip), zap.Error(err))
				return next(c)
			}
			if blocked {
				return response.Error(c, http.StatusForbidden, "Your IP has been temporarily blocked")
			}
			return next(c)
		}
	}
}

// Limit applies p under key and answers 429 with message when exceeded.
// X-RateLimit-* headers are set on every response it lets through or
// rejects.  A failing store lets the request through.
func (g *Guard) Limit(p ratelimit.Policy, key, message string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ip := RemoteIP(c)

			ok, err := g.Limiter.Check(ctx, p, ip, key)
			if err != nil {
				g.logger().Warn("rate limit check failed, allowing request",
					zap.String("policy", p.Name), zap.String("ip", ip), zap.Error(err))
				return next(c)
			}
			st, err := g.Limiter.Status(ctx, p, ip, key)
			if err == nil {
				setHeaders(c, st)
			}
			if g.Debug {
				g.logger().Info("rate limit decision",
					zap.String("policy", p.Name), zap.String("ip", ip), zap.String("key", key),
					zap.Bool("allowed", ok), zap.Int("remaining", st.Remaining))
			}
			if ok {
				return next(c)
			}

			g.violation(ctx, p, ip)
			if err == nil {
				secs := int(math.Ceil(st.Reset.Sub(g.now()).Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 0)))
			}
			return response.Error(c, http.StatusTooManyRequests, message)
		}
	}
}

// violation records one exceeded limit and blocks the IP once the
// violation policy is exhausted.
func (g *Guard) violation(ctx context.Context, p ratelimit.Policy, ip string) {
	if g.Violations.Max <= 0 || g.BlockFor <= 0 {
		return
	}
	ok, err := g.Limiter.Check(ctx, g.Violations, ip, "violation:"+p.Name)
	if err != nil {
		g.logger().Warn("violation accounting failed", zap.String("ip", ip), zap.Error(err))
		return
	}
	if ok {
		return
	}
	until, err := g.Limiter.BlockIP(ctx, ip, g.BlockFor, "Rate limit exceeded")
	if err != nil {
		g.logger().Error("block ip failed", zap.String("ip", ip), zap.Error(err))
		return
	}
	g.logger().Warn("ip blocked", zap.String("ip", ip), zap.String("policy", p.Name), zap.Time("until", until))
	if g.Events != nil {
		ev := queue.NewEvent(queue.KindIPBlocked, "", ip, "repeated "+p.Name+" limit violations", g.now())
		if err := g.Events.Publish(ctx, ev); err != nil {
			g.logger().Warn("security event not published", zap.Error(err))
		}
	}
}

func setHeaders(c echo.Context, st ratelimit.Status) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(st.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(st.Reset.Unix(), 10))
}

func (g *Guard) logger() *zap.Logger {
	if g.Log == nil {
		return zap.NewNop()
	}
	return g.Log
}
