package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/agency-api/internal/queue"
	"github.com/iliyamo/agency-api/internal/ratelimit"
	"github.com/iliyamo/agency-api/internal/ratelimit/ratelimittest"
)

type recorder struct{ evs []queue.SecurityEvent }

func (r *recorder) Publish(_ context.Context, ev queue.SecurityEvent) error {
	r.evs = append(r.evs, ev)
	return nil
}

type guardFixture struct {
	e      *echo.Echo
	mem    *ratelimittest.Memory
	events *recorder
	now    time.Time
}

func newGuardFixture(t *testing.T, p ratelimit.Policy, violations ratelimit.Policy) *guardFixture {
	t.Helper()
	f := &guardFixture{mem: ratelimittest.New(), events: &recorder{}, now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	g := &Guard{
		Limiter:    ratelimit.NewLimiter(f.mem, f.mem, nil, clock),
		Violations: violations,
		BlockFor:   time.Hour,
		Events:     f.events,
		Now:        clock,
	}
	f.e = echo.New()
	f.e.Use(ClientIP(), g.BlockList())
	f.e.POST("/login", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		g.Limit(p, "login", "Too many login attempts. Please try again later."))
	return f
}

func (f *guardFixture) do(ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestLimitHeadersAndRejection(t *testing.T) {
	p := ratelimit.Policy{Name: "login", Max: 2, Window: 5 * time.Minute}
	f := newGuardFixture(t, p, ratelimit.Policy{})
	reset := strconv.FormatInt(f.now.Add(5*time.Minute).Unix(), 10)

	rec := f.do("8.8.8.8")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, reset, rec.Header().Get("X-RateLimit-Reset"))

	rec = f.do("8.8.8.8")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = f.do("8.8.8.8")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"message":"Too many login attempts. Please try again later."}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do("8.8.4.4").Code, "other clients unaffected")

	f.now = f.now.Add(5 * time.Minute)
	assert.Equal(t, http.StatusOK, f.do("8.8.8.8").Code)
}

func TestRepeatedViolationsBlockTheIP(t *testing.T) {
	p := ratelimit.Policy{Name: "login", Max: 1, Window: time.Minute}
	f := newGuardFixture(t, p, ratelimit.Policy{Name: "violation", Max: 2, Window: 10 * time.Minute})

	require.Equal(t, http.StatusOK, f.do("8.8.8.8").Code)
	require.Equal(t, http.StatusTooManyRequests, f.do("8.8.8.8").Code)
	require.Equal(t, http.StatusTooManyRequests, f.do("8.8.8.8").Code)
	assert.Empty(t, f.events.evs)

	// third violation exceeds the violation policy
	require.Equal(t, http.StatusTooManyRequests, f.do("8.8.8.8").Code)
	require.Len(t, f.events.evs, 1)
	assert.Equal(t, queue.KindIPBlocked, f.events.evs[0].Kind)
	assert.Equal(t, "8.8.8.8", f.events.evs[0].IP)
	assert.Equal(t, "Rate limit exceeded", f.mem.Reason("8.8.8.8"))

	rows := f.mem.Rows()
	rec := f.do("8.8.8.8")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your IP has been temporarily blocked")
	assert.Equal(t, rows, f.mem.Rows(), "blocked requests are not accounted")

	f.now = f.now.Add(time.Hour)
	assert.Equal(t, http.StatusOK, f.do("8.8.8.8").Code)
}

func TestStoreOutageFailsOpen(t *testing.T) {
	p := ratelimit.Policy{Name: "login", Max: 1, Window: time.Minute}
	f := newGuardFixture(t, p, ratelimit.Policy{})
	f.mem.Err = errors.New("mysql gone")

	for i := 0; i < 3; i++ {
		rec := f.do("8.8.8.8")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestDebugLogsEachDecision(t *testing.T) {
	mem := ratelimittest.New()
	core, logs := observer.New(zap.InfoLevel)
	p := ratelimit.Policy{Name: "login", Max: 1, Window: time.Minute}
	run := func(debug bool) {
		g := &Guard{Limiter: ratelimit.NewLimiter(mem, mem, nil, nil), Debug: debug, Log: zap.New(core)}
		e := echo.New()
		e.Use(ClientIP())
		e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, g.Limit(p, "login", "slow down"))
		for _, ip := range []string{"8.8.8.8", "8.8.8.8"} {
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = ip + ":1"
			e.ServeHTTP(httptest.NewRecorder(), req)
		}
	}

	run(false)
	assert.Zero(t, logs.FilterMessage("rate limit decision").Len())

	run(true)
	decisions := logs.FilterMessage("rate limit decision").All()
	require.Len(t, decisions, 2)
	assert.Equal(t, false, decisions[0].ContextMap()["allowed"])
	assert.Equal(t, "login", decisions[0].ContextMap()["policy"])
	assert.Equal(t, "8.8.8.8", decisions[1].ContextMap()["ip"])
}
