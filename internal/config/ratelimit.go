package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/agency-api/internal/ratelimit"
)

// RateLimitConfig groups the per-call-site policies.  The limiter itself is
// policy-agnostic; each route picks one of these.
type RateLimitConfig struct {
	Enabled       bool
	API           ratelimit.Policy
	Login         ratelimit.Policy
	Register      ratelimit.Policy
	Violations    ratelimit.Policy // limit hits tolerated before an IP is blocked
	BlockDuration time.Duration    // 0 disables automatic blocking
	Debug         bool
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		API: ratelimit.Policy{
			Name:   "api",
			Max:    envInt("RATE_LIMIT_REQUESTS", 100),
			Window: envSeconds("RATE_LIMIT_WINDOW", time.Hour),
		},
		Login: ratelimit.Policy{
			Name:   "login",
			Max:    envInt("LOGIN_RATE_LIMIT_REQUESTS", 5),
			Window: envSeconds("LOGIN_RATE_LIMIT_WINDOW", 5*time.Minute),
		},
		Register: ratelimit.Policy{
			Name:   "register",
			Max:    envInt("REGISTER_RATE_LIMIT_REQUESTS", 3),
			Window: envSeconds("REGISTER_RATE_LIMIT_WINDOW", time.Hour),
		},
		Violations: ratelimit.Policy{
			Name:   "violation",
			Max:    envInt("BLOCK_AFTER_VIOLATIONS", 10),
			Window: envSeconds("BLOCK_VIOLATION_WINDOW", 10*time.Minute),
		},
		BlockDuration: envSeconds("BLOCK_DURATION", time.Hour),
		Debug:         envBool("RATE_LIMIT_DEBUG", false),
	}
	for _, p := range []*ratelimit.Policy{&def.API, &def.Login, &def.Register, &def.Violations} {
		if p.Max < 1 {
			p.Max = 1
		}
		if p.Window <= 0 {
			p.Window = time.Minute
		}
	}
	if def.BlockDuration < 0 {
		def.BlockDuration = 0
	}
	return def
}

// Policies returns every configured policy; the sweeper keeps rate rows for
// the longest window among them.
func (c RateLimitConfig) Policies() []ratelimit.Policy {
	return []ratelimit.Policy{c.API, c.Login, c.Register, c.Violations}
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

// envSeconds accepts either a bare integer number of seconds ("3600") or a
// Go duration string ("1h").
func envSeconds(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
