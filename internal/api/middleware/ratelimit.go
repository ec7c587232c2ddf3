package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/metrics"
)

// Scope selects what a rate limit bucket is keyed on.
type Scope int

const (
	// ScopeIP keys on the client address.
	ScopeIP Scope = iota
	// ScopePrincipal keys on the verified token subject. Requests without a
	// valid token share their address bucket instead.
	ScopePrincipal
)

// RateLimit is the budget for requests whose "METHOD /path" starts with Pattern.
type RateLimit struct {
	Pattern  string
	Requests int
	Window   time.Duration
	Scope    Scope
}

// DefaultRateLimits are checked in order; the first matching pattern applies.
var DefaultRateLimits = []RateLimit{
	{"GET /channel/", 30, time.Minute, ScopeIP},
	{"POST /chats/", 120, time.Minute, ScopePrincipal},
	{"GET /chats/", 120, time.Minute, ScopePrincipal},
	{"POST /chats", 20, time.Minute, ScopePrincipal},
	{"GET /chats", 60, time.Minute, ScopePrincipal},
	{"POST /iot/telemetry", 600, time.Minute, ScopePrincipal},
	{"GET /iot/telemetry", 60, time.Minute, ScopePrincipal},
	{"POST /notifications", 60, time.Minute, ScopePrincipal},
	{"GET /notifications", 60, time.Minute, ScopePrincipal},
	{"GET /uploads/", 300, time.Minute, ScopeIP},
}

const (
	violationThreshold = 10
	violationWindow    = time.Hour
	autoBlockDuration  = 24 * time.Hour
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Verifier         auth.Verifier // resolves principals for ScopePrincipal buckets
	Limits           []RateLimit   // defaults to DefaultRateLimits
	Whitelist        []string      // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool          // block an address after repeated violations
}

// RateLimiter applies redis-backed sliding window limits per route.
type RateLimiter struct {
	client    *redis.Client
	verifier  auth.Verifier
	limits    []RateLimit
	blocker   *IPBlocker
	exempt    *addrSet
	autoBlock bool
	logger    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultRateLimits
	}
	logger = logger.With().Str("component", "ratelimit").Logger()

	rl := &RateLimiter{
		client:    client,
		verifier:  cfg.Verifier,
		limits:    limits,
		blocker:   NewIPBlocker(client),
		exempt:    parseAddrSet(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		logger:    logger,
	}
	if len(cfg.Whitelist) > 0 {
		logger.Info().Strs("entries", cfg.Whitelist).Msg("rate limit whitelist configured")
	}
	return rl
}

// addrSet matches single addresses and CIDR ranges.
type addrSet struct {
	ips  map[string]bool
	nets []*net.IPNet
}

func parseAddrSet(entries []string, logger zerolog.Logger) *addrSet {
	set := &addrSet{ips: make(map[string]bool)}
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			set.ips[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		set.nets = append(set.nets, ipNet)
	}
	return set
}

func (s *addrSet) contains(addr string) bool {
	if s.ips[addr] {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// bucketKey names the redis key a request is counted under.
func (rl *RateLimiter) bucketKey(r *http.Request, limit *RateLimit, ip string) string {
	if limit.Scope == ScopePrincipal && rl.verifier != nil {
		if token, ok := bearerToken(r); ok {
			if p, err := rl.verifier.Verify(token); err == nil {
				return fmt.Sprintf("ratelimit:%s:user:%d", limit.Pattern, p.ID)
			}
		}
	}
	return fmt.Sprintf("ratelimit:%s:ip:%s", limit.Pattern, ip)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// decision is the outcome of counting one request.
type decision struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// take records a request in the bucket's sliding window. Redis failures let
// the request through.
func (rl *RateLimiter) take(ctx context.Context, key string, limit *RateLimit) decision {
	now := time.Now()

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-limit.Window).UnixMilli(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: ulid.Make().String()})
	pipe.PExpire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return decision{allowed: true, remaining: limit.Requests, resetAt: now.Add(limit.Window)}
	}

	seen := int(count.Val())
	return decision{
		allowed:   seen < limit.Requests,
		remaining: max(limit.Requests-seen-1, 0),
		resetAt:   now.Add(limit.Window),
	}
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.client == nil || rl.exempt.contains(ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.blocker.IsBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		limit := rl.match(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.bucketKey(r, limit, ip)
		d := rl.take(r.Context(), key, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))

		if !d.allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			metrics.RateLimitHits.WithLabelValues(limit.Pattern).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")
			rl.recordViolation(r.Context(), ip)
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// match returns the first limit whose pattern prefixes the request.
func (rl *RateLimiter) match(r *http.Request) *RateLimit {
	route := r.Method + " " + r.URL.Path
	for i := range rl.limits {
		if strings.HasPrefix(route, rl.limits[i].Pattern) {
			return &rl.limits[i]
		}
	}
	return nil
}

// recordViolation counts a rejected request and blocks repeat offenders.
func (rl *RateLimiter) recordViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}

	key := "violations:ip:" + ip
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, violationWindow)
	if _, err := pipe.Exec(ctx); err != nil || incr.Val() < violationThreshold {
		return
	}

	rl.blocker.Block(ctx, ip, autoBlockDuration, "repeated rate limit violations")
	metrics.BlockedRequests.WithLabelValues("auto_block").Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", incr.Val()).
		Msg("IP auto-blocked for repeated violations")
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates a new IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

// IsBlocked reports whether ip is currently blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks ip for duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockKey(ip), reason, duration)
}
