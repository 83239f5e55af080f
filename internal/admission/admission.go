// Package admission bounds inbound connection rate and in-flight
// document capacity, per SPEC_FULL.md §4.11. Grounded on the teacher's
// ws/internal/shared/limits/connection_rate_limiter.go (two-level
// token-bucket rate limiting) and resource_guard.go's channel-backed
// GoroutineLimiter, generalized to a document-capacity semaphore.
package admission

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionLimiter rate-limits inbound connection attempts globally
// and per remote IP using token buckets.
type ConnectionLimiter struct {
	ipMu     sync.Mutex
	ipLimiters map[string]*ipEntry
	ipRate   float64
	ipBurst  int
	ipTTL    time.Duration

	global *rate.Limiter

	log zerolog.Logger

	stop chan struct{}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionLimiterConfig configures both rate-limiting levels. There
// is no separate per-IP config in the configuration surface
// (SPEC_FULL.md §9 only exposes the global rate/burst), so each per-IP
// bucket gets a quarter of the global rate and a quarter of the global
// burst, each at least 1.
type ConnectionLimiterConfig struct {
	GlobalRate  float64
	GlobalBurst int
	IPTTL       time.Duration
	Logger      zerolog.Logger
}

// NewConnectionLimiter constructs a limiter and starts its stale-IP
// cleanup loop.
func NewConnectionLimiter(cfg ConnectionLimiterConfig) *ConnectionLimiter {
	if cfg.IPTTL <= 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	ipRate := cfg.GlobalRate / 4
	if ipRate < 1 {
		ipRate = 1
	}
	ipBurst := cfg.GlobalBurst / 4
	if ipBurst < 1 {
		ipBurst = 1
	}

	cl := &ConnectionLimiter{
		ipLimiters: make(map[string]*ipEntry),
		ipRate:     ipRate,
		ipBurst:    ipBurst,
		ipTTL:      cfg.IPTTL,
		global:     rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		log:        cfg.Logger,
		stop:       make(chan struct{}),
	}
	go cl.cleanupLoop()
	return cl
}

// Allow checks the global bucket first (cheap, no map lookup), then the
// per-IP bucket. Both must have tokens for the connection to proceed.
func (cl *ConnectionLimiter) Allow(ip string) bool {
	if !cl.global.Allow() {
		cl.log.Debug().Str("ip", ip).Msg("connection rejected: global rate limit exceeded")
		return false
	}
	if !cl.ipLimiter(ip).Allow() {
		cl.log.Debug().Str("ip", ip).Msg("connection rejected: per-IP rate limit exceeded")
		return false
	}
	return true
}

func (cl *ConnectionLimiter) ipLimiter(ip string) *rate.Limiter {
	cl.ipMu.Lock()
	defer cl.ipMu.Unlock()
	entry, ok := cl.ipLimiters[ip]
	if ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(cl.ipRate), cl.ipBurst)
	cl.ipLimiters[ip] = &ipEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (cl *ConnectionLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cl.cleanup()
		case <-cl.stop:
			return
		}
	}
}

func (cl *ConnectionLimiter) cleanup() {
	cl.ipMu.Lock()
	defer cl.ipMu.Unlock()
	now := time.Now()
	for ip, entry := range cl.ipLimiters {
		if now.Sub(entry.lastAccess) > cl.ipTTL {
			delete(cl.ipLimiters, ip)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (cl *ConnectionLimiter) Stop() { close(cl.stop) }

// DocumentGuard is a channel-backed semaphore bounding the number of
// documents the Registry may have resident at once
// (maxInflightDocuments, spec.md §4.7).
type DocumentGuard struct {
	sem chan struct{}
}

func NewDocumentGuard(max int) *DocumentGuard {
	return &DocumentGuard{sem: make(chan struct{}, max)}
}

// TryAcquire attempts to reserve a document slot without blocking.
func (g *DocumentGuard) TryAcquire() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a document slot on eviction or close.
func (g *DocumentGuard) Release() {
	select {
	case <-g.sem:
	default:
	}
}

// InFlight reports the current number of reserved slots.
func (g *DocumentGuard) InFlight() int { return len(g.sem) }
