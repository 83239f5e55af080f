package admission

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConnectionLimiterGlobalBurst(t *testing.T) {
	cl := NewConnectionLimiter(ConnectionLimiterConfig{
		GlobalRate:  1,
		GlobalBurst: 2,
		Logger:      zerolog.Nop(),
	})
	defer cl.Stop()

	if !cl.Allow("10.0.0.1") {
		t.Fatalf("expected first connection allowed")
	}
	if !cl.Allow("10.0.0.2") {
		t.Fatalf("expected second connection allowed (within burst)")
	}
	if cl.Allow("10.0.0.3") {
		t.Fatalf("expected third connection to exceed the global burst")
	}
}

func TestConnectionLimiterPerIPIsolatesClients(t *testing.T) {
	cl := NewConnectionLimiter(ConnectionLimiterConfig{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		Logger:      zerolog.Nop(),
	})
	defer cl.Stop()

	// Per-IP burst derives to max(1, GlobalBurst/4); exhaust one IP's
	// bucket and confirm a different IP is unaffected.
	for i := 0; i < 500; i++ {
		cl.Allow("10.0.0.1")
	}
	if cl.Allow("10.0.0.1") {
		t.Fatalf("expected 10.0.0.1 to be throttled after exhausting its bucket")
	}
	if !cl.Allow("10.0.0.2") {
		t.Fatalf("expected a fresh IP to still be allowed")
	}
}

func TestConnectionLimiterCleanupEvictsStaleIPs(t *testing.T) {
	cl := NewConnectionLimiter(ConnectionLimiterConfig{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		IPTTL:       time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	defer cl.Stop()

	cl.Allow("10.0.0.9")
	if len(cl.ipLimiters) != 1 {
		t.Fatalf("expected one tracked IP")
	}

	time.Sleep(5 * time.Millisecond)
	cl.cleanup()
	if len(cl.ipLimiters) != 0 {
		t.Fatalf("expected stale IP to be evicted, got %d remaining", len(cl.ipLimiters))
	}
}

func TestDocumentGuardBoundsInFlight(t *testing.T) {
	g := NewDocumentGuard(2)

	if !g.TryAcquire() || !g.TryAcquire() {
		t.Fatalf("expected both slots to be acquirable")
	}
	if g.TryAcquire() {
		t.Fatalf("expected a third acquire to fail once capacity is exhausted")
	}
	if g.InFlight() != 2 {
		t.Fatalf("expected InFlight()==2, got %d", g.InFlight())
	}

	g.Release()
	if g.InFlight() != 1 {
		t.Fatalf("expected InFlight()==1 after release, got %d", g.InFlight())
	}
	if !g.TryAcquire() {
		t.Fatalf("expected a slot to be acquirable again after release")
	}
}
