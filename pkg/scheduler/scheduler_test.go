package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

func TestRunTicksAndBroadcastsOnChange(t *testing.T) {
	doc := document.New("room1")
	doc.Seed(value.ObjectValue(value.NewObject()))

	var counter int64
	var broadcastCount int64
	hooks := document.Hooks{
		OnUpdate: func(name string, state *value.Value, dtMillis int64) {
			n := atomic.AddInt64(&counter, 1)
			state.Object().Set("count", value.Number(float64(n)))
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, doc, hooks, 10, func(ops []patch.Patch, rev uint64) {
			atomic.AddInt64(&broadcastCount, 1)
		}, zerolog.Nop())
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit after cancel")
	}

	if atomic.LoadInt64(&counter) == 0 {
		t.Fatalf("expected onUpdate to have run at least once")
	}
	if atomic.LoadInt64(&broadcastCount) == 0 {
		t.Fatalf("expected at least one broadcast")
	}
	if doc.Status() != document.StatusClosed {
		t.Fatalf("expected document closed after scheduler exit, got %v", doc.Status())
	}
}

func TestAtMostOneTickAtATime(t *testing.T) {
	doc := document.New("room1")
	doc.Seed(value.ObjectValue(value.NewObject()))

	var inFlight int32
	var concurrentEntries int32
	hooks := document.Hooks{
		OnUpdate: func(name string, state *value.Value, dtMillis int64) {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.AddInt32(&concurrentEntries, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, doc, hooks, 2, func([]patch.Patch, uint64) {}, zerolog.Nop())
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&concurrentEntries) != 0 {
		t.Fatalf("expected no concurrent onUpdate entries, saw %d", concurrentEntries)
	}
}
