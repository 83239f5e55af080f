// Package scheduler implements the Tick Scheduler: a per-document
// cooperative loop that runs onUpdate → diff → shadow-swap →
// persistence-mark (Document.Tick) → broadcast once per cycle, never
// overlapping itself, with no
// catch-up on overrun. Grounded on the teacher's Hub.Run select loop,
// generalized from one hub to one goroutine per document.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
)

const defaultCycleMs = 100

// slowTickMultiplier is the "cycleMs * N" threshold spec.md §5 names
// for logging an overrun tick without killing the document.
const slowTickMultiplier = 10

// BroadcastFunc hands a tick's resulting patch list to the Broker.
type BroadcastFunc func(ops []patch.Patch, newRevision uint64)

// Run drives doc's tick loop until ctx is cancelled or doc transitions
// to Draining (set externally, e.g. by registry.DrainAll during
// server shutdown). Exactly one final tick is attempted after either
// signal so subscribers see the terminal state, then doc is closed.
//
// time.Ticker's single-slot channel is what gives "no catch-up: at most
// one queued tick" for free — the first tick that fires while the
// previous handler is still running is buffered, any further ones are
// dropped, so no tick is ever queued twice.
func Run(ctx context.Context, doc *document.Document, hooks document.Hooks, cycleMs int, broadcast BroadcastFunc, log zerolog.Logger) {
	if cycleMs <= 0 {
		cycleMs = defaultCycleMs
	}
	period := time.Duration(cycleMs) * time.Millisecond
	maxDt := int64(5 * cycleMs)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			finalTick(doc, hooks, broadcast, lastStart, maxDt)
			return
		case now := <-ticker.C:
			if doc.Status() == document.StatusDraining {
				finalTick(doc, hooks, broadcast, lastStart, maxDt)
				return
			}

			tickStart := time.Now()
			dtMillis := clamp(now.Sub(lastStart).Milliseconds(), 0, maxDt)
			lastStart = now

			ops, rev, changed := doc.Tick(hooks, dtMillis)
			if changed {
				broadcast(ops, rev)
			}

			if elapsed := time.Since(tickStart); elapsed > time.Duration(slowTickMultiplier)*period {
				log.Warn().Str("document", doc.Name).Dur("elapsed", elapsed).Msg("tick exceeded cycleMs*N, application hook may be stuck")
			}
		}
	}
}

func finalTick(doc *document.Document, hooks document.Hooks, broadcast BroadcastFunc, lastStart time.Time, maxDt int64) {
	doc.BeginDraining()
	dtMillis := clamp(time.Since(lastStart).Milliseconds(), 0, maxDt)
	ops, rev, changed := doc.Tick(hooks, dtMillis)
	if changed {
		broadcast(ops, rev)
	}
	doc.Close()
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
