package server

import (
	"context"
	"errors"
	"time"

	"github.com/docsync/docsync/internal/eventbus"
	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/scheduler"
)

// ErrDocumentCapacity is returned by getOrCreateDocument when
// maxInflightDocuments is already reserved and name is not already
// resident.
var ErrDocumentCapacity = errors.New("server: maxInflightDocuments reached")

// getOrCreateDocument returns the named Document, reserving a capacity
// slot and starting its tick scheduler goroutine on first access.
func (s *Server) getOrCreateDocument(ctx context.Context, name string) (*document.Document, error) {
	if _, ok := s.registry.Get(name); ok {
		return s.registry.CreateOrGet(ctx, name)
	}

	if !s.docGuard.TryAcquire() {
		return nil, ErrDocumentCapacity
	}

	d, err := s.registry.CreateOrGet(ctx, name)
	if err != nil {
		s.docGuard.Release()
		return nil, err
	}

	s.startScheduler(d)
	s.metrics.SetDocumentsActive(s.registry.Count())
	s.bus.PublishLifecycle(name, eventbus.EventCreated)
	return d, nil
}

// startScheduler spawns doc's per-document tick loop. It is called
// exactly once per document, immediately after creation.
func (s *Server) startScheduler(d *document.Document) {
	tickCtx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	s.runningTicks[d.Name] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.onDocumentClosed(d)
		scheduler.Run(tickCtx, d, s.hooks.Document, s.cfg.CycleMs, s.broadcastFunc(d), s.log)
	}()
}

// broadcastFunc adapts a tick's output into a Broker.Broadcast call plus
// the ambient telemetry/event-bus side effects.
func (s *Server) broadcastFunc(d *document.Document) scheduler.BroadcastFunc {
	return func(ops []patch.Patch, newRevision uint64) {
		if !s.cfg.AllowSync {
			// Revision/state tracking still advances (Tick already ran);
			// only fan-out to subscribers is suppressed, per
			// AllowSync=false deployments that want local-only documents.
			s.metrics.RecordTick(0, len(ops))
			return
		}
		if s.cfg.SimulateLatencyMs > 0 {
			time.Sleep(time.Duration(s.cfg.SimulateLatencyMs) * time.Millisecond)
		}

		start := time.Now()
		s.broker.Broadcast(d, ops, newRevision)
		s.metrics.RecordTick(time.Since(start), len(ops))
		s.metrics.RecordBroadcast()
		s.bus.PublishRevision(d.Name, newRevision, s.broker.SubscriberCount(d.Name), len(ops))
	}
}

func (s *Server) onDocumentClosed(d *document.Document) {
	s.mu.Lock()
	delete(s.runningTicks, d.Name)
	s.mu.Unlock()
	s.docGuard.Release()
	s.bus.PublishLifecycle(d.Name, eventbus.EventClosed)
}

// sweepEvictable periodically evicts idle documents, releasing their
// capacity slot and letting the next getOrCreateDocument admit a new
// one. The document's scheduler keeps ticking until cancel is called
// below; SweepEvictable's Close and a concurrent tick are serialized by
// the Document's own mutex, and the scheduler's final tick then runs on
// the already-closed document.
func (s *Server) sweepEvictable(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range s.registry.SweepEvictable() {
				s.mu.Lock()
				cancel, ok := s.runningTicks[name]
				s.mu.Unlock()
				if ok {
					// cancel stops the scheduler goroutine, whose deferred
					// onDocumentClosed releases this document's docGuard
					// slot; releasing it here too would double-release a
					// slot that may already belong to a different document.
					cancel()
				}
				s.bus.PublishLifecycle(name, eventbus.EventEvicted)
			}
			s.metrics.SetDocumentsActive(s.registry.Count())
		}
	}
}
