package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/pkg/document"
)

// Coordinator debounces persistence writes: a document marked dirty by
// a tick is saved at most once per debounce window; on a version
// conflict it stays dirty and the next sweep retries with the
// document's latest revision as version.
// PersistenceError per spec.md §7 is never fatal: it is retried on the
// next debounce tick.
type Coordinator struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger
}

func NewCoordinator(store Store, interval time.Duration, log zerolog.Logger) *Coordinator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Coordinator{store: store, interval: interval, log: log}
}

// Run periodically sweeps docs for PersistDirty and saves them, until
// ctx is cancelled. docsFn is called fresh each sweep so newly created
// or evicted documents are picked up without the coordinator needing
// its own registration channel.
func (c *Coordinator) Run(ctx context.Context, docsFn func() []*document.Document) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.flushAll(context.Background(), docsFn())
			return
		case <-ticker.C:
			c.sweep(ctx, docsFn())
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context, docs []*document.Document) {
	for _, d := range docs {
		if !d.PersistDirty() {
			continue
		}
		c.saveOne(ctx, d)
	}
}

// flushAll is the best-effort final save attempted during server
// shutdown drain (spec.md §5).
func (c *Coordinator) flushAll(ctx context.Context, docs []*document.Document) {
	for _, d := range docs {
		if d.PersistDirty() {
			c.saveOne(ctx, d)
		}
	}
}

func (c *Coordinator) saveOne(ctx context.Context, d *document.Document) {
	state := d.Snapshot()
	version := d.Revision()
	if err := c.store.Save(ctx, d.Name, state, version); err != nil {
		if _, ok := err.(*ErrVersionConflict); ok {
			// The store already holds this revision or a later one;
			// the document stays dirty, so the next sweep retries with
			// whatever revision it has by then.
			return
		}
		c.log.Warn().Err(err).Str("document", d.Name).Msg("persistence save failed, will retry next sweep")
		return
	}
	d.MarkPersisted()
}
