// Package registry implements the Document Registry: a lazy
// name-to-Document map that coordinates creation (onCreate), hydration
// from storage (onHydrate), eviction, and graceful shutdown. Grounded
// on the teacher's Hub register/unregister bookkeeping generalized from
// a single client set to N named Documents.
package registry

import (
	"context"
	"sync"

	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/persistence"
	"github.com/docsync/docsync/pkg/value"
)

// Options configures Registry behavior.
type Options struct {
	Hooks     document.Hooks
	Store     persistence.Store
	KeepAlive bool

	// ArrayMode selects the diff strategy every Document created by
	// this Registry uses for array-valued fields. Defaults to the
	// zero value (patch.ArrayModeWhole) when unset.
	ArrayMode patch.ArrayMode
}

// Registry owns every Document's lifetime exclusively; Sessions and the
// Broker only ever hold a document name plus cursor, never a reference
// that outlives eviction (spec.md §3).
type Registry struct {
	opts Options

	mu   sync.Mutex
	docs map[string]*document.Document
}

func New(opts Options) *Registry {
	return &Registry{opts: opts, docs: make(map[string]*document.Document)}
}

// CreateOrGet returns the Document for name, creating and seeding it on
// first access: load from the Store, and on a miss call onCreate; on a
// hit call onHydrate. Scenario D/E in spec.md §8 depend on exactly one
// of the two firing.
func (r *Registry) CreateOrGet(ctx context.Context, name string) (*document.Document, error) {
	r.mu.Lock()
	if d, ok := r.docs[name]; ok {
		r.mu.Unlock()
		return d, nil
	}
	d := document.New(name)
	d.SetArrayMode(r.opts.ArrayMode)
	r.docs[name] = d
	r.mu.Unlock()

	state, err := r.seed(ctx, name)
	if err != nil {
		return nil, err
	}
	d.Seed(state)
	return d, nil
}

func (r *Registry) seed(ctx context.Context, name string) (value.Value, error) {
	if r.opts.Store != nil {
		loaded, _, ok, err := r.opts.Store.Load(ctx, name)
		if err != nil {
			return value.Value{}, err
		}
		if ok {
			if r.opts.Hooks.OnHydrate != nil {
				loaded = r.opts.Hooks.OnHydrate(name, loaded)
			}
			return loaded, nil
		}
	}
	if r.opts.Hooks.OnCreate != nil {
		return r.opts.Hooks.OnCreate(name), nil
	}
	return value.ObjectValue(value.NewObject()), nil
}

// Get returns an existing Document without creating one.
func (r *Registry) Get(name string) (*document.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[name]
	return d, ok
}

// Names returns a snapshot of all currently known document names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.docs))
	for name := range r.docs {
		out = append(out, name)
	}
	return out
}

// ListDocuments returns a snapshot of every currently resident Document,
// for the Persistence Coordinator's sweep loop.
func (r *Registry) ListDocuments() []*document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*document.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out
}

// Count returns the number of currently resident documents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// SweepEvictable closes and removes every Document that is eligible for
// eviction (per document.EvictionEligible) unless KeepAlive is set. It
// returns the names evicted.
func (r *Registry) SweepEvictable() []string {
	if r.opts.KeepAlive {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for name, d := range r.docs {
		if d.EvictionEligible() {
			d.Close()
			delete(r.docs, name)
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// DrainAll transitions every Document to Draining, for server-wide
// shutdown (spec.md §5).
func (r *Registry) DrainAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		d.BeginDraining()
	}
}
