// Package document implements the Document: current state, the
// last-broadcast shadow it is diffed against, a monotonic revision
// counter, and the lifecycle a single-writer sequencer drives it
// through. Grounded on the teacher's Hub, generalized from "one hub, N
// clients" to "N documents, each its own single-writer state machine".
package document

import (
	"sync"

	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/value"
)

// Status is the Document lifecycle per spec.md §3.
type Status int

const (
	StatusLoading Status = iota
	StatusRunning
	StatusDraining
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusRunning:
		return "running"
	case StatusDraining:
		return "draining"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Hooks is the application-supplied capability set the Server Facade
// wires in. Every field is independently optional; nil means default
// (no-op) behavior, per spec.md §5's "Open Question" resolution.
type Hooks struct {
	OnCreate  func(name string) value.Value
	OnHydrate func(name string, state value.Value) value.Value
	OnUpdate  func(name string, state *value.Value, dtMillis int64)
}

// Document holds current state, the shadow it diffs against, and
// revision/lifecycle bookkeeping. All mutation happens on the single
// sequencer goroutine the Tick Scheduler drives (pkg/scheduler); methods
// here assume single-writer discipline except where noted, which is
// pkg/scheduler's and pkg/registry's responsibility to uphold.
type Document struct {
	Name string

	mu       sync.Mutex
	state    value.Value
	shadow   value.Value
	revision uint64
	status   Status

	// dirtyHints is advisory only; the implementation does not consult
	// it for correctness (spec.md §4.2 forbids relying on it), but
	// exposes PropertyChange so hooks compile against the contract.
	dirtyHints map[string]bool

	subscriberCount int
	persistDirty    bool

	arrayMode patch.ArrayMode
}

// New constructs a Document in Loading status with an empty object
// state. The caller (Registry) transitions it to Running once seeded
// via onCreate/onHydrate.
func New(name string) *Document {
	return &Document{
		Name:       name,
		state:      value.ObjectValue(value.NewObject()),
		shadow:     value.ObjectValue(value.NewObject()),
		status:     StatusLoading,
		dirtyHints: make(map[string]bool),
	}
}

// Seed sets the initial state from onCreate or onHydrate and marks the
// document Running. It also resets shadow to match state, so the first
// tick's diff against shadow is empty, and sets revision to 1 so a
// subscriber's snapshot (taken at this revision) and the next changed
// tick's baseRevision agree per spec.md §4.4 Scenario A.
func (d *Document) Seed(state value.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	d.shadow = state.Clone()
	d.status = StatusRunning
	d.revision = 1
}

// Status returns the current lifecycle state.
func (d *Document) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Revision returns the current monotonic revision.
func (d *Document) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// Snapshot returns a deep clone of the visible (private-key-stripped)
// state, suitable for a Snapshot PatchBatch or a persistence write.
func (d *Document) Snapshot() value.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return value.StripPrivate(d.state)
}

// PropertyChange records an advisory dirty hint. Callable from within
// onUpdate only per spec.md §5; callers outside a tick get a silent
// no-op by calling this with a Document not currently ticking, which is
// indistinguishable here and therefore harmless either way.
func (d *Document) PropertyChange(entityPath, propertyName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirtyHints[entityPath+"\x00"+propertyName] = true
}

// Tick runs one iteration of {onUpdate → diff → shadow-swap →
// persistence-mark} and returns the resulting PatchBatch operations
// (empty if nothing changed) along with the new revision. The caller
// (scheduler) is responsible for broadcasting; revision only advances
// when the diff is non-empty, per spec.md §3's "incremented once per
// broadcast that carries a non-empty patch".
func (d *Document) Tick(hooks Hooks, dtMillis int64) (ops []patch.Patch, newRevision uint64, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if hooks.OnUpdate != nil {
		hooks.OnUpdate(d.Name, &d.state, dtMillis)
	}

	ops = patch.Diff(d.shadow, d.state, patch.Options{ArrayMode: d.arrayMode})
	if len(ops) == 0 {
		return nil, d.revision, false
	}

	d.revision++
	d.shadow = value.StripPrivate(d.state)
	d.persistDirty = true
	d.dirtyHints = make(map[string]bool)

	return ops, d.revision, true
}

// SetArrayMode configures whether future ticks diff length-changed
// arrays as a whole-array Replace (default) or per index; equal-length
// arrays are diffed per index in either mode.
func (d *Document) SetArrayMode(mode patch.ArrayMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.arrayMode = mode
}

// AddSubscriber/RemoveSubscriber maintain the eviction-eligibility
// count; the actual Session handles and cursor table live in
// pkg/broker, which owns subscription wiring (spec.md §3's ownership
// split: Registry owns Documents, Broker owns the subscriber routing).
func (d *Document) AddSubscriber() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriberCount++
}

func (d *Document) RemoveSubscriber() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscriberCount > 0 {
		d.subscriberCount--
	}
}

// EvictionEligible reports whether the document has no subscribers and
// no pending persistence work, per spec.md §3. keepAlive overrides this
// at the caller's discretion (the Registry checks its own keepAlive
// option before acting on this).
func (d *Document) EvictionEligible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subscriberCount == 0 && !d.persistDirty
}

// MarkPersisted clears the persistence-dirty flag after a successful
// save.
func (d *Document) MarkPersisted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persistDirty = false
}

// PersistDirty reports whether state has changed since the last
// successful persistence write.
func (d *Document) PersistDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persistDirty
}

// BeginDraining transitions Running → Draining; the scheduler stops
// issuing new ticks once it observes this but lets an in-flight tick
// finish (spec.md §4.3).
func (d *Document) BeginDraining() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusRunning {
		d.status = StatusDraining
	}
}

// Close transitions to Closed. Called by the scheduler after the final
// drain broadcast has been attempted.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = StatusClosed
}
