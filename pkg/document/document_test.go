package document

import (
	"testing"

	"github.com/docsync/docsync/pkg/value"
)

func TestSeedThenTickProducesSnapshotableState(t *testing.T) {
	d := New("room1")
	obj := value.NewObject()
	obj.Set("count", value.Number(0))
	obj.Set("_secret", value.String("x"))
	d.Seed(value.ObjectValue(obj))

	hooks := Hooks{
		OnUpdate: func(name string, state *value.Value, dtMillis int64) {
			o := state.Object()
			o.Set("count", value.Number(1))
		},
	}

	ops, rev, changed := d.Tick(hooks, 16)
	if !changed {
		t.Fatalf("expected a change after onUpdate mutated count")
	}
	if rev != 2 {
		t.Fatalf("expected revision 2 (Seed starts at 1), got %d", rev)
	}
	if len(ops) != 1 {
		t.Fatalf("expected one patch op, got %d", len(ops))
	}

	snap := d.Snapshot()
	if _, ok := snap.Object().Get("_secret"); ok {
		t.Fatalf("snapshot leaked private key")
	}
}

func TestTickNoChangeDoesNotAdvanceRevision(t *testing.T) {
	d := New("room1")
	d.Seed(value.ObjectValue(value.NewObject()))

	hooks := Hooks{OnUpdate: func(string, *value.Value, int64) {}}
	_, rev1, changed1 := d.Tick(hooks, 16)
	_, rev2, changed2 := d.Tick(hooks, 16)

	if changed1 || changed2 {
		t.Fatalf("expected no changes when onUpdate is a no-op")
	}
	if rev1 != 1 || rev2 != 1 {
		t.Fatalf("expected revision to stay at the post-Seed value of 1, got %d then %d", rev1, rev2)
	}
}

func TestEvictionEligibility(t *testing.T) {
	d := New("room1")
	d.Seed(value.ObjectValue(value.NewObject()))

	if !d.EvictionEligible() {
		t.Fatalf("fresh document with no subscribers should be eviction-eligible")
	}

	d.AddSubscriber()
	if d.EvictionEligible() {
		t.Fatalf("document with a subscriber must not be eviction-eligible")
	}

	d.RemoveSubscriber()
	hooks := Hooks{OnUpdate: func(name string, state *value.Value, dtMillis int64) {
		state.Object().Set("x", value.Number(1))
	}}
	d.Tick(hooks, 16)
	if d.EvictionEligible() {
		t.Fatalf("document with pending persistence work must not be eviction-eligible")
	}

	d.MarkPersisted()
	if !d.EvictionEligible() {
		t.Fatalf("document should be eligible again once persisted and subscriber-free")
	}
}
