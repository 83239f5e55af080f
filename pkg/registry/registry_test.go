package registry

import (
	"context"
	"testing"

	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/patch"
	"github.com/docsync/docsync/pkg/persistence"
	"github.com/docsync/docsync/pkg/value"
)

func TestCreateOrGetCallsOnCreateOnMiss(t *testing.T) {
	var createdName string
	r := New(Options{Hooks: document.Hooks{
		OnCreate: func(name string) value.Value {
			createdName = name
			obj := value.NewObject()
			obj.Set("seeded", value.Bool(true))
			return value.ObjectValue(obj)
		},
	}})

	d, err := r.CreateOrGet(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if createdName != "room-1" {
		t.Fatalf("expected onCreate to fire for room-1, got %q", createdName)
	}
	if d.Status() != document.StatusRunning {
		t.Fatalf("expected Running after Seed, got %s", d.Status())
	}

	again, err := r.CreateOrGet(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("CreateOrGet (second): %v", err)
	}
	if again != d {
		t.Fatalf("expected the same Document instance on a second call")
	}
}

func TestCreateOrGetCallsOnHydrateOnStoreHit(t *testing.T) {
	store := persistence.NewMemoryStore()
	seeded := value.NewObject()
	seeded.Set("count", value.Number(7))
	if err := store.Save(context.Background(), "room-2", value.ObjectValue(seeded), 1); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	var hydrateCalled bool
	r := New(Options{
		Store: store,
		Hooks: document.Hooks{
			OnCreate: func(name string) value.Value {
				t.Fatalf("onCreate should not fire when the store has a record")
				return value.Value{}
			},
			OnHydrate: func(name string, state value.Value) value.Value {
				hydrateCalled = true
				return state
			},
		},
	})

	d, err := r.CreateOrGet(context.Background(), "room-2")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if !hydrateCalled {
		t.Fatalf("expected onHydrate to fire on a store hit")
	}
	count, ok := d.Snapshot().Object().Get("count")
	if !ok || count.Number() != 7 {
		t.Fatalf("expected hydrated state to carry over, got ok=%v count=%v", ok, count)
	}
}

func TestSweepEvictableRemovesIdleDocuments(t *testing.T) {
	r := New(Options{})
	d, err := r.CreateOrGet(context.Background(), "room-3")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if !d.EvictionEligible() {
		t.Fatalf("expected a freshly seeded, unsubscribed document to be eviction-eligible")
	}

	evicted := r.SweepEvictable()
	if len(evicted) != 1 || evicted[0] != "room-3" {
		t.Fatalf("expected room-3 to be evicted, got %v", evicted)
	}
	if _, ok := r.Get("room-3"); ok {
		t.Fatalf("expected room-3 to be removed from the registry")
	}
	if d.Status() != document.StatusClosed {
		t.Fatalf("expected the evicted document to be closed")
	}
}

func TestSweepEvictableSkipsKeepAlive(t *testing.T) {
	r := New(Options{KeepAlive: true})
	if _, err := r.CreateOrGet(context.Background(), "room-4"); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if evicted := r.SweepEvictable(); evicted != nil {
		t.Fatalf("expected no eviction with KeepAlive set, got %v", evicted)
	}
	if r.Count() != 1 {
		t.Fatalf("expected the document to remain resident")
	}
}

func TestCreateOrGetAppliesConfiguredArrayMode(t *testing.T) {
	r := New(Options{
		ArrayMode: patch.ArrayModeElement,
		Hooks: document.Hooks{
			OnCreate: func(name string) value.Value {
				o := value.NewObject()
				o.Set("items", value.Array(value.Number(1), value.Number(2), value.Number(3)))
				return value.ObjectValue(o)
			},
		},
	})

	d, err := r.CreateOrGet(context.Background(), "room-6")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	ops, _, changed := d.Tick(document.Hooks{
		OnUpdate: func(name string, state *value.Value, dtMillis int64) {
			o := state.Object()
			o.Set("items", value.Array(value.Number(1), value.Number(99), value.Number(3), value.Number(4)))
		},
	}, 10)
	if !changed {
		t.Fatalf("expected the array mutation to produce a change")
	}
	for _, op := range ops {
		if len(op.Path) > 0 && op.Path[0] == "items" && len(op.Path) == 1 {
			t.Fatalf("expected per-index array patches under ArrayModeElement, got a whole-array replace: %+v", op)
		}
	}
}

func TestDrainAllTransitionsToDraining(t *testing.T) {
	r := New(Options{})
	d, _ := r.CreateOrGet(context.Background(), "room-5")
	r.DrainAll()
	if d.Status() != document.StatusDraining {
		t.Fatalf("expected Draining after DrainAll, got %s", d.Status())
	}
}
