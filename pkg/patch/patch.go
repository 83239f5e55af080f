// Package patch implements the diff/apply engine spec.md §4.1 describes:
// deep-diffing two value.Value trees into a minimal ordered patch list,
// applying that list back onto a tree, and encoding it on the wire in
// JSON or a compact binary form.
package patch

import (
	"errors"
	"fmt"

	"github.com/docsync/docsync/pkg/value"
)

// Kind tags a single patch operation.
type Kind uint8

const (
	KindAdd Kind = iota
	KindRemove
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Patch is a single Add/Remove/Replace against a path from the document
// root. Value is unset (zero Value, IsNull) for Remove.
type Patch struct {
	Kind  Kind
	Path  []string
	Value value.Value
}

// BatchKind distinguishes a full Snapshot from an Incremental diff.
type BatchKind uint8

const (
	BatchIncremental BatchKind = iota
	BatchSnapshot
)

// Batch is the unit broadcast to subscribers: spec.md §3's PatchBatch.
type Batch struct {
	DocumentName string
	BaseRevision uint64
	NewRevision  uint64
	Kind         BatchKind
	Operations   []Patch
}

// ErrorKind values are the taxonomy from spec.md §7 relevant to the
// Patch Engine; callers elsewhere use the same kinds for Transport,
// Auth, etc. Kept here because PatchConflict originates in this package.
type ErrorKind int

const (
	ErrPatchConflict ErrorKind = iota
)

// ConflictError reports an internal diff/apply inconsistency: Replace or
// Remove targeting a path that doesn't exist. Per spec.md §7 this forces
// a per-subscriber resync at a higher layer; it is never fatal here.
type ConflictError struct {
	Kind ErrorKind
	Path []string
	Op   Kind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("patch: %s conflict at %v: path does not exist", e.Op, e.Path)
}

// Options tunes diff behavior.
type Options struct {
	// ArrayMode selects how a length change is diffed. The zero value,
	// ArrayModeWhole, emits a single Replace of the whole array when
	// lengths differ (entities are map-keyed, not ordered lists, so
	// element-shift diffing isn't worth its O(n^2) cost). Equal-length
	// arrays always diff per index regardless of ArrayMode; only a
	// length change is affected by this option.
	ArrayMode ArrayMode
}

type ArrayMode uint8

const (
	ArrayModeWhole ArrayMode = iota
	ArrayModeElement
)

// Diff computes the minimal ordered patch list that turns oldTree into
// newTree when applied via Apply, skipping any key beginning with `_`
// at any depth (spec.md §4.1's privacy contract).
func Diff(oldTree, newTree value.Value, opts Options) []Patch {
	var out []Patch
	diffInto(nil, oldTree, newTree, opts, &out)
	return out
}

func diffInto(path []string, oldV, newV value.Value, opts Options, out *[]Patch) {
	if oldV.Kind() != newV.Kind() {
		*out = append(*out, Patch{Kind: KindReplace, Path: clonePath(path), Value: value.StripPrivate(newV)})
		return
	}

	switch newV.Kind() {
	case value.KindObject:
		diffObject(path, oldV.Object(), newV.Object(), opts, out)
	case value.KindArray:
		diffArray(path, oldV.Array(), newV.Array(), opts, out)
	default:
		if !value.Equal(oldV, newV) {
			*out = append(*out, Patch{Kind: KindReplace, Path: clonePath(path), Value: newV})
		}
	}
}

func diffObject(path []string, oldObj, newObj *value.Object, opts Options, out *[]Patch) {
	// Removals: keys only in old. Emitted before additions so Apply
	// never has to reconcile an Add and a Remove touching the same key
	// out of order.
	for _, k := range oldObj.Keys() {
		if value.IsPrivateKey(k) {
			continue
		}
		if _, ok := newObj.Get(k); !ok {
			*out = append(*out, Patch{Kind: KindRemove, Path: append(clonePath(path), k)})
		}
	}

	// Additions and recursive diffs, in newObj's key order.
	for _, k := range newObj.Keys() {
		if value.IsPrivateKey(k) {
			continue
		}
		nv, _ := newObj.Get(k)
		if ov, ok := oldObj.Get(k); ok {
			diffInto(append(clonePath(path), k), ov, nv, opts, out)
		} else {
			*out = append(*out, Patch{Kind: KindAdd, Path: append(clonePath(path), k), Value: value.StripPrivate(nv)})
		}
	}
}

func diffArray(path []string, oldArr, newArr []value.Value, opts Options, out *[]Patch) {
	if len(oldArr) != len(newArr) && opts.ArrayMode != ArrayModeElement {
		if !value.Equal(value.Array(oldArr...), value.Array(newArr...)) {
			*out = append(*out, Patch{Kind: KindReplace, Path: clonePath(path), Value: value.StripPrivate(value.Array(newArr...))})
		}
		return
	}

	// Element mode: per-index Add/Replace/Remove. Removes are appended
	// from the tail first in descending index order (spec.md §4.1) so
	// that applying them left-to-right never shifts the index of a
	// not-yet-processed removal.
	if len(newArr) > len(oldArr) {
		for i := len(oldArr); i < len(newArr); i++ {
			*out = append(*out, Patch{Kind: KindAdd, Path: append(clonePath(path), idx(i)), Value: value.StripPrivate(newArr[i])})
		}
	}
	common := len(oldArr)
	if len(newArr) < common {
		common = len(newArr)
	}
	for i := 0; i < common; i++ {
		diffInto(append(clonePath(path), idx(i)), oldArr[i], newArr[i], opts, out)
	}
	if len(oldArr) > len(newArr) {
		for i := len(oldArr) - 1; i >= len(newArr); i-- {
			*out = append(*out, Patch{Kind: KindRemove, Path: append(clonePath(path), idx(i))})
		}
	}
}

func idx(i int) string {
	return fmt.Sprintf("%d", i)
}

func clonePath(path []string) []string {
	return append([]string(nil), path...)
}

// Apply mutates tree in place according to patches, in order. Add
// creates missing intermediate objects as needed; Replace/Remove
// targeting a path that does not exist return a *ConflictError. The
// caller must clone tree first if the original must survive a failed
// apply.
func Apply(tree *value.Value, patches []Patch) error {
	for _, p := range patches {
		if err := applyOne(tree, p); err != nil {
			return err
		}
	}
	return nil
}

// cursor is a read/write lens onto a single slot in a Value tree: either
// the root, an object field, or an array element. Object fields need an
// explicit set callback because Object stores Values by copy in a map,
// not by pointer; array elements are mutated in place through the
// shared backing slice, and the root is addressed directly.
type cursor struct {
	get func() value.Value
	set func(value.Value)
}

func rootCursor(tree *value.Value) cursor {
	return cursor{
		get: func() value.Value { return *tree },
		set: func(v value.Value) { *tree = v },
	}
}

func applyOne(tree *value.Value, p Patch) error {
	if len(p.Path) == 0 {
		switch p.Kind {
		case KindAdd, KindReplace:
			*tree = p.Value
			return nil
		case KindRemove:
			*tree = value.Null()
			return nil
		}
	}

	cur := rootCursor(tree)
	for _, tok := range p.Path[:len(p.Path)-1] {
		next, err := descend(cur, tok, p)
		if err != nil {
			return err
		}
		cur = next
	}

	last := p.Path[len(p.Path)-1]
	return applyAtCursor(cur, last, p)
}

// descend moves the cursor one path token deeper, promoting a null slot
// to an empty object (Add is tolerant of missing intermediate containers
// per spec.md §4.1) and creating missing object keys along the way.
func descend(cur cursor, tok string, p Patch) (cursor, error) {
	container := cur.get()
	if container.IsNull() && p.Kind == KindAdd {
		container = value.ObjectValue(value.NewObject())
		cur.set(container)
	}

	switch container.Kind() {
	case value.KindObject:
		obj := container.Object()
		key := tok
		if _, ok := obj.Get(key); !ok {
			if p.Kind != KindAdd {
				return cursor{}, &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
			}
			obj.Set(key, value.Null())
		}
		return cursor{
			get: func() value.Value { v, _ := obj.Get(key); return v },
			set: func(v value.Value) { obj.Set(key, v) },
		}, nil
	case value.KindArray:
		arr := container.Array()
		n, convErr := parseIndex(tok)
		if convErr != nil || n < 0 || n >= len(arr) {
			return cursor{}, &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
		}
		return cursor{
			get: func() value.Value { return arr[n] },
			set: func(v value.Value) { arr[n] = v },
		}, nil
	default:
		return cursor{}, &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
	}
}

// applyAtCursor performs the final Add/Replace/Remove once cur addresses
// the container that directly holds the patch's target token.
func applyAtCursor(cur cursor, tok string, p Patch) error {
	container := cur.get()
	if container.IsNull() && p.Kind == KindAdd {
		container = value.ObjectValue(value.NewObject())
		cur.set(container)
	}

	if container.Kind() == value.KindArray {
		if n, convErr := parseIndex(tok); convErr == nil {
			arr := container.Array()
			switch p.Kind {
			case KindAdd:
				if n < 0 || n > len(arr) {
					return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
				}
				out := make([]value.Value, 0, len(arr)+1)
				out = append(out, arr[:n]...)
				out = append(out, p.Value)
				out = append(out, arr[n:]...)
				cur.set(value.Array(out...))
				return nil
			case KindReplace:
				if n < 0 || n >= len(arr) {
					return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
				}
				arr[n] = p.Value
				return nil
			case KindRemove:
				if n < 0 || n >= len(arr) {
					return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
				}
				out := append(append([]value.Value(nil), arr[:n]...), arr[n+1:]...)
				cur.set(value.Array(out...))
				return nil
			}
		}
	}

	obj := container.Object()
	if obj == nil {
		return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
	}
	switch p.Kind {
	case KindAdd:
		obj.Set(tok, p.Value)
		return nil
	case KindReplace:
		if _, ok := obj.Get(tok); !ok {
			return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
		}
		obj.Set(tok, p.Value)
		return nil
	case KindRemove:
		if _, ok := obj.Get(tok); !ok {
			return &ConflictError{Kind: ErrPatchConflict, Path: p.Path, Op: p.Kind}
		}
		obj.Delete(tok)
		return nil
	}
	return errors.New("patch: unknown kind")
}

func parseIndex(tok string) (int, error) {
	n := 0
	if tok == "" {
		return 0, errors.New("patch: empty array index")
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("patch: invalid array index %q", tok)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

