package crud

import (
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/kasuganosora/gamewiki/server/entity"
)

// DirtyTracker remembers the value a form was opened with and reports when
// the edited value has drifted from it.
type DirtyTracker[T any] struct {
	mu       sync.Mutex
	clone    func(T) T
	opts     []cmp.Option
	snapshot T
	current  T
}

// NewDirtyTracker snapshots initial. clone must deep-copy a T; opts tune the
// structural comparison.
func NewDirtyTracker[T any](initial T, clone func(T) T, opts ...cmp.Option) *DirtyTracker[T] {
	return &DirtyTracker[T]{
		clone:    clone,
		opts:     opts,
		snapshot: clone(initial),
		current:  clone(initial),
	}
}

// NewEntityTracker tracks an entity form. A nil map and an empty map compare
// equal.
func NewEntityTracker(initial entity.Entity) *DirtyTracker[entity.Entity] {
	return NewDirtyTracker(initial, entity.Entity.Clone, cmpopts.EquateEmpty())
}

// Update records the latest edited value.
func (t *DirtyTracker[T]) Update(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.clone(v)
}

// Edit applies fn to a copy of the current value and records the result.
func (t *DirtyTracker[T]) Edit(fn func(T) T) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = fn(t.clone(t.current))
	return t.clone(t.current)
}

// Current returns a copy of the edited value.
func (t *DirtyTracker[T]) Current() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clone(t.current)
}

// Initial returns a copy of the snapshot.
func (t *DirtyTracker[T]) Initial() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clone(t.snapshot)
}

// Dirty reports whether the edited value differs from the snapshot.
func (t *DirtyTracker[T]) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !cmp.Equal(t.snapshot, t.current, t.opts...)
}

// Diff is a human-readable (-initial +current) diff, empty when clean.
func (t *DirtyTracker[T]) Diff() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cmp.Diff(t.snapshot, t.current, t.opts...)
}

// Commit makes the current value the new snapshot, typically after a save.
func (t *DirtyTracker[T]) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = t.clone(t.current)
}

// Reset discards edits and re-snapshots v.
func (t *DirtyTracker[T]) Reset(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = t.clone(v)
	t.current = t.clone(v)
}

// GuardExit calls exit when there is nothing to lose and prompt otherwise.
// With a Controller, prompt is RequestClose and exit is ConfirmClose.
func (t *DirtyTracker[T]) GuardExit(prompt, exit func()) {
	if t.Dirty() {
		prompt()
		return
	}
	exit()
}
