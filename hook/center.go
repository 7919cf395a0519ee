// Package hook runs priority-ordered handlers around entity writes.
package hook

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kasuganosora/gamewiki/server/entity"
)

// ErrInterrupt stops the remaining handlers without failing the trigger.
var ErrInterrupt = errors.New("hook interrupted")

const (
	BeforeEntitySave  = "before_entity_save"
	AfterEntitySave   = "after_entity_save"
	AfterEntityDelete = "after_entity_delete"
)

// EntityEvent is passed by pointer through every handler, so a before-save
// handler may rewrite Entity for the ones after it and for the store.
type EntityEvent struct {
	Resource string
	IDField  string
	ID       string
	Entity   entity.Entity // nil for deletes

	AccountID int64
	Username  string
	TraceID   string
	IP        string
}

// HookFn is a hook handler. Returning ErrInterrupt ends the chain cleanly;
// any other error ends it and is returned from Trigger.
type HookFn func(ctx context.Context, event string, ev *EntityEvent) error

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities run
// in registration order. name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

func without(entries []*hookEntry, name string) []*hookEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	return out
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

// Names lists the handlers registered for event in run order.
func (hc *HookCenter) Names(event string) []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make([]string, 0, len(hc.hooks[event]))
	for _, e := range hc.hooks[event] {
		out = append(out, e.name)
	}
	return out
}

// Trigger runs the handlers for event in priority order against ev.
func (hc *HookCenter) Trigger(ctx context.Context, event string, ev *EntityEvent) error {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		if err := e.fn(ctx, event, ev); err != nil {
			if errors.Is(err, ErrInterrupt) {
				return nil
			}
			return err
		}
	}
	return nil
}
