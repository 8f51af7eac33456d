// Package store holds the context of a machine instance: a structured data
// bag whose every mutation produces a new immutable snapshot. Patches only
// count as changes when some value differs structurally from the one it
// replaces, so "did the context change" is testable by comparison.
package store

import (
	"reflect"
	"sort"
	"sync"

	"github.com/benbjohnson/immutable"
	"github.com/google/go-cmp/cmp"
)

var equalOptions = []cmp.Option{
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, equalOptions...)
}

// Snapshot is an immutable view of the context at one version.
type Snapshot struct {
	values  *immutable.SortedMap[string, any]
	version uint64
}

func empty() Snapshot {
	return Snapshot{values: immutable.NewSortedMap[string, any](nil)}
}

func (snapshot Snapshot) Get(key string) (any, bool) {
	if snapshot.values == nil {
		return nil, false
	}
	return snapshot.values.Get(key)
}

func (snapshot Snapshot) Len() int {
	if snapshot.values == nil {
		return 0
	}
	return snapshot.values.Len()
}

// Keys returns the keys in ascending order.
func (snapshot Snapshot) Keys() []string {
	keys := make([]string, 0, snapshot.Len())
	if snapshot.values == nil {
		return keys
	}
	itr := snapshot.values.Iterator()
	for !itr.Done() {
		key, _, _ := itr.Next()
		keys = append(keys, key)
	}
	return keys
}

// Map copies the snapshot into a plain map.
func (snapshot Snapshot) Map() map[string]any {
	values := make(map[string]any, snapshot.Len())
	if snapshot.values == nil {
		return values
	}
	itr := snapshot.values.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		values[key] = value
	}
	return values
}

// Version increases by one for every patch that changed something.
func (snapshot Snapshot) Version() uint64 {
	return snapshot.version
}

func (snapshot Snapshot) Equal(other Snapshot) bool {
	if snapshot.Len() != other.Len() {
		return false
	}
	for _, key := range snapshot.Keys() {
		value, _ := snapshot.Get(key)
		otherValue, ok := other.Get(key)
		if !ok || !Equal(value, otherValue) {
			return false
		}
	}
	return true
}

// Patch returns snapshot with partial applied, and whether anything changed.
// Keys are applied in sorted order so patches are reproducible.
func Patch(snapshot Snapshot, partial map[string]any) (Snapshot, bool) {
	if snapshot.values == nil {
		snapshot = empty()
	}
	keys := make([]string, 0, len(partial))
	for key := range partial {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := snapshot.values
	changed := false
	for _, key := range keys {
		value := partial[key]
		if current, ok := values.Get(key); ok && Equal(current, value) {
			continue
		}
		values = values.Set(key, value)
		changed = true
	}
	if !changed {
		return snapshot, false
	}
	return Snapshot{values: values, version: snapshot.version + 1}, true
}

// FromMap builds a version zero snapshot.
func FromMap(values map[string]any) Snapshot {
	snapshot, _ := Patch(empty(), values)
	snapshot.version = 0
	return snapshot
}

type watcher struct {
	id int
	fn func(Snapshot)
}

// Store owns the live context of one instance. Watchers are notified after
// each change, or once when the outermost Hold is released if anything
// changed while held.
type Store struct {
	mu       sync.Mutex
	current  Snapshot
	held     int
	pending  bool
	watchers []watcher
	nextID   int
}

// New creates a store from defaults with each overrides map patched on top.
func New(defaults map[string]any, overrides ...map[string]any) *Store {
	snapshot := FromMap(defaults)
	for _, override := range overrides {
		snapshot, _ = Patch(snapshot, override)
	}
	snapshot.version = 0
	return &Store{current: snapshot}
}

func (store *Store) Get(key string) (any, bool) {
	return store.Snapshot().Get(key)
}

func (store *Store) Snapshot() Snapshot {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.current
}

func (store *Store) Set(key string, value any) bool {
	return store.Patch(map[string]any{key: value})
}

// Patch applies partial and reports whether the context changed.
func (store *Store) Patch(partial map[string]any) bool {
	store.mu.Lock()
	next, changed := Patch(store.current, partial)
	if !changed {
		store.mu.Unlock()
		return false
	}
	store.current = next
	if store.held > 0 {
		store.pending = true
		store.mu.Unlock()
		return true
	}
	watchers := store.watchers
	store.mu.Unlock()
	notify(watchers, next)
	return true
}

// Watch registers fn for change notifications and returns its removal.
func (store *Store) Watch(fn func(Snapshot)) (unwatch func()) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	id := store.nextID
	store.watchers = append(store.watchers, watcher{id: id, fn: fn})
	return func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		watchers := make([]watcher, 0, len(store.watchers))
		for _, w := range store.watchers {
			if w.id != id {
				watchers = append(watchers, w)
			}
		}
		store.watchers = watchers
	}
}

// Hold defers notifications until the returned release is called. Holds nest.
func (store *Store) Hold() (release func()) {
	store.mu.Lock()
	store.held++
	store.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			store.mu.Lock()
			store.held--
			if store.held > 0 || !store.pending {
				store.mu.Unlock()
				return
			}
			store.pending = false
			snapshot := store.current
			watchers := store.watchers
			store.mu.Unlock()
			notify(watchers, snapshot)
		})
	}
}

func notify(watchers []watcher, snapshot Snapshot) {
	for _, w := range watchers {
		w.fn(snapshot)
	}
}
