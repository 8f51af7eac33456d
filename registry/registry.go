// Package registry addresses running machines by id. A Registry is shared
// by a group of machines for lookup and broadcast; Links is the non-owning
// parent/child association table each machine keeps for itself.
package registry

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/stateforward/go-machine/embedded"
)

var (
	ErrDuplicateID = errors.New("registry: duplicate id")
	ErrNotFound    = errors.New("registry: id not registered")
)

type Registry struct {
	mu      sync.RWMutex
	handles map[string]embedded.Handle
	order   []string
}

func New() *Registry {
	return &Registry{handles: map[string]embedded.Handle{}}
}

// Register adds handle under its id. Ids are unique for the life of the registration.
func (registry *Registry) Register(handle embedded.Handle) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	id := handle.Id()
	if _, ok := registry.handles[id]; ok {
		return errors.Wrapf(ErrDuplicateID, "%q", id)
	}
	registry.handles[id] = handle
	registry.order = append(registry.order, id)
	return nil
}

func (registry *Registry) Unregister(id string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.handles[id]; !ok {
		return false
	}
	delete(registry.handles, id)
	registry.order = remove(registry.order, id)
	return true
}

func (registry *Registry) Lookup(id string) (embedded.Handle, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	handle, ok := registry.handles[id]
	return handle, ok
}

// Handles returns the registered handles in registration order.
func (registry *Registry) Handles() []embedded.Handle {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	handles := make([]embedded.Handle, 0, len(registry.order))
	for _, id := range registry.order {
		handles = append(handles, registry.handles[id])
	}
	return handles
}

// SendTo delivers event to the machine registered under id.
func (registry *Registry) SendTo(id string, event embedded.Event) error {
	handle, ok := registry.Lookup(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "%q", id)
	}
	return handle.Send(event)
}

// Broadcast sends event to every registered machine that has not stopped.
// Every machine receives the event even if an earlier one fails.
func (registry *Registry) Broadcast(event embedded.Event) error {
	var err error
	for _, handle := range registry.Handles() {
		if handle.Stopped() {
			continue
		}
		err = errors.CombineErrors(err, handle.Send(event))
	}
	return err
}

func remove(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
