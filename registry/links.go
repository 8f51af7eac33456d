package registry

import (
	"sync"

	"github.com/stateforward/go-machine/embedded"
)

type Direction int

const (
	Next Direction = iota
	Previous
)

func (direction Direction) String() string {
	if direction == Previous {
		return "previous"
	}
	return "next"
}

// Links holds the parent and children a machine knows about. Entries are
// plain associations: removing one never stops the other machine. The zero
// value is ready to use.
type Links struct {
	mu       sync.RWMutex
	parent   embedded.Handle
	children map[string]embedded.Handle
	order    []string
}

func (links *Links) SetParent(parent embedded.Handle) {
	links.mu.Lock()
	defer links.mu.Unlock()
	links.parent = parent
}

func (links *Links) Parent() (embedded.Handle, bool) {
	links.mu.RLock()
	defer links.mu.RUnlock()
	return links.parent, links.parent != nil
}

// AddChild records child. Re-adding an id replaces the handle in place.
func (links *Links) AddChild(child embedded.Handle) {
	links.mu.Lock()
	defer links.mu.Unlock()
	if links.children == nil {
		links.children = map[string]embedded.Handle{}
	}
	id := child.Id()
	if _, ok := links.children[id]; !ok {
		links.order = append(links.order, id)
	}
	links.children[id] = child
}

func (links *Links) RemoveChild(id string) bool {
	links.mu.Lock()
	defer links.mu.Unlock()
	if _, ok := links.children[id]; !ok {
		return false
	}
	delete(links.children, id)
	links.order = remove(links.order, id)
	return true
}

// Child returns the child linked under id, unless it has stopped.
func (links *Links) Child(id string) (embedded.Handle, bool) {
	links.mu.RLock()
	defer links.mu.RUnlock()
	child, ok := links.children[id]
	if !ok || child.Stopped() {
		return nil, false
	}
	return child, true
}

// Children returns the children that have not stopped, in insertion order.
func (links *Links) Children() []embedded.Handle {
	links.mu.RLock()
	defer links.mu.RUnlock()
	children := make([]embedded.Handle, 0, len(links.order))
	for _, id := range links.order {
		if child := links.children[id]; !child.Stopped() {
			children = append(children, child)
		}
	}
	return children
}

// Sibling returns the live child next to id in insertion order. It does not
// wrap around at either end.
func (links *Links) Sibling(id string, direction Direction) (embedded.Handle, bool) {
	children := links.Children()
	for i, child := range children {
		if child.Id() != id {
			continue
		}
		j := i + 1
		if direction == Previous {
			j = i - 1
		}
		if j < 0 || j >= len(children) {
			return nil, false
		}
		return children[j], true
	}
	return nil, false
}

// Clear drops every association.
func (links *Links) Clear() {
	links.mu.Lock()
	defer links.mu.Unlock()
	links.parent = nil
	links.children = nil
	links.order = nil
}
