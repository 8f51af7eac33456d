package machine

import (
	"github.com/stateforward/go-machine/pkg/set"
	"github.com/stateforward/go-machine/store"
)

type Status int

const (
	NotStarted Status = iota
	Running
	Stopped
)

func (status Status) String() string {
	switch status {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "not started"
	}
}

// State is a consistent snapshot of a service taken between events. It is
// never observed halfway through a transition.
type State struct {
	Value   string
	Tags    set.Set[string]
	Context store.Snapshot
	Status  Status
	// Changed reports whether the state or context changed since the
	// previous snapshot delivered to subscribers.
	Changed bool
	// Event is the last event processed.
	Event Event
}

func (state *State) Current() string {
	if state == nil {
		return ""
	}
	return state.Value
}

// Matches reports whether the current state is any of names.
func (state *State) Matches(names ...string) bool {
	if state == nil {
		return false
	}
	for _, name := range names {
		if name == state.Value {
			return true
		}
	}
	return false
}

func (state *State) HasTag(tag string) bool {
	if state == nil {
		return false
	}
	return state.Tags.Contains(tag)
}

// HasAnyTag reports whether the current state carries any of tags.
func (state *State) HasAnyTag(tags ...string) bool {
	if state == nil {
		return false
	}
	return state.Tags.ContainsAny(tags...)
}

func (state *State) Get(key string) (any, bool) {
	if state == nil {
		return nil, false
	}
	return state.Context.Get(key)
}
