// Package embedded holds the types shared across the interpreter boundary:
// events, the read-only view of a running machine, and the addressable
// handle one machine uses to reach another.
package embedded

// Event is the unit of input to a machine. Type selects the transitions;
// Data carries any payload. Kind tags the origin and is filled in by the
// interpreter when left zero.
type Event struct {
	Type string
	Data any
	Kind uint64
}

// Value returns Data[key] when Data is a map[string]any.
func (e Event) Value(key string) (any, bool) {
	values, ok := e.Data.(map[string]any)
	if !ok {
		return nil, false
	}
	value, ok := values[key]
	return value, ok
}

type View interface {
	// Current returns the name of the active state.
	Current() string
	Matches(names ...string) bool
	HasTag(tag string) bool
	Get(key string) (any, bool)
}

type Handle interface {
	Id() string
	Send(event Event) error
	Snapshot() View
	Stopped() bool
}
