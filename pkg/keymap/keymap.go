// Package keymap maps keyboard key names to machine events.
package keymap

import (
	"github.com/cockroachdb/errors"

	"github.com/stateforward/go-machine/embedded"
)

type Direction string

const (
	LTR Direction = "ltr"
	RTL Direction = "rtl"
)

type Binding struct {
	Event string
	// PreventDefault tells the view layer to suppress the key's default
	// browser behavior when the binding matches.
	PreventDefault bool
}

// Map binds key names, as reported by KeyboardEvent.key, to events.
type Map map[string]Binding

var aliases = map[string]string{
	" ":        "Space",
	"Esc":      "Escape",
	"Left":     "ArrowLeft",
	"Right":    "ArrowRight",
	"Up":       "ArrowUp",
	"Down":     "ArrowDown",
	"Spacebar": "Space",
}

var mirrored = map[string]string{
	"ArrowLeft":  "ArrowRight",
	"ArrowRight": "ArrowLeft",
}

// Key normalizes a key name and, in a right-to-left layout, swaps the
// horizontal arrows so ArrowLeft always means "towards the start".
func Key(key string, dir Direction) string {
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	if dir == RTL {
		if flipped, ok := mirrored[key]; ok {
			key = flipped
		}
	}
	return key
}

// Resolve returns the binding for key in the given direction.
func (m Map) Resolve(key string, dir Direction) (Binding, bool) {
	binding, ok := m[Key(key, dir)]
	return binding, ok
}

// Dispatch sends the event bound to key. It reports whether a binding
// matched, so the caller knows whether to prevent the default.
func (m Map) Dispatch(key string, dir Direction, send func(embedded.Event) error) (Binding, bool, error) {
	binding, ok := m.Resolve(key, dir)
	if !ok {
		return Binding{}, false, nil
	}
	if err := send(embedded.Event{Type: binding.Event}); err != nil {
		return binding, true, errors.Wrapf(err, "key %q", key)
	}
	return binding, true, nil
}

// With returns a copy of m with overrides applied.
func (m Map) With(overrides Map) Map {
	merged := make(Map, len(m)+len(overrides))
	for key, binding := range m {
		merged[key] = binding
	}
	for key, binding := range overrides {
		merged[key] = binding
	}
	return merged
}

// Menu is the keyboard navigation shared by menu content.
var Menu = Map{
	"ArrowDown":  {Event: "ARROW_DOWN", PreventDefault: true},
	"ArrowUp":    {Event: "ARROW_UP", PreventDefault: true},
	"ArrowLeft":  {Event: "ARROW_LEFT", PreventDefault: true},
	"ArrowRight": {Event: "ARROW_RIGHT", PreventDefault: true},
	"Home":       {Event: "HOME", PreventDefault: true},
	"End":        {Event: "END", PreventDefault: true},
	"Enter":      {Event: "ENTER", PreventDefault: true},
	"Space":      {Event: "ENTER", PreventDefault: true},
	"Escape":     {Event: "ESCAPE", PreventDefault: true},
}

// Editable is the keyboard handling of an editable's input.
var Editable = Map{
	"Escape": {Event: "CANCEL", PreventDefault: true},
	"Enter":  {Event: "ENTER", PreventDefault: true},
}
