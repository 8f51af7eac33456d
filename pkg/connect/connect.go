// Package connect helps turn a machine's state into the attribute and
// handler bags a view layer spreads onto its elements.
package connect

import (
	"maps"
	"strings"
	"unicode"

	"github.com/stateforward/go-machine/embedded"
)

// Props is the bag for one part of a widget: attributes by name, plus
// event handlers under "on"-prefixed keys.
type Props map[string]any

// Handler receives the view layer's native event.
type Handler func(event any)

// Send delivers an event to a machine. It must be safe to call after the
// machine stopped.
type Send func(embedded.Event) error

// Func builds the props of every part from a consistent snapshot.
type Func[T any] func(view embedded.View, send Send) T

// Connect calls fn with the handle's current snapshot and its Send.
func Connect[T any](handle embedded.Handle, fn Func[T]) T {
	return fn(handle.Snapshot(), handle.Send)
}

// DataAttr renders a boolean data-* attribute: present and empty when set,
// absent otherwise.
func DataAttr(condition bool) any {
	if condition {
		return ""
	}
	return nil
}

// AriaAttr renders a boolean aria-* attribute, which unlike data-* needs a
// value.
func AriaAttr(condition bool) any {
	if condition {
		return "true"
	}
	return nil
}

// Part starts a bag tagged with its data-part.
func Part(name string, props ...Props) Props {
	return Merge(append([]Props{{"data-part": name}}, props...)...)
}

func isHandler(key string) bool {
	if len(key) < 3 || !strings.HasPrefix(key, "on") {
		return false
	}
	return unicode.IsUpper(rune(key[2]))
}

// Merge combines bags left to right. Handlers under the same key are
// chained so both run, classes are joined, styles are merged, and any other
// later value wins. A nil value removes the attribute.
func Merge(props ...Props) Props {
	merged := Props{}
	for _, next := range props {
		for key, value := range next {
			previous, exists := merged[key]
			switch {
			case value == nil:
				delete(merged, key)
			case !exists:
				merged[key] = value
			case isHandler(key):
				merged[key] = chain(previous, value)
			case key == "class" || key == "className":
				merged[key] = strings.TrimSpace(toString(previous) + " " + toString(value))
			case key == "style":
				merged[key] = mergeStyle(previous, value)
			default:
				merged[key] = value
			}
		}
	}
	return merged
}

func chain(first, second any) any {
	a, aok := first.(Handler)
	b, bok := second.(Handler)
	if !aok || !bok {
		return second
	}
	return Handler(func(event any) {
		a(event)
		b(event)
	})
}

func mergeStyle(first, second any) any {
	a, aok := first.(map[string]any)
	b, bok := second.(map[string]any)
	if !aok || !bok {
		return second
	}
	style := maps.Clone(a)
	maps.Copy(style, b)
	return style
}

func toString(value any) string {
	s, _ := value.(string)
	return s
}
