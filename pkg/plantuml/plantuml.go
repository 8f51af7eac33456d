// Package plantuml renders a machine definition as a PlantUML state diagram.
package plantuml

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	machine "github.com/stateforward/go-machine"
)

func id(name string) string {
	return strings.NewReplacer("-", "_", "/", ".", " ", "_").Replace(strings.TrimPrefix(name, "/"))
}

// label names a callback. Inline callbacks are registered under a path such
// as "open/.entry/0", which reads better as "entry#0".
func label(name string) string {
	dir, base := path.Split(name)
	if dir == "" {
		return name
	}
	return strings.TrimPrefix(path.Base(dir), ".") + "#" + base
}

func generateState(builder *strings.Builder, name string, state *machine.StateNode) {
	fmt.Fprintf(builder, "  state %s", id(name))
	if len(state.Tags) > 0 {
		fmt.Fprintf(builder, " <<%s>>", strings.Join(state.Tags, ","))
	}
	builder.WriteString("\n")
	for _, entry := range state.Entry {
		fmt.Fprintf(builder, "  state %s: entry / %s\n", id(name), label(entry))
	}
	for _, activity := range state.Activities {
		fmt.Fprintf(builder, "  state %s: activity / %s\n", id(name), label(activity))
	}
	for _, exit := range state.Exit {
		fmt.Fprintf(builder, "  state %s: exit / %s\n", id(name), label(exit))
	}
}

func generateTransition(builder *strings.Builder, source, trigger string, transition machine.Transition) {
	text := trigger
	if transition.Guard != "" {
		text = fmt.Sprintf("%s [%s]", text, label(transition.Guard))
	}
	if len(transition.Actions) > 0 {
		actions := make([]string, 0, len(transition.Actions))
		for _, action := range transition.Actions {
			actions = append(actions, label(action))
		}
		text = fmt.Sprintf("%s / %s", text, strings.Join(actions, ", "))
	}
	if transition.Target == "" || transition.Internal {
		fmt.Fprintf(builder, "  state %s : %s\n", id(source), text)
		return
	}
	fmt.Fprintf(builder, "  %s --> %s : %s\n", id(source), id(transition.Target), text)
}

// Generate writes the diagram of definition to writer. States and events are
// written in sorted order so the output is stable.
func Generate(writer io.Writer, definition *machine.Definition) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "@startuml %s\n", id(definition.Id))
	names := make([]string, 0, len(definition.States))
	for name := range definition.States {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		generateState(&builder, name, definition.States[name])
	}
	if definition.Initial != "" {
		fmt.Fprintf(&builder, "  [*] --> %s\n", id(definition.Initial))
	}
	for _, name := range names {
		state := definition.States[name]
		events := make([]string, 0, len(state.On))
		for event := range state.On {
			events = append(events, event)
		}
		slices.Sort(events)
		for _, event := range events {
			for _, transition := range state.On[event] {
				generateTransition(&builder, name, event, transition)
			}
		}
		for _, delay := range state.After {
			for _, transition := range delay.Transitions {
				generateTransition(&builder, name, fmt.Sprintf("after(%s)", label(delay.String())), transition)
			}
		}
	}
	builder.WriteString("@enduml\n")
	_, err := io.WriteString(writer, builder.String())
	return err
}
