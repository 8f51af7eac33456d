package machine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stateforward/go-machine/kinds"
	"github.com/stateforward/go-machine/pkg/set"
)

type action struct {
	name string
	fn   ActionFunc
}

type guard struct {
	name string
	fn   GuardFunc
}

type activity struct {
	name string
	fn   ActivityFunc
}

type transition struct {
	kind    uint64
	source  string
	target  string
	guard   *guard
	actions []action
}

type delay struct {
	event       string
	duration    time.Duration
	ref         string
	fn          DelayFunc
	transitions []*transition
}

type state struct {
	name       string
	tags       set.Set[string]
	entry      []action
	exit       []action
	activities []activity
	on         map[string][]*transition
	after      []*delay
}

// chart is a Definition with every name resolved against one set of
// implementations.
type chart struct {
	id      string
	initial *state
	states  map[string]*state
}

type resolver struct {
	definition      *Definition
	implementations Implementations
	// structural skips the checks that need implementations
	structural bool
	problems   []string
}

func (r *resolver) problem(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *resolver) unimplemented(format string, args ...any) {
	if !r.structural {
		r.problem(format, args...)
	}
}

// compile validates definition and resolves its names. Every problem found
// is reported together in one error marked ErrInvalidDefinition.
func compile(definition *Definition, implementations Implementations) (*chart, error) {
	if definition == nil {
		return nil, errors.Mark(errors.New("machine: nil definition"), ErrInvalidDefinition)
	}
	return (&resolver{
		definition:      definition,
		implementations: definition.inline.merge(implementations),
	}).compile()
}

// Validate checks the structure of definition: its initial state, its
// targets and its delays. Names are checked only against the given
// implementations; without any they are not checked at all, which suits
// definitions loaded before their implementations are known.
func Validate(definition *Definition, implementations ...Implementations) error {
	if definition == nil {
		return errors.Mark(errors.New("machine: nil definition"), ErrInvalidDefinition)
	}
	r := &resolver{definition: definition, structural: len(implementations) == 0}
	r.implementations = definition.inline
	for _, impls := range implementations {
		r.implementations = r.implementations.merge(impls)
	}
	_, err := r.compile()
	return err
}

func (r *resolver) compile() (*chart, error) {
	definition := r.definition
	compiled := &chart{id: definition.Id, states: make(map[string]*state, len(definition.States))}
	names := make([]string, 0, len(definition.States))
	for name := range definition.States {
		names = append(names, name)
		compiled.states[name] = &state{name: name}
	}
	sort.Strings(names)
	for _, name := range names {
		r.state(compiled.states[name], definition.States[name])
	}
	if definition.Initial == "" {
		r.problem("no initial state")
	} else if initial, ok := compiled.states[definition.Initial]; !ok {
		r.problem("initial state %q is not declared", definition.Initial)
	} else {
		compiled.initial = initial
	}
	if len(r.problems) > 0 {
		return nil, errors.Mark(
			errors.Newf("machine %q: %s", definition.Id, strings.Join(r.problems, "; ")),
			ErrInvalidDefinition,
		)
	}
	return compiled, nil
}

func (r *resolver) state(compiled *state, node *StateNode) {
	if node == nil {
		node = &StateNode{}
	}
	compiled.tags = set.New(node.Tags...)
	compiled.entry = r.actions(compiled.name, "entry", node.Entry)
	compiled.exit = r.actions(compiled.name, "exit", node.Exit)
	for _, name := range node.Activities {
		fn, ok := r.implementations.Activities[name]
		if !ok || fn == nil {
			r.unimplemented("state %q: activity %q is not implemented", compiled.name, name)
			continue
		}
		compiled.activities = append(compiled.activities, activity{name: name, fn: fn})
	}
	compiled.on = make(map[string][]*transition, len(node.On))
	eventTypes := make([]string, 0, len(node.On))
	for eventType := range node.On {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Strings(eventTypes)
	for _, eventType := range eventTypes {
		for i, t := range node.On[eventType] {
			compiled.on[eventType] = append(compiled.on[eventType], r.transition(compiled.name, fmt.Sprintf("on %s[%d]", eventType, i), t))
		}
	}
	for i, d := range node.After {
		compiled.after = append(compiled.after, r.delay(compiled.name, i, d))
	}
}

func (r *resolver) actions(stateName, role string, names []string) []action {
	actions := make([]action, 0, len(names))
	for _, name := range names {
		fn, ok := r.implementations.Actions[name]
		if !ok || fn == nil {
			r.unimplemented("state %q: %s action %q is not implemented", stateName, role, name)
			continue
		}
		actions = append(actions, action{name: name, fn: fn})
	}
	return actions
}

func (r *resolver) transition(source, label string, t Transition) *transition {
	compiled := &transition{source: source, target: t.Target}
	switch {
	case t.Target == "" || t.Internal:
		compiled.kind = kinds.Internal
		if t.Target != "" && t.Target != source {
			r.problem("state %q: internal transition %s cannot target %q", source, label, t.Target)
		}
		compiled.target = source
	case t.Target == source:
		compiled.kind = kinds.Self
	default:
		compiled.kind = kinds.Targeted
	}
	if _, ok := r.definition.States[t.Target]; t.Target != "" && !ok {
		r.problem("state %q: transition %s targets undeclared state %q", source, label, t.Target)
	}
	if t.Guard != "" {
		fn, ok := r.implementations.Guards[t.Guard]
		if !ok || fn == nil {
			r.unimplemented("state %q: guard %q of transition %s is not implemented", source, t.Guard, label)
		} else {
			compiled.guard = &guard{name: t.Guard, fn: fn}
		}
	}
	compiled.actions = r.actions(source, label, t.Actions)
	return compiled
}

func (r *resolver) delay(source string, index int, d Delay) *delay {
	compiled := &delay{
		event:    afterEvent(source, index, d),
		duration: d.Duration,
		ref:      d.Ref,
	}
	if d.Ref != "" {
		fn, ok := r.implementations.Delays[d.Ref]
		if !ok || fn == nil {
			r.unimplemented("state %q: delay %q is not implemented", source, d.Ref)
		}
		compiled.fn = fn
	} else if d.Duration < 0 {
		r.problem("state %q: negative delay %s", source, d.Duration)
	}
	if len(d.Transitions) == 0 {
		r.problem("state %q: delay %s has no transitions", source, d)
	}
	for i, t := range d.Transitions {
		compiled.transitions = append(compiled.transitions, r.transition(source, fmt.Sprintf("after %s[%d]", d, i), t))
	}
	return compiled
}

// afterEvent names the event a delay timer fires.
func afterEvent(source string, index int, d Delay) string {
	return fmt.Sprintf("after(%s)#%s.%d", d, source, index)
}
