package machine

import (
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/stateforward/go-machine/embedded"
	"github.com/stateforward/go-machine/kinds"
)

type Event = embedded.Event

// NewEvent builds an event of the given type with optional data.
func NewEvent(eventType string, maybeData ...any) Event {
	var data any
	if len(maybeData) > 0 {
		data = maybeData[0]
	}
	return Event{Type: eventType, Data: data}
}

type (
	ActionFunc   func(ctx Context, event Event)
	GuardFunc    func(ctx Context, event Event) bool
	ActivityFunc func(ctx Context, event Event) (cleanup func())
	DelayFunc    func(ctx Context) time.Duration
)

// Implementations binds the names used in a Definition to code.
type Implementations struct {
	Actions    map[string]ActionFunc
	Guards     map[string]GuardFunc
	Activities map[string]ActivityFunc
	Delays     map[string]DelayFunc
}

// merge returns implementations with every entry of other laid on top.
func (implementations Implementations) merge(other Implementations) Implementations {
	return Implementations{
		Actions:    overlay(implementations.Actions, other.Actions),
		Guards:     overlay(implementations.Guards, other.Guards),
		Activities: overlay(implementations.Activities, other.Activities),
		Delays:     overlay(implementations.Delays, other.Delays),
	}
}

func overlay[T any](base, top map[string]T) map[string]T {
	merged := make(map[string]T, len(base)+len(top))
	for name, value := range base {
		merged[name] = value
	}
	for name, value := range top {
		merged[name] = value
	}
	return merged
}

// Definition is the static description of one widget behavior. It is shared
// by every service created from it and must not be modified once in use.
type Definition struct {
	Id      string                `yaml:"id"`
	Initial string                `yaml:"initial"`
	Context map[string]any        `yaml:"context,omitempty"`
	States  map[string]*StateNode `yaml:"states"`

	// implementations registered inline by the builder functions
	inline Implementations
}

type StateNode struct {
	Tags       []string               `yaml:"tags,omitempty"`
	Entry      []string               `yaml:"entry,omitempty"`
	Exit       []string               `yaml:"exit,omitempty"`
	Activities []string               `yaml:"activities,omitempty"`
	On         map[string]Transitions `yaml:"on,omitempty"`
	After      []Delay                `yaml:"after,omitempty"`
}

// Transition without a Target, or marked Internal, runs its actions without
// leaving the state.
type Transition struct {
	Target   string   `yaml:"target,omitempty"`
	Actions  []string `yaml:"actions,omitempty"`
	Guard    string   `yaml:"guard,omitempty"`
	Internal bool     `yaml:"internal,omitempty"`
}

type Transitions []Transition

// Delay fires its transitions once Duration has elapsed in the state, or the
// duration returned by the delay function registered under Ref.
type Delay struct {
	Duration    time.Duration
	Ref         string
	Transitions Transitions
}

func (delay Delay) String() string {
	if delay.Ref != "" {
		return delay.Ref
	}
	return delay.Duration.String()
}

/******* Builder *******/

type Model struct {
	definition *Definition
}

type Partial = func(model *Model, stack []element)

type element interface {
	Kind() uint64
	Name() string
}

type definitionElement struct{ *Definition }

func (definitionElement) Kind() uint64 { return kinds.Definition }

func (element definitionElement) Name() string { return element.Id }

type stateElement struct {
	name string
	node *StateNode
}

func (stateElement) Kind() uint64 { return kinds.State }

func (element *stateElement) Name() string { return element.name }

type transitionElement struct {
	name       string
	transition *Transition
}

func (transitionElement) Kind() uint64 { return kinds.Transition }

func (element *transitionElement) Name() string { return element.name }

func apply(model *Model, stack []element, partials ...Partial) {
	for _, partial := range partials {
		partial(model, stack)
	}
}

func find(stack []element, maybeKinds ...uint64) element {
	for i := len(stack) - 1; i >= 0; i-- {
		if kinds.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

func misuse(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	slog.Error(message)
	panic(fmt.Errorf("%s", message))
}

// Define builds a Definition. Builder misuse, such as Target outside On, is
// a programming error and panics; unresolved names and undeclared targets
// are reported by New.
func Define(id string, partials ...Partial) *Definition {
	model := &Model{
		definition: &Definition{
			Id:      id,
			Context: map[string]any{},
			States:  map[string]*StateNode{},
		},
	}
	apply(model, []element{definitionElement{model.definition}}, partials...)
	return model.definition
}

func Initial(name string) Partial {
	return func(model *Model, stack []element) {
		if find(stack, kinds.Definition) == nil || find(stack, kinds.State) != nil {
			misuse("initial must be called within Define")
		}
		if model.definition.Initial != "" {
			misuse("initial state of %s already set to %s", model.definition.Id, model.definition.Initial)
		}
		model.definition.Initial = name
	}
}

// Defaults sets default context values. Later calls override earlier ones.
func Defaults(values map[string]any) Partial {
	return func(model *Model, stack []element) {
		if find(stack, kinds.State, kinds.Transition) != nil {
			misuse("defaults must be called within Define")
		}
		for key, value := range values {
			model.definition.Context[key] = value
		}
	}
}

func State(name string, partials ...Partial) Partial {
	return func(model *Model, stack []element) {
		if find(stack, kinds.Definition) == nil || find(stack, kinds.State) != nil {
			misuse("state %s must be called within Define", name)
		}
		if _, ok := model.definition.States[name]; ok {
			misuse("state %s already defined in %s", name, model.definition.Id)
		}
		node := &StateNode{On: map[string]Transitions{}}
		model.definition.States[name] = node
		apply(model, append(stack, &stateElement{name: name, node: node}), partials...)
	}
}

func owner(stack []element, what string) *stateElement {
	state, ok := find(stack, kinds.State).(*stateElement)
	if !ok || find(stack, kinds.Transition) != nil {
		misuse("%s must be called within a State", what)
	}
	return state
}

func Tags(tags ...string) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "tags")
		state.node.Tags = append(state.node.Tags, tags...)
	}
}

// Entry appends entry actions. Each action is a registered name, an
// ActionFunc or a func(Context, Event).
func Entry(actions ...any) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "entry")
		state.node.Entry = append(state.node.Entry, model.actions(path.Join(state.name, ".entry"), len(state.node.Entry), actions)...)
	}
}

func Exit(actions ...any) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "exit")
		state.node.Exit = append(state.node.Exit, model.actions(path.Join(state.name, ".exit"), len(state.node.Exit), actions)...)
	}
}

// Activity appends activities started on entry. Each is a registered name,
// an ActivityFunc or a func(Context, Event) func().
func Activity(activities ...any) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "activity")
		for _, activity := range activities {
			name := path.Join(state.name, ".activity", strconv.Itoa(len(state.node.Activities)))
			switch activity := activity.(type) {
			case string:
				name = activity
			case ActivityFunc:
				register(&model.definition.inline.Activities, name, activity)
			case func(Context, Event) func():
				register(&model.definition.inline.Activities, name, ActivityFunc(activity))
			default:
				misuse("activity of %s must be a name or an activity function, got %T", state.name, activity)
			}
			state.node.Activities = append(state.node.Activities, name)
		}
	}
}

// On adds a transition taken when an event of eventType arrives. Transitions
// for the same event are tried in the order they were added.
func On(eventType string, partials ...Partial) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "on")
		index := len(state.node.On[eventType])
		transition := &Transition{}
		name := path.Join(state.name, ".on", eventType, strconv.Itoa(index))
		apply(model, append(stack, &transitionElement{name: name, transition: transition}), partials...)
		state.node.On[eventType] = append(state.node.On[eventType], *transition)
	}
}

// After adds a transition taken once delay has elapsed in the state. The
// delay is a time.Duration, a count of milliseconds, the name of a
// registered DelayFunc, or a DelayFunc. Transitions added with the same
// literal delay or name share one timer.
func After(delay any, partials ...Partial) Partial {
	return func(model *Model, stack []element) {
		state := owner(stack, "after")
		var key Delay
		switch delay := delay.(type) {
		case time.Duration:
			key.Duration = delay
		case int:
			key.Duration = time.Duration(delay) * time.Millisecond
		case string:
			key.Ref = delay
		case DelayFunc:
			key.Ref = path.Join(state.name, ".after", strconv.Itoa(len(state.node.After)))
			register(&model.definition.inline.Delays, key.Ref, delay)
		case func(Context) time.Duration:
			key.Ref = path.Join(state.name, ".after", strconv.Itoa(len(state.node.After)))
			register(&model.definition.inline.Delays, key.Ref, DelayFunc(delay))
		default:
			misuse("after of %s must be a duration, milliseconds, a name or a delay function, got %T", state.name, delay)
		}
		index := len(state.node.After)
		for i, existing := range state.node.After {
			if existing.Duration == key.Duration && existing.Ref == key.Ref {
				index = i
				break
			}
		}
		if index == len(state.node.After) {
			state.node.After = append(state.node.After, key)
		}
		transition := &Transition{}
		name := path.Join(state.name, ".after", strconv.Itoa(index), strconv.Itoa(len(state.node.After[index].Transitions)))
		apply(model, append(stack, &transitionElement{name: name, transition: transition}), partials...)
		state.node.After[index].Transitions = append(state.node.After[index].Transitions, *transition)
	}
}

func within(stack []element, what string) *transitionElement {
	transition, ok := find(stack, kinds.Transition).(*transitionElement)
	if !ok {
		misuse("%s must be called within On or After", what)
	}
	return transition
}

func Target(name string) Partial {
	return func(model *Model, stack []element) {
		transition := within(stack, "target")
		if transition.transition.Target != "" {
			misuse("transition %s already has target %s", transition.name, transition.transition.Target)
		}
		transition.transition.Target = name
	}
}

// Guard sets the condition under which the transition is taken: a
// registered name, a GuardFunc or a func(Context, Event) bool.
func Guard(guard any) Partial {
	return func(model *Model, stack []element) {
		transition := within(stack, "guard")
		if transition.transition.Guard != "" {
			misuse("transition %s already has guard %s", transition.name, transition.transition.Guard)
		}
		name := path.Join(transition.name, ".guard")
		switch guard := guard.(type) {
		case string:
			name = guard
		case GuardFunc:
			register(&model.definition.inline.Guards, name, guard)
		case func(Context, Event) bool:
			register(&model.definition.inline.Guards, name, GuardFunc(guard))
		default:
			misuse("guard of %s must be a name or a guard function, got %T", transition.name, guard)
		}
		transition.transition.Guard = name
	}
}

// Effect appends actions run while the transition is taken.
func Effect(actions ...any) Partial {
	return func(model *Model, stack []element) {
		transition := within(stack, "effect")
		transition.transition.Actions = append(transition.transition.Actions, model.actions(path.Join(transition.name, ".effect"), len(transition.transition.Actions), actions)...)
	}
}

// Internal keeps the machine in its state: entry and exit do not run.
func Internal() Partial {
	return func(model *Model, stack []element) {
		within(stack, "internal").transition.Internal = true
	}
}

func (model *Model) actions(prefix string, offset int, actions []any) []string {
	names := make([]string, 0, len(actions))
	for i, action := range actions {
		name := path.Join(prefix, strconv.Itoa(offset+i))
		switch action := action.(type) {
		case string:
			name = action
		case ActionFunc:
			register(&model.definition.inline.Actions, name, action)
		case func(Context, Event):
			register(&model.definition.inline.Actions, name, ActionFunc(action))
		default:
			misuse("action %s must be a name or an action function, got %T", name, action)
		}
		names = append(names, name)
	}
	return names
}

func register[T any](registry *map[string]T, name string, fn T) {
	if *registry == nil {
		*registry = map[string]T{}
	}
	(*registry)[name] = fn
}
