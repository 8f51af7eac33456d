package machine

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Load reads a Definition from YAML. Implementations are bound by name when
// the service is created.
//
//	id: menu
//	initial: closed
//	context:
//	  loop: false
//	states:
//	  closed:
//	    on:
//	      OPEN: open
//	  open:
//	    tags: [visible]
//	    activities: [trackPointer]
//	    on:
//	      CLOSE: { target: closed, actions: [focusTrigger] }
//	    after:
//	      - delay: 300ms
//	        target: closed
func Load(reader io.Reader) (*Definition, error) {
	definition := &Definition{}
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(definition); err != nil {
		return nil, errors.Wrap(err, "decoding machine definition")
	}
	if definition.Context == nil {
		definition.Context = map[string]any{}
	}
	if definition.States == nil {
		definition.States = map[string]*StateNode{}
	}
	return definition, nil
}

func Parse(data []byte) (*Definition, error) {
	return Load(bytes.NewReader(data))
}

// UnmarshalYAML accepts a target name, a single transition mapping, or a
// sequence of either.
func (transitions *Transitions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.MappingNode:
		var transition Transition
		if err := node.Decode(&transition); err != nil {
			return err
		}
		*transitions = Transitions{transition}
	case yaml.SequenceNode:
		decoded := make(Transitions, 0, len(node.Content))
		for _, item := range node.Content {
			var transition Transition
			if err := item.Decode(&transition); err != nil {
				return err
			}
			decoded = append(decoded, transition)
		}
		*transitions = decoded
	default:
		return errors.Newf("line %d: transitions must be a target, a mapping or a sequence", node.Line)
	}
	return nil
}

type transitionFields Transition

func (transition *Transition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*transition = Transition{Target: node.Value}
		return nil
	}
	var fields transitionFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*transition = Transition(fields)
	return nil
}

type delayFields struct {
	Delay       string      `yaml:"delay"`
	Transitions Transitions `yaml:"transitions,omitempty"`
	Target      string      `yaml:"target,omitempty"`
	Actions     []string    `yaml:"actions,omitempty"`
	Guard       string      `yaml:"guard,omitempty"`
	Internal    bool        `yaml:"internal,omitempty"`
}

// UnmarshalYAML reads delay as a duration ("300ms"), a bare number of
// milliseconds, or the name of a registered DelayFunc. A single transition
// may be written inline next to the delay.
func (delay *Delay) UnmarshalYAML(node *yaml.Node) error {
	var fields delayFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	if fields.Delay == "" {
		return errors.Newf("line %d: after entry has no delay", node.Line)
	}
	*delay = Delay{Transitions: fields.Transitions}
	if ms, err := strconv.ParseInt(fields.Delay, 10, 64); err == nil {
		delay.Duration = time.Duration(ms) * time.Millisecond
	} else if duration, err := time.ParseDuration(fields.Delay); err == nil {
		delay.Duration = duration
	} else {
		delay.Ref = fields.Delay
	}
	if fields.Target != "" || len(fields.Actions) > 0 || fields.Guard != "" || fields.Internal {
		delay.Transitions = append(Transitions{{
			Target:   fields.Target,
			Actions:  fields.Actions,
			Guard:    fields.Guard,
			Internal: fields.Internal,
		}}, delay.Transitions...)
	}
	return nil
}

func (delay Delay) MarshalYAML() (any, error) {
	return delayFields{Delay: delay.String(), Transitions: delay.Transitions}, nil
}
