package machine

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stateforward/go-machine/kinds"
	"github.com/stateforward/go-machine/pkg/set"
)

// enabled returns the first candidate whose guard passes, in declaration
// order. A transition without a guard always passes.
func (s *Service) enabled(ctx context.Context, step *step, candidates []*transition, event Event) (*transition, error) {
	for _, candidate := range candidates {
		if candidate.guard == nil {
			return candidate, nil
		}
		ok, err := s.evaluate(ctx, step, candidate.guard, event)
		if err != nil {
			return nil, err
		}
		if ok {
			return candidate, nil
		}
	}
	return nil, nil
}

func (s *Service) evaluate(ctx context.Context, step *step, guard *guard, event Event) (ok bool, err error) {
	end := s.traced(ctx, "evaluate", guard.name)
	defer func() { end(ok, err) }()
	err = safely("guard", guard.name, func() {
		ok = guard.fn(s.context(ctx, step, guard.name), event)
	})
	if err != nil {
		s.logger.Error("guard panicked", "guard", guard.name, "event", event.Type, "error", err)
	}
	return ok, err
}

func (s *Service) transition(ctx context.Context, step *step, source *state, t *transition, event Event) error {
	end := s.traced(ctx, "transition", source.name, t.target)
	s.changed = true
	if kinds.IsKind(t.kind, kinds.Internal) {
		err := s.run(ctx, step, t.actions, event)
		end(err)
		return err
	}
	target := s.chart.states[t.target]
	s.logger.Debug("transition", "from", source.name, "to", target.name, "event", event.Type, "kind", kinds.Name(t.kind))
	trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
		attribute.String("transition.from", source.name),
		attribute.String("transition.to", target.name),
		attribute.String("event.type", event.Type),
	))
	s.metrics.Transition(s.chart.id, source.name, target.name)
	// a failed exit leaves the machine in source with its timers cancelled
	// and its activities cleaned up
	if err := s.exit(ctx, step, source, event); err != nil {
		end(err)
		return err
	}
	if err := s.run(ctx, step, t.actions, event); err != nil {
		end(err)
		return err
	}
	err := s.enter(ctx, step, target, event)
	end(err)
	return err
}

// exit runs the exit actions of st, then cancels its timers and cleans up
// its activities. Teardown runs even when an exit action fails.
func (s *Service) exit(ctx context.Context, step *step, st *state, event Event) error {
	end := s.traced(ctx, "exit", st.name)
	err := s.run(ctx, step, st.exit, event)
	s.cancelTimers()
	err = errors.CombineErrors(err, s.stopActivities(ctx))
	end(err)
	return err
}

// enter makes st current, runs its entry actions, starts its activities and
// schedules its timers. If any of these fail, whatever was started is torn
// down again and st stays current.
func (s *Service) enter(ctx context.Context, step *step, st *state, event Event) error {
	end := s.traced(ctx, "enter", st.name)
	s.logger.Debug("entering", "state", st.name, "tags", set.Sorted(st.tags))
	s.epoch++
	s.current.Store(st)
	s.changed = true
	err := s.run(ctx, step, st.entry, event)
	if err == nil {
		err = s.startActivities(ctx, step, st, event)
	}
	if err == nil {
		err = s.schedule(ctx, step, st)
	}
	if err != nil {
		s.cancelTimers()
		err = errors.CombineErrors(err, s.stopActivities(ctx))
	}
	end(err)
	return err
}

// run executes actions in order, stopping at the first that panics.
func (s *Service) run(ctx context.Context, step *step, actions []action, event Event) error {
	for _, action := range actions {
		end := s.traced(ctx, "execute", action.name)
		err := safely("action", action.name, func() {
			action.fn(s.context(ctx, step, action.name), event)
		})
		end(err)
		if err != nil {
			s.logger.Error("action panicked", "action", action.name, "event", event.Type, "error", err)
			return err
		}
	}
	return nil
}
