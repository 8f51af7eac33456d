package machine

import (
	"context"

	"github.com/stateforward/go-machine/clock"
	"github.com/stateforward/go-machine/kinds"
)

type timer struct {
	event string
	clock.Timer
}

// schedule starts the timers of st. Each fires a timer event tagged with
// the current entry epoch; a timer event from an earlier entry is dropped
// when processed, so a timer never fires into a state it was not scheduled
// for.
func (s *Service) schedule(ctx context.Context, step *step, st *state) error {
	epoch := s.epoch
	for _, d := range st.after {
		duration := d.duration
		if d.fn != nil {
			end := s.traced(ctx, "delay", d.ref)
			err := safely("delay", d.ref, func() {
				duration = d.fn(s.context(ctx, step, d.ref))
			})
			end(err)
			if err != nil {
				s.logger.Error("delay panicked", "delay", d.ref, "state", st.name, "error", err)
				return err
			}
		}
		if duration < 0 {
			duration = 0
		}
		fire := func() {
			ctx, span := s.span("machine.Timer")
			err := s.enqueue(ctx, envelope{
				event: Event{Type: d.event, Kind: kinds.Timer},
				epoch: epoch,
				delay: d,
			})
			end(span, err)
			if err != nil {
				s.logger.Error("processing timer event", "event", d.event, "error", err)
			}
		}
		s.timers = append(s.timers, timer{event: d.event, Timer: s.clock.AfterFunc(duration, fire)})
		s.metrics.Timer(s.chart.id, "scheduled")
		s.logger.Debug("timer scheduled", "event", d.event, "state", st.name, "delay", duration)
	}
	return nil
}

func (s *Service) cancelTimers() {
	for _, t := range s.timers {
		if t.Stop() {
			s.metrics.Timer(s.chart.id, "cancelled")
		}
	}
	s.timers = nil
}
