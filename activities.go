package machine

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/stateforward/go-machine/kinds"
)

// sender is the send capability handed to an activity. It is disposed when
// the activity is cleaned up, after which sends do nothing.
type sender struct {
	service  *Service
	disposed atomic.Bool
}

func (sender *sender) send(event Event) error {
	if sender.disposed.Load() {
		return nil
	}
	if event.Kind == 0 {
		event.Kind = kinds.Activity
	}
	return sender.service.Send(event)
}

type running struct {
	name    string
	cancel  context.CancelFunc
	cleanup func()
	sender  *sender
}

func (running *running) dispose() {
	running.sender.disposed.Store(true)
	running.cancel()
}

// startActivities starts the activities of st in declaration order. The
// context given to each is cancelled when it is cleaned up.
func (s *Service) startActivities(ctx context.Context, step *step, st *state, event Event) error {
	for _, activity := range st.activities {
		activityCtx, cancel := context.WithCancel(s.base)
		running := &running{name: activity.name, cancel: cancel, sender: &sender{service: s}}
		c := s.context(activityCtx, step, activity.name)
		c.sender = running.sender
		end := s.traced(ctx, "start", activity.name)
		err := safely("activity", activity.name, func() {
			running.cleanup = activity.fn(c, event)
		})
		end(err)
		if err != nil {
			running.dispose()
			s.logger.Error("activity panicked", "activity", activity.name, "state", st.name, "error", err)
			return err
		}
		s.activities = append(s.activities, running)
		s.metrics.ActivityStarted(s.chart.id)
	}
	return nil
}

// stopActivities cleans up every running activity in reverse start order.
// Each cleanup runs exactly once; a panicking cleanup does not prevent the
// others.
func (s *Service) stopActivities(ctx context.Context) error {
	var err error
	for i := len(s.activities) - 1; i >= 0; i-- {
		running := s.activities[i]
		running.dispose()
		if running.cleanup != nil {
			end := s.traced(ctx, "cleanup", running.name)
			cleanupErr := safely("cleanup", running.name, running.cleanup)
			end(cleanupErr)
			if cleanupErr != nil {
				s.logger.Error("activity cleanup panicked", "activity", running.name, "error", cleanupErr)
				err = errors.CombineErrors(err, cleanupErr)
			}
		}
		s.metrics.ActivityStopped(s.chart.id)
	}
	s.activities = nil
	return err
}
