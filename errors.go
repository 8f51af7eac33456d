package machine

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidDefinition marks authoring mistakes found when a service is
	// created: undeclared targets and unresolved implementation names.
	ErrInvalidDefinition = errors.New("invalid machine definition")
	// ErrRaiseDepthExceeded is returned when raised events nest deeper than
	// Config.MaxRaiseDepth. The cascade is abandoned at the bound.
	ErrRaiseDepthExceeded = errors.New("raise depth exceeded")
	// ErrCallbackPanic marks a panic recovered from an action, guard,
	// activity, cleanup or delay function.
	ErrCallbackPanic = errors.New("callback panicked")
	ErrStopped       = errors.New("machine stopped")
)

// safely runs fn and converts a panic into an error marked ErrCallbackPanic.
func safely(role, name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = errors.Newf("%v", r)
			}
			err = errors.Mark(errors.Wrapf(cause, "%s %q", role, name), ErrCallbackPanic)
		}
	}()
	fn()
	return nil
}
