package machine

import (
	"context"
	"log/slog"

	"github.com/stateforward/go-machine/embedded"
	"github.com/stateforward/go-machine/registry"
	"github.com/stateforward/go-machine/store"
)

// Context is handed to every action, guard, activity and delay function.
// Within an action, Send raises: the event is processed before anything
// already queued. Within an activity, Send is an ordinary external send
// and becomes a no-op once the activity has been cleaned up.
type Context struct {
	context.Context
	service *Service
	step    *step
	origin  string
	sender  *sender
}

func (s *Service) context(ctx context.Context, step *step, origin string) Context {
	return Context{Context: ctx, service: s, step: step, origin: origin}
}

// Id returns the id of the running service.
func (ctx Context) Id() string {
	return ctx.service.id
}

// State returns the name of the current state.
func (ctx Context) State() string {
	if current := ctx.service.current.Load(); current != nil {
		return current.name
	}
	return ""
}

func (ctx Context) Get(key string) (any, bool) {
	return ctx.service.store.Get(key)
}

func (ctx Context) Snapshot() store.Snapshot {
	return ctx.service.store.Snapshot()
}

func (ctx Context) Set(key string, value any) {
	ctx.Patch(map[string]any{key: value})
}

// Patch merges partial into the context. Outside the event being processed
// the patch is queued and applied in order with other events. An activity's
// patches are always queued, since its goroutine may outlive the entry step
// it was started from.
func (ctx Context) Patch(partial map[string]any) {
	if ctx.sender == nil && ctx.service.within(ctx.step) {
		ctx.service.store.Patch(partial)
		return
	}
	if err := ctx.service.enqueue(ctx.service.base, envelope{patch: partial}); err != nil {
		ctx.service.logger.Error("applying queued patch", "origin", ctx.origin, "error", err)
	}
}

func (ctx Context) Send(event Event) error {
	if ctx.sender != nil {
		return ctx.sender.send(event)
	}
	return ctx.service.raise(ctx.step, ctx.origin, event)
}

// Stop stops the service once the event being processed and everything it
// raised are done. Unlike Service.Stop it never waits, so it is safe to call
// from any callback.
func (ctx Context) Stop() error {
	return ctx.service.requestStop()
}

// Self returns the handle of the running service.
func (ctx Context) Self() embedded.Handle {
	return ctx.service
}

func (ctx Context) Parent() (embedded.Handle, bool) {
	return ctx.service.links.Parent()
}

func (ctx Context) Child(id string) (embedded.Handle, bool) {
	return ctx.service.links.Child(id)
}

func (ctx Context) Children() []embedded.Handle {
	return ctx.service.links.Children()
}

// Sibling finds the child next to id, used to move between submenus.
func (ctx Context) Sibling(id string, direction registry.Direction) (embedded.Handle, bool) {
	return ctx.service.links.Sibling(id, direction)
}

func (ctx Context) Logger() *slog.Logger {
	return ctx.service.logger
}
