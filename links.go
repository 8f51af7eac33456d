package machine

import (
	"github.com/cockroachdb/errors"

	"github.com/stateforward/go-machine/embedded"
	"github.com/stateforward/go-machine/kinds"
)

// Link events carry an embedded.Handle in Data, or for RemoveChildEvent
// either a handle or an id. The association is recorded before the event is
// resolved, so definitions may also react to them.
const (
	SetParentEvent   = "SET_PARENT"
	SetChildEvent    = "SET_CHILD"
	RemoveChildEvent = "REMOVE_CHILD"
)

func (s *Service) link(event *Event) {
	switch event.Type {
	case SetParentEvent:
		parent, ok := event.Data.(embedded.Handle)
		if !ok {
			s.logger.Debug("link event without a handle", "event", event.Type)
			return
		}
		s.links.SetParent(parent)
	case SetChildEvent:
		child, ok := event.Data.(embedded.Handle)
		if !ok {
			s.logger.Debug("link event without a handle", "event", event.Type)
			return
		}
		s.links.AddChild(child)
	case RemoveChildEvent:
		switch data := event.Data.(type) {
		case string:
			s.links.RemoveChild(data)
		case embedded.Handle:
			s.links.RemoveChild(data.Id())
		default:
			return
		}
	default:
		return
	}
	event.Kind = kinds.Link
}

// Link makes parent and child aware of each other by sending each the
// corresponding link event.
func Link(parent, child embedded.Handle) error {
	return errors.CombineErrors(
		child.Send(Event{Type: SetParentEvent, Data: parent}),
		parent.Send(Event{Type: SetChildEvent, Data: child}),
	)
}

// Unlink removes child from parent. The child keeps running.
func Unlink(parent, child embedded.Handle) error {
	return parent.Send(Event{Type: RemoveChildEvent, Data: child.Id()})
}
