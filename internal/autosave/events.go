package autosave

import (
	"time"

	"github.com/debemdeboas/lectern/internal/model"
)

type EventKind string

const (
	EventDraftChanged  EventKind = "draft.changed"
	EventSaveScheduled EventKind = "save.scheduled"
	EventSaveStarted   EventKind = "save.started"
	EventSaveSucceeded EventKind = "save.succeeded"
	EventSaveFailed    EventKind = "save.failed"
	EventSaveDiscarded EventKind = "save.discarded"
	EventEntityMissing EventKind = "entity.missing"
	EventReverted      EventKind = "session.reverted"
	EventBaseline      EventKind = "session.baseline"
	EventClosed        EventKind = "session.closed"
)

type Event struct {
	Kind  EventKind       `json:"kind"`
	Ref   model.EntityRef `json:"-"`
	Field model.Field     `json:"field"`
	State State           `json:"state"`
	Dirty bool            `json:"dirty"`
	Error string          `json:"error,omitempty"`
	At    time.Time       `json:"at"`
}

// Notifier receives session events. Publish is called while the session lock is held,
// so it must not block or call back into the session.
type Notifier interface {
	Publish(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Publish(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}
