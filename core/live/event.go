package live

import "github.com/trezcool/masomo-live/core"

// Record is an entity held by a Store: a stable server-assigned id and the scope it belongs to.
// The zero value must be usable (RecordScope returns "" for it), so records are value types.
type Record interface {
	RecordID() string
	RecordScope() string
}

type EventKind int

const (
	EventUnknown EventKind = iota
	EventCreate
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KindOf maps a feed event type to an EventKind; unrecognized types map to EventUnknown.
func KindOf(typ core.EventType) EventKind {
	switch typ {
	case core.EventCreate:
		return EventCreate
	case core.EventUpdate:
		return EventUpdate
	case core.EventDelete:
		return EventDelete
	default:
		return EventUnknown
	}
}

// Event is an immutable change message applied by Store.ApplyEvent.
// Delete events only need ID; Record may still be set (its scope is then checked).
type Event[T Record] struct {
	Kind   EventKind
	Record T
	ID     string
}

func Created[T Record](rec T) Event[T] { return Event[T]{Kind: EventCreate, Record: rec} }
func Updated[T Record](rec T) Event[T] { return Event[T]{Kind: EventUpdate, Record: rec} }
func Deleted[T Record](id string) Event[T] {
	return Event[T]{Kind: EventDelete, ID: id}
}

func (e Event[T]) recordID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Record.RecordID()
}

// DecodeFunc turns a feed event into a store Event; ok is false for events that cannot be decoded.
type DecodeFunc[T Record] func(evt core.FeedEvent) (e Event[T], ok bool)
