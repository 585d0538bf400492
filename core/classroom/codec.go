package classroom

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

// keys owned by the Document envelope, never stored in its Data
var metaKeys = []string{"id", "classroom_id", "created_at", "updated_at"}

type document interface {
	setMeta(doc core.Document)
}

func (c *Classroom) setMeta(doc core.Document) {
	c.ID, c.CreatedAt, c.UpdatedAt = doc.ID, doc.CreatedAt, doc.UpdatedAt
}

func (a *Assignment) setMeta(doc core.Document) {
	a.ID, a.ClassroomID, a.CreatedAt, a.UpdatedAt = doc.ID, doc.ScopeID, doc.CreatedAt, doc.UpdatedAt
}

func (s *ScheduleItem) setMeta(doc core.Document) {
	s.ID, s.ClassroomID, s.CreatedAt, s.UpdatedAt = doc.ID, doc.ScopeID, doc.CreatedAt, doc.UpdatedAt
}

func (m *ChatMessage) setMeta(doc core.Document) {
	m.ID, m.ClassroomID, m.CreatedAt, m.UpdatedAt = doc.ID, doc.ScopeID, doc.CreatedAt, doc.UpdatedAt
}

// encodeData marshals v (an entity, or a partial update with omitempty fields) to document Data.
func encodeData(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document data")
	}
	obj := make(map[string]json.RawMessage)
	if err = json.Unmarshal(b, &obj); err != nil {
		return nil, errors.Wrap(err, "encoding document data")
	}
	for _, k := range metaKeys {
		delete(obj, k)
	}
	if b, err = json.Marshal(obj); err != nil {
		return nil, errors.Wrap(err, "encoding document data")
	}
	return b, nil
}

func fromDocument[T any, PT interface {
	*T
	document
}](doc core.Document) (T, error) {
	var v T
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return v, errors.Wrapf(err, "decoding %s %s", doc.Collection, doc.ID)
		}
	}
	PT(&v).setMeta(doc)
	return v, nil
}

func fromDocuments[T any, PT interface {
	*T
	document
}](docs []core.Document) ([]T, error) {
	res := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := fromDocument[T, PT](doc)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// decodeEvent turns a feed event into a live store event.
// Deletes only need the id, so they decode even when the document data is gone.
func decodeEvent[T live.Record, PT interface {
	*T
	document
}](evt core.FeedEvent) (live.Event[T], bool) {
	kind := live.KindOf(evt.Type)
	switch kind {
	case live.EventDelete:
		if evt.Document.ID == "" {
			return live.Event[T]{}, false
		}
		return live.Deleted[T](evt.Document.ID), true
	case live.EventCreate, live.EventUpdate:
		rec, err := fromDocument[T, PT](evt.Document)
		if err != nil || rec.RecordID() == "" {
			return live.Event[T]{}, false
		}
		return live.Event[T]{Kind: kind, Record: rec}, true
	default:
		return live.Event[T]{}, false
	}
}

func DecodeAssignmentEvent(evt core.FeedEvent) (live.Event[Assignment], bool) {
	return decodeEvent[Assignment](evt)
}

func DecodeScheduleEvent(evt core.FeedEvent) (live.Event[ScheduleItem], bool) {
	return decodeEvent[ScheduleItem](evt)
}

func DecodeMessageEvent(evt core.FeedEvent) (live.Event[ChatMessage], bool) {
	return decodeEvent[ChatMessage](evt)
}
