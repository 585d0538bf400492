package realtime

import (
	"context"
	"encoding/json"

	"github.com/trezcool/masomo-live/core"
)

// PublishingStore is a core.DocumentStore publishing a FeedEvent to the hub after every
// successful write, on the channel of the document's collection and scope.
type PublishingStore struct {
	core.DocumentStore
	hub *Hub
}

var _ core.DocumentStore = (*PublishingStore)(nil)

func NewPublishingStore(store core.DocumentStore, hub *Hub) *PublishingStore {
	return &PublishingStore{DocumentStore: store, hub: hub}
}

func (s *PublishingStore) publish(typ core.EventType, doc core.Document) {
	s.hub.Publish(core.FeedEvent{
		Type:     typ,
		Channel:  core.ChannelName(doc.Collection, doc.ScopeID),
		Document: doc,
	})
}

func (s *PublishingStore) Create(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	created, err := s.DocumentStore.Create(ctx, collection, doc)
	if err != nil {
		return created, err
	}
	s.publish(core.EventCreate, created)
	return created, nil
}

func (s *PublishingStore) Update(ctx context.Context, collection, id string, patch json.RawMessage) (core.Document, error) {
	updated, err := s.DocumentStore.Update(ctx, collection, id, patch)
	if err != nil {
		return updated, err
	}
	s.publish(core.EventUpdate, updated)
	return updated, nil
}

// Delete publishes the last known version of the document.
func (s *PublishingStore) Delete(ctx context.Context, collection, id string) error {
	doc, err := s.DocumentStore.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if err = s.DocumentStore.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.publish(core.EventDelete, doc)
	return nil
}
