package inmemdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

type documentStore struct {
	db *documentTable
}

var _ core.DocumentStore = (*documentStore)(nil) // interface compliance check

func NewDocumentStore(db *DB) core.DocumentStore {
	return &documentStore{db: db.documents}
}

func (s *documentStore) indexOf(collection, id string) int {
	for i, doc := range s.db.table[collection] {
		if doc.ID == id {
			return i
		}
	}
	return -1
}

func copyDocument(doc core.Document) core.Document {
	doc.Data = append(json.RawMessage(nil), doc.Data...)
	return doc
}

func (s *documentStore) List(_ context.Context, collection string, filters ...core.Filter) ([]core.Document, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	docs := make([]core.Document, 0)
	for _, doc := range s.db.table[collection] {
		ok, err := core.Match(doc, filters...)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, copyDocument(doc))
		}
	}
	return docs, nil
}

func (s *documentStore) Get(_ context.Context, collection, id string) (core.Document, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	if i := s.indexOf(collection, id); i >= 0 {
		return copyDocument(s.db.table[collection][i]), nil
	}
	return core.Document{}, errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
}

func (s *documentStore) Create(_ context.Context, collection string, doc core.Document) (core.Document, error) {
	data, err := core.MergeData(nil, doc.Data)
	if err != nil {
		return core.Document{}, err
	}

	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	} else if s.indexOf(collection, doc.ID) >= 0 {
		return core.Document{}, errors.Errorf("%s %s already exists", collection, doc.ID)
	}
	now := time.Now().UTC()
	doc.Collection = collection
	doc.Data = data
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.db.table[collection] = append(s.db.table[collection], doc)
	return copyDocument(doc), nil
}

func (s *documentStore) Update(_ context.Context, collection, id string, patch json.RawMessage) (core.Document, error) {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	i := s.indexOf(collection, id)
	if i < 0 {
		return core.Document{}, errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
	}
	doc := s.db.table[collection][i]
	data, err := core.MergeData(doc.Data, patch)
	if err != nil {
		return core.Document{}, err
	}
	doc.Data = data
	doc.UpdatedAt = time.Now().UTC()

	s.db.table[collection][i] = doc
	return copyDocument(doc), nil
}

func (s *documentStore) Delete(_ context.Context, collection, id string) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	i := s.indexOf(collection, id)
	if i < 0 {
		return errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
	}
	docs := s.db.table[collection]
	s.db.table[collection] = append(docs[:i:i], docs[i+1:]...)
	return nil
}
