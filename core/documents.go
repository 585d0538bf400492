package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Filterable document fields.
const (
	FieldID    = "id"
	FieldScope = "scope_id"
)

type (
	// Document is a record of a remote collection.
	// Data holds the entity-specific JSON object and is opaque to the stores.
	Document struct {
		ID         string          `json:"id"`
		Collection string          `json:"collection"`
		ScopeID    string          `json:"scope_id"`
		Data       json.RawMessage `json:"data"`
		CreatedAt  time.Time       `json:"created_at"`
		UpdatedAt  time.Time       `json:"updated_at"`
	}

	// Filter is an equality predicate on a document field.
	Filter struct {
		Field string
		Value string
	}

	// DocumentStore is a remote document collection store.
	// List returns documents in creation order.
	DocumentStore interface {
		List(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
		Get(ctx context.Context, collection, id string) (Document, error)
		// Create assigns an ID (unless set) and the timestamps.
		Create(ctx context.Context, collection string, doc Document) (Document, error)
		// Update merges the top-level keys of patch into the document's Data.
		Update(ctx context.Context, collection, id string, patch json.RawMessage) (Document, error)
		Delete(ctx context.Context, collection, id string) error
	}
)

// ScopeFilter filters a collection on its parent scope (e.g. the classroom).
func ScopeFilter(scopeID string) Filter {
	return Filter{Field: FieldScope, Value: scopeID}
}

// Match reports whether doc satisfies all filters.
func Match(doc Document, filters ...Filter) (bool, error) {
	for _, f := range filters {
		switch f.Field {
		case FieldID:
			if doc.ID != f.Value {
				return false, nil
			}
		case FieldScope:
			if doc.ScopeID != f.Value {
				return false, nil
			}
		default:
			return false, errors.Wrapf(ErrInvalidFilter, "field %q", f.Field)
		}
	}
	return true, nil
}

// MergeData returns the JSON object `data` with the top-level keys of `patch` set on it.
// A null value in the patch removes the key.
func MergeData(data, patch json.RawMessage) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, errors.Wrap(err, "decoding document data")
		}
	}
	if len(patch) > 0 {
		changes := make(map[string]json.RawMessage)
		if err := json.Unmarshal(patch, &changes); err != nil {
			return nil, NewValidationError(errors.Wrap(err, "decoding patch"))
		}
		for k, v := range changes {
			if string(v) == "null" {
				delete(obj, k)
				continue
			}
			obj[k] = v
		}
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document data")
	}
	return merged, nil
}
