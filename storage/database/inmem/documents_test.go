package inmemdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
)

func TestDocumentStore(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore(Open())

	m1, err := store.Create(ctx, "messages", core.Document{ScopeID: "C1", Data: json.RawMessage(`{"body":"hi"}`)})
	require.NoError(t, err)
	m2, err := store.Create(ctx, "messages", core.Document{ID: "m2", ScopeID: "C1", Data: json.RawMessage(`{"body":"hello"}`)})
	require.NoError(t, err)
	_, err = store.Create(ctx, "messages", core.Document{ScopeID: "C2"})
	require.NoError(t, err)

	_, err = store.Create(ctx, "messages", core.Document{ID: "m2", ScopeID: "C1"})
	require.Error(t, err, "duplicate id")

	docs, err := store.List(ctx, "messages", core.ScopeFilter("C1"))
	require.NoError(t, err)
	require.Equal(t, []string{m1.ID, m2.ID}, []string{docs[0].ID, docs[1].ID})

	// returned documents are copies
	docs[0].Data[2] = 'X'
	got, err := store.Get(ctx, "messages", m1.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"body":"hi"}`, string(got.Data))

	updated, err := store.Update(ctx, "messages", m2.ID, json.RawMessage(`{"edited":true}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"body":"hello","edited":true}`, string(updated.Data))
	require.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	_, err = store.List(ctx, "messages", core.Filter{Field: "body", Value: "hi"})
	require.ErrorIs(t, err, core.ErrInvalidFilter)

	require.NoError(t, store.Delete(ctx, "messages", m1.ID))
	require.True(t, core.IsNotFound(store.Delete(ctx, "messages", m1.ID)))
	_, err = store.Get(ctx, "messages", m1.ID)
	require.True(t, core.IsNotFound(err))

	docs, err = store.List(ctx, "messages", core.ScopeFilter("C1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
