package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var documentColumns = map[string]string{
	core.FieldID:    "id",
	core.FieldScope: "scope_id",
}

// queryer is a *sqlx.DB or a *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

type documentRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	ScopeID    string    `db:"scope_id"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (row documentRow) document() core.Document {
	return core.Document{
		ID:         row.ID,
		Collection: row.Collection,
		ScopeID:    row.ScopeID,
		Data:       json.RawMessage(row.Data),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

type documentStore struct {
	db *sqlx.DB
}

var _ core.DocumentStore = (*documentStore)(nil) // interface compliance check

func NewDocumentStore(db *sqlx.DB) *documentStore {
	return &documentStore{db: db}
}

func (s *documentStore) List(ctx context.Context, collection string, filters ...core.Filter) ([]core.Document, error) {
	where := []string{"collection = ?"}
	args := []interface{}{collection}
	for _, f := range filters {
		col, ok := documentColumns[f.Field]
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidFilter, "field %q", f.Field)
		}
		where = append(where, col+" = ?")
		args = append(args, f.Value)
	}

	q := "SELECT * FROM documents WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at, id"
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}

	docs := make([]core.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.document())
	}
	return docs, nil
}

func getDocument(ctx context.Context, q queryer, collection, id string) (documentRow, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind("SELECT * FROM documents WHERE collection = ? AND id = ?"), collection, id)
	if err == sql.ErrNoRows {
		return documentRow{}, errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
	}
	if err != nil {
		return documentRow{}, errors.Wrapf(err, "getting %s %s", collection, id)
	}
	return row, nil
}

func (s *documentStore) Get(ctx context.Context, collection, id string) (core.Document, error) {
	row, err := getDocument(ctx, s.db, collection, id)
	if err != nil {
		return core.Document{}, err
	}
	return row.document(), nil
}

func (s *documentStore) Create(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	data, err := core.MergeData(nil, doc.Data)
	if err != nil {
		return core.Document{}, err
	}
	now := time.Now().UTC()
	row := documentRow{
		Collection: collection,
		ID:         doc.ID,
		ScopeID:    doc.ScopeID,
		Data:       string(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	q := s.db.Rebind(`INSERT INTO documents (collection, id, scope_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err = s.db.ExecContext(ctx, q, row.Collection, row.ID, row.ScopeID, row.Data, row.CreatedAt, row.UpdatedAt); err != nil {
		return core.Document{}, errors.Wrapf(err, "inserting %s", collection)
	}
	return row.document(), nil
}

func (s *documentStore) Update(ctx context.Context, collection, id string, patch json.RawMessage) (core.Document, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Document{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	row, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return core.Document{}, err
	}
	data, err := core.MergeData(json.RawMessage(row.Data), patch)
	if err != nil {
		return core.Document{}, err
	}
	row.Data = string(data)
	row.UpdatedAt = time.Now().UTC()

	q := tx.Rebind("UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?")
	if _, err = tx.ExecContext(ctx, q, row.Data, row.UpdatedAt, collection, id); err != nil {
		return core.Document{}, errors.Wrapf(err, "updating %s %s", collection, id)
	}
	if err = tx.Commit(); err != nil {
		return core.Document{}, errors.Wrap(err, "committing transaction")
	}
	return row.document(), nil
}

func (s *documentStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM documents WHERE collection = ? AND id = ?"), collection, id)
	if err != nil {
		return errors.Wrapf(err, "deleting %s %s", collection, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(core.ErrNotFound, "%s %s", collection, id)
	}
	return nil
}
