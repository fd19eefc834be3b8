package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"naskah/internal/document/model"
	"naskah/pkg/logger"

	"github.com/lib/pq"
)

// PostgresStore is the Store backed by the documents, document_changes and
// comments tables (see config/database/schema.sql).
type PostgresStore struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const documentColumns = `id, title, content, owner_id, permissions, collaborators, is_public, version, created_at, updated_at`

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrPersistenceFailure, op, err)
}

// permissionsJSON encodes the permission map for a jsonb column. lib/pq wants
// a string for jsonb, not []byte.
func permissionsJSON(doc *model.Document) (string, error) {
	perms := doc.Permissions
	if perms == nil {
		perms = map[string]model.Capability{}
	}
	b, err := json.Marshal(perms)
	return string(b), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var perms []byte
	var collab []string
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &perms, pq.Array(&collab),
		&doc.IsPublic, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Permissions = map[string]model.Capability{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &doc.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions of %s: %w", doc.ID, err)
		}
	}
	doc.Collaborators = collab
	return &doc, nil
}

func (r *PostgresStore) Create(ctx context.Context, doc *model.Document, genesis *model.Change) error {
	perms, err := permissionsJSON(doc)
	if err != nil {
		return persistErr("encode permissions", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin create tx for doc %s: %v", doc.ID, err)
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		doc.ID, doc.Title, doc.Content, doc.OwnerID, perms, pq.Array(doc.Collaborators),
		doc.IsPublic, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
		return persistErr("insert document", err)
	}
	if genesis != nil {
		if err := insertChange(ctx, tx, genesis); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit create of doc %s: %v", doc.ID, err)
		return persistErr("commit", err)
	}
	return nil
}

func (r *PostgresStore) Get(ctx context.Context, docID string) (*model.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get doc %s: %v", docID, err)
		return nil, persistErr("get document", err)
	}
	return doc, nil
}

func (r *PostgresStore) Save(ctx context.Context, doc *model.Document) error {
	perms, err := permissionsJSON(doc)
	if err != nil {
		return persistErr("encode permissions", err)
	}
	result, err := r.DB.ExecContext(ctx, `UPDATE documents SET title = $2, content = $3, permissions = $4,
		collaborators = $5, is_public = $6, version = $7, updated_at = $8 WHERE id = $1`,
		doc.ID, doc.Title, doc.Content, perms, pq.Array(doc.Collaborators), doc.IsPublic, doc.Version, doc.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to save doc %s: %v", doc.ID, err)
		return persistErr("save document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertChange(ctx context.Context, db execer, c *model.Change) error {
	_, err := db.ExecContext(ctx, `INSERT INTO document_changes
		(id, document_id, user_id, change_type, position, content, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.DocumentID, c.ActorID, string(c.Kind), c.Position, c.Text, c.Version, c.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to append change v%d to doc %s: %v", c.Version, c.DocumentID, err)
		return persistErr("insert change", err)
	}
	return nil
}

func (r *PostgresStore) AppendChange(ctx context.Context, change *model.Change) error {
	return insertChange(ctx, r.DB, change)
}

func (r *PostgresStore) Commit(ctx context.Context, doc *model.Document, change *model.Change) error {
	perms, err := permissionsJSON(doc)
	if err != nil {
		return persistErr("encode permissions", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin commit tx for doc %s: %v", doc.ID, err)
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE documents SET title = $2, content = $3, permissions = $4,
		collaborators = $5, is_public = $6, version = $7, updated_at = $8 WHERE id = $1 AND version = $9`,
		doc.ID, doc.Title, doc.Content, perms, pq.Array(doc.Collaborators), doc.IsPublic,
		doc.Version, doc.UpdatedAt, change.Version-1)
	if err != nil {
		logger.Sugar.Errorf("Failed to update content for doc %s: %v", doc.ID, err)
		return persistErr("update document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s is not at version %d", model.ErrPersistenceFailure, doc.ID, change.Version-1)
	}
	if err := insertChange(ctx, tx, change); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit change v%d of doc %s: %v", change.Version, doc.ID, err)
		return persistErr("commit", err)
	}
	return nil
}

func (r *PostgresStore) ListChanges(ctx context.Context, docID string, fromVersion int) ([]model.Change, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, document_id, user_id, change_type, position, content, version, created_at
		FROM document_changes WHERE document_id = $1 AND version > $2 ORDER BY version ASC`, docID, fromVersion)
	if err != nil {
		logger.Sugar.Errorf("Failed to list changes for doc %s: %v", docID, err)
		return nil, persistErr("list changes", err)
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var c model.Change
		var kind string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ActorID, &kind, &c.Position, &c.Text, &c.Version, &c.CreatedAt); err != nil {
			return nil, persistErr("scan change", err)
		}
		c.Kind = model.ChangeKind(kind)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list changes", err)
	}
	if len(changes) == 0 {
		var exists bool
		if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, docID).Scan(&exists); err != nil {
			return nil, persistErr("check document", err)
		}
		if !exists {
			return nil, model.ErrDocumentNotFound
		}
	}
	return changes, nil
}

func (r *PostgresStore) ListByActor(ctx context.Context, actorID string) ([]model.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE owner_id = $1 OR $1 = ANY(collaborators) ORDER BY updated_at DESC`, actorID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get documents for user %s: %v", actorID, err)
		return nil, persistErr("list documents", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			logger.Sugar.Warnf("Skipping unreadable document row: %v", err)
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *PostgresStore) Delete(ctx context.Context, docID string) error {
	result, err := r.DB.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
		return persistErr("delete document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func (r *PostgresStore) AddComment(ctx context.Context, c *model.Comment) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, user_id, content, quote, position, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.DocumentID, c.ActorID, c.Content, c.Quote, c.Position, c.Resolved, c.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to add comment to doc %s: %v", c.DocumentID, err)
		return persistErr("insert comment", err)
	}
	return nil
}

const commentColumns = `id, document_id, user_id, content, quote, position, is_resolved, created_at`

func scanComment(row rowScanner) (*model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.DocumentID, &c.ActorID, &c.Content, &c.Quote, &c.Position, &c.Resolved, &c.CreatedAt)
	return &c, err
}

func (r *PostgresStore) ListUnresolved(ctx context.Context, docID string) ([]model.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments
		WHERE document_id = $1 AND is_resolved = false ORDER BY created_at ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get comments for doc %s: %v", docID, err)
		return nil, persistErr("list comments", err)
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			logger.Sugar.Warnf("Skipping unreadable comment row on doc %s: %v", docID, err)
			continue
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func (r *PostgresStore) GetComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	c, err := scanComment(r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments
		WHERE id = $1 AND document_id = $2`, commentID, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCommentNotFound
	}
	if err != nil {
		return nil, persistErr("get comment", err)
	}
	return c, nil
}

func (r *PostgresStore) ResolveComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	c, err := scanComment(r.DB.QueryRowContext(ctx, `UPDATE comments SET is_resolved = true
		WHERE id = $1 AND document_id = $2 RETURNING `+commentColumns, commentID, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCommentNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to resolve comment %s: %v", commentID, err)
		return nil, persistErr("resolve comment", err)
	}
	return c, nil
}
