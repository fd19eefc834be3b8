package repository

import (
	"context"

	"naskah/internal/document/model"
)

// Store persists documents and their append-only change log.
type Store interface {
	// Create stores a new document together with its genesis change.
	Create(ctx context.Context, doc *model.Document, genesis *model.Change) error
	Get(ctx context.Context, docID string) (*model.Document, error)
	// Save overwrites document metadata and content without touching the log.
	Save(ctx context.Context, doc *model.Document) error
	AppendChange(ctx context.Context, change *model.Change) error
	// Commit saves doc and appends change as one unit. It fails if the stored
	// document is not at change.Version-1.
	Commit(ctx context.Context, doc *model.Document, change *model.Change) error
	// ListChanges returns changes with Version > fromVersion in version order.
	ListChanges(ctx context.Context, docID string, fromVersion int) ([]model.Change, error)
	// ListByActor returns documents owned by or shared with actorID, most
	// recently updated first.
	ListByActor(ctx context.Context, actorID string) ([]model.Document, error)
	Delete(ctx context.Context, docID string) error
}

type CommentStore interface {
	AddComment(ctx context.Context, c *model.Comment) error
	ListUnresolved(ctx context.Context, docID string) ([]model.Comment, error)
	// ResolveComment marks a comment resolved and returns it.
	ResolveComment(ctx context.Context, docID, commentID string) (*model.Comment, error)
	GetComment(ctx context.Context, docID, commentID string) (*model.Comment, error)
}

var (
	_ Store        = (*PostgresStore)(nil)
	_ CommentStore = (*PostgresStore)(nil)
	_ Store        = (*BadgerStore)(nil)
	_ CommentStore = (*BadgerStore)(nil)
	_ Store        = (*MemoryStore)(nil)
	_ CommentStore = (*MemoryStore)(nil)
)
