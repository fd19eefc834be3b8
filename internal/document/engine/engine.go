// Package engine applies edit operations to documents and records them in the
// change log.
package engine

import (
	"context"
	"fmt"
	"time"

	"naskah/internal/document/model"
	"naskah/internal/document/permission"
	"naskah/internal/document/repository"
	"naskah/pkg/logger"

	"github.com/oklog/ulid/v2"
)

type Engine struct {
	store repository.Store
	now   func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used for UpdatedAt and change stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewChangeID returns a time-ordered change identifier.
func NewChangeID() string {
	return ulid.Make().String()
}

// Apply loads the document, checks that actorID may edit it, applies op and
// commits the new content together with its change record.
//
// Callers are expected to serialize Apply per document. On any error the
// stored document is unchanged and no document is returned.
func (e *Engine) Apply(ctx context.Context, docID, actorID string, op model.Op) (*model.Document, *model.Change, error) {
	if err := Validate(op); err != nil {
		return nil, nil, err
	}
	current, err := e.store.Get(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	if !permission.Evaluate(current, actorID, model.CapEdit) {
		return nil, nil, fmt.Errorf("%w: %s cannot edit %s", model.ErrPermissionDenied, actorID, docID)
	}

	// The change log records the offset the text actually landed at.
	op.Position = Clamp(current.Content, op.Position)
	content, err := Splice(current.Content, op)
	if err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	next := current.Clone()
	next.Content = content
	next.Version = current.Version + 1
	next.UpdatedAt = now

	change := &model.Change{
		ID:         NewChangeID(),
		DocumentID: docID,
		ActorID:    actorID,
		Kind:       op.Kind,
		Position:   op.Position,
		Text:       op.Text,
		Version:    next.Version,
		CreatedAt:  now,
	}

	// Once the lock is held the write runs to completion even if the caller
	// goes away.
	if err := e.store.Commit(context.WithoutCancel(ctx), next, change); err != nil {
		logger.Sugar.Errorf("Failed to commit v%d of doc %s by %s: %v", next.Version, docID, actorID, err)
		return nil, nil, fmt.Errorf("%w: commit v%d of %s: %w", model.ErrPersistenceFailure, next.Version, docID, err)
	}
	return next, change, nil
}

// Rebuild replays the full change log of docID from the empty document.
func (e *Engine) Rebuild(ctx context.Context, docID string) (string, int, error) {
	changes, err := e.store.ListChanges(ctx, docID, 0)
	if err != nil {
		return "", 0, err
	}
	content, err := Replay("", changes)
	if err != nil {
		return "", 0, err
	}
	version := 0
	if n := len(changes); n > 0 {
		version = changes[n-1].Version
	}
	return content, version, nil
}
