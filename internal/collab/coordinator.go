// Package collab sequences concurrent requests against shared documents.
//
// Edits to one document are applied one at a time, in the order they obtain
// that document's lock. Edits to different documents never contend. Presence
// and comments are synchronized separately and never wait on an edit.
package collab

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"naskah/internal/document/engine"
	"naskah/internal/document/model"
	"naskah/internal/document/permission"
	"naskah/internal/document/repository"
	"naskah/internal/metrics"
	"naskah/internal/presence"
	"naskah/pkg/logger"

	"github.com/google/uuid"
)

type Coordinator struct {
	store       repository.Store
	comments    repository.CommentStore
	engine      *engine.Engine
	presence    *presence.Tracker
	notifier    Notifier
	editTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*docLock
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithEditTimeout bounds how long RequestEdit waits for a document lock when
// the caller's context has no earlier deadline. Zero waits indefinitely.
func WithEditTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.editTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(store repository.Store, comments repository.CommentStore, tracker *presence.Tracker, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		comments: comments,
		presence: tracker,
		now:      time.Now,
		locks:    make(map[string]*docLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.engine = engine.New(store, engine.WithClock(c.now))
	return c
}

type EditResult struct {
	Version  int             `json:"version"`
	ChangeID string          `json:"change_id"`
	Document *model.Document `json:"-"`
	Change   *model.Change   `json:"change"`
}

func (c *Coordinator) publish(ctx context.Context, typ EventType, docID, actorID string, payload any) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(Event{Type: typ, DocumentID: docID, ActorID: actorID, Origin: originFrom(ctx), Payload: payload})
}

// authorize loads docID and checks that actorID holds want. It takes no lock.
func (c *Coordinator) authorize(ctx context.Context, docID, actorID string, want model.Capability) (*model.Document, error) {
	doc, err := c.store.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !permission.Evaluate(doc, actorID, want) {
		return nil, fmt.Errorf("%w: %s needs %s on %s", model.ErrPermissionDenied, actorID, want, docID)
	}
	return doc, nil
}

// RequestEdit applies op to docID on behalf of actorID.
//
// Validation and the permission check happen before the document lock is
// requested. While waiting for the lock the request may time out or be
// cancelled without side effects; once the lock is held the edit runs to
// completion.
func (c *Coordinator) RequestEdit(ctx context.Context, docID, actorID string, op model.Op) (*EditResult, error) {
	res, err := c.requestEdit(ctx, docID, actorID, op)
	metrics.EditsTotal.WithLabelValues(model.ErrorCode(err)).Inc()
	if err != nil {
		logger.Sugar.Debugf("Edit on doc %s by %s rejected: %v", docID, actorID, err)
	}
	return res, err
}

func (c *Coordinator) requestEdit(ctx context.Context, docID, actorID string, op model.Op) (*EditResult, error) {
	if err := engine.Validate(op); err != nil {
		return nil, err
	}
	if _, err := c.authorize(ctx, docID, actorID, model.CapEdit); err != nil {
		return nil, err
	}

	lockCtx := ctx
	if c.editTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.editTimeout)
		defer cancel()
	}

	waitStart := time.Now()
	release, err := c.acquire(lockCtx, docID)
	if err != nil {
		return nil, err
	}
	metrics.EditLockWait.Observe(time.Since(waitStart).Seconds())

	applyStart := time.Now()
	doc, change, err := c.engine.Apply(context.WithoutCancel(ctx), docID, actorID, op)
	release()
	metrics.EditApplyDuration.Observe(time.Since(applyStart).Seconds())
	if err != nil {
		return nil, err
	}

	res := &EditResult{Version: doc.Version, ChangeID: change.ID, Document: doc, Change: change}
	c.publish(ctx, EventChange, docID, actorID, change)
	return res, nil
}

// RequestEdits applies ops in order and stops at the first failure. The
// results of the edits applied before the failure are returned with the error.
// Other actors' edits may interleave between two ops of the batch.
func (c *Coordinator) RequestEdits(ctx context.Context, docID, actorID string, ops []model.Op) ([]*EditResult, error) {
	results := make([]*EditResult, 0, len(ops))
	for i, op := range ops {
		res, err := c.RequestEdit(ctx, docID, actorID, op)
		if err != nil {
			return results, fmt.Errorf("op %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// WithDocumentLock runs fn while holding docID's edit lock, so metadata
// changes such as sharing never race an edit.
func (c *Coordinator) WithDocumentLock(ctx context.Context, docID string, fn func(ctx context.Context) error) error {
	release, err := c.acquire(ctx, docID)
	if err != nil {
		return err
	}
	defer release()
	return fn(context.WithoutCancel(ctx))
}

// Snapshot returns the current document if actorID may read it.
func (c *Coordinator) Snapshot(ctx context.Context, docID, actorID string) (*model.Document, error) {
	return c.authorize(ctx, docID, actorID, model.CapRead)
}

// RequestJoin marks actorID present on docID and returns the document as it
// is now. Read access is required.
func (c *Coordinator) RequestJoin(ctx context.Context, docID, actorID string) (*model.Document, error) {
	doc, err := c.authorize(ctx, docID, actorID, model.CapRead)
	if err != nil {
		return nil, err
	}
	c.presence.Join(docID, actorID)
	metrics.PresenceEvents.WithLabelValues("join").Inc()
	c.publish(ctx, EventPresence, docID, actorID, c.presence.Statuses(docID))
	return doc, nil
}

// RequestLeave removes actorID from docID. Leaving twice is harmless.
func (c *Coordinator) RequestLeave(ctx context.Context, docID, actorID string) {
	if !c.presence.Leave(docID, actorID) {
		return
	}
	metrics.PresenceEvents.WithLabelValues("leave").Inc()
	c.publish(ctx, EventPresence, docID, actorID, c.presence.Statuses(docID))
}

// RequestCursorMove records actorID's cursor. It does not join the actor and
// never touches the edit lock.
func (c *Coordinator) RequestCursorMove(ctx context.Context, docID, actorID string, offset int) error {
	if _, err := c.authorize(ctx, docID, actorID, model.CapRead); err != nil {
		return err
	}
	c.presence.MoveCursor(docID, actorID, offset)
	metrics.PresenceEvents.WithLabelValues("cursor").Inc()
	c.publish(ctx, EventCursor, docID, actorID, c.presence.Cursors(docID))
	return nil
}

func (c *Coordinator) ActiveActors(docID string) []string {
	actors := c.presence.ActiveActors(docID)
	if actors == nil {
		actors = []string{}
	}
	return actors
}

func (c *Coordinator) Cursors(docID string) map[string]int {
	return c.presence.Cursors(docID)
}

// RequestComment attaches a comment at position. Comments do not change the
// document version.
func (c *Coordinator) RequestComment(ctx context.Context, docID, actorID, text string, position int, quote string) (*model.Comment, error) {
	comment, err := c.requestComment(ctx, docID, actorID, text, position, quote)
	metrics.CommentsTotal.WithLabelValues(model.ErrorCode(err)).Inc()
	return comment, err
}

func (c *Coordinator) requestComment(ctx context.Context, docID, actorID, text string, position int, quote string) (*model.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty comment", model.ErrInvalidOperation)
	}
	if position < 0 {
		return nil, fmt.Errorf("%w: negative comment position", model.ErrInvalidOperation)
	}
	if _, err := c.authorize(ctx, docID, actorID, model.CapComment); err != nil {
		return nil, err
	}
	comment := &model.Comment{
		ID:         uuid.NewString(),
		DocumentID: docID,
		ActorID:    actorID,
		Content:    text,
		Quote:      quote,
		Position:   position,
		CreatedAt:  c.now().UTC(),
	}
	if err := c.comments.AddComment(ctx, comment); err != nil {
		return nil, err
	}
	c.publish(ctx, EventComment, docID, actorID, comment)
	return comment, nil
}

// ListComments returns the unresolved comments of docID.
func (c *Coordinator) ListComments(ctx context.Context, docID, actorID string) ([]model.Comment, error) {
	if _, err := c.authorize(ctx, docID, actorID, model.CapRead); err != nil {
		return nil, err
	}
	comments, err := c.comments.ListUnresolved(ctx, docID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}

// ResolveComment closes a comment. Only its author or the document owner
// may resolve it.
func (c *Coordinator) ResolveComment(ctx context.Context, docID, actorID, commentID string) (*model.Comment, error) {
	doc, err := c.authorize(ctx, docID, actorID, model.CapRead)
	if err != nil {
		return nil, err
	}
	existing, err := c.comments.GetComment(ctx, docID, commentID)
	if err != nil {
		return nil, err
	}
	if existing.ActorID != actorID && doc.OwnerID != actorID {
		return nil, fmt.Errorf("%w: only the author or owner can resolve comment %s", model.ErrPermissionDenied, commentID)
	}
	resolved, err := c.comments.ResolveComment(ctx, docID, commentID)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, EventCommentResolved, docID, actorID, resolved)
	return resolved, nil
}

// NotifyMetadata tells connected clients that document metadata changed.
func (c *Coordinator) NotifyMetadata(ctx context.Context, doc *model.Document, actorID string) {
	c.publish(ctx, EventMetadata, doc.ID, actorID, map[string]any{
		"title":     doc.Title,
		"is_public": doc.IsPublic,
		"version":   doc.Version,
	})
}

// Forget drops presence for a deleted document and tells its clients.
func (c *Coordinator) Forget(ctx context.Context, docID, actorID string) {
	c.presence.Forget(docID)
	c.publish(ctx, EventDeleted, docID, actorID, nil)
}
