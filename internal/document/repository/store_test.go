package repository

import (
	"context"
	"testing"
	"time"

	"naskah/internal/document/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fullStore interface {
	Store
	CommentStore
}

func newDoc(id, owner string, at time.Time) (*model.Document, *model.Change) {
	doc := &model.Document{
		ID:          id,
		Title:       "Doc " + id,
		Content:     "Hello",
		OwnerID:     owner,
		Permissions: map[string]model.Capability{owner: model.CapEdit},
		Version:     1,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	doc.Collaborators = []string{owner}
	genesis := &model.Change{
		ID: id + "-1", DocumentID: id, ActorID: owner,
		Kind: model.KindInsert, Position: 0, Text: "Hello", Version: 1, CreatedAt: at,
	}
	return doc, genesis
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, s fullStore) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	doc, genesis := newDoc("d1", "u1", t0)
	require.NoError(t, s.Create(ctx, doc, genesis))
	require.ErrorIs(t, s.Create(ctx, doc, genesis), model.ErrPersistenceFailure)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, model.ErrDocumentNotFound)

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Content)
	assert.Equal(t, model.CapEdit, got.Permissions["u1"])

	// Commit advances the version and appends to the log.
	next := got.Clone()
	next.Content = "Hello!"
	next.Version = 2
	next.UpdatedAt = t0.Add(time.Minute)
	change := &model.Change{ID: "d1-2", DocumentID: "d1", ActorID: "u1", Kind: model.KindInsert, Position: 5, Text: "!", Version: 2, CreatedAt: next.UpdatedAt}
	require.NoError(t, s.Commit(ctx, next, change))

	// A second commit for the same base version is rejected and changes nothing.
	stale := next.Clone()
	stale.Content = "stale"
	require.ErrorIs(t, s.Commit(ctx, stale, change), model.ErrPersistenceFailure)
	got, err = s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got.Content)
	assert.Equal(t, 2, got.Version)

	changes, err := s.ListChanges(ctx, "d1", 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 1, changes[0].Version)
	assert.Equal(t, 2, changes[1].Version)

	changes, err = s.ListChanges(ctx, "d1", 1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "!", changes[0].Text)

	_, err = s.ListChanges(ctx, "missing", 0)
	require.ErrorIs(t, err, model.ErrDocumentNotFound)

	// Sharing via Save shows up in ListByActor.
	got.SetPermission("u2", model.CapRead)
	require.NoError(t, s.Save(ctx, got))
	require.ErrorIs(t, s.Save(ctx, &model.Document{ID: "missing"}), model.ErrDocumentNotFound)

	other, otherGenesis := newDoc("d2", "u2", t0.Add(time.Hour))
	require.NoError(t, s.Create(ctx, other, otherGenesis))

	docs, err := s.ListByActor(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d2", docs[0].ID, "most recently updated first")
	assert.Equal(t, "d1", docs[1].ID)

	docs, err = s.ListByActor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, docs)

	// Comments.
	c1 := &model.Comment{ID: "c1", DocumentID: "d1", ActorID: "u2", Content: "first", Position: 1, CreatedAt: t0}
	c2 := &model.Comment{ID: "c2", DocumentID: "d1", ActorID: "u1", Content: "second", Position: 2, CreatedAt: t0.Add(time.Second)}
	require.NoError(t, s.AddComment(ctx, c1))
	require.NoError(t, s.AddComment(ctx, c2))
	require.ErrorIs(t, s.AddComment(ctx, &model.Comment{ID: "c3", DocumentID: "missing"}), model.ErrDocumentNotFound)

	open, err := s.ListUnresolved(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c1", open[0].ID)

	resolved, err := s.ResolveComment(ctx, "d1", "c1")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	_, err = s.ResolveComment(ctx, "d1", "nope")
	require.ErrorIs(t, err, model.ErrCommentNotFound)

	open, err = s.ListUnresolved(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c2", open[0].ID)

	fetched, err := s.GetComment(ctx, "d1", "c1")
	require.NoError(t, err)
	assert.True(t, fetched.Resolved)

	// Delete removes the document and its log.
	require.NoError(t, s.Delete(ctx, "d1"))
	require.ErrorIs(t, s.Delete(ctx, "d1"), model.ErrDocumentNotFound)
	_, err = s.Get(ctx, "d1")
	require.ErrorIs(t, err, model.ErrDocumentNotFound)
	_, err = s.ListChanges(ctx, "d1", 0)
	require.ErrorIs(t, err, model.ErrDocumentNotFound)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc, genesis := newDoc("d1", "u1", time.Now())
	require.NoError(t, s.Create(ctx, doc, genesis))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	got.Content = "mutated"
	got.Permissions["intruder"] = model.CapEdit

	again, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", again.Content)
	assert.NotContains(t, again.Permissions, "intruder")
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	doc, genesis := newDoc("d1", "u1", time.Now().UTC())
	require.NoError(t, s.Create(ctx, doc, genesis))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Content)
	changes, err := s.ListChanges(ctx, "d1", 0)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}
