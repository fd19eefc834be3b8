package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"naskah/internal/collab"
	"naskah/internal/document/model"
	"naskah/internal/document/repository"
	"naskah/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu    sync.Mutex
	types []collab.EventType
}

func (l *eventLog) Publish(e collab.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, e.Type)
}

func newService(t *testing.T) (*DocumentService, *repository.MemoryStore, *eventLog) {
	t.Helper()
	store := repository.NewMemoryStore()
	events := &eventLog{}
	coord := collab.New(store, store, presence.New(), collab.WithNotifier(events))
	return NewDocumentService(store, coord), store, events
}

func TestCreateDocument(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	id, err := svc.CreateDocument(ctx, "u1", "  ", "Hello world", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Document", doc.Title)
	assert.Equal(t, "Hello world", doc.Content)
	assert.Equal(t, "u1", doc.OwnerID)
	assert.Equal(t, 1, doc.Version)

	changes, err := svc.History(ctx, id, "u1", 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "Hello world", changes[0].Text)
}

func TestShareAndRevoke(t *testing.T) {
	svc, _, events := newService(t)
	ctx := context.Background()
	id, err := svc.CreateDocument(ctx, "u1", "Plan", "abc", false)
	require.NoError(t, err)

	_, err = svc.GetDocument(ctx, id, "u2")
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	require.NoError(t, svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u2", Role: "writer"}))
	_, err = svc.Coord.RequestEdit(ctx, id, "u2", model.Op{Kind: model.KindInsert, Position: 3, Text: "d"})
	require.NoError(t, err)

	err = svc.ShareDocument(ctx, "u2", model.InviteRequest{DocID: id, UserID: "u3", Role: "read"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied, "only the owner shares")
	err = svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u1", Role: "read"})
	assert.ErrorIs(t, err, model.ErrInvalidOperation)
	err = svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u3", Role: "admin"})
	assert.ErrorIs(t, err, model.ErrInvalidOperation)

	list, err := svc.ListDocuments(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsOwner)
	assert.Equal(t, []model.CollaboratorInfo{{ID: "u2", Role: "edit"}}, list[0].Collab)

	require.NoError(t, svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u2", Role: "none"}))
	_, err = svc.Coord.RequestEdit(ctx, id, "u2", model.Op{Kind: model.KindInsert, Position: 0, Text: "x"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	list, err = svc.ListDocuments(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Contains(t, events.types, collab.EventMetadata)
}

func TestMembers(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id, err := svc.CreateDocument(ctx, "u1", "Team", "abc", false)
	require.NoError(t, err)
	require.NoError(t, svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u2", Role: "edit"}))
	require.NoError(t, svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u3", Role: "reviewer"}))

	members, err := svc.Members(ctx, id, "u3")
	require.NoError(t, err)
	assert.Equal(t, []model.CollaboratorInfo{
		{ID: "u1", Role: "owner"},
		{ID: "u2", Role: "edit"},
		{ID: "u3", Role: "comment"},
	}, members)

	_, err = svc.Members(ctx, id, "stranger")
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = svc.Members(ctx, "missing", "u1")
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
}

func TestUpdateDocumentKeepsContentAndVersion(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id, err := svc.CreateDocument(ctx, "u1", "Old", "body", false)
	require.NoError(t, err)

	public := true
	doc, err := svc.UpdateDocument(ctx, id, "u1", model.UpdateDocRequest{Title: "New", IsPublic: &public})
	require.NoError(t, err)
	assert.Equal(t, "New", doc.Title)
	assert.True(t, doc.IsPublic)
	assert.Equal(t, "body", doc.Content)
	assert.Equal(t, 1, doc.Version)

	// Public documents are readable by anyone, but not editable.
	got, err := svc.GetDocument(ctx, id, "stranger")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	_, err = svc.Coord.RequestEdit(ctx, id, "stranger", model.Op{Kind: model.KindInsert, Text: "x"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	_, err = svc.UpdateTitle(ctx, id, "stranger", "Mine")
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = svc.UpdateTitle(ctx, id, "u1", "")
	assert.ErrorIs(t, err, model.ErrInvalidOperation)
	_, err = svc.UpdateDocument(ctx, id, "u1", model.UpdateDocRequest{})
	assert.ErrorIs(t, err, model.ErrInvalidOperation)

	doc, err = svc.SetPublic(ctx, id, "u1", false)
	require.NoError(t, err)
	assert.False(t, doc.IsPublic)
}

func TestDeleteDocument(t *testing.T) {
	svc, store, events := newService(t)
	ctx := context.Background()
	id, err := svc.CreateDocument(ctx, "u1", "Doomed", "x", false)
	require.NoError(t, err)
	require.NoError(t, svc.ShareDocument(ctx, "u1", model.InviteRequest{DocID: id, UserID: "u2", Role: "edit"}))

	assert.ErrorIs(t, svc.DeleteDocument(ctx, id, "u2"), model.ErrPermissionDenied)
	require.NoError(t, svc.DeleteDocument(ctx, id, "u1"))

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	assert.ErrorIs(t, svc.DeleteDocument(ctx, id, "u1"), model.ErrDocumentNotFound)
	assert.Contains(t, events.types, collab.EventDeleted)
}

func TestHistoryAndVerify(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	id, err := svc.CreateDocument(ctx, "u1", "Log", "Hello world", false)
	require.NoError(t, err)

	_, err = svc.Coord.RequestEdits(ctx, id, "u1", []model.Op{
		{Kind: model.KindInsert, Position: 5, Text: " there"},
		{Kind: model.KindDelete, Position: 0, Text: "Hello"},
		{Kind: model.KindReplace, Position: 1, Text: "T"},
	})
	require.NoError(t, err)

	changes, err := svc.History(ctx, id, "u1", 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 3, changes[0].Version)
	assert.Equal(t, 4, changes[1].Version)

	_, err = svc.History(ctx, id, "u1", -1)
	assert.ErrorIs(t, err, model.ErrInvalidOperation)
	_, err = svc.History(ctx, id, "stranger", 0)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	res, err := svc.Verify(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, &model.VerifyResponse{Version: 4, Changes: 4, Consistent: true}, res)

	// Tamper with the stored content behind the log's back.
	doc, err := store.Get(ctx, id)
	require.NoError(t, err)
	doc.Content = "tampered"
	require.NoError(t, store.Save(ctx, doc))
	res, err = svc.Verify(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, res.Consistent)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "one two three", snippet("one\ntwo   three\n"))
	long := strings.Repeat("é", 150)
	got := snippet(long)
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)
}
