package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"naskah/internal/collab"
	"naskah/internal/document/engine"
	"naskah/internal/document/model"
	"naskah/internal/document/repository"
	"naskah/pkg/logger"

	"github.com/google/uuid"
)

const snippetLen = 100

type DocumentService struct {
	Store repository.Store
	Coord *collab.Coordinator
	now   func() time.Time
}

func NewDocumentService(store repository.Store, coord *collab.Coordinator) *DocumentService {
	return &DocumentService{Store: store, Coord: coord, now: time.Now}
}

// CreateDocument stores a new document owned by ownerID. The initial content
// is recorded as the genesis change, so the log replays from an empty string.
func (s *DocumentService) CreateDocument(ctx context.Context, ownerID, title, content string, isPublic bool) (string, error) {
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", model.ErrInvalidOperation)
	}
	if strings.TrimSpace(title) == "" {
		title = "Untitled Document"
	}
	now := s.now().UTC()
	doc := &model.Document{
		ID:          uuid.NewString(),
		Title:       title,
		Content:     content,
		OwnerID:     ownerID,
		Permissions: map[string]model.Capability{},
		IsPublic:    isPublic,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	genesis := &model.Change{
		ID:         engine.NewChangeID(),
		DocumentID: doc.ID,
		ActorID:    ownerID,
		Kind:       model.KindInsert,
		Position:   0,
		Text:       content,
		Version:    1,
		CreatedAt:  now,
	}
	if err := s.Store.Create(ctx, doc, genesis); err != nil {
		return "", err
	}
	logger.Sugar.Infof("Document %s created by %s", doc.ID, ownerID)
	return doc.ID, nil
}

func (s *DocumentService) GetDocument(ctx context.Context, docID, actorID string) (*model.Document, error) {
	return s.Coord.Snapshot(ctx, docID, actorID)
}

// ListDocuments returns the documents actorID owns or collaborates on, most
// recently updated first.
func (s *DocumentService) ListDocuments(ctx context.Context, actorID string) ([]model.DocumentMetadata, error) {
	docs, err := s.Store.ListByActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]model.DocumentMetadata, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		members := make([]model.CollaboratorInfo, 0, len(doc.Collaborators))
		for _, id := range doc.Collaborators {
			members = append(members, model.CollaboratorInfo{ID: id, Role: doc.Permissions[id].String()})
		}
		out = append(out, model.DocumentMetadata{
			ID:        doc.ID,
			Title:     doc.Title,
			UpdatedAt: doc.UpdatedAt,
			Version:   doc.Version,
			Snippet:   snippet(doc.Content),
			IsOwner:   doc.OwnerID == actorID,
			IsPublic:  doc.IsPublic,
			Collab:    members,
		})
	}
	return out, nil
}

// ownerOnly runs fn on a fresh copy of the document under its edit lock and
// saves the result. Only the owner may change metadata.
func (s *DocumentService) ownerOnly(ctx context.Context, docID, actorID string, fn func(doc *model.Document) error) (*model.Document, error) {
	var updated *model.Document
	err := s.Coord.WithDocumentLock(ctx, docID, func(ctx context.Context) error {
		doc, err := s.Store.Get(ctx, docID)
		if err != nil {
			return err
		}
		if doc.OwnerID != actorID {
			return fmt.Errorf("%w: only the owner can change %s", model.ErrPermissionDenied, docID)
		}
		if err := fn(doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.now().UTC()
		if err := s.Store.Save(ctx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Coord.NotifyMetadata(ctx, updated, actorID)
	return updated, nil
}

// ShareDocument sets the capability of req.UserID. A capability of none
// revokes access.
func (s *DocumentService) ShareDocument(ctx context.Context, ownerID string, req model.InviteRequest) error {
	c, err := model.ParseCapability(req.Role)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidOperation, err)
	}
	_, err = s.ownerOnly(ctx, req.DocID, ownerID, func(doc *model.Document) error {
		if req.UserID == doc.OwnerID {
			return fmt.Errorf("%w: the owner's access cannot be changed", model.ErrInvalidOperation)
		}
		doc.SetPermission(req.UserID, c)
		return nil
	})
	if err == nil {
		logger.Sugar.Infof("Document %s: %s now has %s access", req.DocID, req.UserID, c)
	}
	return err
}

func (s *DocumentService) UpdateTitle(ctx context.Context, docID, actorID, title string) (*model.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: empty title", model.ErrInvalidOperation)
	}
	return s.ownerOnly(ctx, docID, actorID, func(doc *model.Document) error {
		doc.Title = title
		return nil
	})
}

func (s *DocumentService) SetPublic(ctx context.Context, docID, actorID string, public bool) (*model.Document, error) {
	return s.ownerOnly(ctx, docID, actorID, func(doc *model.Document) error {
		doc.IsPublic = public
		return nil
	})
}

// UpdateDocument applies whichever of title and visibility req carries.
func (s *DocumentService) UpdateDocument(ctx context.Context, docID, actorID string, req model.UpdateDocRequest) (*model.Document, error) {
	if req.Title == "" && req.IsPublic == nil {
		return nil, fmt.Errorf("%w: nothing to update", model.ErrInvalidOperation)
	}
	return s.ownerOnly(ctx, docID, actorID, func(doc *model.Document) error {
		if req.Title != "" {
			doc.Title = req.Title
		}
		if req.IsPublic != nil {
			doc.IsPublic = *req.IsPublic
		}
		return nil
	})
}

func (s *DocumentService) DeleteDocument(ctx context.Context, docID, actorID string) error {
	err := s.Coord.WithDocumentLock(ctx, docID, func(ctx context.Context) error {
		doc, err := s.Store.Get(ctx, docID)
		if err != nil {
			return err
		}
		if doc.OwnerID != actorID {
			return fmt.Errorf("%w: only the owner can delete %s", model.ErrPermissionDenied, docID)
		}
		return s.Store.Delete(ctx, docID)
	})
	if err != nil {
		return err
	}
	s.Coord.Forget(ctx, docID, actorID)
	logger.Sugar.Infof("Document %s deleted by %s", docID, actorID)
	return nil
}

// Members lists the owner followed by every collaborator and their access.
func (s *DocumentService) Members(ctx context.Context, docID, actorID string) ([]model.CollaboratorInfo, error) {
	doc, err := s.Coord.Snapshot(ctx, docID, actorID)
	if err != nil {
		return nil, err
	}
	members := make([]model.CollaboratorInfo, 0, len(doc.Collaborators)+1)
	members = append(members, model.CollaboratorInfo{ID: doc.OwnerID, Role: "owner"})
	for _, id := range doc.Collaborators {
		members = append(members, model.CollaboratorInfo{ID: id, Role: doc.Permissions[id].String()})
	}
	return members, nil
}

// History returns the changes after version from.
func (s *DocumentService) History(ctx context.Context, docID, actorID string, from int) ([]model.Change, error) {
	if from < 0 {
		return nil, fmt.Errorf("%w: negative version", model.ErrInvalidOperation)
	}
	if _, err := s.Coord.Snapshot(ctx, docID, actorID); err != nil {
		return nil, err
	}
	changes, err := s.Store.ListChanges(ctx, docID, from)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []model.Change{}
	}
	return changes, nil
}

// Verify replays the whole change log and compares it with the stored
// content. It holds the document lock so no edit lands in between.
func (s *DocumentService) Verify(ctx context.Context, docID, actorID string) (*model.VerifyResponse, error) {
	if _, err := s.Coord.Snapshot(ctx, docID, actorID); err != nil {
		return nil, err
	}

	var resp model.VerifyResponse
	err := s.Coord.WithDocumentLock(ctx, docID, func(ctx context.Context) error {
		doc, err := s.Store.Get(ctx, docID)
		if err != nil {
			return err
		}
		changes, err := s.Store.ListChanges(ctx, docID, 0)
		if err != nil {
			return err
		}
		resp.Version = doc.Version
		resp.Changes = len(changes)

		replayed, err := engine.Replay("", changes)
		if err != nil {
			logger.Sugar.Warnf("Replay of doc %s failed: %v", docID, err)
			return nil
		}
		last := 0
		if n := len(changes); n > 0 {
			last = changes[n-1].Version
		}
		resp.Consistent = replayed == doc.Content && last == doc.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !resp.Consistent {
		logger.Sugar.Errorf("Document %s does not match its change log at v%d", docID, resp.Version)
	}
	return &resp, nil
}

func snippet(content string) string {
	res := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(res) > snippetLen {
		return string([]rune(res)[:snippetLen]) + "..."
	}
	return res
}
