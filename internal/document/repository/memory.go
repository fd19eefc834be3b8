package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"naskah/internal/document/model"
)

// MemoryStore keeps everything in process memory. It is used in tests and
// with STORE_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*model.Document
	changes  map[string][]model.Change
	comments map[string][]model.Comment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*model.Document),
		changes:  make(map[string][]model.Change),
		comments: make(map[string][]model.Comment),
	}
}

func (s *MemoryStore) Create(ctx context.Context, doc *model.Document, genesis *model.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", model.ErrPersistenceFailure, doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	if genesis != nil {
		s.changes[doc.ID] = append(s.changes[doc.ID], *genesis)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, docID string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, model.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return model.ErrDocumentNotFound
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) AppendChange(ctx context.Context, change *model.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(change)
}

func (s *MemoryStore) appendLocked(change *model.Change) error {
	log := s.changes[change.DocumentID]
	if n := len(log); n > 0 && log[n-1].Version >= change.Version {
		return fmt.Errorf("%w: change version %d already recorded for %s", model.ErrPersistenceFailure, change.Version, change.DocumentID)
	}
	s.changes[change.DocumentID] = append(log, *change)
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, doc *model.Document, change *model.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[doc.ID]
	if !ok {
		return model.ErrDocumentNotFound
	}
	if current.Version != change.Version-1 {
		return fmt.Errorf("%w: document %s is at version %d, change expects %d", model.ErrPersistenceFailure, doc.ID, current.Version, change.Version-1)
	}
	if err := s.appendLocked(change); err != nil {
		return err
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) ListChanges(ctx context.Context, docID string, fromVersion int) ([]model.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[docID]; !ok {
		return nil, model.ErrDocumentNotFound
	}
	var out []model.Change
	for _, c := range s.changes[docID] {
		if c.Version > fromVersion {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByActor(ctx context.Context, actorID string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, doc := range s.docs {
		if doc.OwnerID == actorID || slices.Contains(doc.Collaborators, actorID) {
			out = append(out, *doc.Clone())
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return model.ErrDocumentNotFound
	}
	delete(s.docs, docID)
	delete(s.changes, docID)
	delete(s.comments, docID)
	return nil
}

func (s *MemoryStore) AddComment(ctx context.Context, c *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[c.DocumentID]; !ok {
		return model.ErrDocumentNotFound
	}
	s.comments[c.DocumentID] = append(s.comments[c.DocumentID], *c)
	return nil
}

func (s *MemoryStore) ListUnresolved(ctx context.Context, docID string) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Comment
	for _, c := range s.comments[docID] {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.comments[docID] {
		if c.ID == commentID {
			return &c, nil
		}
	}
	return nil, model.ErrCommentNotFound
}

func (s *MemoryStore) ResolveComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.comments[docID]
	for i := range list {
		if list[i].ID == commentID {
			list[i].Resolved = true
			c := list[i]
			return &c, nil
		}
	}
	return nil, model.ErrCommentNotFound
}

func sortByUpdated(docs []model.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}
