package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"naskah/internal/document/model"
	"naskah/pkg/logger"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded Store for single-node deployments. Records are
// JSON values under these keys:
//
//	doc/<docID>
//	chg/<docID>/<version, zero padded>
//	cmt/<docID>/<commentID>
type BadgerStore struct {
	db *badger.DB
}

// zapBadgerLogger routes badger's internal logging into the service logger.
type zapBadgerLogger struct{}

func (zapBadgerLogger) Errorf(format string, args ...interface{})   { logger.Sugar.Errorf(format, args...) }
func (zapBadgerLogger) Warningf(format string, args ...interface{}) { logger.Sugar.Warnf(format, args...) }
func (zapBadgerLogger) Infof(format string, args ...interface{})    { logger.Sugar.Debugf(format, args...) }
func (zapBadgerLogger) Debugf(format string, args ...interface{})   { logger.Sugar.Debugf(format, args...) }

// OpenBadgerStore opens (or creates) a store at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(zapBadgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func docKey(docID string) []byte { return []byte("doc/" + docID) }

func changePrefix(docID string) []byte { return []byte("chg/" + docID + "/") }

func changeKey(docID string, version int) []byte {
	return fmt.Appendf(changePrefix(docID), "%010d", version)
}

func commentPrefix(docID string) []byte { return []byte("cmt/" + docID + "/") }

func commentKey(docID, commentID string) []byte {
	return append(commentPrefix(docID), commentID...)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func (s *BadgerStore) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrDocumentNotFound),
		errors.Is(err, model.ErrCommentNotFound),
		errors.Is(err, model.ErrPersistenceFailure):
		return err
	}
	logger.Sugar.Errorf("Badger %s failed: %v", op, err)
	return persistErr(op, err)
}

func (s *BadgerStore) Create(ctx context.Context, doc *model.Document, genesis *model.Change) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(doc.ID)); err == nil {
			return fmt.Errorf("%w: document %s already exists", model.ErrPersistenceFailure, doc.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, docKey(doc.ID), doc); err != nil {
			return err
		}
		if genesis != nil {
			return setJSON(txn, changeKey(doc.ID, genesis.Version), genesis)
		}
		return nil
	})
	return s.wrap("create", err)
}

func (s *BadgerStore) Get(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, docKey(docID), &doc)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if doc.Permissions == nil {
		doc.Permissions = map[string]model.Capability{}
	}
	return &doc, nil
}

func (s *BadgerStore) Save(ctx context.Context, doc *model.Document) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(doc.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrDocumentNotFound
		} else if err != nil {
			return err
		}
		return setJSON(txn, docKey(doc.ID), doc)
	})
	return s.wrap("save", err)
}

func (s *BadgerStore) AppendChange(ctx context.Context, change *model.Change) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return appendChangeTxn(txn, change)
	})
	return s.wrap("append change", err)
}

func appendChangeTxn(txn *badger.Txn, change *model.Change) error {
	key := changeKey(change.DocumentID, change.Version)
	if _, err := txn.Get(key); err == nil {
		return fmt.Errorf("%w: change version %d already recorded for %s", model.ErrPersistenceFailure, change.Version, change.DocumentID)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return setJSON(txn, key, change)
}

func (s *BadgerStore) Commit(ctx context.Context, doc *model.Document, change *model.Change) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var current model.Document
		if err := getJSON(txn, docKey(doc.ID), &current); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrDocumentNotFound
		} else if err != nil {
			return err
		}
		if current.Version != change.Version-1 {
			return fmt.Errorf("%w: document %s is at version %d, change expects %d", model.ErrPersistenceFailure, doc.ID, current.Version, change.Version-1)
		}
		if err := appendChangeTxn(txn, change); err != nil {
			return err
		}
		return setJSON(txn, docKey(doc.ID), doc)
	})
	return s.wrap("commit", err)
}

func (s *BadgerStore) ListChanges(ctx context.Context, docID string, fromVersion int) ([]model.Change, error) {
	var changes []model.Change
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(docID)); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrDocumentNotFound
		} else if err != nil {
			return err
		}
		prefix := changePrefix(docID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(changeKey(docID, fromVersion+1)); it.ValidForPrefix(prefix); it.Next() {
			var c model.Change
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			changes = append(changes, c)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("list changes", err)
	}
	return changes, nil
}

func (s *BadgerStore) ListByActor(ctx context.Context, actorID string) ([]model.Document, error) {
	var docs []model.Document
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("doc/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc model.Document
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &doc) }); err != nil {
				logger.Sugar.Warnf("Skipping unreadable document %s: %v", it.Item().Key(), err)
				continue
			}
			if doc.OwnerID == actorID || slices.Contains(doc.Collaborators, actorID) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("list documents", err)
	}
	sortByUpdated(docs)
	return docs, nil
}

func (s *BadgerStore) Delete(ctx context.Context, docID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(docID)); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrDocumentNotFound
		} else if err != nil {
			return err
		}
		keys := [][]byte{docKey(docID)}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for _, prefix := range [][]byte{changePrefix(docID), commentPrefix(docID)} {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return s.wrap("delete", err)
}

func (s *BadgerStore) AddComment(ctx context.Context, c *model.Comment) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(docKey(c.DocumentID)); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrDocumentNotFound
		} else if err != nil {
			return err
		}
		return setJSON(txn, commentKey(c.DocumentID, c.ID), c)
	})
	return s.wrap("add comment", err)
}

func (s *BadgerStore) ListUnresolved(ctx context.Context, docID string) ([]model.Comment, error) {
	var comments []model.Comment
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := commentPrefix(docID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c model.Comment
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			if !c.Resolved {
				comments = append(comments, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("list comments", err)
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

func (s *BadgerStore) GetComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	var c model.Comment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, commentKey(docID, commentID), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrCommentNotFound
	}
	if err != nil {
		return nil, s.wrap("get comment", err)
	}
	return &c, nil
}

func (s *BadgerStore) ResolveComment(ctx context.Context, docID, commentID string) (*model.Comment, error) {
	var c model.Comment
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, commentKey(docID, commentID), &c); errors.Is(err, badger.ErrKeyNotFound) {
			return model.ErrCommentNotFound
		} else if err != nil {
			return err
		}
		c.Resolved = true
		return setJSON(txn, commentKey(docID, commentID), &c)
	})
	if err != nil {
		return nil, s.wrap("resolve comment", err)
	}
	return &c, nil
}
