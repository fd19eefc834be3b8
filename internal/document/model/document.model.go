package model

import (
	"maps"
	"slices"
	"time"
)

type Document struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Content       string                `json:"content"`
	OwnerID       string                `json:"owner_id"`
	Permissions   map[string]Capability `json:"permissions"`
	Collaborators []string              `json:"collaborators"`
	IsPublic      bool                  `json:"is_public"`
	Version       int                   `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Clone returns a deep copy, so callers can mutate it without touching the
// stored or cached original.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Permissions = maps.Clone(d.Permissions)
	if c.Permissions == nil {
		c.Permissions = map[string]Capability{}
	}
	c.Collaborators = slices.Clone(d.Collaborators)
	return &c
}

// SetPermission grants cap to actorID and keeps Collaborators in step with
// the permission map. CapNone revokes.
func (d *Document) SetPermission(actorID string, c Capability) {
	if d.Permissions == nil {
		d.Permissions = map[string]Capability{}
	}
	if c == CapNone {
		delete(d.Permissions, actorID)
		d.Collaborators = slices.DeleteFunc(d.Collaborators, func(id string) bool { return id == actorID })
		return
	}
	d.Permissions[actorID] = c
	if !slices.Contains(d.Collaborators, actorID) {
		d.Collaborators = append(d.Collaborators, actorID)
	}
}

type ChangeKind string

const (
	KindInsert  ChangeKind = "insert"
	KindDelete  ChangeKind = "delete"
	KindReplace ChangeKind = "replace"
)

func (k ChangeKind) Valid() bool {
	return k == KindInsert || k == KindDelete || k == KindReplace
}

// Op is a single edit as sent by a client. Position is a character offset
// into the content before the edit.
type Op struct {
	Kind     ChangeKind `json:"kind" validate:"required,oneof=insert delete replace"`
	Position int        `json:"position"`
	Text     string     `json:"text" validate:"max=65536"`
}

// Change is the immutable record of one applied Op. Version is the document
// version the change produced.
type Change struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	ActorID    string     `json:"user_id"`
	Kind       ChangeKind `json:"kind"`
	Position   int        `json:"position"`
	Text       string     `json:"text"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (c *Change) Op() Op {
	return Op{Kind: c.Kind, Position: c.Position, Text: c.Text}
}

type Comment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ActorID    string    `json:"user_id"`
	Content    string    `json:"content"`
	Quote      string    `json:"quote,omitempty"`
	Position   int       `json:"position"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateDocResponse struct {
	DocID string `json:"document_id"`
}

type CollaboratorInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type DocumentMetadata struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	UpdatedAt time.Time          `json:"updated_at"`
	Version   int                `json:"version"`
	Snippet   string             `json:"snippet"`
	IsOwner   bool               `json:"is_owner"`
	IsPublic  bool               `json:"is_public"`
	Collab    []CollaboratorInfo `json:"collab"`
}

type CreateDocRequest struct {
	Title    string `json:"title" validate:"max=200"`
	Content  string `json:"content" validate:"max=1048576"`
	IsPublic bool   `json:"is_public"`
}

type UpdateDocRequest struct {
	Title    string `json:"title" validate:"omitempty,max=200"`
	IsPublic *bool  `json:"is_public"`
}

type InviteRequest struct {
	DocID  string `json:"document_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=none read comment edit reader reviewer writer"`
}

type EditRequest struct {
	DocID string `json:"document_id" validate:"required"`
	Ops   []Op   `json:"ops" validate:"required,min=1,max=100,dive"`
}

type EditAck struct {
	Version  int    `json:"version"`
	ChangeID string `json:"change_id"`
}

type EditResponse struct {
	Results []EditAck `json:"results"`
	Error   string    `json:"error,omitempty"`
}

type CommentRequest struct {
	DocID    string `json:"document_id" validate:"required"`
	Content  string `json:"content" validate:"required,max=10000"`
	Quote    string `json:"quote" validate:"max=10000"`
	Position int    `json:"position" validate:"gte=0"`
}

type PresenceResponse struct {
	Actors  []string       `json:"actors"`
	Cursors map[string]int `json:"cursors"`
}

type VerifyResponse struct {
	Version    int  `json:"version"`
	Changes    int  `json:"changes"`
	Consistent bool `json:"consistent"`
}
