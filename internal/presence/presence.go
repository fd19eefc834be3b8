// Package presence tracks who has a document open and where their cursor is.
// The state lives only in process memory.
package presence

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Status is one actor's presence on a document.
type Status struct {
	UserID    string    `json:"user_id"`
	CursorPos int       `json:"cursor_pos"`
	HasCursor bool      `json:"has_cursor"`
	LastSeen  time.Time `json:"last_seen"`
}

// entry is an actor's record on one document. An actor can hold a cursor
// without having joined.
type entry struct {
	Status
	active bool
}

// Tracker is safe for concurrent use. It has its own lock and never waits on
// document edits.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]entry // docID -> userID -> entry
	now   func() time.Time
}

func New() *Tracker {
	return &Tracker{
		rooms: make(map[string]map[string]entry),
		now:   time.Now,
	}
}

func (t *Tracker) room(docID string) map[string]entry {
	room := t.rooms[docID]
	if room == nil {
		room = make(map[string]entry)
		t.rooms[docID] = room
	}
	return room
}

// Join adds actorID to docID. Joining again only refreshes LastSeen.
func (t *Tracker) Join(docID, actorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.room(docID)
	e := room[actorID]
	e.UserID = actorID
	e.LastSeen = t.now()
	e.active = true
	room[actorID] = e
}

// Leave removes actorID and its cursor from docID. It reports whether the
// actor had joined.
func (t *Tracker) Leave(docID, actorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[docID]
	e, ok := room[actorID]
	if !ok {
		return false
	}
	delete(room, actorID)
	if len(room) == 0 {
		delete(t.rooms, docID)
	}
	return e.active
}

// MoveCursor records the cursor offset as given. The tracker does not know
// the document length, so the offset is not clamped. It does not join.
func (t *Tracker) MoveCursor(docID, actorID string, offset int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.room(docID)
	e := room[actorID]
	e.UserID = actorID
	e.CursorPos = offset
	e.HasCursor = true
	e.LastSeen = t.now()
	room[actorID] = e
}

// ActiveActors returns the actors that joined docID, in sorted order.
func (t *Tracker) ActiveActors(docID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.rooms[docID]))
	for id, e := range t.rooms[docID] {
		if e.active {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// IsActive reports whether actorID has joined docID.
func (t *Tracker) IsActive(docID, actorID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rooms[docID][actorID].active
}

// Cursors returns the last known cursor of every actor that has reported one.
func (t *Tracker) Cursors(docID string) map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int)
	for id, e := range t.rooms[docID] {
		if e.HasCursor {
			out[id] = e.CursorPos
		}
	}
	return out
}

// Statuses returns a snapshot of every joined actor on docID, ordered by
// user id.
func (t *Tracker) Statuses(docID string) []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Status, 0, len(t.rooms[docID]))
	for _, e := range t.rooms[docID] {
		if e.active {
			out = append(out, e.Status)
		}
	}
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Forget drops all presence for docID.
func (t *Tracker) Forget(docID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, docID)
}
