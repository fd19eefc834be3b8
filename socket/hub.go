package socket

import (
	"context"
	"encoding/json"
	"sync"

	"naskah/internal/collab"
	"naskah/internal/metrics"
	"naskah/pkg/logger"
)

const (
	SnapshotType        = "SNAPSHOT"         // Full document state sent on connect
	EditType            = "EDIT"             // Client asks to apply ops
	AckType             = "ACK"              // Edit applied, sent to the editing connection
	ErrorType           = "ERROR"            // Request rejected, sent to the requesting connection
	UpdateType          = "UPDATE"           // A change someone else made
	CursorType          = "CURSOR"           // User moved their cursor
	PresenceUpdateType  = "PRESENCE_UPDATE"  // A user joined or left
	CommentType         = "COMMENT"          // New comment added
	CommentUpdateType   = "COMMENT_UPDATE"   // Comment resolved
	MetadataType        = "METADATA"         // Document title/visibility
	DocumentDeletedType = "DOCUMENT_DELETED" // Room is closing
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	UserID  string          `json:"user_id"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// outbound is a frame queued for delivery by Run. A non-nil to targets one
// connection; otherwise every connection in the room gets it except the one
// whose ID equals exclude.
type outbound struct {
	docID   string
	payload []byte
	exclude string
	to      *Client
	closing bool
}

type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan outbound
	Register   chan *Client
	Unregister chan *Client

	mu            sync.Mutex
	done          chan struct{}
	allowedOrigin string
}

// NewHub creates a hub. allowedOrigin restricts websocket upgrades to one
// browser origin; empty or "*" accepts any.
func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		Rooms:         make(map[string]map[*Client]bool),
		Broadcast:     make(chan outbound, 256),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		done:          make(chan struct{}),
		allowedOrigin: allowedOrigin,
	}
}

// Run owns every client's Send channel. It returns when ctx is done, closing
// all connections.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for docID, clients := range h.Rooms {
				for client := range clients {
					close(client.Send)
					metrics.WebsocketClients.Dec()
				}
				delete(h.Rooms, docID)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				h.Rooms[client.DocID] = make(map[*Client]bool)
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.Rooms[client.DocID][client]; ok {
				h.drop(client)
				if !h.hasUserLocked(client.DocID, client.UserID) {
					// RequestLeave publishes back into this loop, so it cannot run here.
					go h.leave(client)
				}
			}
			h.mu.Unlock()

		case msg := <-h.Broadcast:
			h.deliver(msg)
		}
	}
}

// drop removes client from its room. h.mu must be held.
func (h *Hub) drop(client *Client) {
	delete(h.Rooms[client.DocID], client)
	close(client.Send)
	metrics.WebsocketClients.Dec()
	if len(h.Rooms[client.DocID]) == 0 {
		delete(h.Rooms, client.DocID)
		logger.Sugar.Infof("Closed empty room: %s", client.DocID)
	}
}

func (h *Hub) hasUserLocked(docID, userID string) bool {
	for c := range h.Rooms[docID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) leave(client *Client) {
	h.mu.Lock()
	reconnected := h.hasUserLocked(client.DocID, client.UserID)
	h.mu.Unlock()
	if reconnected {
		return
	}
	client.Coord.RequestLeave(context.Background(), client.DocID, client.UserID)
}

func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.to != nil {
		if _, ok := h.Rooms[msg.to.DocID][msg.to]; !ok {
			return
		}
		h.send(msg.to, msg.payload)
		if _, ok := h.Rooms[msg.to.DocID][msg.to]; ok && msg.closing {
			h.drop(msg.to)
		}
		return
	}

	for client := range h.Rooms[msg.docID] {
		if msg.exclude != "" && client.ID == msg.exclude {
			continue
		}
		h.send(client, msg.payload)
	}
	if msg.closing {
		for client := range h.Rooms[msg.docID] {
			h.drop(client)
		}
	}
}

// send queues payload without blocking. A client whose buffer is full is
// lagging and gets disconnected. h.mu must be held.
func (h *Hub) send(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", client.UserID)
		h.drop(client)
		if !h.hasUserLocked(client.DocID, client.UserID) {
			go h.leave(client)
		}
	}
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.Broadcast <- msg:
	case <-h.done:
	}
}

// Publish turns a coordinator event into a websocket frame for the room.
func (h *Hub) Publish(e collab.Event) {
	msg := WSMessage{DocID: e.DocumentID, UserID: e.ActorID}
	out := outbound{docID: e.DocumentID}

	switch e.Type {
	case collab.EventChange:
		msg.Type = UpdateType
		out.exclude = e.Origin
	case collab.EventCursor:
		msg.Type = CursorType
		out.exclude = e.Origin
	case collab.EventPresence:
		msg.Type = PresenceUpdateType
	case collab.EventComment:
		msg.Type = CommentType
	case collab.EventCommentResolved:
		msg.Type = CommentUpdateType
	case collab.EventMetadata:
		msg.Type = MetadataType
	case collab.EventDeleted:
		msg.Type = DocumentDeletedType
		out.closing = true
	default:
		logger.Sugar.Warnf("Dropping unknown event type %q for doc %s", e.Type, e.DocumentID)
		return
	}

	raw, err := json.Marshal(e.Payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", msg.Type, err)
		return
	}
	msg.Payload = raw
	out.payload, err = json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}
	h.enqueue(out)
}

// reply sends msg to a single connection.
func (h *Hub) reply(client *Client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s reply: %v", msg.Type, err)
		return
	}
	h.enqueue(outbound{to: client, payload: payload})
}

// dismiss sends a last message to client and then drops it. Both happen in
// one step of Run, so the message cannot be lost to a racing unregister.
func (h *Hub) dismiss(client *Client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s reply: %v", msg.Type, err)
		return
	}
	h.enqueue(outbound{to: client, payload: payload, closing: true})
}

// Connected reports how many connections are open on docID.
func (h *Hub) Connected(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[docID])
}

var _ collab.Notifier = (*Hub)(nil)
