package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"naskah/internal/collab"
	"naskah/internal/document/model"
	"naskah/internal/document/permission"
	"naskah/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20
)

type Client struct {
	ID     string // connection id, distinct per socket even for the same user
	Hub    *Hub
	Coord  *collab.Coordinator
	Conn   *websocket.Conn
	DocID  string
	UserID string
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

type snapshotPayload struct {
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Version    int              `json:"version"`
	IsPublic   bool             `json:"is_public"`
	Capability model.Capability `json:"capability"`
}

type editPayload struct {
	Ops []model.Op `json:"ops"`
}

type cursorPayload struct {
	Position int `json:"position"`
}

type commentPayload struct {
	Content  string `json:"content"`
	Quote    string `json:"quote"`
	Position int    `json:"position"`
}

type resolvePayload struct {
	CommentID string `json:"comment_id"`
}

type errorPayload struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results []model.EditAck `json:"results,omitempty"`
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if h.allowedOrigin == "" || h.allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == h.allowedOrigin
		},
	}
}

// ServeWs authorizes userID on the docId query parameter, upgrades the
// connection and joins the document's room. Access is checked before the
// upgrade so a rejected client gets a plain HTTP status.
func ServeWs(hub *Hub, coord *collab.Coordinator, w http.ResponseWriter, r *http.Request, userID string) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId", http.StatusBadRequest)
		return
	}

	if _, err := coord.Snapshot(r.Context(), docID, userID); err != nil {
		switch {
		case errors.Is(err, model.ErrDocumentNotFound):
			logger.Sugar.Warnf("Connection rejected: Document %s not found", docID)
			http.Error(w, "Document not found", http.StatusNotFound)
		case errors.Is(err, model.ErrPermissionDenied):
			logger.Sugar.Warnf("Connection rejected: User %s has no access to %s", userID, docID)
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			logger.Sugar.Errorf("Failed to load doc %s for websocket: %v", docID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	up := hub.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(collab.WithOrigin(context.Background(), id))
	client := &Client{
		ID:     id,
		Hub:    hub,
		Coord:  coord,
		Conn:   conn,
		DocID:  docID,
		UserID: userID,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case hub.Register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()

	// The snapshot is read after registering, so any change committed later
	// reaches this client as an UPDATE with a higher version.
	doc, err := coord.Snapshot(client.ctx, docID, userID)
	if err == nil {
		client.replySnapshot(doc)
		_, err = coord.RequestJoin(client.ctx, docID, userID)
	}
	if err != nil {
		logger.Sugar.Warnf("Join of %s on doc %s failed after upgrade: %v", userID, docID, err)
		client.cancel()
		client.Hub.dismiss(client, client.errorMessage("", err, nil))
		return
	}

	go client.readPump()
}

func (c *Client) replySnapshot(doc *model.Document) {
	payload, _ := json.Marshal(snapshotPayload{
		Title:      doc.Title,
		Content:    doc.Content,
		Version:    doc.Version,
		IsPublic:   doc.IsPublic,
		Capability: permission.Level(doc, c.UserID),
	})
	c.Hub.reply(c, WSMessage{Type: SnapshotType, DocID: c.DocID, UserID: c.UserID, Payload: payload})
}

func (c *Client) errorMessage(ref string, err error, applied []model.EditAck) WSMessage {
	payload, _ := json.Marshal(errorPayload{Code: model.ErrorCode(err), Message: err.Error(), Results: applied})
	return WSMessage{Type: ErrorType, DocID: c.DocID, UserID: c.UserID, Ref: ref, Payload: payload}
}

func (c *Client) replyError(ref string, err error, applied []model.EditAck) {
	c.Hub.reply(c, c.errorMessage(ref, err, applied))
}

// close unregisters the client. Run closes Send, which ends writePump.
func (c *Client) close() {
	c.cancel()
	select {
	case c.Hub.Unregister <- c:
	case <-c.Hub.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			c.replyError("", model.ErrInvalidOperation, nil)
			continue
		}
		// Document and user come from the connection, never from the frame.
		msg.DocID = c.DocID
		msg.UserID = c.UserID
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Type {
	case EditType:
		var p editPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || len(p.Ops) == 0 {
			c.replyError(msg.Ref, model.ErrInvalidOperation, nil)
			return
		}
		results, err := c.Coord.RequestEdits(c.ctx, c.DocID, c.UserID, p.Ops)
		acks := make([]model.EditAck, 0, len(results))
		for _, r := range results {
			acks = append(acks, model.EditAck{Version: r.Version, ChangeID: r.ChangeID})
		}
		if err != nil {
			c.replyError(msg.Ref, err, acks)
			return
		}
		payload, _ := json.Marshal(model.EditResponse{Results: acks})
		c.Hub.reply(c, WSMessage{Type: AckType, DocID: c.DocID, UserID: c.UserID, Ref: msg.Ref, Payload: payload})

	case CursorType:
		var p cursorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.replyError(msg.Ref, model.ErrInvalidOperation, nil)
			return
		}
		if err := c.Coord.RequestCursorMove(c.ctx, c.DocID, c.UserID, p.Position); err != nil {
			c.replyError(msg.Ref, err, nil)
		}

	case CommentType:
		var p commentPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.replyError(msg.Ref, model.ErrInvalidOperation, nil)
			return
		}
		if _, err := c.Coord.RequestComment(c.ctx, c.DocID, c.UserID, p.Content, p.Position, p.Quote); err != nil {
			c.replyError(msg.Ref, err, nil)
		}

	case CommentUpdateType:
		var p resolvePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.CommentID == "" {
			c.replyError(msg.Ref, model.ErrInvalidOperation, nil)
			return
		}
		if _, err := c.Coord.ResolveComment(c.ctx, c.DocID, c.UserID, p.CommentID); err != nil {
			c.replyError(msg.Ref, err, nil)
		}

	default:
		logger.Sugar.Warnf("Unknown message type %q from %s", msg.Type, c.UserID)
		c.replyError(msg.Ref, model.ErrInvalidOperation, nil)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
