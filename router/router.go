package router

import (
	"net/http"

	"naskah/internal/collab"
	docHandler "naskah/internal/document"
	"naskah/middleware"
	"naskah/socket"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	JWTSecret     string
	AllowedOrigin string
}

func Setup(h *docHandler.DocumentHandler, hub *socket.Hub, coord *collab.Coordinator, opts Options) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(opts.JWTSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		socket.ServeWs(hub, coord, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	mux.Handle("/api/documents/create", auth(http.HandlerFunc(h.CreateDocument)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(h.GetDocuments)))
	mux.Handle("/api/documents/get", auth(http.HandlerFunc(h.GetDocument)))
	mux.Handle("/api/documents/update", auth(http.HandlerFunc(h.UpdateDocument)))
	mux.Handle("/api/documents/delete", auth(http.HandlerFunc(h.DeleteDocument)))
	mux.Handle("/api/documents/invite", auth(http.HandlerFunc(h.AddCollaborator)))
	mux.Handle("/api/documents/members", auth(http.HandlerFunc(h.GetDocumentMembers)))
	mux.Handle("/api/documents/edit", auth(http.HandlerFunc(h.EditDocument)))
	mux.Handle("/api/documents/changes", auth(http.HandlerFunc(h.GetChanges)))
	mux.Handle("/api/documents/verify", auth(http.HandlerFunc(h.VerifyDocument)))
	mux.Handle("/api/documents/comments/add", auth(http.HandlerFunc(h.AddComment)))
	mux.Handle("/api/documents/comments", auth(http.HandlerFunc(h.GetComments)))
	mux.Handle("/api/documents/comments/resolve", auth(http.HandlerFunc(h.ResolveComment)))
	mux.Handle("/api/documents/presence", auth(http.HandlerFunc(h.GetPresence)))

	mux.Handle("/metrics", promhttp.Handler())

	return middleware.CORSMiddleware(opts.AllowedOrigin)(mux)
}
