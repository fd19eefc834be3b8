package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"naskah/internal/collab"
	"naskah/internal/document/model"
	"naskah/internal/document/service"
	"naskah/middleware"
	"naskah/pkg/logger"

	"github.com/go-playground/validator/v10"
)

type DocumentHandler struct {
	Service  *service.DocumentService
	Coord    *collab.Coordinator
	validate *validator.Validate
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		Service:  service,
		Coord:    service.Coord,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func userID(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrDocumentNotFound), errors.Is(err, model.ErrCommentNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

// fail reports err with the status its kind maps to. Internal errors are
// logged and not echoed.
func fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Sugar.Errorf("Handler: Failed to %s: %v", action, err)
		http.Error(w, "Failed to "+action, status)
		return
	}
	logger.Sugar.Debugf("Handler: %s rejected: %v", action, err)
	http.Error(w, err.Error(), status)
}

// decode reads a JSON body into v and validates it.
func (h *DocumentHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func docIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return "", false
	}
	return docID, true
}

func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req model.CreateDocRequest
	if !h.decode(w, r, &req) {
		return
	}
	docID, err := h.Service.CreateDocument(r.Context(), userID(r), req.Title, req.Content, req.IsPublic)
	if err != nil {
		fail(w, "create document", err)
		return
	}
	writeJSON(w, http.StatusCreated, model.CreateDocResponse{DocID: docID})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docs, err := h.Service.ListDocuments(r.Context(), userID(r))
	if err != nil {
		fail(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	doc, err := h.Service.GetDocument(r.Context(), docID, userID(r))
	if err != nil {
		fail(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	var req model.UpdateDocRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.Service.UpdateDocument(r.Context(), docID, userID(r), req)
	if err != nil {
		fail(w, "update document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodDelete) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteDocument(r.Context(), docID, userID(r)); err != nil {
		fail(w, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Document deleted successfully"))
}

func (h *DocumentHandler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req model.InviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Service.ShareDocument(r.Context(), userID(r), req); err != nil {
		fail(w, "share document", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Collaborator updated successfully"))
}

func (h *DocumentHandler) GetDocumentMembers(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	members, err := h.Service.Members(r.Context(), docID, userID(r))
	if err != nil {
		fail(w, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// EditDocument applies a batch of ops. On failure the response still lists
// the ops that were applied before it.
func (h *DocumentHandler) EditDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req model.EditRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.Coord.RequestEdits(r.Context(), req.DocID, userID(r), req.Ops)
	resp := model.EditResponse{Results: make([]model.EditAck, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, model.EditAck{Version: res.Version, ChangeID: res.ChangeID})
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Sugar.Errorf("Handler: Failed to edit doc %s: %v", req.DocID, err)
		}
		resp.Error = model.ErrorCode(err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DocumentHandler) GetChanges(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	from := 0
	if s := r.URL.Query().Get("from"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "Invalid from parameter", http.StatusBadRequest)
			return
		}
		from = n
	}
	changes, err := h.Service.History(r.Context(), docID, userID(r), from)
	if err != nil {
		fail(w, "list changes", err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *DocumentHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.Service.Verify(r.Context(), docID, userID(r))
	if err != nil {
		fail(w, "verify document", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req model.CommentRequest
	if !h.decode(w, r, &req) {
		return
	}
	comment, err := h.Coord.RequestComment(r.Context(), req.DocID, userID(r), req.Content, req.Position, req.Quote)
	if err != nil {
		fail(w, "add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *DocumentHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	comments, err := h.Coord.ListComments(r.Context(), docID, userID(r))
	if err != nil {
		fail(w, "list comments", err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *DocumentHandler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	commentID := r.URL.Query().Get("commentId")
	if commentID == "" {
		http.Error(w, "Missing commentId parameter", http.StatusBadRequest)
		return
	}
	comment, err := h.Coord.ResolveComment(r.Context(), docID, userID(r), commentID)
	if err != nil {
		fail(w, "resolve comment", err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (h *DocumentHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Coord.Snapshot(r.Context(), docID, userID(r)); err != nil {
		fail(w, "get presence", err)
		return
	}
	writeJSON(w, http.StatusOK, model.PresenceResponse{
		Actors:  h.Coord.ActiveActors(docID),
		Cursors: h.Coord.Cursors(docID),
	})
}
