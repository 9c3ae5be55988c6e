// Package handlers exposes the comment engine over HTTP. Handlers decode and
// validate the wire shape, delegate to the service and translate sentinel
// errors into the shared API envelope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/tutorhub/internal/platform/api"
	"github.com/example/tutorhub/internal/platform/auth"
	"github.com/example/tutorhub/internal/platform/httpserver"
	"github.com/example/tutorhub/services/comments/internal/catalog"
	"github.com/example/tutorhub/services/comments/internal/service"
	"github.com/example/tutorhub/services/comments/internal/store"
)

const maxBodyBytes = 1 << 20

// CommentHandler serves the public thread and authenticated comment routes.
type CommentHandler struct {
	svc *service.Service
	log *zap.Logger
}

func NewCommentHandler(svc *service.Service, log *zap.Logger) *CommentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommentHandler{svc: svc, log: log}
}

type createCommentRequest struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id,omitempty"`
}

type editCommentRequest struct {
	Content string `json:"content"`
}

type voteRequest struct {
	Sign int `json:"sign"`
}

// GetThread handles GET /v1/threads/{kind}/{target_id}.
func (h *CommentHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	target, ok := targetFromURL(r)
	if !ok {
		api.BadRequest(w, "INVALID_TARGET_KIND", "Target kind must be tutor or course", rid, nil)
		return
	}

	nodes, err := h.svc.GetThread(r.Context(), target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"thread": nodes})
}

// CreateComment handles POST /v1/threads/{kind}/{target_id}/comments.
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}
	target, ok := targetFromURL(r)
	if !ok {
		api.BadRequest(w, "INVALID_TARGET_KIND", "Target kind must be tutor or course", rid, nil)
		return
	}

	var req createCommentRequest
	if !decodeBody(w, r, &req, rid) {
		return
	}

	c, err := h.svc.CreateComment(r.Context(), target, userID, req.ParentID, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

// EditComment handles PUT /v1/comments/{comment_id}.
func (h *CommentHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	var req editCommentRequest
	if !decodeBody(w, r, &req, rid) {
		return
	}

	c, err := h.svc.EditComment(r.Context(), chi.URLParam(r, "comment_id"), userID, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// DeleteComment handles DELETE /v1/comments/{comment_id}.
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	if err := h.svc.DeleteComment(r.Context(), chi.URLParam(r, "comment_id"), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Vote handles POST /v1/comments/{comment_id}/vote.
func (h *CommentHandler) Vote(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	var req voteRequest
	if !decodeBody(w, r, &req, rid) {
		return
	}

	counts, err := h.svc.Vote(r.Context(), chi.URLParam(r, "comment_id"), userID, req.Sign)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, counts)
}

func (h *CommentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, err, h.log)
}

func targetFromURL(r *http.Request) (store.Target, bool) {
	kind, ok := store.ParseTargetKind(chi.URLParam(r, "kind"))
	if !ok {
		return store.Target{}, false
	}
	return store.Target{Kind: kind, ID: chi.URLParam(r, "target_id")}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, rid string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_BODY", "Request body must be valid JSON", rid, nil)
		return false
	}
	return true
}

// writeServiceError maps service sentinels onto the shared error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, log *zap.Logger) {
	rid := httpserver.RequestIDFromContext(r.Context())

	switch {
	case errors.Is(err, store.ErrNotFound):
		api.NotFound(w, "COMMENT_NOT_FOUND", "Comment not found", rid)
	case errors.Is(err, store.ErrParentNotFound):
		api.NotFound(w, "PARENT_NOT_FOUND", "Parent comment not found", rid)
	case errors.Is(err, catalog.ErrTargetNotFound):
		api.NotFound(w, "TARGET_NOT_FOUND", "Target not found", rid)
	case errors.Is(err, store.ErrForbidden):
		api.Forbidden(w, "NOT_AUTHOR", "Only the author may do that", rid)
	case errors.Is(err, store.ErrInvalidContent):
		api.BadRequest(w, "INVALID_CONTENT", "Content must be non-empty and at most 1000 characters", rid, nil)
	case errors.Is(err, store.ErrInvalidVote):
		api.BadRequest(w, "INVALID_VOTE", "Vote sign must be 1 or -1", rid, nil)
	case errors.Is(err, store.ErrDuplicateComment):
		api.Conflict(w, "DUPLICATE_COMMENT", "You already have a comment on this target", rid, nil)
	case errors.Is(err, store.ErrConflict):
		api.Conflict(w, "CONFLICT", "Concurrent update, please retry", rid, nil)
	default:
		log.Error("unhandled service error", zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
	}
}
