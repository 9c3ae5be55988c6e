package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/tutorhub/internal/platform/api"
	"github.com/example/tutorhub/internal/platform/auth"
	"github.com/example/tutorhub/internal/platform/httpserver"
	"github.com/example/tutorhub/services/comments/internal/moderation"
	"github.com/example/tutorhub/services/comments/internal/service"
)

// ModerationHandler serves the report and moderation routes.
type ModerationHandler struct {
	svc *service.Service
	log *zap.Logger
}

func NewModerationHandler(svc *service.Service, log *zap.Logger) *ModerationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModerationHandler{svc: svc, log: log}
}

type reportRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Report handles POST /v1/comments/{comment_id}/report.
func (h *ModerationHandler) Report(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	var req reportRequest
	if !decodeBody(w, r, &req, rid) {
		return
	}

	cycle, err := h.svc.Report(r.Context(), chi.URLParam(r, "comment_id"), userID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, cycle)
}

// Claim handles POST /v1/comments/{comment_id}/claim.
func (h *ModerationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	moderatorID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	cycle, err := h.svc.ClaimReport(r.Context(), chi.URLParam(r, "comment_id"), moderatorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, cycle)
}

// Resolve handles POST /v1/comments/{comment_id}/resolve.
func (h *ModerationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())

	moderatorID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHENTICATED", "Authentication required", rid)
		return
	}

	var req resolveRequest
	if !decodeBody(w, r, &req, rid) {
		return
	}
	outcome, ok := moderation.ParseOutcome(req.Outcome)
	if !ok {
		api.BadRequest(w, "INVALID_OUTCOME", "Outcome must be removed or kept", rid, nil)
		return
	}

	cycle, err := h.svc.ResolveReport(r.Context(), chi.URLParam(r, "comment_id"), moderatorID, outcome)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, cycle)
}

// Queue handles GET /v1/moderation/reports.
func (h *ModerationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.svc.OpenReports(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"reports": cycles})
}

func (h *ModerationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())

	switch {
	case errors.Is(err, moderation.ErrEmptyReason):
		api.BadRequest(w, "EMPTY_REASON", "Report reason must not be blank", rid, nil)
	case errors.Is(err, moderation.ErrAlreadyReported):
		api.Conflict(w, "ALREADY_REPORTED", "You already reported this comment", rid, nil)
	case errors.Is(err, moderation.ErrAlreadyClaimed):
		api.Conflict(w, "ALREADY_CLAIMED", "Report already claimed by another moderator", rid, nil)
	case errors.Is(err, moderation.ErrNoOpenReport):
		api.NotFound(w, "NO_OPEN_REPORT", "No open report for this comment", rid)
	case errors.Is(err, moderation.ErrNotClaimed):
		api.Conflict(w, "NOT_CLAIMED", "Report must be claimed before resolving", rid, nil)
	case errors.Is(err, moderation.ErrNotClaimant):
		api.Forbidden(w, "NOT_CLAIMANT", "Report is claimed by a different moderator", rid)
	default:
		writeServiceError(w, r, err, h.log)
	}
}
