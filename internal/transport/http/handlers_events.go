package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"blogguard/internal/authz"
	"blogguard/internal/security"
	"blogguard/internal/security/capture"
	"blogguard/internal/security/store"
	"blogguard/pkg/platform/sentinel"
	"blogguard/pkg/requestcontext"
)

// RoleSecurityAdmin gates the security event administration endpoints.
const RoleSecurityAdmin = "SECURITY_ADMIN"

// Handler serves the security event administration API.
type Handler struct {
	store   store.Store
	authz   *authz.Service
	auditor *capture.Auditor
	logger  *slog.Logger
}

// NewHandler creates the admin API handler.
func NewHandler(st store.Store, authzSvc *authz.Service, auditor *capture.Auditor, logger *slog.Logger) *Handler {
	return &Handler{store: st, authz: authzSvc, auditor: auditor, logger: logger}
}

// handleListEvents returns security events, filterable by status, type,
// minimum severity and time range.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.authz.RequireRole(ctx, requestcontext.ActorID(ctx), RoleSecurityAdmin); err != nil {
		h.writeAuthError(w, err)
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		Status:    security.Status(q.Get("status")),
		EventType: q.Get("event_type"),
	}
	if v := q.Get("min_severity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid min_severity", http.StatusBadRequest)
			return
		}
		filter.MinSeverity = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	events, err := h.store.ListSecurityEvents(ctx, filter)
	if err != nil {
		h.logger.Error("list security events failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type processEventRequest struct {
	Status string `json:"status"`
}

// handleProcessEvent marks a security event processed: the single mutation
// allowed on a persisted event.
func (h *Handler) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := requestcontext.ActorID(ctx)
	if err := h.authz.RequireRole(ctx, actorID, RoleSecurityAdmin); err != nil {
		h.writeAuthError(w, err)
		return
	}

	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		http.Error(w, "invalid event ID", http.StatusBadRequest)
		return
	}

	var req processEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := security.Status(req.Status)
	switch status {
	case security.StatusProcessing, security.StatusResolved, security.StatusIgnored:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	desc := capture.Descriptor{
		Operation:      security.OpAdminAction,
		ResourceType:   "SECURITY_EVENT",
		ResourceID:     eventID.String(),
		Description:    "mark security event processed",
		CaptureRequest: true,
	}
	summary := capture.NewRequestSummary().
		Arg("event_id", eventID.String()).
		Arg("status", status)
	err = h.auditor.Run(ctx, desc, summary, func(ctx context.Context) error {
		return h.store.MarkEventProcessed(ctx, eventID, status, actorID.String(), time.Now())
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("mark event processed failed",
			"event_id", eventID,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": eventID, "status": status})
}

// writeAuthError maps authorization failures to the generic 403 without
// leaking which check failed.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, sentinel.ErrDenied) {
		http.Error(w, "insufficient permission", http.StatusForbidden)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
