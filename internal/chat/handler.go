package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// blockAdmin manages the clinician block list.
type blockAdmin interface {
	Block(ctx context.Context, clinicianID, patientID uuid.UUID) error
	Unblock(ctx context.Context, clinicianID, patientID uuid.UUID) error
}

// Handler serves the chat REST routes.
type Handler struct {
	service *Service
	blocks  blockAdmin
	logger  *logging.Logger
}

func NewHandler(service *Service, blocks blockAdmin, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, blocks: blocks, logger: logger}
}

// POST /api/chat/threads: get-or-create the thread with the other party.
func (h *Handler) EnsureThread(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var body struct {
		PatientID   uuid.UUID `json:"patient_id"`
		ClinicianID uuid.UUID `json:"clinician_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	// A patient may omit their own id; same for a clinician.
	claims, _ := middleware.UserClaimsFromContext(r.Context())
	if body.PatientID == uuid.Nil && claims.Role == middleware.RolePatient {
		body.PatientID = actor
	}
	if body.ClinicianID == uuid.Nil && claims.Role == middleware.RoleClinician {
		body.ClinicianID = actor
	}
	if body.PatientID == uuid.Nil || body.ClinicianID == uuid.Nil {
		http.Error(w, "patient_id and clinician_id are required", http.StatusBadRequest)
		return
	}

	thread, err := h.service.EnsureThread(r.Context(), actor, body.PatientID, body.ClinicianID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// GET /api/chat/threads
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	threads, err := h.service.ListThreads(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// POST /api/chat/threads/{threadID}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	actor, threadID, ok := h.actorAndThread(w, r)
	if !ok {
		return
	}

	var body struct {
		Body     string `json:"body"`
		DedupKey string `json:"dedup_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.SendMessage(r.Context(), threadID, actor, body.Body, body.DedupKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if msg.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, msg)
}

// GET /api/chat/threads/{threadID}/messages?before=&limit=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actor, threadID, ok := h.actorAndThread(w, r)
	if !ok {
		return
	}

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid before cursor", http.StatusBadRequest)
			return
		}
		before = t
	}
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	msgs, err := h.service.ListMessages(r.Context(), threadID, actor, before, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// POST /api/chat/threads/{threadID}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, threadID, ok := h.actorAndThread(w, r)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(r.Context(), threadID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked_read": n})
}

// POST /api/chat/blocks: clinician blocks a patient.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.updateBlock(w, r, true)
}

// DELETE /api/chat/blocks/{patientID}
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.updateBlock(w, r, false)
}

func (h *Handler) updateBlock(w http.ResponseWriter, r *http.Request, block bool) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var patientID uuid.UUID
	var err error
	if block {
		var body struct {
			PatientID uuid.UUID `json:"patient_id"`
		}
		if decErr := json.NewDecoder(r.Body).Decode(&body); decErr != nil || body.PatientID == uuid.Nil {
			http.Error(w, "patient_id is required", http.StatusBadRequest)
			return
		}
		patientID = body.PatientID
		err = h.blocks.Block(r.Context(), clinicianID, patientID)
	} else {
		patientID, err = uuid.Parse(chi.URLParam(r, "patientID"))
		if err != nil {
			http.Error(w, "invalid patient id", http.StatusBadRequest)
			return
		}
		err = h.blocks.Unblock(r.Context(), clinicianID, patientID)
	}
	if err != nil {
		h.logger.Error("chat: update block", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := "blocked"
	if !block {
		status = "unblocked"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) actorAndThread(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	threadID, err := uuid.Parse(chi.URLParam(r, "threadID"))
	if err != nil {
		http.Error(w, "invalid thread id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return actor, threadID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		if denied.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(denied.RetryAfter.Seconds())+1))
		}
		status := http.StatusForbidden
		if denied.Reason == ReasonRateLimited {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": "send denied", "reason": denied.Reason})
	case errors.Is(err, ErrNotFound):
		http.Error(w, "thread not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to write.
	default:
		h.logger.Error("chat: request failed", "error", err, "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func requestAccountID(r *http.Request) (uuid.UUID, bool) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
