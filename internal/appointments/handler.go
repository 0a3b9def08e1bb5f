package appointments

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

// Handler serves the appointment routes.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// POST /api/appointments
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.service.Book(r.Context(), patientID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// GET /api/appointments/{appointmentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, apptID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	appt, err := h.service.Get(r.Context(), apptID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// GET /api/appointments?scope=upcoming|past&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	claims, hasClaims := middleware.UserClaimsFromContext(r.Context())
	asClinician := hasClaims && claims.Role == middleware.RoleClinician

	q := r.URL.Query()
	upcoming := q.Get("scope") != "past"
	limit, offset := 20, 0
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}

	appts, err := h.service.List(r.Context(), accountID, asClinician, upcoming, limit, offset)
	if err != nil {
		h.logger.Error("appointments: list", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

// POST /api/appointments/{appointmentID}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Confirm)
}

// POST /api/appointments/{appointmentID}/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Start)
}

// POST /api/appointments/{appointmentID}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

// POST /api/appointments/{appointmentID}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, apptID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	appt, err := h.service.Cancel(r.Context(), apptID, actor, body.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// POST /api/appointments/{appointmentID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, apptID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var body struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.service.Reschedule(r.Context(), apptID, actor, body.StartsAt, body.EndsAt)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actor uuid.UUID) (*Appointment, error)) {
	actor, apptID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	appt, err := op(r.Context(), apptID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return actor, apptID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrSlotTaken):
		http.Error(w, "slot already taken", http.StatusConflict)
	case errors.Is(err, ErrBadTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidSlot):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("appointments: request failed", "error", err, "path", r.URL.Path)
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
