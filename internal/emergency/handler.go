package emergency

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// Handler serves the emergency dispatch routes.
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

// POST /api/emergency: patient opens a request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var body struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Complaint string  `json:"complaint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	req, candidates, err := h.service.Create(r.Context(), patientID, body.Latitude, body.Longitude, body.Complaint)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": req, "candidates": candidates})
}

// GET /api/emergency/open: clinician dispatch board.
func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	reqs, err := h.service.ListOpen(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// GET /api/emergency/{requestID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, reqID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), reqID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// POST /api/emergency/{requestID}/claim: clinician takes the request.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	actor, reqID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Claim(r.Context(), reqID, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// POST /api/emergency/{requestID}/close
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	actor, reqID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var body struct {
		Resolution string `json:"resolution"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	req, err := h.service.Close(r.Context(), reqID, actor, body.Resolution)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	reqID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return actor, reqID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, ErrAlreadyClaimed):
		http.Error(w, "request already claimed", http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("emergency: request failed", "error", err, "path", r.URL.Path)
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
