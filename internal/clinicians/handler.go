package clinicians

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

// BusyLister reports intervals already taken by appointments.
type BusyLister interface {
	ListBusy(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Busy, error)
}

// Handler serves clinician profile, verification, and availability routes.
type Handler struct {
	store  *Store
	busy   BusyLister
	logger *logging.Logger
}

func NewHandler(store *Store, busy BusyLister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, busy: busy, logger: logger}
}

// GET /api/clinicians?specialty=&limit=&offset=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePage(q.Get("limit"), q.Get("offset"))
	profiles, err := h.store.SearchVerified(r.Context(), q.Get("specialty"), limit, offset)
	if err != nil {
		h.logger.Error("clinicians: search", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// License numbers are not public.
	for i := range profiles {
		profiles[i].LicenseNumber = ""
		profiles[i].DocumentIDs = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"clinicians": profiles})
}

// POST /api/clinicians/verification: clinician submits credentials.
func (h *Handler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var p Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if p.Specialty == "" || p.LicenseNumber == "" {
		http.Error(w, "specialty and license_number are required", http.StatusBadRequest)
		return
	}
	p.AccountID = clinicianID

	if err := h.store.SubmitForVerification(r.Context(), &p); err != nil {
		h.logger.Error("clinicians: submit verification", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(StatusPending)})
}

// GET /api/clinicians/verification: clinician checks review state.
func (h *Handler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	profile, err := h.store.GetProfile(r.Context(), clinicianID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(StatusUnverified)})
		return
	}
	if err != nil {
		h.logger.Error("clinicians: verification status", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       profile.Status,
		"review_note":  profile.ReviewNote,
		"submitted_at": profile.SubmittedAt,
		"reviewed_at":  profile.ReviewedAt,
	})
}

// POST /api/clinicians/availability/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var rule Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	rule.ClinicianID = clinicianID
	if err := ValidateRule(rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	existing, err := h.store.ListRules(r.Context(), clinicianID)
	if err != nil {
		h.logger.Error("clinicians: list rules", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := ValidateNoOverlap(rule, existing); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if err := h.store.InsertRule(r.Context(), &rule); err != nil {
		h.logger.Error("clinicians: insert rule", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// DELETE /api/clinicians/availability/rules/{ruleID}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteRule(r.Context(), clinicianID, ruleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		h.logger.Error("clinicians: delete rule", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /api/clinicians/availability/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	rules, err := h.store.ListRules(r.Context(), clinicianID)
	if err != nil {
		h.logger.Error("clinicians: list rules", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// PUT /api/clinicians/availability/exceptions
func (h *Handler) UpsertException(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var e Exception
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	e.ClinicianID = clinicianID
	if !e.Closed() && *e.StartMinute >= *e.EndMinute {
		http.Error(w, "exception window must not cross midnight", http.StatusBadRequest)
		return
	}

	if err := h.store.UpsertException(r.Context(), &e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// DELETE /api/clinicians/availability/exceptions/{date}
func (h *Handler) DeleteException(w http.ResponseWriter, r *http.Request) {
	clinicianID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteException(r.Context(), clinicianID, date); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "exception not found", http.StatusNotFound)
			return
		}
		h.logger.Error("clinicians: delete exception", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /api/clinicians/{clinicianID}/slots?from=&to=: public slot search.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(chi.URLParam(r, "clinicianID"))
	if err != nil {
		http.Error(w, "invalid clinician id", http.StatusBadRequest)
		return
	}

	from, to, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	verified, err := h.store.IsVerified(r.Context(), clinicianID)
	if err != nil {
		h.logger.Error("clinicians: check verified", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !verified {
		http.Error(w, "clinician not found", http.StatusNotFound)
		return
	}

	rules, err := h.store.ListRules(r.Context(), clinicianID)
	if err != nil {
		h.logger.Error("clinicians: list rules", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	exceptions, err := h.store.ListExceptions(r.Context(), clinicianID,
		from.Format("2006-01-02"), to.AddDate(0, 0, 1).Format("2006-01-02"))
	if err != nil {
		h.logger.Error("clinicians: list exceptions", "error", err, "clinician_id", clinicianID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var busy []Busy
	if h.busy != nil {
		busy, err = h.busy.ListBusy(r.Context(), clinicianID, from, to)
		if err != nil {
			h.logger.Error("clinicians: list busy", "error", err, "clinician_id", clinicianID)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	slots := ExpandSlots(rules, exceptions, busy, from, to, time.UTC)
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now, now.AddDate(0, 0, 7)
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from")
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to")
		}
		to = t
	}
	if !to.After(from) || to.Sub(from) > 31*24*time.Hour {
		return time.Time{}, time.Time{}, errors.New("window must be positive and at most 31 days")
	}
	return from, to, nil
}

func parsePage(limitStr, offsetStr string) (int, int) {
	limit, offset := 20, 0
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
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
