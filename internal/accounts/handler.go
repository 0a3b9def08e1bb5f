package accounts

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// Handler serves the authenticated user's own profile.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	account, err := h.store.Get(r.Context(), accountID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("accounts: load account", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// PATCH /api/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
		Phone       string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		http.Error(w, "display_name is required", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateContact(r.Context(), accountID, req.DisplayName, req.Phone); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.logger.Error("accounts: update contact", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// GET /api/me/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	profile, err := h.store.GetPatientProfile(r.Context(), accountID)
	if errors.Is(err, ErrNotFound) {
		// A patient who never filled the form has an empty profile, not a 404.
		writeJSON(w, http.StatusOK, &PatientProfile{AccountID: accountID})
		return
	}
	if err != nil {
		h.logger.Error("accounts: load profile", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// PUT /api/me/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var profile PatientProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	profile.AccountID = accountID

	if err := h.store.UpsertPatientProfile(r.Context(), &profile); err != nil {
		h.logger.Error("accounts: upsert profile", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
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
