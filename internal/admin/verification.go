package admin

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// VerificationHandler serves the clinician verification queue.
type VerificationHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewVerificationHandler(db *sql.DB, logger *logging.Logger) *VerificationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &VerificationHandler{db: db, logger: logger}
}

// VerificationItem is one pending clinician profile awaiting review.
type VerificationItem struct {
	AccountID     string   `json:"account_id"`
	Email         string   `json:"email"`
	DisplayName   string   `json:"display_name"`
	Specialty     string   `json:"specialty"`
	LicenseNumber string   `json:"license_number"`
	Bio           string   `json:"bio,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	SubmittedAt   string   `json:"submitted_at"`
}

// VerificationQueueResponse is the pending review queue, oldest first.
type VerificationQueueResponse struct {
	Pending []VerificationItem `json:"pending"`
	Total   int                `json:"total"`
}

// decisionRequest is the admin's verdict on a pending profile.
type decisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

// ListPending returns pending clinician profiles, oldest submission first.
// GET /admin/verification
func (h *VerificationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT cp.account_id, a.email, a.display_name, cp.specialty,
			   cp.license_number, cp.bio, cp.document_ids, cp.submitted_at
		FROM clinician_profiles cp
		JOIN accounts a ON a.id = cp.account_id
		WHERE cp.status = 'pending'
		ORDER BY cp.submitted_at ASC
	`)
	if err != nil {
		h.logger.Error("admin: query verification queue", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	pending := []VerificationItem{}
	for rows.Next() {
		var item VerificationItem
		var bio sql.NullString
		var docs []byte
		var submittedAt time.Time
		err := rows.Scan(&item.AccountID, &item.Email, &item.DisplayName,
			&item.Specialty, &item.LicenseNumber, &bio, &docs, &submittedAt)
		if err != nil {
			h.logger.Error("admin: scan verification item", "error", err)
			continue
		}
		item.Bio = bio.String
		item.SubmittedAt = submittedAt.Format(time.RFC3339)
		json.Unmarshal(docs, &item.DocumentIDs)
		pending = append(pending, item)
	}

	writeJSON(w, VerificationQueueResponse{Pending: pending, Total: len(pending)})
}

// Decide records a verdict on a pending profile. Only pending profiles can
// be decided; anything else is a conflict.
// POST /admin/verification/{accountID}
func (h *VerificationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		http.Error(w, "invalid accountID", http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != "verified" && decision != "rejected" {
		http.Error(w, "decision must be verified or rejected", http.StatusBadRequest)
		return
	}
	if decision == "rejected" && strings.TrimSpace(req.Note) == "" {
		http.Error(w, "rejection requires a note", http.StatusBadRequest)
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE clinician_profiles
		SET status = $2, review_note = $3, reviewed_at = now(), updated_at = now()
		WHERE account_id = $1 AND status = 'pending'
	`, accountID, decision, req.Note)
	if err != nil {
		h.logger.Error("admin: record verification decision", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		http.Error(w, "no pending profile for account", http.StatusConflict)
		return
	}

	h.logger.Info("admin: verification decided",
		"account_id", accountID, "decision", decision)
	writeJSON(w, map[string]string{"account_id": accountID.String(), "status": decision})
}
