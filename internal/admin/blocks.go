package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// BlocksHandler manages the chat block list from the admin console.
type BlocksHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewBlocksHandler(db *sql.DB, logger *logging.Logger) *BlocksHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BlocksHandler{db: db, logger: logger}
}

// BlockResponse is one clinician-to-patient block entry.
type BlockResponse struct {
	ClinicianID    string `json:"clinician_id"`
	ClinicianEmail string `json:"clinician_email"`
	PatientID      string `json:"patient_id"`
	PatientEmail   string `json:"patient_email"`
	CreatedAt      string `json:"created_at"`
}

// BlocksListResponse is the full block list, newest first.
type BlocksListResponse struct {
	Blocks []BlockResponse `json:"blocks"`
	Total  int             `json:"total"`
}

// ListBlocks returns every active chat block with both parties resolved.
// GET /admin/blocks
func (h *BlocksHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT b.clinician_id, c.email, b.patient_id, p.email, b.created_at
		FROM chat_blocks b
		JOIN accounts c ON c.id = b.clinician_id
		JOIN accounts p ON p.id = b.patient_id
		ORDER BY b.created_at DESC
	`)
	if err != nil {
		h.logger.Error("admin: query block list", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	blocks := []BlockResponse{}
	for rows.Next() {
		var block BlockResponse
		var createdAt time.Time
		err := rows.Scan(&block.ClinicianID, &block.ClinicianEmail,
			&block.PatientID, &block.PatientEmail, &createdAt)
		if err != nil {
			h.logger.Error("admin: scan block", "error", err)
			continue
		}
		block.CreatedAt = createdAt.Format(time.RFC3339)
		blocks = append(blocks, block)
	}

	writeJSON(w, BlocksListResponse{Blocks: blocks, Total: len(blocks)})
}

// RemoveBlock lifts a block on the clinician's behalf, for support cases
// where the clinician cannot do it themselves.
// DELETE /admin/blocks/{clinicianID}/{patientID}
func (h *BlocksHandler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(chi.URLParam(r, "clinicianID"))
	if err != nil {
		http.Error(w, "invalid clinicianID", http.StatusBadRequest)
		return
	}
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patientID", http.StatusBadRequest)
		return
	}

	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM chat_blocks WHERE clinician_id = $1 AND patient_id = $2`,
		clinicianID, patientID)
	if err != nil {
		h.logger.Error("admin: remove block", "error", err,
			"clinician_id", clinicianID, "patient_id", patientID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}

	h.logger.Info("admin: block removed",
		"clinician_id", clinicianID, "patient_id", patientID)
	w.WriteHeader(http.StatusNoContent)
}
