package admin

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// AccountsHandler serves the admin account directory.
type AccountsHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewAccountsHandler(db *sql.DB, logger *logging.Logger) *AccountsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountsHandler{db: db, logger: logger}
}

// AccountResponse is one account row in the directory.
type AccountResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	DisplayName      string `json:"display_name"`
	Phone            string `json:"phone,omitempty"`
	AppointmentCount int    `json:"appointment_count"`
	PaymentTotal     int64  `json:"payment_total_cents"`
	CreatedAt        string `json:"created_at"`
}

// AccountsListResponse is a paginated account directory page.
type AccountsListResponse struct {
	Accounts   []AccountResponse `json:"accounts"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// AccountDetailResponse adds per-account activity to the directory row.
type AccountDetailResponse struct {
	AccountResponse
	Appointments []AppointmentSummary `json:"appointments"`
	BlockedPeers []string             `json:"blocked_peers,omitempty"`
}

// AppointmentSummary is a compact appointment row for the detail view.
type AppointmentSummary struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

// ListAccounts returns a paginated, searchable account directory.
// GET /admin/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	role := r.URL.Query().Get("role")
	search := r.URL.Query().Get("search")
	offset := (page - 1) * pageSize

	// Subqueries keep the counts from inflating the row set.
	query := `
		SELECT a.id, a.email, a.role, a.display_name, a.phone, a.created_at,
			   (SELECT COUNT(*) FROM appointments ap
			     WHERE ap.patient_id = a.id OR ap.clinician_id = a.id) AS appointment_count,
			   (SELECT COALESCE(SUM(p.amount_cents), 0) FROM payments p
			     WHERE p.patient_id = a.id AND p.status = 'paid') AS payment_total
		FROM accounts a
		WHERE 1=1
	`
	countQuery := `SELECT COUNT(*) FROM accounts a WHERE 1=1`
	args := []any{}
	argNum := 1

	if role != "" {
		clause := " AND a.role = $" + strconv.Itoa(argNum)
		query += clause
		countQuery += clause
		args = append(args, role)
		argNum++
	}
	if search != "" {
		clause := " AND (a.email ILIKE $" + strconv.Itoa(argNum) +
			" OR a.display_name ILIKE $" + strconv.Itoa(argNum) + ")"
		query += clause
		countQuery += clause
		args = append(args, "%"+search+"%")
		argNum++
	}

	var total int
	if err := h.db.QueryRowContext(r.Context(), countQuery, args...).Scan(&total); err != nil {
		h.logger.Error("admin: count accounts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	query += " ORDER BY a.created_at DESC LIMIT $" + strconv.Itoa(argNum) +
		" OFFSET $" + strconv.Itoa(argNum+1)
	args = append(args, pageSize, offset)

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("admin: query accounts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	accounts := []AccountResponse{}
	for rows.Next() {
		var acct AccountResponse
		var phone sql.NullString
		var createdAt time.Time
		err := rows.Scan(&acct.ID, &acct.Email, &acct.Role, &acct.DisplayName,
			&phone, &createdAt, &acct.AppointmentCount, &acct.PaymentTotal)
		if err != nil {
			h.logger.Error("admin: scan account", "error", err)
			continue
		}
		acct.Phone = phone.String
		acct.CreatedAt = createdAt.Format(time.RFC3339)
		accounts = append(accounts, acct)
	}

	writeJSON(w, AccountsListResponse{
		Accounts:   accounts,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

// GetAccount returns one account with its recent appointments and, for
// clinicians, the patients they blocked.
// GET /admin/accounts/{accountID}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		http.Error(w, "invalid accountID", http.StatusBadRequest)
		return
	}

	var detail AccountDetailResponse
	var phone sql.NullString
	var createdAt time.Time
	err = h.db.QueryRowContext(r.Context(), `
		SELECT a.id, a.email, a.role, a.display_name, a.phone, a.created_at,
			   (SELECT COUNT(*) FROM appointments ap
			     WHERE ap.patient_id = a.id OR ap.clinician_id = a.id),
			   (SELECT COALESCE(SUM(p.amount_cents), 0) FROM payments p
			     WHERE p.patient_id = a.id AND p.status = 'paid')
		FROM accounts a
		WHERE a.id = $1
	`, accountID).Scan(&detail.ID, &detail.Email, &detail.Role, &detail.DisplayName,
		&phone, &createdAt, &detail.AppointmentCount, &detail.PaymentTotal)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("admin: query account", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	detail.Phone = phone.String
	detail.CreatedAt = createdAt.Format(time.RFC3339)

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, status, starts_at, ends_at
		FROM appointments
		WHERE patient_id = $1 OR clinician_id = $1
		ORDER BY starts_at DESC
		LIMIT 20
	`, accountID)
	if err != nil {
		h.logger.Error("admin: query account appointments", "error", err, "account_id", accountID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	detail.Appointments = []AppointmentSummary{}
	for rows.Next() {
		var appt AppointmentSummary
		var startsAt, endsAt time.Time
		if err := rows.Scan(&appt.ID, &appt.Status, &startsAt, &endsAt); err != nil {
			h.logger.Error("admin: scan appointment", "error", err)
			continue
		}
		appt.StartsAt = startsAt.Format(time.RFC3339)
		appt.EndsAt = endsAt.Format(time.RFC3339)
		detail.Appointments = append(detail.Appointments, appt)
	}

	if detail.Role == "clinician" {
		var blocked []string
		err := h.db.QueryRowContext(r.Context(), `
			SELECT COALESCE(array_agg(patient_id::text ORDER BY created_at), '{}')
			FROM chat_blocks
			WHERE clinician_id = $1
		`, accountID).Scan(pq.Array(&blocked))
		if err != nil {
			h.logger.Error("admin: query block list", "error", err, "account_id", accountID)
		}
		detail.BlockedPeers = blocked
	}

	writeJSON(w, detail)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
