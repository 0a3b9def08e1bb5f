package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// StatsHandler serves the platform overview for the admin console.
type StatsHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewStatsHandler(db *sql.DB, logger *logging.Logger) *StatsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{db: db, logger: logger}
}

// PlatformStatsResponse is the admin console overview.
type PlatformStatsResponse struct {
	Accounts     AccountStats     `json:"accounts"`
	Appointments AppointmentStats `json:"appointments"`
	Revenue      RevenueStats     `json:"revenue"`
	Emergencies  EmergencyStats   `json:"emergencies"`
	Chat         ChatStats        `json:"chat"`
}

// AccountStats breaks the account base down by role.
type AccountStats struct {
	Patients    int `json:"patients"`
	Clinicians  int `json:"clinicians"`
	NewThisWeek int `json:"new_this_week"`
}

// AppointmentStats counts appointments by lifecycle state.
type AppointmentStats struct {
	ByStatus       map[string]int `json:"by_status"`
	BookedThisWeek int            `json:"booked_this_week"`
	UpcomingTotal  int            `json:"upcoming_total"`
}

// RevenueStats sums payment volume in cents.
type RevenueStats struct {
	CollectedTotal int64 `json:"collected_total_cents"`
	CollectedWeek  int64 `json:"collected_this_week_cents"`
	RefundedTotal  int64 `json:"refunded_total_cents"`
}

// EmergencyStats covers the dispatch board.
type EmergencyStats struct {
	OpenNow      int `json:"open_now"`
	ClaimedToday int `json:"claimed_today"`
}

// ChatStats covers messaging activity.
type ChatStats struct {
	MessagesToday int `json:"messages_today"`
	ActiveBlocks  int `json:"active_blocks"`
}

// GetPlatformStats returns the overview metrics.
// GET /admin/stats
func (h *StatsHandler) GetPlatformStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)
	today := now.Truncate(24 * time.Hour)

	var stats PlatformStatsResponse
	stats.Appointments.ByStatus = map[string]int{}

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = 'patient'`).Scan(&stats.Accounts.Patients)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE role = 'clinician'`).Scan(&stats.Accounts.Clinicians)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE created_at >= $1`, weekAgo).Scan(&stats.Accounts.NewThisWeek)

	rows, err := h.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM appointments GROUP BY status`)
	if err != nil {
		h.logger.Error("admin: query appointment stats", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			h.logger.Error("admin: scan appointment stats", "error", err)
			continue
		}
		stats.Appointments.ByStatus[status] = count
	}

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE created_at >= $1`, weekAgo).
		Scan(&stats.Appointments.BookedThisWeek)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE starts_at > $1 AND status IN ('booked', 'confirmed')`, now).
		Scan(&stats.Appointments.UpcomingTotal)

	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payments WHERE status = 'paid'`).
		Scan(&stats.Revenue.CollectedTotal)
	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payments
		 WHERE status = 'paid' AND created_at >= $1`, weekAgo).
		Scan(&stats.Revenue.CollectedWeek)
	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM payments WHERE status = 'refunded'`).
		Scan(&stats.Revenue.RefundedTotal)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emergency_requests WHERE status = 'open'`).
		Scan(&stats.Emergencies.OpenNow)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emergency_requests
		 WHERE status = 'claimed' AND claimed_at >= $1`, today).
		Scan(&stats.Emergencies.ClaimedToday)

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE created_at >= $1`, today).
		Scan(&stats.Chat.MessagesToday)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_blocks`).Scan(&stats.Chat.ActiveBlocks)

	writeJSON(w, stats)
}
