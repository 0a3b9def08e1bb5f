// Package admin is the staff console: account directory, clinician
// verification queue, platform stats, and chat block management. It reads
// the same database as the API through database/sql rather than the domain
// stores, so console queries can join across modules freely.
package admin

import (
	"database/sql"

	"github.com/go-chi/chi/v5"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// RegisterAdminRoutes mounts the console endpoints. The caller wraps the
// router in admin authentication.
func RegisterAdminRoutes(r chi.Router, db *sql.DB, logger *logging.Logger) {
	accountsHandler := NewAccountsHandler(db, logger)
	verificationHandler := NewVerificationHandler(db, logger)
	statsHandler := NewStatsHandler(db, logger)
	blocksHandler := NewBlocksHandler(db, logger)

	r.Get("/accounts", accountsHandler.ListAccounts)
	r.Get("/accounts/{accountID}", accountsHandler.GetAccount)

	r.Get("/verification", verificationHandler.ListPending)
	r.Post("/verification/{accountID}", verificationHandler.Decide)

	r.Get("/stats", statsHandler.GetPlatformStats)

	r.Get("/blocks", blocksHandler.ListBlocks)
	r.Delete("/blocks/{clinicianID}/{patientID}", blocksHandler.RemoveBlock)
}
