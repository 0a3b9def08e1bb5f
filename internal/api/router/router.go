// Package router assembles the HTTP surface: public auth and webhooks, the
// authenticated patient and clinician API, websockets, and the admin console.
package router

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/admin"
	"github.com/medpoint/telecare-platform/internal/appointments"
	"github.com/medpoint/telecare-platform/internal/auth"
	"github.com/medpoint/telecare-platform/internal/chat"
	"github.com/medpoint/telecare-platform/internal/clinicians"
	"github.com/medpoint/telecare-platform/internal/emergency"
	"github.com/medpoint/telecare-platform/internal/files"
	httpmiddleware "github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/internal/notify"
	"github.com/medpoint/telecare-platform/internal/observability/metrics"
	"github.com/medpoint/telecare-platform/internal/payments"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	AuthHandler         *auth.Handler
	AccountsHandler     *accounts.Handler
	CliniciansHandler   *clinicians.Handler
	AppointmentsHandler *appointments.Handler
	EmergencyHandler    *emergency.Handler
	PaymentsHandler     *payments.Handler
	RefundHandler       *payments.RefundHandler
	PaymentWebhook      *payments.WebhookHandler
	FakeComplete        *payments.FakeCompleteHandler
	FilesHandler        *files.Handler
	ChatHandler         *chat.Handler
	ChatHub             *chat.Hub
	NotifySocket        *notify.SocketHub

	Metrics        *metrics.PlatformMetrics
	MetricsHandler http.Handler

	// Admin console dependencies (optional).
	DB *sql.DB

	AuthJWTSecret      string
	AdminJWTSecret     string
	AllowFakePayments  bool
	CORSAllowedOrigins []string
	LoginRatePerSecond float64
	LoginRateBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	// Public endpoints: health, auth, payment webhooks, metrics.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		if cfg.AuthHandler != nil {
			public.Route("/auth", func(r chi.Router) {
				loginRate, loginBurst := cfg.LoginRatePerSecond, cfg.LoginRateBurst
				if loginRate <= 0 {
					loginRate = 1
				}
				if loginBurst <= 0 {
					loginBurst = 5
				}
				loginLimit := httpmiddleware.RateLimit(loginRate, loginBurst)
				r.Post("/register", cfg.AuthHandler.Register)
				r.With(loginLimit).Post("/login", cfg.AuthHandler.Login)
				r.Post("/refresh", cfg.AuthHandler.Refresh)
				r.Post("/logout", cfg.AuthHandler.Logout)
			})
		}

		if cfg.PaymentWebhook != nil {
			public.Post("/webhooks/payments", cfg.PaymentWebhook.Handle)
		}
		// Local checkout completion for environments without a provider.
		if cfg.AllowFakePayments && cfg.FakeComplete != nil {
			public.Post("/payments/fake/{paymentID}/complete", cfg.FakeComplete.Complete)
		}
	})

	// Authenticated API.
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.Auth(cfg.AuthJWTSecret))

		if cfg.AccountsHandler != nil {
			api.Route("/me", func(r chi.Router) {
				r.Get("/", cfg.AccountsHandler.GetMe)
				r.Patch("/", cfg.AccountsHandler.UpdateMe)
				r.Get("/profile", cfg.AccountsHandler.GetProfile)
				r.Put("/profile", cfg.AccountsHandler.UpdateProfile)
			})
		}

		if cfg.CliniciansHandler != nil {
			api.Route("/clinicians", func(r chi.Router) {
				r.Get("/", cfg.CliniciansHandler.Search)
				r.Get("/{clinicianID}/slots", cfg.CliniciansHandler.ListSlots)

				r.Group(func(cl chi.Router) {
					cl.Use(httpmiddleware.RequireRole(httpmiddleware.RoleClinician))
					cl.Post("/verification", cfg.CliniciansHandler.SubmitVerification)
					cl.Get("/verification", cfg.CliniciansHandler.VerificationStatus)
					cl.Route("/availability", func(r chi.Router) {
						r.Get("/rules", cfg.CliniciansHandler.ListRules)
						r.Post("/rules", cfg.CliniciansHandler.CreateRule)
						r.Delete("/rules/{ruleID}", cfg.CliniciansHandler.DeleteRule)
						r.Put("/exceptions/{date}", cfg.CliniciansHandler.UpsertException)
						r.Delete("/exceptions/{date}", cfg.CliniciansHandler.DeleteException)
					})
				})
			})
		}

		if cfg.AppointmentsHandler != nil {
			api.Route("/appointments", func(r chi.Router) {
				r.With(httpmiddleware.RequireRole(httpmiddleware.RolePatient)).
					Post("/", cfg.AppointmentsHandler.Book)
				r.Get("/", cfg.AppointmentsHandler.List)
				r.Route("/{appointmentID}", func(r chi.Router) {
					r.Get("/", cfg.AppointmentsHandler.Get)
					r.Post("/cancel", cfg.AppointmentsHandler.Cancel)
					r.Post("/reschedule", cfg.AppointmentsHandler.Reschedule)

					clinician := httpmiddleware.RequireRole(httpmiddleware.RoleClinician)
					r.With(clinician).Post("/confirm", cfg.AppointmentsHandler.Confirm)
					r.With(clinician).Post("/start", cfg.AppointmentsHandler.Start)
					r.With(clinician).Post("/complete", cfg.AppointmentsHandler.Complete)
				})
			})
		}

		if cfg.EmergencyHandler != nil {
			api.Route("/emergency", func(r chi.Router) {
				r.With(httpmiddleware.RequireRole(httpmiddleware.RolePatient)).
					Post("/", cfg.EmergencyHandler.Create)
				r.With(httpmiddleware.RequireRole(httpmiddleware.RoleClinician)).
					Get("/open", cfg.EmergencyHandler.ListOpen)
				r.Route("/{requestID}", func(r chi.Router) {
					r.Get("/", cfg.EmergencyHandler.Get)
					r.With(httpmiddleware.RequireRole(httpmiddleware.RoleClinician)).
						Post("/claim", cfg.EmergencyHandler.Claim)
					r.Post("/close", cfg.EmergencyHandler.Close)
				})
			})
		}

		if cfg.PaymentsHandler != nil {
			api.Route("/payments", func(r chi.Router) {
				r.With(httpmiddleware.RequireRole(httpmiddleware.RolePatient)).
					Post("/checkout", cfg.PaymentsHandler.CreateCheckout)
				r.Get("/mine", cfg.PaymentsHandler.ListMine)
				r.Get("/appointment/{appointmentID}", cfg.PaymentsHandler.GetForAppointment)
				if cfg.RefundHandler != nil {
					r.With(httpmiddleware.RequireRole(httpmiddleware.RoleClinician)).
						Post("/{paymentID}/refund", cfg.RefundHandler.Refund)
				}
			})
		}

		if cfg.FilesHandler != nil {
			api.Route("/files", func(r chi.Router) {
				r.Post("/", cfg.FilesHandler.Upload)
				r.Get("/mine", cfg.FilesHandler.ListMine)
				r.Get("/{fileID}", cfg.FilesHandler.Download)
				r.Delete("/{fileID}", cfg.FilesHandler.Delete)
			})
		}

		if cfg.ChatHandler != nil {
			api.Route("/chat", func(r chi.Router) {
				r.Post("/threads", cfg.ChatHandler.EnsureThread)
				r.Get("/threads", cfg.ChatHandler.ListThreads)
				r.Route("/threads/{threadID}", func(r chi.Router) {
					r.Post("/messages", cfg.ChatHandler.SendMessage)
					r.Get("/messages", cfg.ChatHandler.ListMessages)
					r.Post("/read", cfg.ChatHandler.MarkRead)
				})
				clinician := httpmiddleware.RequireRole(httpmiddleware.RoleClinician)
				r.With(clinician).Post("/blocks", cfg.ChatHandler.Block)
				r.With(clinician).Delete("/blocks/{patientID}", cfg.ChatHandler.Unblock)
			})
		}

		if cfg.ChatHub != nil {
			api.Get("/ws/chat", cfg.ChatHub.HandleWebSocket)
		}
		if cfg.NotifySocket != nil {
			api.Get("/ws/notifications", cfg.NotifySocket.HandleConnect)
		}
	})

	// Admin console, protected by its own JWT.
	if cfg.DB != nil && cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.RegisterAdminRoutes(ar, cfg.DB, cfg.Logger)
		})
	}

	return r
}
