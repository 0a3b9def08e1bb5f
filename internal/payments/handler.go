package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/internal/http/middleware"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// paymentStore is the persistence surface the handlers drive.
type paymentStore interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	MarkPaid(ctx context.Context, id uuid.UUID, providerRef string) (*Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	Refund(ctx context.Context, id, actor uuid.UUID, reason string) (*Payment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error)
}

// appointmentChecker confirms the appointment belongs to the patient and can
// still take a deposit.
type appointmentChecker interface {
	DepositDue(ctx context.Context, appointmentID, patientID uuid.UUID) (bool, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

type velocityGate interface {
	CheckCheckoutVelocity(ctx context.Context, patientID uuid.UUID) (*VelocityResult, error)
}

// Handler serves the checkout and payment query routes.
type Handler struct {
	store        paymentStore
	provider     CheckoutProvider
	appointments appointmentChecker
	velocity     velocityGate
	depositCents int64
	logger       *logging.Logger
}

func NewHandler(store paymentStore, provider CheckoutProvider, appointments appointmentChecker, velocity velocityGate, depositCents int64, logger *logging.Logger) *Handler {
	if depositCents <= 0 {
		depositCents = 3000
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:        store,
		provider:     provider,
		appointments: appointments,
		velocity:     velocity,
		depositCents: depositCents,
		logger:       logger,
	}
}

// POST /api/payments/checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	var body struct {
		AppointmentID uuid.UUID `json:"appointment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AppointmentID == uuid.Nil {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	due, err := h.appointments.DepositDue(r.Context(), body.AppointmentID, patientID)
	if err != nil {
		h.logger.Error("payments: deposit check", "error", err, "appointment_id", body.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !due {
		http.Error(w, "no deposit due for this appointment", http.StatusUnprocessableEntity)
		return
	}

	if h.velocity != nil {
		result, err := h.velocity.CheckCheckoutVelocity(r.Context(), patientID)
		if err == nil && !result.Allowed {
			w.Header().Set("Retry-After", result.WindowExpiry.UTC().Format(http.TimeFormat))
			http.Error(w, result.Message, http.StatusTooManyRequests)
			return
		}
	}

	payment := &Payment{
		AppointmentID: body.AppointmentID,
		PatientID:     patientID,
		AmountCents:   h.depositCents,
	}
	if err := h.store.Insert(r.Context(), payment); err != nil {
		h.logger.Error("payments: insert", "error", err, "appointment_id", body.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	session, err := h.provider.CreateCheckout(r.Context(), CheckoutParams{
		PaymentID:     payment.ID,
		AppointmentID: payment.AppointmentID,
		PatientID:     patientID,
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		Description:   "Consultation deposit",
	})
	if err != nil {
		h.logger.Error("payments: create checkout", "error", err, "payment_id", payment.ID)
		if failErr := h.store.MarkFailed(r.Context(), payment.ID); failErr != nil {
			h.logger.Error("payments: mark failed", "error", failErr, "payment_id", payment.ID)
		}
		http.Error(w, "checkout unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"payment_id":   payment.ID,
		"checkout_url": session.URL,
		"amount_cents": payment.AmountCents,
		"currency":     payment.Currency,
	})
}

// GET /api/payments/mine
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	payments, err := h.store.ListByPatient(r.Context(), patientID, 20, 0)
	if err != nil {
		h.logger.Error("payments: list", "error", err, "patient_id", patientID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// GET /api/payments/appointment/{appointmentID}
func (h *Handler) GetForAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	apptID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	payment, err := h.store.GetByAppointment(r.Context(), apptID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("payments: get for appointment", "error", err, "appointment_id", apptID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if payment.PatientID != patientID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// RefundHandler processes admin-initiated refunds.
type RefundHandler struct {
	store  paymentStore
	outbox outboxWriter
	logger *logging.Logger
}

func NewRefundHandler(store paymentStore, outbox outboxWriter, logger *logging.Logger) *RefundHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefundHandler{store: store, outbox: outbox, logger: logger}
}

// POST /api/payments/{paymentID}/refund: clinician refunds a paid deposit.
func (h *RefundHandler) Refund(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestAccountID(r)
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	payment, err := h.store.Refund(r.Context(), paymentID, actor, body.Reason)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrBadState) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("payments: refund", "error", err, "payment_id", paymentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if h.outbox != nil {
		if _, err := h.outbox.Insert(r.Context(), events.TypePaymentRefunded, payment); err != nil {
			h.logger.Error("payments: enqueue refund event", "error", err, "payment_id", paymentID)
		}
	}
	writeJSON(w, http.StatusOK, payment)
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

// nowUnix exists so webhook tests can pin the clock.
var nowUnix = func() int64 { return time.Now().Unix() }
