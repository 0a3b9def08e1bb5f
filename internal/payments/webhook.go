package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler handles payment provider webhook events for checkout
// completion.
type WebhookHandler struct {
	webhookSecret string
	payments      paymentStore
	processed     processedTracker
	outbox        outboxWriter
	logger        *logging.Logger
}

func NewWebhookHandler(webhookSecret string, payments paymentStore, processed processedTracker, outbox outboxWriter, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		payments:      payments,
		processed:     processed,
		outbox:        outbox,
		logger:        logger,
	}
}

// webhookEvent is the provider's event envelope.
type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object sessionObject `json:"object"`
	} `json:"data"`
}

type sessionObject struct {
	ID          string            `json:"id"`
	AmountTotal int64             `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
	Status      string            `json:"status"`
}

// Handle processes incoming provider webhook events.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("X-Payment-Signature")
	if !verifyWebhookSignature(h.webhookSecret, payload, sigHeader) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode webhook event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	// Only handle checkout completion
	if evt.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if processed, err := h.processed.AlreadyProcessed(r.Context(), "payprovider", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		w.WriteHeader(http.StatusOK)
		return
	}

	paymentIDStr := evt.Data.Object.Metadata["payment_id"]
	if paymentIDStr == "" {
		h.logger.Warn("webhook missing payment_id metadata", "event_id", evt.ID)
		// Acknowledge to prevent retries; nothing we can progress.
		w.WriteHeader(http.StatusOK)
		return
	}
	paymentID, err := uuid.Parse(paymentIDStr)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	providerRef := evt.Data.Object.ID
	payment, err := h.payments.MarkPaid(r.Context(), paymentID, providerRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, ErrBadState) {
			h.logger.Warn("webhook for non-pending payment", "payment_id", paymentID, "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("failed to settle payment", "error", err, "payment_id", paymentID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.outbox.Insert(r.Context(), events.TypePaymentSucceeded, payment); err != nil {
		h.logger.Error("failed to enqueue outbox", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(r.Context(), "payprovider", evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// verifyWebhookSignature verifies the provider's webhook signature. The
// provider signs with HMAC-SHA256 and sends the signature as:
// t=<timestamp>,v1=<signature>
func verifyWebhookSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Check timestamp tolerance (5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(nowUnix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// FakeCompleteHandler settles a fake checkout in dev environments. Gated by
// the same ALLOW_FAKE_PAYMENTS flag as the fake provider.
type FakeCompleteHandler struct {
	payments paymentStore
	outbox   outboxWriter
	logger   *logging.Logger
}

func NewFakeCompleteHandler(payments paymentStore, outbox outboxWriter, logger *logging.Logger) *FakeCompleteHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeCompleteHandler{payments: payments, outbox: outbox, logger: logger}
}

// POST /payments/fake/{paymentID}/complete
func (h *FakeCompleteHandler) Complete(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	payment, err := h.payments.MarkPaid(r.Context(), paymentID, "fake:"+paymentID.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, ErrBadState) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("fake checkout completion failed", "error", err, "payment_id", paymentID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.outbox.Insert(r.Context(), events.TypePaymentSucceeded, payment); err != nil {
		h.logger.Error("failed to enqueue outbox", "error", err)
	}
	writeJSON(w, http.StatusOK, payment)
}
