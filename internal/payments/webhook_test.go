package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubPaymentStore struct {
	payments map[uuid.UUID]*Payment
	paidRefs map[uuid.UUID]string
}

func newStubPaymentStore() *stubPaymentStore {
	return &stubPaymentStore{
		payments: map[uuid.UUID]*Payment{},
		paidRefs: map[uuid.UUID]string{},
	}
}

func (s *stubPaymentStore) Insert(_ context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusPending
	s.payments[p.ID] = p
	return nil
}

func (s *stubPaymentStore) Get(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *stubPaymentStore) GetByAppointment(context.Context, uuid.UUID) (*Payment, error) {
	return nil, ErrNotFound
}

func (s *stubPaymentStore) MarkPaid(_ context.Context, id uuid.UUID, providerRef string) (*Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status == StatusPaid {
		return p, nil
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrBadState, p.Status)
	}
	p.Status = StatusPaid
	p.ProviderRef = providerRef
	s.paidRefs[id] = providerRef
	return p, nil
}

func (s *stubPaymentStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = StatusFailed
	return nil
}

func (s *stubPaymentStore) Refund(_ context.Context, id, actor uuid.UUID, reason string) (*Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPaid {
		return nil, fmt.Errorf("%w: %s", ErrBadState, p.Status)
	}
	p.Status = StatusRefunded
	p.RefundedBy = &actor
	p.RefundReason = reason
	return p, nil
}

func (s *stubPaymentStore) ListByPatient(context.Context, uuid.UUID, int, int) ([]Payment, error) {
	return nil, nil
}

type stubProcessed struct {
	seen map[string]bool
}

func (s *stubProcessed) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	return s.seen[provider+":"+eventID], nil
}

func (s *stubProcessed) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

type stubOutbox struct {
	types []string
}

func (s *stubOutbox) Insert(_ context.Context, eventType string, _ any) (uuid.UUID, error) {
	s.types = append(s.types, eventType)
	return uuid.New(), nil
}

func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	signed := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func webhookBody(eventID string, paymentID uuid.UUID) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {
			"id": "cs_test_1",
			"amount_total": 3000,
			"currency": "eur",
			"metadata": {"payment_id": %q},
			"status": "complete"
		}}
	}`, eventID, time.Now().Unix(), paymentID)
}

func TestWebhookSettlesPendingPayment(t *testing.T) {
	store := newStubPaymentStore()
	payment := &Payment{AppointmentID: uuid.New(), PatientID: uuid.New(), AmountCents: 3000}
	_ = store.Insert(context.Background(), payment)

	processed := &stubProcessed{seen: map[string]bool{}}
	outbox := &stubOutbox{}
	handler := NewWebhookHandler("whsec_test", store, processed, outbox, nil)

	body := webhookBody("evt_1", payment.ID)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("X-Payment-Signature", signPayload("whsec_test", []byte(body)))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if store.payments[payment.ID].Status != StatusPaid {
		t.Errorf("payment status = %s, want paid", store.payments[payment.ID].Status)
	}
	if store.paidRefs[payment.ID] != "cs_test_1" {
		t.Errorf("provider ref = %q", store.paidRefs[payment.ID])
	}
	if len(outbox.types) != 1 || outbox.types[0] != "payment.succeeded.v1" {
		t.Errorf("outbox events = %v", outbox.types)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := newStubPaymentStore()
	handler := NewWebhookHandler("whsec_test", store, &stubProcessed{seen: map[string]bool{}}, &stubOutbox{}, nil)

	body := webhookBody("evt_2", uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("X-Payment-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookDuplicateEventIsNoop(t *testing.T) {
	store := newStubPaymentStore()
	payment := &Payment{AppointmentID: uuid.New(), PatientID: uuid.New(), AmountCents: 3000}
	_ = store.Insert(context.Background(), payment)

	processed := &stubProcessed{seen: map[string]bool{}}
	outbox := &stubOutbox{}
	handler := NewWebhookHandler("whsec_test", store, processed, outbox, nil)

	body := webhookBody("evt_3", payment.ID)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		req.Header.Set("X-Payment-Signature", signPayload("whsec_test", []byte(body)))
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d", i, rec.Code)
		}
	}

	if len(outbox.types) != 1 {
		t.Errorf("outbox events = %v, want exactly one", outbox.types)
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	store := newStubPaymentStore()
	outbox := &stubOutbox{}
	handler := NewWebhookHandler("whsec_test", store, &stubProcessed{seen: map[string]bool{}}, outbox, nil)

	body := `{"id": "evt_4", "type": "charge.updated", "data": {"object": {}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("X-Payment-Signature", signPayload("whsec_test", []byte(body)))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(outbox.types) != 0 {
		t.Errorf("outbox events = %v, want none", outbox.types)
	}
}

func TestVerifySignatureTimestampTolerance(t *testing.T) {
	payload := []byte(`{}`)
	ts := time.Now().Add(-10 * time.Minute).Unix()
	signed := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(signed))
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	if verifyWebhookSignature("secret", payload, header) {
		t.Error("stale timestamp accepted")
	}
}

func TestFakeCheckoutURL(t *testing.T) {
	svc := NewFakeCheckoutService("https://dev.telecare.local", nil)
	paymentID := uuid.New()

	resp, err := svc.CreateCheckout(context.Background(), CheckoutParams{PaymentID: paymentID})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	want := "https://dev.telecare.local/payments/fake/" + paymentID.String()
	if resp.URL != want {
		t.Errorf("url = %q, want %q", resp.URL, want)
	}

	if _, err := svc.CreateCheckout(context.Background(), CheckoutParams{}); err == nil {
		t.Error("nil payment id accepted")
	}

	bad := NewFakeCheckoutService("not a url", nil)
	if _, err := bad.CreateCheckout(context.Background(), CheckoutParams{PaymentID: paymentID}); err == nil {
		t.Error("invalid base url accepted")
	}
}
