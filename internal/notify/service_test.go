package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/events"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type stubAccounts struct {
	byID map[uuid.UUID]*accounts.Account
}

func (s *stubAccounts) Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return nil, accounts.ErrNotFound
}

type stubProcessed struct {
	seen   map[string]bool
	marked []string
}

func (s *stubProcessed) AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error) {
	return s.seen[eventID], nil
}

func (s *stubProcessed) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	s.marked = append(s.marked, eventID)
	return true, nil
}

type recordingSocket struct {
	pushed map[uuid.UUID][]Notification
}

func (s *recordingSocket) Push(accountID uuid.UUID, n Notification) {
	if s.pushed == nil {
		s.pushed = make(map[uuid.UUID][]Notification)
	}
	s.pushed[accountID] = append(s.pushed[accountID], n)
}

func entryFor(t *testing.T, eventType string, payload any) events.OutboxEntry {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.OutboxEntry{ID: uuid.New(), Type: eventType, Payload: data, CreatedAt: time.Now()}
}

func TestHandlePaymentSucceeded(t *testing.T) {
	patientID := uuid.New()
	sender := &recordingSender{}
	socket := &recordingSocket{}
	svc := NewService(sender, &stubAccounts{byID: map[uuid.UUID]*accounts.Account{
		patientID: {ID: patientID, Email: "ana@example.com", DisplayName: "Ana"},
	}}, &stubProcessed{}, socket, nil)

	entry := entryFor(t, events.TypePaymentSucceeded, map[string]any{
		"patient_id":   patientID,
		"amount_cents": 3000,
		"currency":     "eur",
	})
	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ana@example.com" {
		t.Errorf("to = %q", msg.To)
	}
	if !strings.Contains(msg.Body, "€30.00") {
		t.Errorf("body missing amount: %q", msg.Body)
	}
	if len(socket.pushed[patientID]) != 1 {
		t.Errorf("socket pushes = %+v", socket.pushed)
	}
}

func TestHandleSkipsProcessedEvents(t *testing.T) {
	sender := &recordingSender{}
	processed := &stubProcessed{seen: map[string]bool{}}
	svc := NewService(sender, &stubAccounts{}, processed, nil, nil)

	entry := entryFor(t, events.TypePaymentSucceeded, map[string]any{"patient_id": uuid.New()})
	processed.seen[entry.ID.String()] = true

	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("replayed event sent %d emails", len(sender.sent))
	}
	if len(processed.marked) != 0 {
		t.Errorf("replayed event re-marked: %v", processed.marked)
	}
}

func TestHandleUnknownTypeIsAcked(t *testing.T) {
	processed := &stubProcessed{}
	svc := NewService(&recordingSender{}, &stubAccounts{}, processed, nil, nil)

	entry := entryFor(t, "something.else.v1", map[string]any{})
	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unknown type must not wedge the queue: %v", err)
	}
	if len(processed.marked) != 1 {
		t.Errorf("unknown event not marked processed")
	}
}

func TestHandleAppointmentCancelledEmailsBothParties(t *testing.T) {
	patientID, clinicianID := uuid.New(), uuid.New()
	sender := &recordingSender{}
	svc := NewService(sender, &stubAccounts{byID: map[uuid.UUID]*accounts.Account{
		patientID:   {ID: patientID, Email: "ana@example.com", DisplayName: "Ana"},
		clinicianID: {ID: clinicianID, Email: "dr@example.com", DisplayName: "Dr. Novak"},
	}}, nil, nil, nil)

	entry := entryFor(t, events.TypeAppointmentCancelled, map[string]any{
		"patient_id":   patientID,
		"clinician_id": clinicianID,
		"starts_at":    time.Now().Add(48 * time.Hour),
	})
	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d emails, want both parties", len(sender.sent))
	}
}

func TestHandleEmergencyClaimedNamesClinician(t *testing.T) {
	patientID, clinicianID := uuid.New(), uuid.New()
	sender := &recordingSender{}
	svc := NewService(sender, &stubAccounts{byID: map[uuid.UUID]*accounts.Account{
		patientID:   {ID: patientID, Email: "ana@example.com", DisplayName: "Ana"},
		clinicianID: {ID: clinicianID, Email: "dr@example.com", DisplayName: "Dr. Novak"},
	}}, nil, nil, nil)

	entry := entryFor(t, events.TypeEmergencyClaimed, map[string]any{
		"patient_id": patientID,
		"claimed_by": clinicianID,
	})
	if err := svc.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Body, "Dr. Novak") {
		t.Errorf("sent = %+v, want clinician named in body", sender.sent)
	}
}

func TestHandleChatMessageNotifiesOtherParty(t *testing.T) {
	patientID, clinicianID := uuid.New(), uuid.New()

	tests := []struct {
		name          string
		senderID      uuid.UUID
		wantRecipient uuid.UUID
	}{
		{"patient sends", patientID, clinicianID},
		{"clinician sends", clinicianID, patientID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			socket := &recordingSocket{}
			svc := NewService(&recordingSender{}, &stubAccounts{}, nil, socket, nil)

			entry := entryFor(t, events.TypeChatMessageCreated, map[string]any{
				"thread_id":    uuid.New(),
				"sender_id":    tc.senderID,
				"patient_id":   patientID,
				"clinician_id": clinicianID,
			})
			if err := svc.Handle(context.Background(), entry); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if len(socket.pushed[tc.wantRecipient]) != 1 {
				t.Errorf("recipient pushes = %+v, want one for %s", socket.pushed, tc.wantRecipient)
			}
			if len(socket.pushed[tc.senderID]) != 0 {
				t.Error("sender received their own badge push")
			}
		})
	}
}

func TestHandleUnresolvableRecipientFails(t *testing.T) {
	svc := NewService(&recordingSender{}, &stubAccounts{}, nil, nil, nil)

	entry := entryFor(t, events.TypePaymentSucceeded, map[string]any{"patient_id": uuid.New()})
	if err := svc.Handle(context.Background(), entry); err == nil {
		t.Fatal("missing recipient should fail delivery so it retries")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		cents    int64
		currency string
		want     string
	}{
		{3000, "eur", "€30.00"},
		{1250, "usd", "$12.50"},
		{999, "chf", "9.99 chf"},
	}
	for _, tc := range tests {
		if got := formatAmount(tc.cents, tc.currency); got != tc.want {
			t.Errorf("formatAmount(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
