package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// dedupSource namespaces outbox event ids in processed_events.
const dedupSource = "outbox"

// accountSource resolves event account ids to contact details.
type accountSource interface {
	Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// processedTracker keeps delivery idempotent across deliverer restarts.
type processedTracker interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// socketPusher fans a notification out to a connected browser session.
type socketPusher interface {
	Push(accountID uuid.UUID, n Notification)
}

// Notification is what goes over the notifications websocket.
type Notification struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service turns outbox events into emails and websocket pushes. It is the
// delivery handler behind the outbox deliverer.
type Service struct {
	email     EmailSender
	accounts  accountSource
	processed processedTracker
	socket    socketPusher
	logger    *logging.Logger
}

var _ events.DeliveryHandler = (*Service)(nil)

func NewService(email EmailSender, accountsStore accountSource, processed processedTracker, socket socketPusher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &Service{
		email:     email,
		accounts:  accountsStore,
		processed: processed,
		socket:    socket,
		logger:    logger,
	}
}

// Event payloads are the JSON encoding of the emitting package's domain
// struct; only the fields notifications need are decoded here.

type appointmentPayload struct {
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartsAt    time.Time `json:"starts_at"`
	Reason      string    `json:"reason"`
}

type paymentPayload struct {
	PatientID   uuid.UUID `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

type emergencyPayload struct {
	PatientID uuid.UUID  `json:"patient_id"`
	ClaimedBy *uuid.UUID `json:"claimed_by"`
}

type chatMessagePayload struct {
	ThreadID    uuid.UUID `json:"thread_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
}

// Handle routes one outbox entry. Unknown event types are acknowledged so
// they do not wedge the queue.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if s.processed != nil {
		seen, err := s.processed.AlreadyProcessed(ctx, dedupSource, entry.ID.String())
		if err != nil {
			return fmt.Errorf("notify: check processed: %w", err)
		}
		if seen {
			return nil
		}
	}

	var err error
	switch entry.Type {
	case events.TypeAppointmentBooked:
		err = s.onAppointment(ctx, entry, "Appointment booked", appointmentBookedEmail)
	case events.TypeAppointmentCancelled:
		err = s.onAppointmentCancelled(ctx, entry)
	case events.TypeAppointmentRescheduled:
		err = s.onAppointmentRescheduled(ctx, entry)
	case events.TypePaymentSucceeded:
		err = s.onPaymentSucceeded(ctx, entry)
	case events.TypePaymentRefunded:
		err = s.onPaymentRefunded(ctx, entry)
	case events.TypeEmergencyClaimed:
		err = s.onEmergencyClaimed(ctx, entry)
	case events.TypeChatMessageCreated:
		err = s.onChatMessage(ctx, entry)
	default:
		s.logger.Debug("notify: no handler for event type", "type", entry.Type)
	}
	if err != nil {
		return err
	}

	if s.processed != nil {
		if _, err := s.processed.MarkProcessed(ctx, dedupSource, entry.ID.String()); err != nil {
			return fmt.Errorf("notify: mark processed: %w", err)
		}
	}
	return nil
}

func (s *Service) onAppointment(ctx context.Context, entry events.OutboxEntry, title string, template func(string, time.Time, string) EmailMessage) error {
	var p appointmentPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	if err := s.sendTo(ctx, p.PatientID, func(name string) EmailMessage {
		return template(name, p.StartsAt, p.Reason)
	}); err != nil {
		return err
	}
	s.push(p.PatientID, Notification{Type: entry.Type, Title: title, CreatedAt: entry.CreatedAt})
	s.push(p.ClinicianID, Notification{Type: entry.Type, Title: title, CreatedAt: entry.CreatedAt})
	return nil
}

func (s *Service) onAppointmentCancelled(ctx context.Context, entry events.OutboxEntry) error {
	var p appointmentPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	for _, accountID := range []uuid.UUID{p.PatientID, p.ClinicianID} {
		if err := s.sendTo(ctx, accountID, func(name string) EmailMessage {
			return appointmentCancelledEmail(name, p.StartsAt)
		}); err != nil {
			return err
		}
		s.push(accountID, Notification{Type: entry.Type, Title: "Appointment cancelled", CreatedAt: entry.CreatedAt})
	}
	return nil
}

func (s *Service) onAppointmentRescheduled(ctx context.Context, entry events.OutboxEntry) error {
	var p appointmentPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	for _, accountID := range []uuid.UUID{p.PatientID, p.ClinicianID} {
		if err := s.sendTo(ctx, accountID, func(name string) EmailMessage {
			return appointmentRescheduledEmail(name, p.StartsAt)
		}); err != nil {
			return err
		}
		s.push(accountID, Notification{Type: entry.Type, Title: "Appointment rescheduled", CreatedAt: entry.CreatedAt})
	}
	return nil
}

func (s *Service) onPaymentSucceeded(ctx context.Context, entry events.OutboxEntry) error {
	var p paymentPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	if err := s.sendTo(ctx, p.PatientID, func(name string) EmailMessage {
		return paymentSucceededEmail(name, p.AmountCents, p.Currency)
	}); err != nil {
		return err
	}
	s.push(p.PatientID, Notification{Type: entry.Type, Title: "Deposit received", CreatedAt: entry.CreatedAt})
	return nil
}

func (s *Service) onPaymentRefunded(ctx context.Context, entry events.OutboxEntry) error {
	var p paymentPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	if err := s.sendTo(ctx, p.PatientID, func(name string) EmailMessage {
		return paymentRefundedEmail(name, p.AmountCents, p.Currency)
	}); err != nil {
		return err
	}
	s.push(p.PatientID, Notification{Type: entry.Type, Title: "Deposit refunded", CreatedAt: entry.CreatedAt})
	return nil
}

func (s *Service) onEmergencyClaimed(ctx context.Context, entry events.OutboxEntry) error {
	var p emergencyPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	clinicianName := "A clinician"
	if p.ClaimedBy != nil && s.accounts != nil {
		if clinician, err := s.accounts.Get(ctx, *p.ClaimedBy); err == nil && clinician.DisplayName != "" {
			clinicianName = clinician.DisplayName
		}
	}
	if err := s.sendTo(ctx, p.PatientID, func(name string) EmailMessage {
		return emergencyClaimedEmail(name, clinicianName)
	}); err != nil {
		return err
	}
	s.push(p.PatientID, Notification{
		Type:      entry.Type,
		Title:     "A clinician is responding",
		Body:      clinicianName + " has taken your request.",
		CreatedAt: entry.CreatedAt,
	})
	return nil
}

// onChatMessage pushes a badge update to the thread party who did not send
// the message; message content stays in chat.
func (s *Service) onChatMessage(ctx context.Context, entry events.OutboxEntry) error {
	var p chatMessagePayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	recipient := p.ClinicianID
	if p.SenderID == p.ClinicianID {
		recipient = p.PatientID
	}
	s.push(recipient, Notification{Type: entry.Type, Title: "New message", CreatedAt: entry.CreatedAt})
	return nil
}

func (s *Service) sendTo(ctx context.Context, accountID uuid.UUID, build func(name string) EmailMessage) error {
	if s.accounts == nil {
		return nil
	}
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("notify: resolve recipient %s: %w", accountID, err)
	}
	msg := build(account.DisplayName)
	msg.To = account.Email
	if msg.ToName == "" {
		msg.ToName = account.DisplayName
	}
	return s.email.Send(ctx, msg)
}

func (s *Service) push(accountID uuid.UUID, n Notification) {
	if s.socket == nil || accountID == uuid.Nil {
		return
	}
	s.socket.Push(accountID, n)
}
