package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

var chatTracer = otel.Tracer("telecare.internal.chat")

const maxBodyLength = 4000

var (
	// ErrForbidden indicates the actor is not on the thread.
	ErrForbidden = errors.New("chat: forbidden")
	// ErrInvalidInput indicates malformed request input.
	ErrInvalidInput = errors.New("chat: invalid input")
)

// DeniedError is returned when the policy engine rejects a patient send.
type DeniedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return "chat: send denied: " + e.Reason
}

// threadStore is the persistence surface the service drives.
type threadStore interface {
	EnsureThread(ctx context.Context, patientID, clinicianID uuid.UUID) (*Thread, error)
	GetThread(ctx context.Context, id uuid.UUID) (*Thread, error)
	ListThreads(ctx context.Context, accountID uuid.UUID) ([]Thread, error)
	InsertMessage(ctx context.Context, threadID, senderID uuid.UUID, body, dedupKey string) (*Message, bool, error)
	ListMessages(ctx context.Context, threadID uuid.UUID, before time.Time, limit int) ([]Message, error)
	MarkRead(ctx context.Context, threadID, readerID uuid.UUID) (int64, error)
}

// roleSource resolves account roles. Thread seats are pinned to real roles
// so a second patient cannot occupy the clinician seat and message outside
// the policy.
type roleSource interface {
	Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// capsConsumer burns quota for metered sends.
type capsConsumer interface {
	Consume(ctx context.Context, patientID, clinicianID uuid.UUID)
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// pusher fans a new message out to connected websocket clients.
type pusher interface {
	Push(accountID uuid.UUID, event WireEvent)
}

// sendMetrics counts send outcomes and policy denials.
type sendMetrics interface {
	ObserveChatSend(outcome string)
	ObservePolicyDenial(reason string)
}

// Service runs thread creation and the send pipeline: policy, idempotent
// insert, quota, event, push.
type Service struct {
	store   threadStore
	roles   roleSource
	policy  *PolicyEngine
	caps    capsConsumer
	outbox  outboxWriter
	hub     pusher
	metrics sendMetrics
	logger  *logging.Logger
}

func NewService(store threadStore, roles roleSource, policy *PolicyEngine, caps capsConsumer, outbox outboxWriter, hub pusher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:  store,
		roles:  roles,
		policy: policy,
		caps:   caps,
		outbox: outbox,
		hub:    hub,
		logger: logger,
	}
}

// WithMetrics wires send outcome counters.
func (s *Service) WithMetrics(m sendMetrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) observeSend(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveChatSend(outcome)
	}
}

// EnsureThread returns the pair's thread, creating it on first use. Either
// party may call it; actor must be one of the two, and each seat must hold
// an account with the matching role.
func (s *Service) EnsureThread(ctx context.Context, actor, patientID, clinicianID uuid.UUID) (*Thread, error) {
	if patientID == clinicianID {
		return nil, fmt.Errorf("%w: thread requires two distinct accounts", ErrInvalidInput)
	}
	if actor != patientID && actor != clinicianID {
		return nil, ErrForbidden
	}
	if err := s.requireRole(ctx, patientID, accounts.RolePatient); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, clinicianID, accounts.RoleClinician); err != nil {
		return nil, err
	}
	return s.store.EnsureThread(ctx, patientID, clinicianID)
}

// requireRole verifies the account exists and holds the role its thread
// seat claims. Without this the policy engine, which keys off the patient
// seat, could be sidestepped by naming an accomplice as clinician.
func (s *Service) requireRole(ctx context.Context, id uuid.UUID, want accounts.Role) error {
	account, err := s.roles.Get(ctx, id)
	if errors.Is(err, accounts.ErrNotFound) {
		return fmt.Errorf("%w: account %s does not exist", ErrInvalidInput, id)
	}
	if err != nil {
		return fmt.Errorf("chat: resolve account role: %w", err)
	}
	if account.Role != want {
		return fmt.Errorf("%w: account %s is not a %s", ErrInvalidInput, id, want)
	}
	return nil
}

// SendMessage applies policy and writes the message idempotently. A replay
// with the same dedup key returns the original row flagged duplicate and
// consumes no quota.
func (s *Service) SendMessage(ctx context.Context, threadID, senderID uuid.UUID, body, dedupKey string) (*Message, error) {
	ctx, span := chatTracer.Start(ctx, "chat.send_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.thread_id", threadID.String()),
		attribute.String("chat.sender_id", senderID.String()),
	)

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	if len(body) > maxBodyLength {
		return nil, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidInput, maxBodyLength)
	}
	if dedupKey == "" {
		// No client key means no replay protection for this send.
		dedupKey = uuid.NewString()
	}

	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Party(senderID) {
		return nil, ErrForbidden
	}

	var decision *Decision
	if senderID == thread.PatientID {
		decision, err = s.policy.Evaluate(ctx, thread.PatientID, thread.ClinicianID)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			span.SetAttributes(attribute.String("chat.deny_reason", decision.Reason))
			s.observeSend("denied")
			if s.metrics != nil {
				s.metrics.ObservePolicyDenial(decision.Reason)
			}
			return nil, &DeniedError{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
		}
	}

	msg, created, err := s.store.InsertMessage(ctx, threadID, senderID, body, dedupKey)
	if err != nil {
		return nil, err
	}
	if !created {
		// Replay: quota untouched, no event, no push.
		msg.Duplicate = true
		s.observeSend("duplicate")
		return msg, nil
	}
	s.observeSend("sent")

	if decision != nil && !decision.BypassCaps && s.caps != nil {
		s.caps.Consume(ctx, thread.PatientID, thread.ClinicianID)
	}

	if s.outbox != nil {
		evt := MessageCreatedEvent{
			Message:     msg,
			PatientID:   thread.PatientID,
			ClinicianID: thread.ClinicianID,
		}
		if _, err := s.outbox.Insert(ctx, events.TypeChatMessageCreated, evt); err != nil {
			s.logger.Error("chat: enqueue message event", "error", err, "message_id", msg.ID)
		}
	}
	if s.hub != nil {
		event := WireEvent{Type: "message", Message: msg}
		s.hub.Push(thread.PatientID, event)
		s.hub.Push(thread.ClinicianID, event)
	}

	return msg, nil
}

// ListMessages pages backwards through a thread the actor is on.
func (s *Service) ListMessages(ctx context.Context, threadID, actor uuid.UUID, before time.Time, limit int) ([]Message, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Party(actor) {
		return nil, ErrForbidden
	}
	return s.store.ListMessages(ctx, threadID, before, limit)
}

// MarkRead stamps the other party's messages as read.
func (s *Service) MarkRead(ctx context.Context, threadID, actor uuid.UUID) (int64, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if !thread.Party(actor) {
		return 0, ErrForbidden
	}
	return s.store.MarkRead(ctx, threadID, actor)
}

// ListThreads returns the actor's threads.
func (s *Service) ListThreads(ctx context.Context, actor uuid.UUID) ([]Thread, error) {
	return s.store.ListThreads(ctx, actor)
}
