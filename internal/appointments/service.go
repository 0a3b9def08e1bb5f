package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/clinicians"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

var (
	// ErrForbidden indicates the actor is not a party to the appointment or
	// holds the wrong role for the operation.
	ErrForbidden = errors.New("appointments: forbidden")
	// ErrInvalidSlot indicates the requested interval is not a bookable slot.
	ErrInvalidSlot = errors.New("appointments: interval is not an available slot")
	// ErrBadTransition indicates the lifecycle move is not allowed from the
	// appointment's current status.
	ErrBadTransition = errors.New("appointments: invalid status transition")
)

// Availability exposes the clinician data booking needs.
type Availability interface {
	IsVerified(ctx context.Context, accountID uuid.UUID) (bool, error)
	ListRules(ctx context.Context, clinicianID uuid.UUID) ([]clinicians.Rule, error)
	ListExceptions(ctx context.Context, clinicianID uuid.UUID, from, to string) ([]clinicians.Exception, error)
}

// ApptStore is the persistence surface the service drives.
type ApptStore interface {
	Book(ctx context.Context, a *Appointment) error
	Reschedule(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	Cancel(ctx context.Context, id, actor uuid.UUID, reason string) error
	List(ctx context.Context, accountID uuid.UUID, asClinician, upcoming bool, limit, offset int) ([]Appointment, error)
	ListBusy(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]clinicians.Busy, error)
}

// Emitter publishes domain events for delivery after commit.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// bookingMetrics counts successful bookings.
type bookingMetrics interface {
	ObserveBooking()
}

// Service enforces the booking rules and the appointment lifecycle.
type Service struct {
	store        ApptStore
	availability Availability
	emitter      Emitter
	metrics      bookingMetrics
	logger       *logging.Logger
}

func NewService(store ApptStore, availability Availability, emitter Emitter, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, availability: availability, emitter: emitter, logger: logger}
}

// WithMetrics wires the bookings counter.
func (s *Service) WithMetrics(m bookingMetrics) *Service {
	s.metrics = m
	return s
}

// BookRequest carries the patient's booking intent.
type BookRequest struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Reason      string    `json:"reason"`
}

// Book validates the interval against the clinician's expanded availability
// and creates the appointment. The interval must match a slot exactly.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, req BookRequest) (*Appointment, error) {
	if req.ClinicianID == uuid.Nil {
		return nil, errors.New("appointments: clinician_id is required")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, errors.New("appointments: ends_at must be after starts_at")
	}
	if !req.StartsAt.After(time.Now()) {
		return nil, errors.New("appointments: cannot book in the past")
	}

	verified, err := s.availability.IsVerified(ctx, req.ClinicianID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, fmt.Errorf("appointments: clinician %s is not accepting bookings", req.ClinicianID)
	}

	if err := s.checkSlot(ctx, req.ClinicianID, req.StartsAt, req.EndsAt); err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID:   patientID,
		ClinicianID: req.ClinicianID,
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      req.EndsAt.UTC(),
		Reason:      req.Reason,
		VideoRoom:   "room-" + uuid.NewString(),
	}
	if err := s.store.Book(ctx, appt); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveBooking()
	}
	s.emit(ctx, "appointment.booked.v1", appt)
	return appt, nil
}

// checkSlot expands the clinician's availability around the interval and
// rejects anything that is not an exact slot.
func (s *Service) checkSlot(ctx context.Context, clinicianID uuid.UUID, startsAt, endsAt time.Time) error {
	windowFrom := startsAt.Add(-24 * time.Hour)
	windowTo := endsAt.Add(24 * time.Hour)

	rules, err := s.availability.ListRules(ctx, clinicianID)
	if err != nil {
		return err
	}
	exceptions, err := s.availability.ListExceptions(ctx, clinicianID,
		windowFrom.Format("2006-01-02"), windowTo.AddDate(0, 0, 1).Format("2006-01-02"))
	if err != nil {
		return err
	}
	busy, err := s.store.ListBusy(ctx, clinicianID, windowFrom, windowTo)
	if err != nil {
		return err
	}

	slots := clinicians.ExpandSlots(rules, exceptions, busy, windowFrom, windowTo, time.UTC)
	if !clinicians.ContainsSlot(slots, startsAt.UTC(), endsAt.UTC()) {
		return ErrInvalidSlot
	}
	return nil
}

// Confirm moves booked to confirmed. Only the clinician can confirm.
func (s *Service) Confirm(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.clinicianTransition(ctx, id, actor, StatusBooked, StatusConfirmed)
}

// Start opens the consultation. Only the clinician can start.
func (s *Service) Start(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.clinicianTransition(ctx, id, actor, StatusConfirmed, StatusInProgress)
}

// Complete closes the consultation and stamps completed_at, which opens the
// post-consultation chat window for the patient.
func (s *Service) Complete(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	appt, err := s.clinicianTransition(ctx, id, actor, StatusInProgress, StatusCompleted)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "appointment.completed.v1", appt)
	return appt, nil
}

func (s *Service) clinicianTransition(ctx context.Context, id, actor uuid.UUID, from, to Status) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.ClinicianID != actor {
		return nil, ErrForbidden
	}
	if appt.Status != from || !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, appt.Status, to)
	}
	if err := s.store.SetStatus(ctx, id, from, to); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Someone else moved it first.
			return nil, ErrBadTransition
		}
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Cancel is available to either party while the appointment has not started.
func (s *Service) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Party(actor) {
		return nil, ErrForbidden
	}
	if err := s.store.Cancel(ctx, id, actor, reason); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s -> cancelled", ErrBadTransition, appt.Status)
		}
		return nil, err
	}
	appt, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "appointment.cancelled.v1", appt)
	return appt, nil
}

// Reschedule moves the appointment to a new slot, keeping its id.
func (s *Service) Reschedule(ctx context.Context, id, actor uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Party(actor) {
		return nil, ErrForbidden
	}
	if !endsAt.After(startsAt) || !startsAt.After(time.Now()) {
		return nil, errors.New("appointments: new interval must be in the future")
	}
	if err := s.checkSlot(ctx, appt.ClinicianID, startsAt, endsAt); err != nil {
		return nil, err
	}
	updated, err := s.store.Reschedule(ctx, id, startsAt.UTC(), endsAt.UTC())
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "appointment.rescheduled.v1", updated)
	return updated, nil
}

// Get returns the appointment if the actor is a party to it.
func (s *Service) Get(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Party(actor) {
		return nil, ErrForbidden
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID, asClinician, upcoming bool, limit, offset int) ([]Appointment, error) {
	return s.store.List(ctx, accountID, asClinician, upcoming, limit, offset)
}

// emit publishes an event. Delivery problems are logged, not surfaced; the
// appointment write already happened.
func (s *Service) emit(ctx context.Context, eventType string, appt *Appointment) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, eventType, appt); err != nil {
		s.logger.Error("appointments: emit event", "error", err, "event_type", eventType, "appointment_id", appt.ID)
	}
}
