package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/events"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

// jobRecorder is the JobStore surface the scheduler needs.
type jobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
}

// jobEnqueuer is the queue surface the scheduler needs.
type jobEnqueuer interface {
	SendDelayed(ctx context.Context, body string, delay time.Duration) error
}

// queuePayload is the SQS message body for one reminder job.
type queuePayload struct {
	JobID         string    `json:"job_id"`
	AppointmentID string    `json:"appointment_id"`
	RemindAt      time.Time `json:"remind_at"`
}

// Scheduler turns appointment.booked and appointment.rescheduled outbox
// events into reminder jobs. Each job is keyed by appointment id plus the
// scheduled start, so a reschedule creates a fresh job and the worker skips
// the stale one when it fires.
type Scheduler struct {
	jobs     jobRecorder
	queue    jobEnqueuer
	leadTime time.Duration
	logger   *logging.Logger
}

var _ events.DeliveryHandler = (*Scheduler)(nil)

func NewScheduler(jobs jobRecorder, queue jobEnqueuer, leadTime time.Duration, logger *logging.Logger) *Scheduler {
	if leadTime <= 0 {
		leadTime = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		jobs:     jobs,
		queue:    queue,
		leadTime: leadTime,
		logger:   logger,
	}
}

type bookedPayload struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	StartsAt  time.Time `json:"starts_at"`
}

// Handle schedules a reminder for booking events and ignores everything else.
func (s *Scheduler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeAppointmentBooked, events.TypeAppointmentRescheduled:
	default:
		return nil
	}

	var p bookedPayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("reminders: decode %s: %w", entry.Type, err)
	}

	remindAt := p.StartsAt.Add(-s.leadTime)
	if time.Until(remindAt) <= 0 {
		// Booked inside the lead window; no reminder.
		s.logger.Debug("reminders: appointment too soon for a reminder", "appointment_id", p.ID)
		return nil
	}

	job := &JobRecord{
		JobID:         JobID(p.ID, p.StartsAt),
		AppointmentID: p.ID.String(),
		PatientID:     p.PatientID.String(),
		StartsAt:      p.StartsAt,
		RemindAt:      remindAt,
	}
	if err := s.jobs.PutPending(ctx, job); err != nil {
		if errors.Is(err, ErrJobExists) {
			return nil
		}
		return err
	}

	body, err := json.Marshal(queuePayload{
		JobID:         job.JobID,
		AppointmentID: job.AppointmentID,
		RemindAt:      job.RemindAt,
	})
	if err != nil {
		return fmt.Errorf("reminders: marshal queue payload: %w", err)
	}
	if err := s.queue.SendDelayed(ctx, string(body), time.Until(job.RemindAt)); err != nil {
		return err
	}

	s.logger.Info("reminder scheduled", "job_id", job.JobID, "remind_at", job.RemindAt)
	return nil
}

// JobID derives the idempotency key for an appointment occurrence.
func JobID(appointmentID uuid.UUID, startsAt time.Time) string {
	return fmt.Sprintf("reminder-%s-%d", appointmentID, startsAt.Unix())
}
