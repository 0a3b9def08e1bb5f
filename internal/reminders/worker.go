package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/accounts"
	"github.com/medpoint/telecare-platform/internal/appointments"
	"github.com/medpoint/telecare-platform/internal/notify"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 20
	defaultBatchSize    = 10
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
	expiryInterval      = 5 * time.Minute
	startTolerance      = time.Minute
)

type queueClient interface {
	SendDelayed(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type jobUpdater interface {
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	MarkSent(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID string, reason string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

// appointmentSource verifies a job against the live appointment row.
type appointmentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
}

type accountSource interface {
	Get(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// expiryRunner closes stale open emergency requests.
type expiryRunner interface {
	Run(ctx context.Context) (int64, error)
}

// Worker consumes reminder jobs from the queue, sends the reminder email,
// and periodically expires stale emergency requests.
type Worker struct {
	queue        queueClient
	jobs         jobUpdater
	appointments appointmentSource
	accounts     accountSource
	email        notify.EmailSender
	expiry       expiryRunner
	logger       *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	expiry           expiryRunner
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithEmergencyExpiry wires the emergency request expiry pass.
func WithEmergencyExpiry(runner expiryRunner) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.expiry = runner
	}
}

func NewWorker(queue queueClient, jobs jobUpdater, appointmentStore appointmentSource, accountStore accountSource, email notify.EmailSender, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("reminders: queue cannot be nil")
	}
	if jobs == nil {
		panic("reminders: job store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = notify.NewStubEmailSender(logger)
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		queue:        queue,
		jobs:         jobs,
		appointments: appointmentStore,
		accounts:     accountStore,
		email:        email,
		expiry:       cfg.expiry,
		logger:       logger,
		cfg:          cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
	if w.expiry != nil {
		w.wg.Add(1)
		go w.runExpiry(ctx)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("reminder worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("reminder worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive reminder jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) runExpiry(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.expiry.Run(ctx); err != nil {
				w.logger.Error("emergency expiry pass failed", "error", err)
			} else if n > 0 {
				w.logger.Info("expired stale emergency requests", "count", n)
			}
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode reminder job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	// SQS delay tops out at 15 minutes; cycle the job until it is due.
	if wait := time.Until(payload.RemindAt); wait > 0 {
		if err := w.queue.SendDelayed(ctx, msg.Body, wait); err != nil {
			w.logger.Error("failed to requeue reminder job", "error", err, "job_id", payload.JobID)
			return // leave the original in the queue
		}
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if err := w.processDue(ctx, payload); err != nil {
		w.logger.Error("reminder job failed", "error", err, "job_id", payload.JobID)
		if storeErr := w.jobs.MarkFailed(ctx, payload.JobID, err.Error()); storeErr != nil {
			w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.JobID)
		}
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) processDue(ctx context.Context, payload queuePayload) error {
	job, err := w.jobs.GetJob(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job.Status != JobStatusPending {
		// Another worker already handled it.
		return nil
	}

	skipReason, err := w.staleReason(ctx, job)
	if err != nil {
		return err
	}
	if skipReason != "" {
		w.logger.Info("skipping stale reminder", "job_id", job.JobID, "reason", skipReason)
		return w.jobs.MarkSkipped(ctx, job.JobID, skipReason)
	}

	if err := w.sendReminder(ctx, job); err != nil {
		return err
	}

	if err := w.jobs.MarkSent(ctx, job.JobID); err != nil {
		return err
	}
	w.logger.Info("reminder sent", "job_id", job.JobID, "appointment_id", job.AppointmentID)
	return nil
}

// staleReason checks the job against the live appointment row. Cancelled or
// rescheduled appointments leave a stale job behind.
func (w *Worker) staleReason(ctx context.Context, job *JobRecord) (string, error) {
	if w.appointments == nil {
		return "", nil
	}
	appointmentID, err := uuid.Parse(job.AppointmentID)
	if err != nil {
		return "invalid appointment id", nil
	}
	appt, err := w.appointments.Get(ctx, appointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		return "appointment deleted", nil
	}
	if err != nil {
		return "", fmt.Errorf("reminders: load appointment: %w", err)
	}
	switch appt.Status {
	case appointments.StatusBooked, appointments.StatusConfirmed:
	default:
		return fmt.Sprintf("appointment %s", appt.Status), nil
	}
	if diff := appt.StartsAt.Sub(job.StartsAt); diff > startTolerance || diff < -startTolerance {
		return "appointment rescheduled", nil
	}
	return "", nil
}

func (w *Worker) sendReminder(ctx context.Context, job *JobRecord) error {
	if w.accounts == nil {
		return nil
	}
	patientID, err := uuid.Parse(job.PatientID)
	if err != nil {
		return fmt.Errorf("reminders: invalid patient id %q", job.PatientID)
	}
	patient, err := w.accounts.Get(ctx, patientID)
	if err != nil {
		return fmt.Errorf("reminders: resolve patient: %w", err)
	}

	msg := notify.AppointmentReminderEmail(patient.DisplayName, job.StartsAt)
	msg.To = patient.Email
	return w.email.Send(ctx, msg)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete reminder job", "error", err)
	}
}
