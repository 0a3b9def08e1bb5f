package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// consultationSource reports appointment state between a pair.
type consultationSource interface {
	HasInProgress(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error)
	LatestCompletedAt(ctx context.Context, patientID, clinicianID uuid.UUID) (*time.Time, error)
}

// emergencySource reports whether the clinician holds a claimed emergency
// request from the patient.
type emergencySource interface {
	HasActiveClaim(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error)
}

// blockSource reports clinician-side blocks.
type blockSource interface {
	IsBlocked(ctx context.Context, clinicianID, patientID uuid.UUID) (bool, error)
}

// capsSource meters sends. May be nil, which disables the caps.
type capsSource interface {
	Check(ctx context.Context, patientID, clinicianID uuid.UUID) (*CapResult, error)
}

// PolicyEngine decides whether a patient may message a clinician.
// Clinicians are never gated; callers only evaluate patient sends.
//
// Checks run in a fixed order: block list, active consultation, recent
// consultation window, rate caps. The first three are DB-backed and always
// enforced; the caps live in Redis and fail open on an outage.
type PolicyEngine struct {
	appointments consultationSource
	emergencies  emergencySource
	blocks       blockSource
	caps         capsSource
	recentWindow time.Duration
	logger       *logging.Logger
}

func NewPolicyEngine(appointments consultationSource, emergencies emergencySource, blocks blockSource, caps capsSource, recentWindow time.Duration, logger *logging.Logger) *PolicyEngine {
	if recentWindow <= 0 {
		recentWindow = 14 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PolicyEngine{
		appointments: appointments,
		emergencies:  emergencies,
		blocks:       blocks,
		caps:         caps,
		recentWindow: recentWindow,
		logger:       logger,
	}
}

// Evaluate runs the policy for one patient send. A non-nil error means a
// DB-backed check could not run; the send must not proceed.
func (e *PolicyEngine) Evaluate(ctx context.Context, patientID, clinicianID uuid.UUID) (*Decision, error) {
	ctx, span := chatTracer.Start(ctx, "chat.policy.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.patient_id", patientID.String()),
		attribute.String("chat.clinician_id", clinicianID.String()),
	)

	decision, err := e.evaluate(ctx, patientID, clinicianID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		span.SetAttributes(attribute.String("chat.deny_reason", decision.Reason))
	}
	return decision, nil
}

func (e *PolicyEngine) evaluate(ctx context.Context, patientID, clinicianID uuid.UUID) (*Decision, error) {
	blocked, err := e.blocks.IsBlocked(ctx, clinicianID, patientID)
	if err != nil {
		return nil, fmt.Errorf("chat: policy block check: %w", err)
	}
	if blocked {
		return &Decision{Allowed: false, Reason: ReasonBlocked}, nil
	}

	active, err := e.appointments.HasInProgress(ctx, patientID, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("chat: policy consultation check: %w", err)
	}
	if !active && e.emergencies != nil {
		active, err = e.emergencies.HasActiveClaim(ctx, patientID, clinicianID)
		if err != nil {
			return nil, fmt.Errorf("chat: policy emergency check: %w", err)
		}
	}
	if active {
		// An open consultation grants unmetered messaging.
		return &Decision{Allowed: true, BypassCaps: true}, nil
	}

	latest, err := e.appointments.LatestCompletedAt(ctx, patientID, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("chat: policy window check: %w", err)
	}
	if latest == nil || time.Since(*latest) > e.recentWindow {
		return &Decision{Allowed: false, Reason: ReasonNoRecentConsultation}, nil
	}

	if e.caps != nil {
		result, err := e.caps.Check(ctx, patientID, clinicianID)
		if err != nil {
			// Caps are advisory; a checker error degrades to allowed.
			e.logger.Error("chat: cap check failed", "error", err)
			return &Decision{Allowed: true}, nil
		}
		if !result.Allowed {
			return &Decision{Allowed: false, Reason: ReasonRateLimited, RetryAfter: result.RetryAfter}, nil
		}
	}

	return &Decision{Allowed: true}, nil
}
