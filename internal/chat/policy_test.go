package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubConsultations struct {
	inProgress    bool
	inProgressErr error
	latest        *time.Time
	latestErr     error
}

func (s *stubConsultations) HasInProgress(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error) {
	return s.inProgress, s.inProgressErr
}

func (s *stubConsultations) LatestCompletedAt(ctx context.Context, patientID, clinicianID uuid.UUID) (*time.Time, error) {
	return s.latest, s.latestErr
}

type stubEmergencies struct {
	claimed bool
	err     error
}

func (s *stubEmergencies) HasActiveClaim(ctx context.Context, patientID, clinicianID uuid.UUID) (bool, error) {
	return s.claimed, s.err
}

type stubBlocks struct {
	blocked bool
	err     error
}

func (s *stubBlocks) IsBlocked(ctx context.Context, clinicianID, patientID uuid.UUID) (bool, error) {
	return s.blocked, s.err
}

type stubCapsSource struct {
	result *CapResult
	err    error
	checks int
}

func (s *stubCapsSource) Check(ctx context.Context, patientID, clinicianID uuid.UUID) (*CapResult, error) {
	s.checks++
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &CapResult{Allowed: true}, nil
}

func recentTime(ago time.Duration) *time.Time {
	t := time.Now().Add(-ago)
	return &t
}

func evaluate(t *testing.T, engine *PolicyEngine) *Decision {
	t.Helper()
	decision, err := engine.Evaluate(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return decision
}

func TestPolicyBlockBeatsEverything(t *testing.T) {
	// Blocked wins even with an active consultation under way.
	engine := NewPolicyEngine(
		&stubConsultations{inProgress: true},
		&stubEmergencies{claimed: true},
		&stubBlocks{blocked: true},
		&stubCapsSource{},
		0, nil,
	)

	decision := evaluate(t, engine)
	if decision.Allowed {
		t.Fatal("blocked patient was allowed")
	}
	if decision.Reason != ReasonBlocked {
		t.Errorf("reason = %q, want %q", decision.Reason, ReasonBlocked)
	}
}

func TestPolicyActiveConsultationBypassesCaps(t *testing.T) {
	caps := &stubCapsSource{result: &CapResult{Allowed: false}}
	engine := NewPolicyEngine(
		&stubConsultations{inProgress: true},
		&stubEmergencies{},
		&stubBlocks{},
		caps,
		0, nil,
	)

	decision := evaluate(t, engine)
	if !decision.Allowed || !decision.BypassCaps {
		t.Fatalf("decision = %+v, want allowed with caps bypassed", decision)
	}
	if caps.checks != 0 {
		t.Errorf("caps were checked %d times during an active consultation", caps.checks)
	}
}

func TestPolicyClaimedEmergencyCountsAsActive(t *testing.T) {
	engine := NewPolicyEngine(
		&stubConsultations{},
		&stubEmergencies{claimed: true},
		&stubBlocks{},
		&stubCapsSource{result: &CapResult{Allowed: false}},
		0, nil,
	)

	decision := evaluate(t, engine)
	if !decision.Allowed || !decision.BypassCaps {
		t.Fatalf("decision = %+v, want allowed with caps bypassed", decision)
	}
}

func TestPolicyRequiresRecentConsultation(t *testing.T) {
	tests := []struct {
		name    string
		latest  *time.Time
		allowed bool
	}{
		{"never consulted", nil, false},
		{"window expired", recentTime(15 * 24 * time.Hour), false},
		{"inside window", recentTime(13 * 24 * time.Hour), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewPolicyEngine(
				&stubConsultations{latest: tc.latest},
				&stubEmergencies{},
				&stubBlocks{},
				&stubCapsSource{},
				14*24*time.Hour, nil,
			)
			decision := evaluate(t, engine)
			if decision.Allowed != tc.allowed {
				t.Errorf("allowed = %v, want %v", decision.Allowed, tc.allowed)
			}
			if !tc.allowed && decision.Reason != ReasonNoRecentConsultation {
				t.Errorf("reason = %q, want %q", decision.Reason, ReasonNoRecentConsultation)
			}
		})
	}
}

func TestPolicyCapDenial(t *testing.T) {
	engine := NewPolicyEngine(
		&stubConsultations{latest: recentTime(24 * time.Hour)},
		&stubEmergencies{},
		&stubBlocks{},
		&stubCapsSource{result: &CapResult{Allowed: false, RetryAfter: 42 * time.Second}},
		0, nil,
	)

	decision := evaluate(t, engine)
	if decision.Allowed {
		t.Fatal("capped patient was allowed")
	}
	if decision.Reason != ReasonRateLimited {
		t.Errorf("reason = %q, want %q", decision.Reason, ReasonRateLimited)
	}
	if decision.RetryAfter != 42*time.Second {
		t.Errorf("retry after = %v, want 42s", decision.RetryAfter)
	}
}

func TestPolicyCapErrorDegradesToAllowed(t *testing.T) {
	engine := NewPolicyEngine(
		&stubConsultations{latest: recentTime(24 * time.Hour)},
		&stubEmergencies{},
		&stubBlocks{},
		&stubCapsSource{err: errors.New("redis: connection refused")},
		0, nil,
	)

	decision := evaluate(t, engine)
	if !decision.Allowed {
		t.Fatal("cap outage must not block sends")
	}
}

func TestPolicyDBErrorsStopTheSend(t *testing.T) {
	dbErr := errors.New("pg: connection reset")
	tests := []struct {
		name   string
		engine *PolicyEngine
	}{
		{"block check", NewPolicyEngine(&stubConsultations{}, &stubEmergencies{}, &stubBlocks{err: dbErr}, nil, 0, nil)},
		{"consultation check", NewPolicyEngine(&stubConsultations{inProgressErr: dbErr}, &stubEmergencies{}, &stubBlocks{}, nil, 0, nil)},
		{"emergency check", NewPolicyEngine(&stubConsultations{}, &stubEmergencies{err: dbErr}, &stubBlocks{}, nil, 0, nil)},
		{"window check", NewPolicyEngine(&stubConsultations{latestErr: dbErr}, &stubEmergencies{}, &stubBlocks{}, nil, 0, nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.engine.Evaluate(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, dbErr) {
				t.Errorf("err = %v, want wrapped %v", err, dbErr)
			}
		})
	}
}

func TestPolicyNilCapsSkipsMetering(t *testing.T) {
	engine := NewPolicyEngine(
		&stubConsultations{latest: recentTime(time.Hour)},
		&stubEmergencies{},
		&stubBlocks{},
		nil,
		0, nil,
	)

	decision := evaluate(t, engine)
	if !decision.Allowed {
		t.Fatal("send denied with caps disabled")
	}
}
