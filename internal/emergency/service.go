package emergency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medpoint/telecare-platform/internal/clinicians"
	"github.com/medpoint/telecare-platform/pkg/logging"
)

var (
	// ErrForbidden indicates the actor may not act on the request.
	ErrForbidden = errors.New("emergency: forbidden")
	// ErrInvalidRequest indicates malformed input.
	ErrInvalidRequest = errors.New("emergency: invalid request")
)

// CandidateSource lists clinicians eligible for emergency dispatch.
type CandidateSource interface {
	ListEmergencyCandidates(ctx context.Context) ([]clinicians.EmergencyCandidate, error)
}

// RequestStore is the persistence surface the service drives.
type RequestStore interface {
	Insert(ctx context.Context, req *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	Claim(ctx context.Context, id, clinicianID uuid.UUID) (*Request, error)
	Close(ctx context.Context, id uuid.UUID, resolution string) (*Request, error)
	ListOpen(ctx context.Context, limit int) ([]Request, error)
}

// Emitter publishes domain events for delivery after commit.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// claimMetrics counts successful claims.
type claimMetrics interface {
	ObserveEmergencyClaim()
}

// Service runs the emergency dispatch flow.
type Service struct {
	store      RequestStore
	candidates CandidateSource
	emitter    Emitter
	metrics    claimMetrics
	radiusKM   float64
	logger     *logging.Logger
}

func NewService(store RequestStore, candidates CandidateSource, emitter Emitter, radiusKM float64, logger *logging.Logger) *Service {
	if radiusKM <= 0 {
		radiusKM = 25
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, candidates: candidates, emitter: emitter, radiusKM: radiusKM, logger: logger}
}

// Create opens a request and returns the nearby clinicians ordered by
// distance. An empty candidate list is not an error; the request stays open
// for the dispatch board.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, lat, lng float64, complaint string) (*Request, []Candidate, error) {
	if err := ValidateCoordinates(lat, lng); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	complaint = strings.TrimSpace(complaint)
	if complaint == "" {
		return nil, nil, fmt.Errorf("%w: complaint is required", ErrInvalidRequest)
	}

	req := &Request{PatientID: patientID, Latitude: lat, Longitude: lng, Complaint: complaint}
	if err := s.store.Insert(ctx, req); err != nil {
		return nil, nil, err
	}

	nearby, err := s.Nearby(ctx, lat, lng)
	if err != nil {
		// The request is already open; a dispatch lookup failure should
		// not fail the call.
		s.logger.Error("emergency: list candidates", "error", err, "request_id", req.ID)
		nearby = nil
	}

	s.emit(ctx, "emergency.opened.v1", req)
	return req, nearby, nil
}

// Nearby returns eligible clinicians within the dispatch radius, closest
// first.
func (s *Service) Nearby(ctx context.Context, lat, lng float64) ([]Candidate, error) {
	all, err := s.candidates.ListEmergencyCandidates(ctx)
	if err != nil {
		return nil, err
	}
	out := []Candidate{}
	for _, c := range all {
		d := HaversineKM(lat, lng, c.Latitude, c.Longitude)
		if d > s.radiusKM {
			continue
		}
		out = append(out, Candidate{ClinicianID: c.AccountID, Specialty: c.Specialty, DistanceKM: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKM < out[j].DistanceKM })
	return out, nil
}

// WithMetrics wires the claims counter.
func (s *Service) WithMetrics(m claimMetrics) *Service {
	s.metrics = m
	return s
}

// Claim assigns the request to the clinician. First claim wins.
func (s *Service) Claim(ctx context.Context, id, clinicianID uuid.UUID) (*Request, error) {
	req, err := s.store.Claim(ctx, id, clinicianID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveEmergencyClaim()
	}
	s.emit(ctx, "emergency.claimed.v1", req)
	return req, nil
}

// Close resolves the request. Only the claiming clinician or the patient can
// close it.
func (s *Service) Close(ctx context.Context, id, actor uuid.UUID, resolution string) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	isClaimer := req.ClaimedBy != nil && *req.ClaimedBy == actor
	if !isClaimer && req.PatientID != actor {
		return nil, ErrForbidden
	}
	closed, err := s.store.Close(ctx, id, resolution)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, "emergency.closed.v1", closed)
	return closed, nil
}

// Get returns the request for a party to it.
func (s *Service) Get(ctx context.Context, id, actor uuid.UUID) (*Request, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	isClaimer := req.ClaimedBy != nil && *req.ClaimedBy == actor
	if !isClaimer && req.PatientID != actor {
		return nil, ErrForbidden
	}
	return req, nil
}

// ListOpen returns the open dispatch board for clinicians.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Request, error) {
	return s.store.ListOpen(ctx, limit)
}

func (s *Service) emit(ctx context.Context, eventType string, req *Request) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, eventType, req); err != nil {
		s.logger.Error("emergency: emit event", "error", err, "event_type", eventType, "request_id", req.ID)
	}
}

// ExpiryRunner lets the reminder worker expire stale requests without
// depending on the full service.
type ExpiryRunner struct {
	Store interface {
		ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}
	TTL    time.Duration
	Logger *logging.Logger
}

// Run expires open requests older than the TTL and reports how many closed.
func (e *ExpiryRunner) Run(ctx context.Context) (int64, error) {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	n, err := e.Store.ExpireOlderThan(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 && e.Logger != nil {
		e.Logger.Info("emergency: expired stale requests", "count", n)
	}
	return n, nil
}
