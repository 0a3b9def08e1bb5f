package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

var checkoutTracer = otel.Tracer("telecare.internal.payments")

// CheckoutParams describes the deposit to collect.
type CheckoutParams struct {
	PaymentID     uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	AmountCents   int64
	Currency      string
	Description   string
}

// CheckoutResponse is the hosted payment page handed back to the patient.
type CheckoutResponse struct {
	URL         string `json:"url"`
	ProviderRef string `json:"provider_ref"`
}

// CheckoutProvider creates hosted checkout sessions.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error)
}

// HTTPCheckoutService talks to the external payment provider's session API.
type HTTPCheckoutService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewHTTPCheckoutService(baseURL, apiKey string, logger *logging.Logger) *HTTPCheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPCheckoutService{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (s *HTTPCheckoutService) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.create_session")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", params.PaymentID.String()),
		attribute.Int64("payment.amount_cents", params.AmountCents),
	)

	if s.baseURL == "" || s.apiKey == "" {
		return nil, fmt.Errorf("payments: checkout provider not configured")
	}
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("payments: amount must be positive")
	}

	body, err := json.Marshal(map[string]any{
		"amount_cents": params.AmountCents,
		"currency":     params.Currency,
		"description":  params.Description,
		"metadata": map[string]string{
			"payment_id":     params.PaymentID.String(),
			"appointment_id": params.AppointmentID.String(),
			"patient_id":     params.PatientID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payments: marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payments: build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("payments: provider returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("payments: decode session response: %w", err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("payments: provider returned no checkout url")
	}
	return &CheckoutResponse{URL: out.URL, ProviderRef: out.ID}, nil
}

// FakeCheckoutService is a dev/demo checkout provider that generates an
// internal URL and lets the patient "complete" the deposit without provider
// credentials.
//
// This MUST be gated by configuration (ALLOW_FAKE_PAYMENTS) and should never
// be enabled in production.
type FakeCheckoutService struct {
	publicBaseURL string
	logger        *logging.Logger
}

func NewFakeCheckoutService(publicBaseURL string, logger *logging.Logger) *FakeCheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeCheckoutService{
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        logger,
	}
}

func (s *FakeCheckoutService) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	_ = ctx
	if params.PaymentID == uuid.Nil {
		return nil, fmt.Errorf("payments: fake checkout requires payment id")
	}
	if s.publicBaseURL == "" {
		return nil, fmt.Errorf("payments: fake checkout requires PUBLIC_BASE_URL")
	}
	if !isValidBaseURL(s.publicBaseURL) {
		return nil, fmt.Errorf("payments: fake checkout PUBLIC_BASE_URL must be an absolute http(s) URL")
	}

	checkoutURL := fmt.Sprintf("%s/payments/fake/%s", s.publicBaseURL, params.PaymentID)
	return &CheckoutResponse{
		URL:         checkoutURL,
		ProviderRef: "fake:" + params.PaymentID.String(),
	}, nil
}

func isValidBaseURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
