package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// PlatformMetrics exposes counters/histograms for the API surface.
type PlatformMetrics struct {
	httpDuration       *prometheus.HistogramVec
	chatMessagesTotal  *prometheus.CounterVec
	policyDenialsTotal *prometheus.CounterVec
	bookingsTotal      prometheus.Counter
	emergencyClaims    prometheus.Counter
}

func NewPlatformMetrics(reg prometheus.Registerer) *PlatformMetrics {
	m := &PlatformMetrics{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telecare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		chatMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Total chat send attempts by outcome",
		}, []string{"outcome"}),
		policyDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "chat",
			Name:      "policy_denials_total",
			Help:      "Total chat policy denials by reason",
		}, []string{"reason"}),
		bookingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Total appointments booked",
		}),
		emergencyClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "emergency",
			Name:      "claims_total",
			Help:      "Total emergency requests claimed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.httpDuration, m.chatMessagesTotal, m.policyDenialsTotal, m.bookingsTotal, m.emergencyClaims)
	return m
}

// ObserveChatSend counts one send attempt: sent, duplicate, or denied.
func (m *PlatformMetrics) ObserveChatSend(outcome string) {
	if m == nil {
		return
	}
	m.chatMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObservePolicyDenial counts one policy denial by reason.
func (m *PlatformMetrics) ObservePolicyDenial(reason string) {
	if m == nil {
		return
	}
	m.policyDenialsTotal.WithLabelValues(reason).Inc()
}

// ObserveBooking counts one booked appointment.
func (m *PlatformMetrics) ObserveBooking() {
	if m == nil {
		return
	}
	m.bookingsTotal.Inc()
}

// ObserveEmergencyClaim counts one claimed emergency request.
func (m *PlatformMetrics) ObserveEmergencyClaim() {
	if m == nil {
		return
	}
	m.emergencyClaims.Inc()
}

// Middleware records request duration labeled by the chi route pattern, so
// path parameters do not explode cardinality.
func (m *PlatformMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
