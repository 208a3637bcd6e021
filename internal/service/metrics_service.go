package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campushub/campus-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the auth
// surface.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	securityEvents  *prometheus.CounterVec
	sessionSweeps   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Refresh token exchanges by outcome",
	}, []string{"result"})

	securityEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_events_total",
		Help: "Security events by severity and kind",
	}, []string{"severity", "kind"})

	sessionSweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_deletions_total",
		Help: "Expired session and refresh token records removed by the sweeper",
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, refreshTotal, securityEvents, sessionSweeps)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		refreshTotal:    refreshTotal,
		securityEvents:  securityEvents,
		sessionSweeps:   sessionSweeps,
	}
}

// Handler exposes the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// ObserveLogin records a login attempt outcome.
func (s *MetricsService) ObserveLogin(result string) {
	s.loginTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh records a token refresh outcome.
func (s *MetricsService) ObserveRefresh(result string) {
	s.refreshTotal.WithLabelValues(result).Inc()
}

// ObserveSecurityEvent counts a recorded security event.
func (s *MetricsService) ObserveSecurityEvent(severity models.Severity, kind string) {
	s.securityEvents.WithLabelValues(string(severity), kind).Inc()
}

// ObserveSweep counts records removed by the expiry sweeper.
func (s *MetricsService) ObserveSweep(removed int64) {
	s.sessionSweeps.Add(float64(removed))
}
