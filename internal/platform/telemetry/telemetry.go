package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter for %s: %w", serviceName, err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SessionMetrics holds the OTel instruments for the session authority and its HTTP surface.
type SessionMetrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	transitionsTotal        otelmetric.Int64Counter
	lookupsTotal            otelmetric.Int64Counter
	lookupDuration          otelmetric.Float64Histogram
	staleResultsTotal       otelmetric.Int64Counter
	signInsTotal            otelmetric.Int64Counter
	signOutsTotal           otelmetric.Int64Counter
	cacheWritesTotal        otelmetric.Int64Counter
	jwksRefreshesTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
}

// NewSessionMetrics creates and registers all session metrics.
func NewSessionMetrics() (*SessionMetrics, error) {
	meter := otel.Meter("teamcards")
	m := &SessionMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("teamcards_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("teamcards_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.transitionsTotal, err = meter.Int64Counter("teamcards_session_transitions_total",
		otelmetric.WithDescription("Authorization view transitions by resulting state")); err != nil {
		return nil, fmt.Errorf("creating session_transitions_total: %w", err)
	}
	if m.lookupsTotal, err = meter.Int64Counter("teamcards_directory_lookups_total",
		otelmetric.WithDescription("Directory lookups by outcome")); err != nil {
		return nil, fmt.Errorf("creating directory_lookups_total: %w", err)
	}
	if m.lookupDuration, err = meter.Float64Histogram("teamcards_directory_lookup_duration_seconds",
		otelmetric.WithDescription("Directory lookup duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating directory_lookup_duration: %w", err)
	}
	if m.staleResultsTotal, err = meter.Int64Counter("teamcards_stale_results_discarded_total",
		otelmetric.WithDescription("Directory results dropped because the identity changed")); err != nil {
		return nil, fmt.Errorf("creating stale_results_discarded_total: %w", err)
	}
	if m.signInsTotal, err = meter.Int64Counter("teamcards_sign_ins_total",
		otelmetric.WithDescription("Sign-in attempts by outcome")); err != nil {
		return nil, fmt.Errorf("creating sign_ins_total: %w", err)
	}
	if m.signOutsTotal, err = meter.Int64Counter("teamcards_sign_outs_total",
		otelmetric.WithDescription("Remote sign-out calls by outcome")); err != nil {
		return nil, fmt.Errorf("creating sign_outs_total: %w", err)
	}
	if m.cacheWritesTotal, err = meter.Int64Counter("teamcards_cache_writes_total",
		otelmetric.WithDescription("Persisted cache writes by operation and outcome")); err != nil {
		return nil, fmt.Errorf("creating cache_writes_total: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("teamcards_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("teamcards_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records a request to the local HTTP surface.
func (m *SessionMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordTransition records a published view by its resolution state.
func (m *SessionMetrics) RecordTransition(ctx context.Context, state string) {
	m.transitionsTotal.Add(ctx, 1, otelmetric.WithAttributes(stateAttr(state)))
}

// RecordLookup records a completed directory lookup ("found", "absent", "failed").
func (m *SessionMetrics) RecordLookup(ctx context.Context, result string, durationSec float64) {
	attrs := otelmetric.WithAttributes(resultAttr(result))
	m.lookupsTotal.Add(ctx, 1, attrs)
	m.lookupDuration.Record(ctx, durationSec, attrs)
}

// RecordStaleResult records a directory result dropped by the race rule.
func (m *SessionMetrics) RecordStaleResult(ctx context.Context) {
	m.staleResultsTotal.Add(ctx, 1)
}

// RecordSignIn records a sign-in attempt.
func (m *SessionMetrics) RecordSignIn(ctx context.Context, result string) {
	m.signInsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordSignOut records a remote sign-out call.
func (m *SessionMetrics) RecordSignOut(ctx context.Context, result string) {
	m.signOutsTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordCacheWrite records a persisted cache save or clear.
func (m *SessionMetrics) RecordCacheWrite(ctx context.Context, op, result string) {
	m.cacheWritesTotal.Add(ctx, 1, otelmetric.WithAttributes(opAttr(op), resultAttr(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *SessionMetrics) RecordJWKSRefresh(ctx context.Context, result string) {
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *SessionMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}
