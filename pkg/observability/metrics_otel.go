package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for access-control events.
// HTTP server metrics come from otelhttp.
type OTelMetrics struct {
	authzDecisions       metric.Int64Counter
	authzDuration        metric.Float64Histogram
	bootstrapAttempts    metric.Int64Counter
	invitationRedeems    metric.Int64Counter
	rateLimitRejections  metric.Int64Counter
	membershipResolution metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.authzDecisions, err = meter.Int64Counter(
		"tenantgate.authz.decisions",
		metric.WithDescription("Authorization decisions by surface and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.authzDuration, err = meter.Float64Histogram(
		"tenantgate.authz.duration",
		metric.WithDescription("Time spent computing an authorization decision"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz duration histogram: %w", err)
	}

	m.bootstrapAttempts, err = meter.Int64Counter(
		"tenantgate.bootstrap.attempts",
		metric.WithDescription("First super admin initialization attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap attempts counter: %w", err)
	}

	m.invitationRedeems, err = meter.Int64Counter(
		"tenantgate.invitations.redeems",
		metric.WithDescription("Invitation redemption attempts"),
		metric.WithUnit("{redeem}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation redeems counter: %w", err)
	}

	m.rateLimitRejections, err = meter.Int64Counter(
		"tenantgate.ratelimit.rejections",
		metric.WithDescription("Requests rejected by a rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	m.membershipResolution, err = meter.Float64Histogram(
		"tenantgate.membership.resolution.duration",
		metric.WithDescription("Time spent resolving tenant membership"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership resolution histogram: %w", err)
	}

	return m, nil
}

// RecordAuthzDecision records one guard decision
func (m *OTelMetrics) RecordAuthzDecision(ctx context.Context, surface, outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("surface", surface),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)
	m.authzDecisions.Add(ctx, 1, attrs)
	m.authzDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("surface", surface)))
}

// RecordBootstrapAttempt records an initialization attempt
func (m *OTelMetrics) RecordBootstrapAttempt(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.bootstrapAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordInvitationRedeem records a redemption attempt
func (m *OTelMetrics) RecordInvitationRedeem(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.invitationRedeems.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimitRejection records a rejected request
func (m *OTelMetrics) RecordRateLimitRejection(ctx context.Context, limiter string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter", limiter)))
}

// RecordMembershipResolution records how long a membership lookup took
func (m *OTelMetrics) RecordMembershipResolution(ctx context.Context, duration time.Duration, found bool) {
	if m == nil {
		return
	}
	m.membershipResolution.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("found", found)))
}
