package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "iotbridge"

// Metrics holds the IoT bridge metric instruments.
type Metrics struct {
	JoinsSubmitted   metric.Int64Counter
	JoinsApproved    metric.Int64Counter
	JoinsRejected    metric.Int64Counter
	ApprovalSteps    metric.Int64Counter
	ApprovalDuration metric.Float64Histogram
	Enrollments      metric.Int64Counter
	Allocations      metric.Int64Counter
	WebhookEvents    metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates the instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.JoinsSubmitted, err = meter.Int64Counter("iotbridge.joins.submitted",
		metric.WithDescription("JOIN requests submitted or resubmitted"))
	if err != nil {
		return nil, err
	}

	m.JoinsApproved, err = meter.Int64Counter("iotbridge.joins.approved",
		metric.WithDescription("JOIN requests approved"))
	if err != nil {
		return nil, err
	}

	m.JoinsRejected, err = meter.Int64Counter("iotbridge.joins.rejected",
		metric.WithDescription("JOIN requests rejected"))
	if err != nil {
		return nil, err
	}

	m.ApprovalSteps, err = meter.Int64Counter("iotbridge.approval.steps",
		metric.WithDescription("Approval provisioning steps by step and outcome"))
	if err != nil {
		return nil, err
	}

	m.ApprovalDuration, err = meter.Float64Histogram("iotbridge.approval.duration_seconds",
		metric.WithDescription("Approval workflow duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Enrollments, err = meter.Int64Counter("iotbridge.enrollments",
		metric.WithDescription("Device enrollments by outcome"))
	if err != nil {
		return nil, err
	}

	m.Allocations, err = meter.Int64Counter("iotbridge.wireguard.allocations",
		metric.WithDescription("WireGuard address allocations"))
	if err != nil {
		return nil, err
	}

	m.WebhookEvents, err = meter.Int64Counter("iotbridge.webhook.events",
		metric.WithDescription("ThingsBoard webhook events by kind and status"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
