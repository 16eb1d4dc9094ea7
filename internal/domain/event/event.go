// Package event defines onboarding lifecycle events published to the message bus.
package event

import "time"

// Kind identifies the lifecycle transition an event reports.
type Kind string

const (
	KindJoinSubmitted     Kind = "join.submitted"
	KindJoinApproved      Kind = "join.approved"
	KindJoinRejected      Kind = "join.rejected"
	KindDeviceEnrolled    Kind = "device.enrolled"
	KindDeviceProvisioned Kind = "device.provisioned"
	KindTenantCreated     Kind = "tenant.created"
	KindTenantDeleted     Kind = "tenant.deleted"
)

// SubjectPrefix is prepended to every event kind to form its bus subject.
const SubjectPrefix = "iotbridge.events."

// Subject returns the bus subject for k.
func (k Kind) Subject() string { return SubjectPrefix + string(k) }

// Event is an immutable record of one lifecycle transition.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	TenantID   string            `json:"tenant_id,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
