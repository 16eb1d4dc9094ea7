// Package join defines the tenant JOIN request and its approval state machine.
package join

import (
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/Strob0t/iotbridge/internal/domain"
)

// Status is the lifecycle state of a JOIN request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// DefaultRejectReason is recorded when the admin gives no reason.
const DefaultRejectReason = "Rejected by provider admin."

// Names of the best-effort steps executed on approval, in order.
const (
	StepStepCA         = "step_ca"
	StepRabbitMQ       = "rabbitmq"
	StepMQTTBridgeCert = "mqtt_bridge_cert"
	StepKeycloak       = "keycloak_federation"
	StepWireGuard      = "wireguard"
)

// Bundle holds the provisioning artifacts handed to the tenant after approval.
// Every field stays nil until the step producing it succeeds.
type Bundle struct {
	SignedCert       *string `json:"signed_cert"`
	RootCACert       *string `json:"root_ca_cert"`
	RabbitMQURL      *string `json:"rabbitmq_url"`
	RabbitMQVhost    *string `json:"rabbitmq_vhost"`
	RabbitMQUser     *string `json:"rabbitmq_user"`
	MQTTBridgeCert   *string `json:"mqtt_bridge_cert"`
	IdPClientID      *string `json:"cdm_idp_client_id"`
	IdPClientSecret  *string `json:"cdm_idp_client_secret"`
	DiscoveryURL     *string `json:"cdm_discovery_url"`
	WGServerPubkey   *string `json:"wg_server_pubkey"`
	WGServerEndpoint *string `json:"wg_server_endpoint"`
	WGClientIP       *string `json:"wg_client_ip"`
}

// Request is one tenant's onboarding application. There is exactly one per tenant ID.
type Request struct {
	TenantID       string     `json:"tenant_id"`
	DisplayName    string     `json:"display_name"`
	SubCACSR       string     `json:"sub_ca_csr"`
	MQTTBridgeCSR  string     `json:"mqtt_bridge_csr,omitempty"`
	WGPubkey       string     `json:"wg_pubkey"`
	KeycloakURL    string     `json:"keycloak_url,omitempty"`
	Status         Status     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	ApprovedAt     *time.Time `json:"approved_at"`
	RejectedAt     *time.Time `json:"rejected_at"`
	RejectedReason *string    `json:"rejected_reason"`
	Bundle
}

// SubmitPayload is the body a Tenant-Stack sends to request onboarding.
type SubmitPayload struct {
	DisplayName   string `json:"display_name"`
	SubCACSR      string `json:"sub_ca_csr"`
	WGPubkey      string `json:"wg_pubkey"`
	KeycloakURL   string `json:"keycloak_url,omitempty"`
	MQTTBridgeCSR string `json:"mqtt_bridge_csr,omitempty"`
}

// Validate checks that the required payload fields are present and that
// wg_pubkey is a WireGuard key.
func (p *SubmitPayload) Validate() error {
	if p.DisplayName == "" {
		return domain.Validationf("display_name is required")
	}
	if p.SubCACSR == "" {
		return domain.Validationf("sub_ca_csr is required")
	}
	if p.WGPubkey == "" {
		return domain.Validationf("wg_pubkey is required")
	}
	if _, err := wgtypes.ParseKey(p.WGPubkey); err != nil {
		return domain.Validationf("wg_pubkey is not a valid WireGuard key")
	}
	return nil
}

// NewPending builds a fresh pending request. Any previous record is discarded.
func NewPending(tenantID string, p SubmitPayload, now time.Time) *Request {
	return &Request{
		TenantID:      tenantID,
		DisplayName:   p.DisplayName,
		SubCACSR:      p.SubCACSR,
		MQTTBridgeCSR: p.MQTTBridgeCSR,
		WGPubkey:      p.WGPubkey,
		KeycloakURL:   p.KeycloakURL,
		Status:        StatusPending,
		RequestedAt:   now.UTC(),
	}
}

// CheckResubmit reports whether a new submission may overwrite r.
// Only approved requests are protected.
func (r *Request) CheckResubmit() error {
	if r != nil && r.Status == StatusApproved {
		return domain.Conflictf("Tenant '%s' is already approved.", r.TenantID)
	}
	return nil
}

// CheckApprovable reports whether r may transition to approved.
func (r *Request) CheckApprovable() error {
	switch r.Status {
	case StatusApproved:
		return domain.Conflictf("Already approved.")
	case StatusRejected:
		return domain.Conflictf("Request was rejected. Reset it before approving.")
	}
	return nil
}

// Approve moves r from pending to approved and records the bundle.
func (r *Request) Approve(b Bundle, now time.Time) error {
	if err := r.CheckApprovable(); err != nil {
		return err
	}
	t := now.UTC()
	r.Status = StatusApproved
	r.ApprovedAt = &t
	r.Bundle = b
	return nil
}

// CheckRejectable reports whether r may transition to rejected.
func (r *Request) CheckRejectable() error {
	switch r.Status {
	case StatusApproved:
		return domain.Conflictf("Cannot reject an already approved request.")
	case StatusRejected:
		return domain.Conflictf("Request was already rejected.")
	}
	return nil
}

// Reject moves r from pending to rejected.
func (r *Request) Reject(reason string, now time.Time) error {
	if err := r.CheckRejectable(); err != nil {
		return err
	}
	if reason == "" {
		reason = DefaultRejectReason
	}
	t := now.UTC()
	r.Status = StatusRejected
	r.RejectedAt = &t
	r.RejectedReason = &reason
	return nil
}

// PollURL is the path a tenant polls for the outcome of its request.
func PollURL(tenantID string) string {
	return "/portal/admin/tenants/" + tenantID + "/join-status"
}

// StatusView is what a tenant sees when polling.
type StatusView struct {
	TenantID       string  `json:"tenant_id"`
	Status         Status  `json:"status"`
	RejectedReason *string `json:"rejected_reason"`
	Bundle
}

// View projects r onto the unauthenticated status view.
func (r *Request) View() StatusView {
	return StatusView{
		TenantID:       r.TenantID,
		Status:         r.Status,
		RejectedReason: r.RejectedReason,
		Bundle:         r.Bundle,
	}
}

// Outcome is the per-step bookkeeping of an approval.
type Outcome struct {
	Results map[string]string `json:"results"`
	Errors  map[string]string `json:"errors"`
}

// NewOutcome returns an Outcome with empty maps.
func NewOutcome() *Outcome {
	return &Outcome{Results: map[string]string{}, Errors: map[string]string{}}
}

// Succeed records a successful step.
func (o *Outcome) Succeed(step, result string) { o.Results[step] = result }

// Fail records a failed step.
func (o *Outcome) Fail(step string, err error) { o.Errors[step] = err.Error() }

// Str returns a pointer to s, for populating Bundle fields.
func Str(s string) *string { return &s }

// NotFound reports that no request exists for tenantID.
func NotFound(tenantID string) error {
	return domain.NotFoundf("No JOIN request found for tenant '%s'", tenantID)
}

// BridgeAccount is the messaging account of a tenant's MQTT bridge. It is
// also the subject of the bridge client certificate, which is its credential.
func BridgeAccount(tenantID string) string { return tenantID + "-mqtt-bridge" }

// Approval is the answer to an approve call: the per-step bookkeeping and
// the bundle as persisted.
type Approval struct {
	TenantID string            `json:"tenant_id"`
	Status   Status            `json:"status"`
	Results  map[string]string `json:"results"`
	Errors   map[string]string `json:"errors"`
	Bundle   Bundle            `json:"bundle"`
}
