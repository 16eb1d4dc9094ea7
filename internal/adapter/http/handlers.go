package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/iotbridge/internal/domain/device"
	"github.com/Strob0t/iotbridge/internal/domain/join"
	"github.com/Strob0t/iotbridge/internal/domain/webhook"
	"github.com/Strob0t/iotbridge/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Join       *service.JoinService
	Enrollment *service.EnrollmentService
	Webhooks   *service.WebhookService
	Tenants    *service.TenantService
	// Provisioners is nil when no admin provisioner is configured.
	Provisioners *service.ProvisionerService
	// Ready reports whether the record store can be read.
	Ready func(ctx context.Context) error
	// Upstreams reports the circuit breaker state per upstream service.
	Upstreams   func() map[string]string
	ServiceName string
}

// ---------------------------------------------------------------------------
// Ops
// ---------------------------------------------------------------------------

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": h.ServiceName})
}

type readiness struct {
	Status    string            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Upstreams map[string]string `json:"upstreams,omitempty"`
}

// Readiness reports 503 until the record store is readable. Open circuit
// breakers are reported but do not make the bridge unready: approvals
// degrade step by step.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	res := readiness{Status: "ready"}
	if h.Upstreams != nil {
		res.Upstreams = h.Upstreams()
	}
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			res.Status, res.Error = "unavailable", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, res)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// JOIN workflow
// ---------------------------------------------------------------------------

type submitResponse struct {
	Status   join.Status `json:"status"`
	TenantID string      `json:"tenant_id"`
	Message  string      `json:"message"`
	PollURL  string      `json:"poll_url"`
}

// SubmitJoinRequest handles POST /portal/admin/join-request/{tenant_id}.
func (h *Handlers) SubmitJoinRequest(w http.ResponseWriter, r *http.Request) {
	tenantID := urlParam(r, "tenant_id")
	if err := join.ValidateTenantID(tenantID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	p, ok := readJSON[join.SubmitPayload](w, r)
	if !ok {
		return
	}
	req, err := h.Join.Submit(r.Context(), tenantID, p)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:   req.Status,
		TenantID: tenantID,
		Message:  "JOIN request received. Awaiting Provider Admin approval.",
		PollURL:  join.PollURL(tenantID),
	})
}

type listResponse struct {
	JoinRequests []*join.Request `json:"join_requests"`
	Total        int             `json:"total"`
}

// ListJoinRequests handles GET /portal/admin/join-requests.
func (h *Handlers) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	all, err := h.Join.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{JoinRequests: all, Total: len(all)})
}

// ApproveJoinRequest handles POST /portal/admin/tenants/{tenant_id}/approve.
func (h *Handlers) ApproveJoinRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Join.Approve(r.Context(), urlParam(r, "tenant_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type rejectResponse struct {
	TenantID string      `json:"tenant_id"`
	Status   join.Status `json:"status"`
}

// RejectJoinRequest handles POST /portal/admin/tenants/{tenant_id}/reject.
// The body is optional.
func (h *Handlers) RejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readOptionalJSON[rejectRequest](w, r)
	if !ok {
		return
	}
	req, err := h.Join.Reject(r.Context(), urlParam(r, "tenant_id"), body.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rejectResponse{TenantID: req.TenantID, Status: req.Status})
}

// DeleteTenant handles DELETE /portal/admin/tenants/{tenant_id}.
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	res, err := h.Tenants.Delete(r.Context(), urlParam(r, "tenant_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// JoinStatus handles GET /portal/admin/tenants/{tenant_id}/join-status.
func (h *Handlers) JoinStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Join.Status(r.Context(), urlParam(r, "tenant_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

// EnrollDevice handles POST /devices/{device_id}/enroll.
func (h *Handlers) EnrollDevice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[device.EnrollRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Enrollment.Enroll(r.Context(), urlParam(r, "device_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ThingsBoardDevice handles POST /webhooks/thingsboard.
func (h *Handlers) ThingsBoardDevice(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[webhook.ThingsBoardEvent](w, r)
	if !ok {
		return
	}
	res, err := h.Webhooks.DeviceConnected(r.Context(), &ev)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ThingsBoardTelemetry handles POST /webhooks/thingsboard/telemetry.
func (h *Handlers) ThingsBoardTelemetry(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[webhook.ThingsBoardEvent](w, r)
	if !ok {
		return
	}
	res, err := h.Webhooks.Telemetry(r.Context(), &ev)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
