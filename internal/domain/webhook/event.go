// Package webhook defines the ThingsBoard rule-engine event and its telemetry projection.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMsgType is assumed when an event carries no msgType.
const DefaultMsgType = "UNKNOWN"

// ThingsBoardEvent is a rule-engine HTTP call. ThingsBoard payloads are loosely
// shaped: msgType, metadata and data are recognized, everything else lands in Extra.
type ThingsBoardEvent struct {
	MsgType  string
	Metadata map[string]any
	// Data is nil when the event's data is not a JSON object.
	Data map[string]any
	// RawData holds data that arrived as a JSON string.
	RawData string
	Extra   map[string]json.RawMessage
}

// UnmarshalJSON splits the payload into known fields and the open attribute map.
// Numbers are kept as json.Number so integers and floats stay distinguishable.
func (e *ThingsBoardEvent) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	e.MsgType = DefaultMsgType
	e.Metadata = map[string]any{}
	e.Extra = map[string]json.RawMessage{}

	for k, v := range raw {
		switch k {
		case "msgType":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("msgType: %w", err)
			}
			if s != "" {
				e.MsgType = s
			}
		case "metadata":
			if err := decodeNumbers(v, &e.Metadata); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
		case "data":
			if len(v) > 0 && v[0] == '"' {
				if err := json.Unmarshal(v, &e.RawData); err != nil {
					return fmt.Errorf("data: %w", err)
				}
				continue
			}
			if err := decodeNumbers(v, &e.Data); err != nil {
				return fmt.Errorf("data: %w", err)
			}
		default:
			e.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON writes the event back in ThingsBoard's shape.
func (e ThingsBoardEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["msgType"] = e.MsgType
	out["metadata"] = e.Metadata
	if e.Data != nil {
		out["data"] = e.Data
	} else {
		out["data"] = e.RawData
	}
	return json.Marshal(out)
}

func decodeNumbers(b []byte, dst *map[string]any) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(dst)
}

// MetaString returns metadata[key] rendered as a string, or "" if absent or empty.
func (e *ThingsBoardEvent) MetaString(key string) string {
	v, ok := e.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DeviceID returns the first non-empty of the metadata keys ThingsBoard uses to
// identify a device, depending on rule chain configuration.
func (e *ThingsBoardEvent) DeviceID() string {
	for _, k := range []string{"deviceId", "clientId", "deviceName"} {
		if v := e.MetaString(k); v != "" {
			return v
		}
	}
	return ""
}

// Response statuses returned to the rule engine.
const (
	StatusIgnored            = "ignored"
	StatusAlreadyProvisioned = "already_provisioned"
	StatusProvisioned        = "provisioned"
	StatusWritten            = "written"
)

const (
	ReasonNoDeviceID        = "No device_id found in event metadata"
	ReasonNoTelemetryFields = "No numeric or string fields in telemetry payload"
)

const (
	SourceThingsBoardWebhook = "thingsboard_webhook"
	DefaultTelemetryTenantID = "unknown"
	TelemetryMeasurement     = "device_telemetry"
)

// ProvisionResult answers a device-connected event.
type ProvisionResult struct {
	Status      string `json:"status"`
	DeviceID    string `json:"device_id,omitempty"`
	WireGuardIP string `json:"wireguard_ip,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// TelemetryResult answers a telemetry event.
type TelemetryResult struct {
	Status        string `json:"status"`
	DeviceID      string `json:"device_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	PointsWritten int    `json:"points_written"`
	Reason        string `json:"reason,omitempty"`
}
