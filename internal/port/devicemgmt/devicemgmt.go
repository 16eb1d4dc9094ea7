// Package devicemgmt defines the device-management (OTA server) port.
package devicemgmt

import "context"

// Target is a device registered with the OTA server.
type Target struct {
	ControllerID string `json:"controllerId"`
	Name         string `json:"name"`
}

// Registry manages device registrations.
type Registry interface {
	// GetTarget returns nil, nil when the device is unknown.
	GetTarget(ctx context.Context, controllerID string) (*Target, error)
	// CreateTarget registers the device and sets its attributes.
	CreateTarget(ctx context.Context, controllerID, name string, attrs map[string]string) (*Target, error)
}
