package device

import (
	"context"

	"scanstation/internal/workflow"
)

// Driver controls a single camera.
type Driver interface {
	Name() string
	Connected() bool
	// Prepare readies the camera and applies the session's device settings.
	Prepare(ctx context.Context, settings workflow.DeviceSettings) error
	// Capture writes one image to path.
	Capture(ctx context.Context, path string, target workflow.Parity) error
	Finalize(ctx context.Context) error
}

// Status describes one driver for the CLI and API.
type Status struct {
	Name      string          `json:"name"`
	Target    workflow.Parity `json:"target,omitempty"`
	Connected bool            `json:"connected"`
}
