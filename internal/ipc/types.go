package ipc

import "scanstation/internal/api"

// StatusRequest fetches the capture state.
type StatusRequest struct{}

// StatusResponse combines daemon runtime information with the capture state.
type StatusResponse struct {
	Running      bool               `json:"running"`
	SessionDir   string             `json:"session_dir"`
	LockPath     string             `json:"lock_path"`
	DatabasePath string             `json:"database_path"`
	APIAddress   string             `json:"api_address"`
	Capture      *api.CaptureState  `json:"capture,omitempty"`
	Devices      []api.DeviceStatus `json:"devices"`
}

// TriggerRequest asks for a capture; Retake replaces the previous one.
type TriggerRequest struct {
	Retake bool `json:"retake"`
}

// TriggerResponse reports whether the request reached the device.
type TriggerResponse = api.TriggerResponse

// FinishRequest ends the capture phase.
type FinishRequest struct{}

// FinishResponse acknowledges a finish request.
type FinishResponse struct {
	Finishing bool `json:"finishing"`
}

// KeyRequest presses a bound shortcut key.
type KeyRequest struct {
	Key string `json:"key"`
}

// KeyResponse reports whether the key had a binding.
type KeyResponse struct {
	Handled bool `json:"handled"`
}

// CropRequest stores a crop rectangle.
type CropRequest = api.CropRequest

// CropResponse acknowledges a crop update.
type CropResponse struct {
	Parity string `json:"parity"`
}

// ClearCropRequest removes every crop rectangle.
type ClearCropRequest struct{}

// ClearCropResponse acknowledges a crop reset.
type ClearCropResponse struct {
	Cleared bool `json:"cleared"`
}

// OverlayRequest opens or closes an overlay. Kind is "config", "crop",
// "lightbox", or "" to close.
type OverlayRequest struct {
	Kind   string `json:"kind"`
	Parity string `json:"parity,omitempty"`
	Page   int    `json:"page,omitempty"`
}

// OverlayResponse returns the capture state after the change.
type OverlayResponse struct {
	Capture api.CaptureState `json:"capture"`
}

// SettingsRequest fetches the session device settings.
type SettingsRequest struct{}

// SettingsResponse carries the session device settings.
type SettingsResponse struct {
	Settings api.DeviceSettings `json:"settings"`
}

// SaveConfigRequest stores device settings.
type SaveConfigRequest struct {
	Settings api.DeviceSettings `json:"settings"`
}

// SaveConfigResponse reports field errors without failing the call so the
// client can highlight them.
type SaveConfigResponse struct {
	Saved  bool              `json:"saved"`
	Fields map[string]string `json:"fields,omitempty"`
}
