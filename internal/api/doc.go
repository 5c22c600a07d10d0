// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates the capture controller's snapshot and the device
// service's status into transport-friendly DTOs that the CLI and browser
// front ends can render without coupling to internal types.
//
// # Key Types
//
// CaptureState: the presentation projection (busy indicator, page count,
// speed, last two pages, overlay, crop parameters, shortcut labels, last error).
//
// CropRequest: a crop rectangle plus the native image size it was drawn on.
//
// DeviceSettings: per-session camera options edited in the configuration overlay.
//
// ErrorResponse: error text with its classification, operator hint, and
// per-field validation messages.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Page
// parity is exposed as the lowercase strings "odd" and "even". Timestamps use
// RFC3339 with milliseconds.
package api
