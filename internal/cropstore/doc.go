// Package cropstore keeps per-parity crop rectangles for a capture session and
// mirrors them to durable key-value storage.
//
// Parameters are stored as one JSON object under "crop-params.<session id>",
// keyed by parity. A missing or unreadable record loads as an empty mapping.
package cropstore
