// Package services defines shared utilities consumed by the capture components
// and the device service.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, workflow steps, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, with Kind and Hint to
//     translate failures into operator-facing status.
package services
