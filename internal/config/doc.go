// Package config loads, normalizes, and validates scanstation configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SCANSTATION_API_TOKEN. The Config type centralizes the capture keys, crop
// cadence, device-mode flags, and service bindings the capture process needs.
//
// A Config is loaded once at process start and handed to every component by
// pointer; nothing mutates it after Load returns.
package config
