// Package config loads the service configuration from an optional JSON or
// YAML file, overlays values from a .env file and the process environment,
// and fills in defaults for every driver the service can run with.
package config
