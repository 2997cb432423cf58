// Package config defines the daemon settings and provides helpers to load
// and validate them from a YAML file with environment-variable overrides.
//
// Malformed settings are a fatal startup condition: the daemon reports the
// problem and exits with the configuration error code.
package config
