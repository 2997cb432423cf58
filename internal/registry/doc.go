// Package registry maps command kinds to handler implementations so new
// capabilities can be added without touching the transport core. Handlers
// are registered explicitly at startup; there is no reflection-based
// discovery.
package registry
