// Package handler contains the built-in command handlers registered with
// the plugin registry: power control, process signalling, user account
// management, network interface control and bounded script execution.
//
// Handlers translate command parameters into system tools, never crash the
// daemon on failure and return structured payloads for upstream reporting.
package handler
