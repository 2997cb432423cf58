// Package collector defines the pluggable fact collectors: each produces a
// timestamped snapshot of one monitored category (hardware inventory,
// running processes, network interfaces, installed packages, subscription
// status). Collectors register with the reporter explicitly at startup.
package collector
