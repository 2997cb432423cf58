// Package reporter drives periodic fact collection and report delivery.
// Each collector runs on its own schedule; failures are isolated per
// collector. Snapshots queue in the persistent store and are transmitted in
// collection order, with unchanged snapshots suppressed by fingerprint.
package reporter
