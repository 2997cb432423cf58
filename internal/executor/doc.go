// Package executor runs remotely issued commands through the plugin
// registry with bounded concurrency and write-ahead persistence.
//
// Every lifecycle transition (received, executing, completed or failed,
// delivered) hits the store before the executor acts on it. Results are
// reported upstream with stable message identifiers, so the combination of
// server-side deduplication and the delivered marker yields exactly-once
// result reporting even across daemon restarts.
package executor
