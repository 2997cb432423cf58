// Package report defines the fact report produced by collectors: a category,
// a collection timestamp, an opaque payload and a content fingerprint used
// to suppress unchanged re-reports.
package report
