// Package command models remotely issued administrative instructions and
// their write-ahead lifecycle: received, executing, completed/failed and
// finally delivered once the server acknowledges the result.
package command
