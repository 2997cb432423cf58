// Package daemon wires the client together: configuration, persistent
// store, transport channel, registration, fact reporting, command execution
// and the local control socket, all supervised under one context.
package daemon
