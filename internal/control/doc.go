// Package control exposes the local administration surface of the daemon
// over a unix domain socket: registration, status, an exchange trigger and
// the metrics endpoint. The socket is the only local interface; the daemon
// never listens on the network.
package control
