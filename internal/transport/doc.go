// Package transport implements the Channel: the authenticated HTTPS session
// between the daemon and the management server.
//
// All traffic is outbound. Reports and command results go up in signed
// message batches; inbound commands ride on the exchange response, so the
// daemon never listens on a network socket. Exchanges are serialized (one
// logical message batch in flight at a time) and carry durable sequence
// numbers so the server can detect gaps and duplicates across restarts.
package transport
