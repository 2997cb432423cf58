// Package identity models the client's registration credential: the
// server-assigned ids, the signing keypair and the registration status.
//
// Identity transitions are persisted before being acted upon; no message is
// sent under a credential that is not durably stored.
package identity
