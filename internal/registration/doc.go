// Package registration owns the client's Identity lifecycle: establishing
// trust with the management server, persisting the credential before it is
// acted upon, and atomically replacing it on re-registration.
package registration
