package transport

import (
	"encoding/json"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// Message types exchanged with the server.
const (
	// MessageTypeReport carries a fact snapshot.
	MessageTypeReport = "report"
	// MessageTypeCommandResult carries a command execution result.
	MessageTypeCommandResult = "command-result"
)

// Message is one logical unit sent upstream in an exchange. The ID makes
// re-delivery idempotent: the server deduplicates on it.
type Message struct {
	// ID uniquely identifies this message across retransmissions.
	ID string `json:"id"`
	// Type is one of the MessageType constants.
	Type string `json:"type"`
	// Payload is the type-specific body.
	Payload json.RawMessage `json:"payload"`
}

// RegisterRequest is the mutual identity exchange sent at registration.
type RegisterRequest struct {
	// AccountName is the account to register under.
	AccountName string `json:"account_name"`
	// RegistrationKey is the shared secret, possibly empty.
	RegistrationKey string `json:"registration_key,omitempty"`
	// ComputerTitle is the human-readable computer name.
	ComputerTitle string `json:"computer_title"`
	// Hostname is the machine hostname.
	Hostname string `json:"hostname"`
	// PublicKey is the base64 ed25519 verification key the server stores.
	PublicKey string `json:"public_key"`
}

// RegisterResponse is the server's acceptance of a registration.
type RegisterResponse struct {
	// ClientID is the server-assigned computer identifier.
	ClientID string `json:"client_id"`
	// SecureID is the session credential for subsequent exchanges.
	SecureID string `json:"secure_id"`
}

// exchangeRequest is the wire body of one exchange.
type exchangeRequest struct {
	ClientID string    `json:"client_id"`
	SecureID string    `json:"secure_id"`
	Sequence int64     `json:"sequence"`
	Messages []Message `json:"messages"`
}

// ExchangeResult is the server's response to an exchange.
type ExchangeResult struct {
	// AcceptedIDs lists the message ids the server stored. Anything not
	// listed must be retransmitted on a later exchange.
	AcceptedIDs []string `json:"accepted_ids"`
	// Commands are inbound instructions for the daemon to execute.
	Commands []*command.Command `json:"commands"`
}

// Accepted reports whether the message id is in the acknowledged set.
func (r *ExchangeResult) Accepted(id string) bool {
	for _, accepted := range r.AcceptedIDs {
		if accepted == id {
			return true
		}
	}

	return false
}
