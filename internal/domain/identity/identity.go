package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"
)

// Status is the registration state of the client identity.
type Status string

const (
	// StatusUnregistered means no registration has been attempted yet.
	StatusUnregistered Status = "unregistered"
	// StatusPending means a registration attempt is in flight.
	StatusPending Status = "pending"
	// StatusRegistered means the server accepted the registration.
	StatusRegistered Status = "registered"
	// StatusRejected means the server permanently rejected the registration.
	StatusRejected Status = "rejected"
)

// Identity is the daemon's persisted registration credential and status.
// The private key signs every message sent over the channel; the server
// learns the public key during registration.
type Identity struct {
	// ClientID is the server-assigned identifier for this computer.
	ClientID string `json:"client_id"`
	// SecureID is the server-issued session credential returned on
	// successful registration.
	SecureID string `json:"secure_id"`
	// AccountName is the account this computer registered under.
	AccountName string `json:"account_name"`
	// ServerURL is the server this identity was established against.
	ServerURL string `json:"server_url"`
	// PublicKey is the ed25519 verification key shared with the server.
	PublicKey ed25519.PublicKey `json:"public_key"`
	// PrivateKey is the ed25519 signing key. Never leaves the host.
	PrivateKey ed25519.PrivateKey `json:"private_key"`
	// Status is the current registration state.
	Status Status `json:"status"`
	// RegisteredAt is when the server accepted the registration.
	RegisteredAt time.Time `json:"registered_at"`
}

// New creates an unregistered identity with a fresh keypair.
func New(accountName, serverURL string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	return &Identity{
		AccountName: accountName,
		ServerURL:   serverURL,
		PublicKey:   pub,
		PrivateKey:  priv,
		Status:      StatusUnregistered,
	}, nil
}

// Sign returns the ed25519 signature of the message.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.PrivateKey, message)
}

// Registered reports whether the identity is usable for exchanges.
func (i *Identity) Registered() bool {
	return i != nil && i.Status == StatusRegistered && i.SecureID != ""
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.PublicKey = append(ed25519.PublicKey(nil), i.PublicKey...)
	cloned.PrivateKey = append(ed25519.PrivateKey(nil), i.PrivateKey...)

	return &cloned
}
