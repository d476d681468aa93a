// Package transport declares the narrow contracts the lxmf core consumes
// from the underlying Reticulum transport. Nothing in this package talks to
// a socket: it exists so that message, delivery, and propagation code can be
// built and tested against a fake, with a real transport substituted only at
// the process-wiring boundary (see router.NewRouter).
package transport

import (
	"context"
	"crypto/ed25519"
)

// DestHash is a truncated identity-hash identifying a destination.
type DestHash [16]byte

// Identity is the minimal keypair/recall contract the core depends on.
type Identity interface {
	// PublicKey returns this identity's Ed25519 public key.
	PublicKey() ed25519.PublicKey
	// Sign produces a detached Ed25519 signature over msg.
	Sign(msg []byte) []byte
	// Encrypt encrypts plaintext for this identity's public key (used by the
	// sender, with the recipient's Identity obtained via Recall).
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt decrypts ciphertext addressed to this identity.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// IdentityResolver recalls a known public key for a destination hash. A
// miss is not an error: unknown sources unpack to a structurally valid
// message with SignatureValidated = false.
type IdentityResolver interface {
	Recall(dest DestHash) (ed25519.PublicKey, bool)
}

// Destination represents a named local or remote application endpoint.
type Destination interface {
	Hash() DestHash
	Identity() Identity
	Announce(appData []byte) error
}

// LinkState mirrors the lifecycle a Link callback set observes.
type LinkState int

const (
	LinkPending LinkState = iota
	LinkEstablished
	LinkClosed
	LinkFailed
)

// ProofEvent is delivered to a link's proof callback once the receiving end
// acknowledges a packet or resource.
type ProofEvent struct {
	MessageHash [32]byte
	Proven      bool
}

// Link is an encrypted, authenticated bidirectional channel to a
// destination, established on demand by the delivery engine (which reuses it
// while active) and by the propagation client (which opens a new one for
// each submission or sync).
type Link interface {
	State() LinkState
	RemoteDestination() Destination

	// Establish blocks (cancellably via ctx) until the link is usable or
	// fails/times out.
	Establish(ctx context.Context) error

	// Identify reveals the initiator's identity over an already-established
	// link, required before a propagation node will answer a submission or
	// sync request.
	Identify(id Identity) error

	// SendPacket transmits a single packet if it fits the link MDU.
	SendPacket(payload []byte) error

	// SendResource starts a chunked transfer for payloads exceeding the MDU,
	// blocking (cancellably) until the transfer concludes or fails.
	SendResource(ctx context.Context, payload []byte, progress func(sent, total int)) error

	// MDU is the largest single-packet payload this link will carry.
	MDU() int

	// OnProof registers a callback invoked when the remote end proves
	// receipt of a packet or resource sent on this link.
	OnProof(fn func(ProofEvent))

	// OnPacket registers a callback invoked for unsolicited inbound packets.
	OnPacket(fn func(payload []byte))

	// OnClosed registers a callback invoked when the link closes, whether
	// cleanly or due to failure.
	OnClosed(fn func(err error))

	Close() error
}

// LinkOpener opens outgoing links to destinations on demand; the delivery
// engine and propagation client obtain their links through this contract
// rather than holding transport-specific state themselves.
type LinkOpener interface {
	Open(ctx context.Context, dest Destination) (Link, error)
}

// PacketSender transmits a single opportunistic, connectionless encrypted
// packet to a destination without establishing a link.
type PacketSender interface {
	SendOpportunistic(dest Destination, payload []byte) error
}
