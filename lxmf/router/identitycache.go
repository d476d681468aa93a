package router

import (
	"crypto/ed25519"
	"sync"

	"github.com/torlando-tech/reticulum-go/lxmf/transport"
)

// identityCache is the destination-hash -> public-key cache described in
// spec.md §9: a single handle passed through Router construction rather
// than a process-global singleton, with a mutex protecting announce-driven
// writes against read-mostly lookups from the wire codec.
type identityCache struct {
	mu   sync.RWMutex
	keys map[transport.DestHash]ed25519.PublicKey
}

func newIdentityCache() *identityCache {
	return &identityCache{keys: make(map[transport.DestHash]ed25519.PublicKey)}
}

// Recall implements transport.IdentityResolver.
func (c *identityCache) Recall(dest transport.DestHash) (ed25519.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[dest]
	return k, ok
}

// RecallPublicKey implements propagation.RecipientResolver; it is the same
// lookup as Recall under a name matching that package's narrower contract.
func (c *identityCache) RecallPublicKey(dest transport.DestHash) (ed25519.PublicKey, bool) {
	return c.Recall(dest)
}

// Learn records a public key for a destination hash, as observed from an
// announce. Overwriting an existing entry is allowed: identities can be
// re-announced.
func (c *identityCache) Learn(dest transport.DestHash, pub ed25519.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[dest] = pub
}
