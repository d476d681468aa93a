// Package router implements the public facade described in spec.md §4.6: a
// single entry point that registers delivery identities and callbacks,
// accepts outbound messages, and performs inbound intake, wiring together
// the delivery engine, propagation client, and identity cache without
// exposing any of their internals to the application.
package router

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torlando-tech/reticulum-go/lxmf/delivery"
	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/message"
	"github.com/torlando-tech/reticulum-go/lxmf/propagation"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// Router owns live messages until a terminal state is reached (spec §5's
// ownership note); callers receive a borrowed *message.Message.
type Router struct {
	log *logrus.Logger
	cfg Config

	identity transport.Identity
	dest     transport.Destination

	identities *identityCache
	engine     *delivery.Engine
	prop       *propagation.Client
	registry   *propagation.Registry

	mu       sync.Mutex
	inflight map[[32]byte]*message.Message

	deliveryCallback func(*message.Message)
}

// Transport bundles the collaborators a Router needs from the underlying
// Reticulum transport: link establishment, opportunistic send, and a way to
// resolve a destination hash back to a live transport.Destination (obtained
// from announces or out-of-band registration).
type Transport struct {
	Opener             transport.LinkOpener
	PacketSend         transport.PacketSender
	ResolveDestination func(dest transport.DestHash) (transport.Destination, bool)
}

// NewRouter constructs a Router over cfg, logging through log (a nil logger
// gets a default), driven by the given identity and transport bindings.
func NewRouter(cfg Config, log *logrus.Logger, id transport.Identity, tp Transport) (*Router, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, lxerr.Wrap(lxerr.InvalidArgument, "router: invalid config", err)
	}
	if log == nil {
		log = logrus.New()
	}

	reg, err := propagation.OpenRegistry(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	idc := newIdentityCache()

	destOf16 := func(destHash [16]byte) (transport.Destination, bool) {
		return tp.ResolveDestination(transport.DestHash(destHash))
	}

	r := &Router{
		log:        log,
		cfg:        cfg,
		identity:   id,
		identities: idc,
		registry:   reg,
		inflight:   make(map[[32]byte]*message.Message),
	}

	backoff := make([]time.Duration, len(cfg.OpportunisticBackoffSeconds))
	for i, s := range cfg.OpportunisticBackoffSeconds {
		backoff[i] = time.Duration(s) * time.Second
	}
	retry := delivery.RetryPolicy{MaxAttempts: cfg.OpportunisticMaxAttempts, Backoff: backoff}

	r.prop = propagation.New(propagation.Config{
		Log:                log,
		Identity:           id,
		Opener:             tp.Opener,
		ResolveDestination: tp.ResolveDestination,
		Registry:           reg,
		Recall:             idc,
		Encrypt: func(recipient ed25519.PublicKey, plaintext []byte) ([]byte, error) {
			return id.Encrypt(plaintext)
		},
		StampWorkers:     cfg.StampWorkers,
		DefaultStampCost: cfg.StampCostOutbound,
	})

	r.engine = delivery.New(delivery.Config{
		Log:                log,
		Identity:           id,
		Opener:             tp.Opener,
		PacketSend:         tp.PacketSend,
		Resolver:           idc,
		ResolveDestination: destOf16,
		Propagator:         r.prop,
		Retry:              &retry,
	})

	return r, nil
}

// RegisterDeliveryIdentity records id and the caller-supplied dest as this
// Router's own delivery identity and destination. It does not create the
// destination or register it with the transport; the caller does both.
func (r *Router) RegisterDeliveryIdentity(id transport.Identity, dest transport.Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = id
	r.dest = dest
}

// RegisterDeliveryCallback sets the single callback invoked with a fully
// unpacked Message on inbound delivery. Messages whose signature fails
// verification are never delivered; messages from an unknown source, and
// all propagated messages, are delivered with SignatureValidated() false.
func (r *Router) RegisterDeliveryCallback(fn func(*message.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveryCallback = fn
}

// LearnIdentity records a public key observed from an announce, keyed by
// destination hash, in the process-wide (but Router-owned) identity cache.
func (r *Router) LearnIdentity(dest transport.DestHash, pub ed25519.PublicKey) {
	r.identities.Learn(dest, pub)
}

// Send creates a Message and dispatches it by its desired method, returning
// the Message handle immediately; terminal state is observed via
// OnDelivered/OnFailed or by polling Message.State.
func (r *Router) Send(ctx context.Context, destHash, sourceHash [16]byte, content, title []byte, f fields.Fields, method message.Method) (*message.Message, error) {
	m := message.Create(destHash, sourceHash, content, title, f, method)
	r.mu.Lock()
	id := r.identity
	r.mu.Unlock()
	// Pack first so the hash keying inflight is frozen.
	if _, err := m.Pack(id); err != nil {
		return nil, err
	}
	hash := m.Hash()
	r.mu.Lock()
	r.inflight[hash] = m
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, hash)
			r.mu.Unlock()
		}()
		if err := r.engine.HandleOutbound(ctx, m); err != nil {
			r.log.WithFields(logrus.Fields{"error": err, "dest_hash": destHash}).Warn("router: outbound dispatch failed")
		}
	}()
	return m, nil
}

// HandleInbound implements the standard inbound path (spec §4.6): unpack,
// verify signature against the identity cache, and deliver to the
// registered callback.
func (r *Router) HandleInbound(wire []byte) (*message.Message, error) {
	u, err := wirecodec.Unpack(wire, r.identities)
	if err != nil {
		r.log.WithFields(logrus.Fields{"error": err}).Debug("router: inbound structural decode failed")
		return nil, err
	}
	m := message.FromUnpacked(u)

	r.mu.Lock()
	cb := r.deliveryCallback
	r.mu.Unlock()
	if cb != nil {
		cb(m)
	}
	return m, nil
}

// HandleInboundPropagated implements the propagated-delivery intake of spec
// §4.5/§4.6. Unlike HandleInbound, a propagation node's wire entry carries
// no destination_hash/source_hash/signature prefix of its own — only
// destination_hash‖ciphertext‖stamp — so this never attempts signature
// verification; delivered messages always have SignatureValidated = false.
func (r *Router) HandleInboundPropagated(destHash [16]byte, payload []byte) (*message.Message, error) {
	u, err := wirecodec.UnpackPropagated(destHash, payload)
	if err != nil {
		r.log.WithFields(logrus.Fields{"error": err}).Debug("router: propagated structural decode failed")
		return nil, err
	}
	m := message.FromUnpacked(u)

	r.mu.Lock()
	cb := r.deliveryCallback
	r.mu.Unlock()
	if cb != nil {
		cb(m)
	}
	return m, nil
}

// AddPropagationNode directly registers a node without requiring an
// announce (spec §4.6, necessary for tests and out-of-band configuration).
func (r *Router) AddPropagationNode(rec propagation.NodeRecord) error {
	return r.registry.Add(rec)
}

// SetActivePropagationNode marks hash as the node used for future
// submissions and syncs.
func (r *Router) SetActivePropagationNode(hash transport.DestHash) error {
	return r.registry.SetActive(hash)
}

// RequestMessagesFromPropagationNode triggers the sync/retrieval state
// machine of spec §4.5 against the active node, decrypting each entry with
// the Router's own identity and feeding decrypted messages through
// HandleInboundPropagated.
func (r *Router) RequestMessagesFromPropagationNode(ctx context.Context) error {
	deadline := time.Duration(r.cfg.SyncDeadlineSeconds) * time.Second
	syncCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	return r.prop.RequestMessages(syncCtx, r.identity.Decrypt, func(in propagation.InboundMessage) {
		if _, err := r.HandleInboundPropagated(in.DestHash, in.Payload); err != nil {
			r.log.WithFields(logrus.Fields{"error": err, "transient_id": in.TransientID}).Warn("router: failed to deliver synced message")
		}
	})
}

// PropagationTransferState returns the propagation client's current
// sync/retrieval state.
func (r *Router) PropagationTransferState() propagation.SyncState {
	return r.prop.State()
}

// PropagationTransferLastResult returns the message count of the last
// completed sync.
func (r *Router) PropagationTransferLastResult() int {
	return r.prop.LastResult()
}

// Close releases the propagation registry's underlying storage.
func (r *Router) Close() error {
	return r.registry.Close()
}
