// Package delivery implements the outbound dispatch described in spec.md
// §4.4: method branching (DIRECT/OPPORTUNISTIC/PROPAGATED), per-destination
// link reuse, and the bounded OPPORTUNISTIC retry policy. It holds no
// back-reference to the Router; it is driven by HandleOutbound and reports
// outcomes purely through the Message's own state machine and callbacks.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/message"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// Propagator is the narrow surface the engine needs from the propagation
// client to delegate PROPAGATED messages, keeping this package free of a
// dependency on the propagation client's node-registry concerns.
type Propagator interface {
	Submit(ctx context.Context, m *message.Message) error
}

// RetryPolicy configures the bounded OPPORTUNISTIC attempt cadence (spec.md
// §4.4; the concrete cadence is a SPEC_FULL.md supplement, not specified
// numerically in spec.md, since "no retry-policy library" only rules out an
// imported one).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second},
	}
}

type linkHandle struct {
	mu   sync.Mutex
	link transport.Link
}

// Engine dispatches outbound messages by desired method.
type Engine struct {
	log *logrus.Logger

	identity   transport.Identity
	opener     transport.LinkOpener
	packetSend transport.PacketSender
	resolver   transport.IdentityResolver
	destOf     func(destHash [16]byte) (transport.Destination, bool)
	propagator Propagator

	retry RetryPolicy

	mu    sync.Mutex
	links map[[16]byte]*linkHandle
}

// Config bundles the collaborators Engine needs; all fields are required
// except Log (nil gets a default logger), Propagator (nil disables
// PROPAGATED dispatch) and Retry (defaults applied).
type Config struct {
	Log        *logrus.Logger
	Identity   transport.Identity
	Opener     transport.LinkOpener
	PacketSend transport.PacketSender
	Resolver   transport.IdentityResolver
	ResolveDestination func(destHash [16]byte) (transport.Destination, bool)
	Propagator Propagator
	Retry      *RetryPolicy
}

func New(cfg Config) *Engine {
	retry := DefaultRetryPolicy()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		log:        log,
		identity:   cfg.Identity,
		opener:     cfg.Opener,
		packetSend: cfg.PacketSend,
		resolver:   cfg.Resolver,
		destOf:     cfg.ResolveDestination,
		propagator: cfg.Propagator,
		retry:      retry,
		links:      make(map[[16]byte]*linkHandle),
	}
}

// HandleOutbound dispatches m by its DesiredMethod. It transitions m to
// OUTBOUND immediately, then branches (spec §4.4).
func (e *Engine) HandleOutbound(ctx context.Context, m *message.Message) error {
	m.MarkOutbound()

	switch m.DesiredMethod {
	case message.Direct:
		return e.handleDirect(ctx, m)
	case message.Opportunistic:
		return e.handleOpportunistic(ctx, m)
	case message.Propagated:
		return e.handlePropagated(ctx, m)
	default:
		m.MarkFailed()
		return lxerr.New(lxerr.InvalidArgument, "unknown desired method")
	}
}

func (e *Engine) linkFor(destHash [16]byte) *linkHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.links[destHash]
	if !ok {
		h = &linkHandle{}
		e.links[destHash] = h
	}
	return h
}

func (e *Engine) releaseLink(destHash [16]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.links, destHash)
}

func (e *Engine) handleDirect(ctx context.Context, m *message.Message) error {
	dest, ok := e.destOf(m.DestinationHash)
	if !ok {
		m.MarkFailed()
		return lxerr.New(lxerr.LinkFailed, "direct: unknown destination")
	}

	h := e.linkFor(m.DestinationHash)
	h.mu.Lock()
	defer h.mu.Unlock()

	link := h.link
	if link == nil || link.State() == transport.LinkClosed || link.State() == transport.LinkFailed {
		newLink, err := e.opener.Open(ctx, dest)
		if err != nil {
			m.MarkFailed()
			return lxerr.Wrap(lxerr.LinkFailed, "direct: open link", err)
		}
		if err := newLink.Establish(ctx); err != nil {
			m.MarkFailed()
			return lxerr.Wrap(lxerr.LinkFailed, "direct: establish link", err)
		}
		link = newLink
		h.link = link
		link.OnClosed(func(error) { e.releaseLink(m.DestinationHash) })
	}

	wire, err := m.Pack(e.identity)
	if err != nil {
		m.MarkFailed()
		return err
	}

	m.MarkSending()

	delivered := make(chan bool, 1)
	link.OnProof(func(ev transport.ProofEvent) {
		if ev.MessageHash == m.Hash() {
			select {
			case delivered <- ev.Proven:
			default:
			}
		}
	})

	// Tie-break: PACKET is preferred at the boundary (spec §4.4); Pack's
	// own representation selection already enforces the inclusive-PACKET
	// boundary, so we only need to respect it here.
	var sendErr error
	if m.Representation() == wirecodec.Packet {
		sendErr = link.SendPacket(wire)
	} else {
		sendErr = link.SendResource(ctx, wire, nil)
	}
	if sendErr != nil {
		m.MarkFailed()
		return lxerr.Wrap(lxerr.ResourceTransferFailed, "direct: send", sendErr)
	}

	select {
	case proven := <-delivered:
		if proven {
			m.MarkDelivered()
			return nil
		}
		m.MarkFailed()
		return lxerr.New(lxerr.LinkFailed, "direct: proof denied")
	case <-ctx.Done():
		m.MarkFailed()
		return lxerr.Wrap(lxerr.TransferTimeout, "direct: waiting for proof", ctx.Err())
	}
}

func (e *Engine) handleOpportunistic(ctx context.Context, m *message.Message) error {
	dest, ok := e.destOf(m.DestinationHash)
	if !ok {
		m.MarkFailed()
		return lxerr.New(lxerr.LinkFailed, "opportunistic: destination identity not known")
	}
	wire, err := m.Pack(e.identity)
	if err != nil {
		m.MarkFailed()
		return err
	}
	m.MarkSending()

	var lastErr error
	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			var wait time.Duration
			if attempt-1 < len(e.retry.Backoff) {
				wait = e.retry.Backoff[attempt-1]
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				m.MarkFailed()
				return lxerr.Wrap(lxerr.TransferTimeout, "opportunistic: canceled during backoff", ctx.Err())
			}
		}
		lastErr = e.packetSend.SendOpportunistic(dest, wire)
		if lastErr == nil {
			// No positive delivery confirmation exists for this method
			// (spec open question): SENT is terminal-for-purpose here.
			m.MarkSent()
			return nil
		}
		e.log.WithFields(logrus.Fields{"attempt": attempt + 1, "error": lastErr}).Warn("opportunistic send attempt failed")
	}
	m.MarkFailed()
	return lxerr.Wrap(lxerr.LinkFailed, "opportunistic: attempts exhausted", lastErr)
}

func (e *Engine) handlePropagated(ctx context.Context, m *message.Message) error {
	if e.propagator == nil {
		m.MarkFailed()
		return lxerr.New(lxerr.InvalidArgument, "propagated: no propagation client configured")
	}
	return e.propagator.Submit(ctx, m)
}
