package propagation

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/message"
	"github.com/torlando-tech/reticulum-go/lxmf/stamp"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// errorSignal decodes the single-packet node error codes from spec §6.
type errorSignal byte

const (
	errUnauthenticatedIdentity errorSignal = 0xF0
	errInvalidStamp            errorSignal = 0xF5
)

// RecipientResolver looks up a recipient's public key for propagation
// payload encryption, distinct from the general IdentityResolver so the
// propagation client can fail fast when it cannot encrypt for a recipient.
type RecipientResolver interface {
	RecallPublicKey(dest transport.DestHash) (ed25519.PublicKey, bool)
}

// Client submits messages to and retrieves them from a propagation node
// over an encrypted link (spec.md §4.5).
type Client struct {
	log *logrus.Logger

	identity transport.Identity
	opener   transport.LinkOpener
	destOf   func(hash transport.DestHash) (transport.Destination, bool)
	registry *Registry
	recall   RecipientResolver
	encrypt  EncryptFunc

	stampWorkers     int
	defaultStampCost int

	mu         sync.Mutex
	syncState  SyncState
	lastResult int
}

// EncryptFunc encrypts plaintext for an arbitrary recipient public key,
// using whatever destination-encryption scheme the transport implements.
type EncryptFunc func(recipient ed25519.PublicKey, plaintext []byte) ([]byte, error)

// Config bundles the Client's collaborators.
type Config struct {
	Log                *logrus.Logger
	Identity           transport.Identity
	Opener             transport.LinkOpener
	ResolveDestination func(hash transport.DestHash) (transport.Destination, bool)
	Registry           *Registry
	Recall             RecipientResolver
	Encrypt            EncryptFunc
	StampWorkers       int

	// DefaultStampCost is the cost requested when the active node's own
	// record does not advertise one (NodeRecord.StampCost == 0).
	DefaultStampCost int
}

func New(cfg Config) *Client {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	workers := cfg.StampWorkers
	if workers <= 0 {
		workers = 2
	}
	return &Client{
		log:              log,
		identity:         cfg.Identity,
		opener:           cfg.Opener,
		destOf:           cfg.ResolveDestination,
		registry:         cfg.Registry,
		recall:           cfg.Recall,
		encrypt:          cfg.Encrypt,
		stampWorkers:     workers,
		defaultStampCost: cfg.DefaultStampCost,
		syncState:        Idle,
	}
}

// Submit builds the propagation payload for m, generates a stamp if the
// active node requires one, and sends it over a link to that node (spec
// §4.5's submission protocol).
func (c *Client) Submit(ctx context.Context, m *message.Message) error {
	active, ok := c.registry.Active()
	if !ok {
		m.MarkFailed()
		return lxerr.New(lxerr.LinkFailed, "propagation: no active node")
	}

	recipientPub, ok := c.recall.RecallPublicKey(transport.DestHash(m.DestinationHash))
	if !ok {
		m.MarkFailed()
		return lxerr.New(lxerr.InvalidArgument, "propagation: recipient identity unknown")
	}

	if _, err := m.Pack(c.identity); err != nil {
		m.MarkFailed()
		return err
	}

	// transient_id does not depend on the stamp (spec invariant 6), so we
	// compute it with a zero-length stamp first to know what to stamp.
	encrypt := func(p []byte) ([]byte, error) { return c.encrypt(recipientPub, p) }
	_, transientID, err := m.PackForPropagation(encrypt, nowSeconds(), nil)
	if err != nil {
		m.MarkFailed()
		return err
	}

	// The active node's advertised cost wins; when it hasn't advertised one,
	// fall back to this client's own default rather than submitting unstamped.
	cost := active.StampCost
	if cost <= 0 {
		cost = c.defaultStampCost
	}
	var stampBytes []byte
	if cost > 0 {
		wb := stamp.Workblock(transientID, stamp.WorkblockExpandRoundsPN)
		found, ok := stamp.Find(ctx, wb, cost, c.stampWorkers)
		if !ok {
			m.MarkFailed()
			return lxerr.New(lxerr.TransferTimeout, "propagation: stamp search canceled")
		}
		stampBytes = found
	}

	wire, _, err := m.PackForPropagation(encrypt, nowSeconds(), stampBytes)
	if err != nil {
		m.MarkFailed()
		return err
	}

	dest, ok := c.destOf(active.DestHash)
	if !ok {
		m.MarkFailed()
		return lxerr.New(lxerr.LinkFailed, "propagation: active node destination unknown")
	}

	link, err := c.opener.Open(ctx, dest)
	if err != nil {
		m.MarkFailed()
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: open link", err)
	}
	if err := link.Establish(ctx); err != nil {
		m.MarkFailed()
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: establish link", err)
	}
	// identify is mandatory before the node will answer a submission;
	// skipping it yields an unauthenticated-identity error (spec §4.5).
	if err := link.Identify(c.identity); err != nil {
		m.MarkFailed()
		return lxerr.Wrap(lxerr.LinkFailed, "propagation: identify", err)
	}

	m.MarkSending()

	outcome := make(chan error, 1)
	link.OnPacket(func(payload []byte) {
		if len(payload) == 1 {
			switch errorSignal(payload[0]) {
			case errInvalidStamp:
				select {
				case outcome <- lxerr.New(lxerr.StampInsufficient, "propagation: node rejected stamp"):
				default:
				}
				return
			case errUnauthenticatedIdentity:
				select {
				case outcome <- lxerr.New(lxerr.LinkFailed, "propagation: unauthenticated identity"):
				default:
				}
				return
			}
		}
	})
	link.OnProof(func(ev transport.ProofEvent) {
		if ev.Proven {
			select {
			case outcome <- nil:
			default:
			}
		}
	})

	var sendErr error
	if link.MDU() >= len(wire) {
		sendErr = link.SendPacket(wire)
	} else {
		sendErr = link.SendResource(ctx, wire, nil)
	}
	if sendErr != nil {
		m.MarkFailed()
		return lxerr.Wrap(lxerr.ResourceTransferFailed, "propagation: send", sendErr)
	}

	select {
	case err := <-outcome:
		if err == nil {
			m.MarkSent()
			return nil
		}
		if lxerr.Is(err, lxerr.StampInsufficient) {
			m.MarkRejected()
		} else {
			m.MarkFailed()
		}
		return err
	case <-ctx.Done():
		m.MarkFailed()
		return lxerr.Wrap(lxerr.TransferTimeout, "propagation: waiting for node outcome", ctx.Err())
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
