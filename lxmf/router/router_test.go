package router

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/message"
	"github.com/torlando-tech/reticulum-go/lxmf/propagation"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
)

type fakeIdentity struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &fakeIdentity{pub: pub, priv: priv}
}

func (f *fakeIdentity) PublicKey() ed25519.PublicKey    { return f.pub }
func (f *fakeIdentity) Sign(msg []byte) []byte          { return ed25519.Sign(f.priv, msg) }
func (f *fakeIdentity) Encrypt(p []byte) ([]byte, error) { return append([]byte(nil), p...), nil }
func (f *fakeIdentity) Decrypt(c []byte) ([]byte, error) { return append([]byte(nil), c...), nil }

type fakeDestination struct {
	hash transport.DestHash
	id   transport.Identity
}

func (d *fakeDestination) Hash() transport.DestHash     { return d.hash }
func (d *fakeDestination) Identity() transport.Identity { return d.id }
func (d *fakeDestination) Announce([]byte) error        { return nil }

type fakePacketSender struct {
	mu       sync.Mutex
	attempts int
	fail     bool
}

func (s *fakePacketSender) SendOpportunistic(dest transport.Destination, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.fail {
		return errSendFailed
	}
	return nil
}

type sendFailedErr struct{}

func (sendFailedErr) Error() string { return "send failed" }

var errSendFailed = sendFailedErr{}

type fakeOpener struct{}

func (fakeOpener) Open(ctx context.Context, dest transport.Destination) (transport.Link, error) {
	return nil, errSendFailed
}

func fixedHash(b byte) transport.DestHash {
	var h transport.DestHash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestValidateConfigRejectsMissingDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for empty data_dir")
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestNewRouterWiresOpportunisticSend(t *testing.T) {
	dataDir := t.TempDir()
	id := newFakeIdentity(t)
	recipientHash := fixedHash(5)
	dest := &fakeDestination{hash: recipientHash, id: id}

	sender := &fakePacketSender{}
	tp := Transport{
		Opener:     fakeOpener{},
		PacketSend: sender,
		ResolveDestination: func(h transport.DestHash) (transport.Destination, bool) {
			if h == recipientHash {
				return dest, true
			}
			return nil, false
		},
	}

	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.OpportunisticMaxAttempts = 1

	r, err := NewRouter(cfg, nil, id, tp)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer r.Close()

	delivered := make(chan *message.Message, 1)
	r.RegisterDeliveryCallback(func(m *message.Message) { delivered <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m, err := r.Send(ctx, [16]byte(recipientHash), fixedHash(1), []byte("hi"), nil, fields.Fields{}, message.Opportunistic)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(1 * time.Second)
	for m.State() != message.Sent && m.State() != message.Failed {
		select {
		case <-deadline:
			t.Fatalf("message never reached a terminal state, stuck at %v", m.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if m.State() != message.Sent {
		t.Fatalf("expected SENT, got %v", m.State())
	}
	if sender.attempts != 1 {
		t.Fatalf("expected 1 send attempt, got %d", sender.attempts)
	}
}

func TestAddAndActivatePropagationNode(t *testing.T) {
	dataDir := t.TempDir()
	id := newFakeIdentity(t)
	tp := Transport{
		Opener:             fakeOpener{},
		PacketSend:         &fakePacketSender{},
		ResolveDestination: func(transport.DestHash) (transport.Destination, bool) { return nil, false },
	}
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	r, err := NewRouter(cfg, nil, id, tp)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer r.Close()

	node := propagation.NodeRecord{DestHash: fixedHash(7), StampCost: 4}
	if err := r.AddPropagationNode(node); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := r.SetActivePropagationNode(fixedHash(7)); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if r.PropagationTransferState() != propagation.Idle {
		t.Fatalf("expected IDLE before any sync, got %v", r.PropagationTransferState())
	}
}

func TestHandleInboundDeliversUnverifiedMessage(t *testing.T) {
	dataDir := t.TempDir()
	id := newFakeIdentity(t)
	tp := Transport{
		Opener:             fakeOpener{},
		PacketSend:         &fakePacketSender{},
		ResolveDestination: func(transport.DestHash) (transport.Destination, bool) { return nil, false },
	}
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	r, err := NewRouter(cfg, nil, id, tp)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	defer r.Close()

	destHash := fixedHash(3)
	m, err := r.Send(context.Background(), [16]byte(destHash), fixedHash(2), []byte("hello"), nil, fields.Fields{}, message.Direct)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	wire, err := m.Pack(id)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	var delivered *message.Message
	r.RegisterDeliveryCallback(func(got *message.Message) { delivered = got })

	if _, err := r.HandleInbound(wire); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if delivered == nil {
		t.Fatalf("expected delivery callback to fire")
	}
	if delivered.SignatureValidated() {
		t.Fatalf("expected signature unvalidated for an unknown source identity")
	}
}
