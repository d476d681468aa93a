package message

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
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

func (f *fakeIdentity) PublicKey() ed25519.PublicKey      { return f.pub }
func (f *fakeIdentity) Sign(msg []byte) []byte            { return ed25519.Sign(f.priv, msg) }
func (f *fakeIdentity) Encrypt(p []byte) ([]byte, error)  { return p, nil }
func (f *fakeIdentity) Decrypt(c []byte) ([]byte, error)  { return c, nil }

func fixedHash(b byte) [16]byte {
	var h [16]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestPackFreezesHash(t *testing.T) {
	id := newFakeIdentity(t)
	m := Create(fixedHash(1), fixedHash(2), []byte("content"), []byte("title"), nil, Direct)
	if _, err := m.Pack(id); err != nil {
		t.Fatalf("pack: %v", err)
	}
	h1 := m.Hash()
	if _, err := m.Pack(id); err != nil {
		t.Fatalf("pack again: %v", err)
	}
	h2 := m.Hash()
	if h1 != h2 {
		t.Fatalf("hash changed across repeated Pack calls")
	}
}

func TestStateMachineTerminalIsSticky(t *testing.T) {
	m := Create(fixedHash(1), fixedHash(2), []byte("c"), nil, nil, Direct)
	var delivered, failed int
	m.OnDelivered(func(*Message) { delivered++ })
	m.OnFailed(func(*Message) { failed++ })

	m.MarkOutbound()
	m.MarkSending()
	m.MarkDelivered()
	if m.State() != Delivered {
		t.Fatalf("expected DELIVERED, got %v", m.State())
	}
	if delivered != 1 {
		t.Fatalf("expected delivery callback once, got %d", delivered)
	}

	// A terminal state must not be overridden by a later transition.
	m.MarkFailed()
	if m.State() != Delivered {
		t.Fatalf("terminal state was overridden: %v", m.State())
	}
	if failed != 0 {
		t.Fatalf("failed callback should not fire once already terminal")
	}
}

func TestFromUnpackedRoundTrip(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(3), fixedHash(4)
	orig := Create(dest, src, []byte("hello"), []byte("hi"), fields.Fields{1: fields.Int(7)}, Opportunistic)
	wire, err := orig.Pack(id)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	u, err := wirecodec.Unpack(wire, nil)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	got := FromUnpacked(u)
	if got.Hash() != orig.Hash() {
		t.Fatalf("hash mismatch after round trip")
	}
	if !bytes.Equal(got.Content, orig.Content) {
		t.Fatalf("content mismatch")
	}
	if !got.Fields.Equal(orig.Fields) {
		t.Fatalf("fields mismatch")
	}
	if got.SignatureValidated() {
		t.Fatalf("expected signature_validated = false with nil resolver")
	}
}

func TestPackForPropagationTransientIDIgnoresStamp(t *testing.T) {
	id := newFakeIdentity(t)
	m := Create(fixedHash(5), fixedHash(6), []byte("x"), nil, nil, Propagated)
	if _, err := m.Pack(id); err != nil {
		t.Fatalf("pack: %v", err)
	}
	identityEncrypt := func(p []byte) ([]byte, error) { return p, nil }

	_, tid1, err := m.PackForPropagation(Encryptor(identityEncrypt), 1.0, nil)
	if err != nil {
		t.Fatalf("pack for propagation: %v", err)
	}
	stamp := bytes.Repeat([]byte{0x2}, wirecodec.HashSize)
	_, tid2, err := m.PackForPropagation(Encryptor(identityEncrypt), 2.0, stamp)
	if err != nil {
		t.Fatalf("pack for propagation with stamp: %v", err)
	}
	if tid1 != tid2 {
		t.Fatalf("transient_id must not depend on stamp presence")
	}
}
