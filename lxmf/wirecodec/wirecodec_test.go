package wirecodec

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
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

func (f *fakeIdentity) PublicKey() ed25519.PublicKey { return f.pub }
func (f *fakeIdentity) Sign(msg []byte) []byte       { return ed25519.Sign(f.priv, msg) }
func (f *fakeIdentity) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (f *fakeIdentity) Decrypt(c []byte) ([]byte, error) { return c, nil }

type fakeResolver struct {
	known map[transport.DestHash]ed25519.PublicKey
}

func (r *fakeResolver) Recall(h transport.DestHash) (ed25519.PublicKey, bool) {
	k, ok := r.known[h]
	return k, ok
}

func fixedHash(b byte) [16]byte {
	var h [16]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestPackIsIdempotent(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(1), fixedHash(2)
	payload := Payload{Timestamp: 1699999999.5, Title: []byte("t"), Content: []byte("hello"), Fields: fields.Fields{}}

	_, wire1, err := Pack(id, dest, src, payload)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	_, wire2, err := Pack(id, dest, src, payload)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(wire1, wire2) {
		t.Fatalf("pack is not deterministic")
	}
}

func TestRoundTripUnicode(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(3), fixedHash(4)
	title := []byte("中文 / Русский")
	content := []byte("Hello \U0001F680")
	payload := Payload{Timestamp: 123.456, Title: title, Content: content, Fields: fields.Fields{}}

	packed, wire, err := Pack(id, dest, src, payload)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	resolver := &fakeResolver{known: map[transport.DestHash]ed25519.PublicKey{transport.DestHash(src): id.pub}}
	u, err := Unpack(wire, resolver)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !u.SignatureValidated {
		t.Fatalf("expected signature validated")
	}
	if u.Packed.Hash != packed.Hash {
		t.Fatalf("hash mismatch")
	}
	if !bytes.Equal(u.Payload.Title, title) {
		t.Fatalf("title mismatch: %q", u.Payload.Title)
	}
	if !bytes.Equal(u.Payload.Content, content) {
		t.Fatalf("content mismatch: %q", u.Payload.Content)
	}
	if u.Payload.Timestamp != payload.Timestamp {
		t.Fatalf("timestamp mismatch: got=%v want=%v", u.Payload.Timestamp, payload.Timestamp)
	}
}

func TestUnknownSourceLeavesSignatureUnvalidated(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(5), fixedHash(6)
	payload := Payload{Content: []byte("x"), Fields: fields.Fields{}}
	_, wire, err := Pack(id, dest, src, payload)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	u, err := Unpack(wire, &fakeResolver{known: map[transport.DestHash]ed25519.PublicKey{}})
	if err != nil {
		t.Fatalf("unpack should succeed structurally: %v", err)
	}
	if u.SignatureValidated {
		t.Fatalf("expected signature_validated = false for unknown source")
	}
}

func TestUnpackRejectsShortInput(t *testing.T) {
	_, err := Unpack(make([]byte, 10), nil)
	if !lxerr.Is(err, lxerr.StructuralDecode) {
		t.Fatalf("expected StructuralDecode, got %v", err)
	}
}

func TestRepresentationThreshold(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(7), fixedHash(8)

	mk := func(n int) Representation {
		payload := Payload{Content: bytes.Repeat([]byte("X"), n), Fields: fields.Fields{}}
		packed, _, err := Pack(id, dest, src, payload)
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		return SelectRepresentation(packed.PackedPayload)
	}

	if got := mk(LinkPacketMaxContent); got != Packet {
		t.Fatalf("content of %d bytes: expected PACKET, got %v", LinkPacketMaxContent, got)
	}
	if got := mk(LinkPacketMaxContent + 1); got != Resource {
		t.Fatalf("content of %d bytes: expected RESOURCE, got %v", LinkPacketMaxContent+1, got)
	}
}

func TestHashDiffersOnContentChange(t *testing.T) {
	id := newFakeIdentity(t)
	dest, src := fixedHash(9), fixedHash(10)
	p1 := Payload{Content: []byte("alpha"), Fields: fields.Fields{}}
	p2 := Payload{Content: []byte("beta"), Fields: fields.Fields{}}

	packed1, _, err := Pack(id, dest, src, p1)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	packed2, _, err := Pack(id, dest, src, p2)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if packed1.Hash == packed2.Hash {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestPropagationEntryTransientIDIgnoresStamp(t *testing.T) {
	dest := fixedHash(11)
	ciphertext := []byte("ciphertext-bytes")

	_, tidNoStamp, err := PackPropagationEntry(dest, ciphertext, nil)
	if err != nil {
		t.Fatalf("pack no stamp: %v", err)
	}
	stamp := bytes.Repeat([]byte{0x01}, HashSize)
	_, tidStamped, err := PackPropagationEntry(dest, ciphertext, stamp)
	if err != nil {
		t.Fatalf("pack stamped: %v", err)
	}
	if tidNoStamp != tidStamped {
		t.Fatalf("transient_id must not depend on stamp presence")
	}
}

func TestPropagationBatchRoundTrip(t *testing.T) {
	dest := fixedHash(12)
	entry, _, err := PackPropagationEntry(dest, []byte("ct"), nil)
	if err != nil {
		t.Fatalf("pack entry: %v", err)
	}
	batch, err := PackPropagationBatch(1000.5, [][]byte{entry})
	if err != nil {
		t.Fatalf("pack batch: %v", err)
	}
	now, entries, err := UnpackPropagationBatch(batch)
	if err != nil {
		t.Fatalf("unpack batch: %v", err)
	}
	if now != 1000.5 {
		t.Fatalf("timebase mismatch: %v", now)
	}
	if len(entries) != 1 || !bytes.Equal(entries[0], entry) {
		t.Fatalf("entries mismatch")
	}
}

func TestGetRequestRoundTripListAll(t *testing.T) {
	b, err := PackGetRequest(GetRequest{ListAll: true})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	req, err := UnpackGetRequest(b)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !req.ListAll {
		t.Fatalf("expected ListAll true")
	}
}

func TestGetRequestRoundTripWants(t *testing.T) {
	want := [32]byte{1, 2, 3}
	limit := 64
	b, err := PackGetRequest(GetRequest{Wants: [][32]byte{want}, Haves: nil, LimitKB: &limit})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	req, err := UnpackGetRequest(b)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if req.ListAll {
		t.Fatalf("expected ListAll false")
	}
	if len(req.Wants) != 1 || req.Wants[0] != want {
		t.Fatalf("wants mismatch: %+v", req.Wants)
	}
	if req.LimitKB == nil || *req.LimitKB != limit {
		t.Fatalf("limit mismatch")
	}
}
