// Package wirecodec implements the bit-exact LXMF wire formats: the packed
// payload, the full DIRECT/OPPORTUNISTIC packed message, the signed region
// and hash contract, and the propagation wire batch. Nothing in this
// package talks to a transport; it is pure encode/decode plus the signature
// and hash math described in spec.md §4.1 and §6.
package wirecodec

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
)

const (
	DestHashSize  = 16
	SourceHashSize = 16
	SignatureSize = 64
	HashSize      = 32

	// minPackedLen is destination(16) + source(16) + signature(64) plus at
	// least a 1-byte msgpack array header for the payload.
	minPackedLen = DestHashSize + SourceHashSize + SignatureSize + 1

	// TimestampSize is the encoded width contribution of the float64
	// timestamp field for the representation-threshold computation.
	TimestampSize = 8
	// StructOverhead is the msgpack framing overhead (array header, float
	// type tag, empty-title bin header, content bin16 header, empty-fields
	// map header) assumed by the representation threshold: with title=""
	// and fields={}, it is exactly calibrated so content_size equals the
	// raw content length at the 319/320-byte PACKET/RESOURCE boundary.
	StructOverhead = 8
	// LinkPacketMaxContent is the inclusive PACKET/RESOURCE boundary on
	// content_size (spec §4.1).
	LinkPacketMaxContent = 319
)

// Representation selects between a single packet and a chunked resource.
type Representation int

const (
	Packet Representation = iota
	Resource
)

// Payload is the decoded [timestamp, title, content, fields] array.
type Payload struct {
	Timestamp float64
	Title     []byte
	Content   []byte
	Fields    fields.Fields
}

// PackPayload serializes the four-element payload array. fields is encoded
// as an empty map, never omitted, when nil.
func PackPayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(4); err != nil {
		return nil, err
	}
	if err := enc.EncodeFloat64(p.Timestamp); err != nil {
		return nil, err
	}
	// A nil slice would encode as msgpack nil; title and content are always
	// emitted as bin, empty or not.
	title, content := p.Title, p.Content
	if title == nil {
		title = []byte{}
	}
	if content == nil {
		content = []byte{}
	}
	if err := enc.EncodeBytes(title); err != nil {
		return nil, err
	}
	if err := enc.EncodeBytes(content); err != nil {
		return nil, err
	}
	if err := fields.EncodeFields(enc, p.Fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackPayload parses a packed payload, rejecting anything whose array
// arity is not exactly 4.
func UnpackPayload(b []byte) (Payload, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Payload{}, lxerr.Wrap(lxerr.StructuralDecode, "payload: not an array", err)
	}
	if n != 4 {
		return Payload{}, lxerr.New(lxerr.StructuralDecode, fmt.Sprintf("payload: expected arity 4, got %d", n))
	}
	ts, err := dec.DecodeFloat64()
	if err != nil {
		return Payload{}, lxerr.Wrap(lxerr.StructuralDecode, "payload: timestamp", err)
	}
	title, err := dec.DecodeBytes()
	if err != nil {
		return Payload{}, lxerr.Wrap(lxerr.StructuralDecode, "payload: title", err)
	}
	content, err := dec.DecodeBytes()
	if err != nil {
		return Payload{}, lxerr.Wrap(lxerr.StructuralDecode, "payload: content", err)
	}
	f, err := fields.DecodeFields(dec)
	if err != nil {
		return Payload{}, lxerr.Wrap(lxerr.StructuralDecode, "payload: fields", err)
	}
	return Payload{Timestamp: ts, Title: title, Content: content, Fields: f}, nil
}

// SignedRegion returns destination_hash ‖ source_hash ‖ packed_payload.
func SignedRegion(destHash, sourceHash [16]byte, packedPayload []byte) []byte {
	out := make([]byte, 0, 16+16+len(packedPayload))
	out = append(out, destHash[:]...)
	out = append(out, sourceHash[:]...)
	out = append(out, packedPayload...)
	return out
}

// Hash computes SHA-256(signed_region). It never changes for a given
// (destHash, sourceHash, packedPayload) triple (spec invariant 1).
func Hash(destHash, sourceHash [16]byte, packedPayload []byte) [32]byte {
	return sha256.Sum256(SignedRegion(destHash, sourceHash, packedPayload))
}

// Sign produces the detached Ed25519 signature over signed_region ‖ hash,
// binding the hash into what is signed (spec §4.1).
func Sign(id transport.Identity, destHash, sourceHash [16]byte, packedPayload []byte, hash [32]byte) []byte {
	region := SignedRegion(destHash, sourceHash, packedPayload)
	msg := make([]byte, 0, len(region)+HashSize)
	msg = append(msg, region...)
	msg = append(msg, hash[:]...)
	return id.Sign(msg)
}

// VerifySignature verifies sig over signed_region ‖ hash using pub.
func VerifySignature(pub ed25519.PublicKey, destHash, sourceHash [16]byte, packedPayload []byte, hash [32]byte, sig []byte) bool {
	region := SignedRegion(destHash, sourceHash, packedPayload)
	msg := make([]byte, 0, len(region)+HashSize)
	msg = append(msg, region...)
	msg = append(msg, hash[:]...)
	return ed25519.Verify(pub, msg, sig)
}

// Packed is the fully assembled DIRECT/OPPORTUNISTIC wire message.
type Packed struct {
	DestHash      [16]byte
	SourceHash    [16]byte
	Signature     [64]byte
	PackedPayload []byte
	Hash          [32]byte
}

// Pack assembles destination_hash ‖ source_hash ‖ signature ‖ packed_payload
// and computes the hash. Pack is a pure function of its inputs: invoking it
// twice with identical arguments yields identical bytes (spec invariant 1).
func Pack(id transport.Identity, destHash, sourceHash [16]byte, p Payload) (*Packed, []byte, error) {
	packedPayload, err := PackPayload(p)
	if err != nil {
		return nil, nil, err
	}
	hash := Hash(destHash, sourceHash, packedPayload)
	sig := Sign(id, destHash, sourceHash, packedPayload, hash)
	if len(sig) != SignatureSize {
		return nil, nil, lxerr.New(lxerr.InvalidArgument, fmt.Sprintf("signature: expected %d bytes, got %d", SignatureSize, len(sig)))
	}

	out := make([]byte, 0, DestHashSize+SourceHashSize+SignatureSize+len(packedPayload))
	out = append(out, destHash[:]...)
	out = append(out, sourceHash[:]...)
	out = append(out, sig...)
	out = append(out, packedPayload...)

	packed := &Packed{DestHash: destHash, SourceHash: sourceHash, PackedPayload: packedPayload, Hash: hash}
	copy(packed.Signature[:], sig)
	return packed, out, nil
}

// Unpacked is the result of Unpack: a structurally valid message plus
// whether its signature was checked against a known source identity.
type Unpacked struct {
	Packed             Packed
	Payload            Payload
	SignatureValidated bool
}

// Unpack parses wire bytes into a structurally valid message and, if the
// source identity is known via resolve, verifies the signature. An unknown
// source is not an error: SignatureValidated is simply false (spec
// invariant 2).
func Unpack(data []byte, resolve transport.IdentityResolver) (*Unpacked, error) {
	if len(data) < minPackedLen {
		return nil, lxerr.New(lxerr.StructuralDecode, fmt.Sprintf("packed message: expected at least %d bytes, got %d", minPackedLen, len(data)))
	}
	c := newCursor(data)
	destB, err := c.readExact(DestHashSize)
	if err != nil {
		return nil, lxerr.Wrap(lxerr.StructuralDecode, "destination_hash", err)
	}
	srcB, err := c.readExact(SourceHashSize)
	if err != nil {
		return nil, lxerr.Wrap(lxerr.StructuralDecode, "source_hash", err)
	}
	sigB, err := c.readExact(SignatureSize)
	if err != nil {
		return nil, lxerr.Wrap(lxerr.StructuralDecode, "signature", err)
	}
	packedPayload := c.rest()

	payload, err := UnpackPayload(packedPayload)
	if err != nil {
		return nil, err
	}

	var destHash, sourceHash [16]byte
	copy(destHash[:], destB)
	copy(sourceHash[:], srcB)
	hash := Hash(destHash, sourceHash, packedPayload)

	packed := Packed{DestHash: destHash, SourceHash: sourceHash, PackedPayload: append([]byte(nil), packedPayload...), Hash: hash}
	copy(packed.Signature[:], sigB)

	signatureValidated := false
	if resolve != nil {
		if pub, ok := resolve.Recall(transport.DestHash(sourceHash)); ok {
			if !VerifySignature(pub, destHash, sourceHash, packedPayload, hash, sigB) {
				return nil, lxerr.New(lxerr.SignatureInvalid, "signature verification failed")
			}
			signatureValidated = true
		}
	}

	return &Unpacked{Packed: packed, Payload: payload, SignatureValidated: signatureValidated}, nil
}

// UnpackPropagated parses a propagation-delivered payload. Unlike Unpack,
// there is no destination_hash/source_hash/signature prefix to read: a
// propagation node's wire entry is only destination_hash‖ciphertext‖stamp
// (spec.md §6), so the plaintext recovered by decrypting ciphertext is the
// bare packed_payload. The source identity never travels through a
// propagation node, so SignatureValidated is always false here — the same
// outcome Unpack gives an unknown source (spec invariant 2).
func UnpackPropagated(destHash [16]byte, plaintext []byte) (*Unpacked, error) {
	payload, err := UnpackPayload(plaintext)
	if err != nil {
		return nil, err
	}
	var sourceHash [16]byte
	packedPayload := append([]byte(nil), plaintext...)
	packed := Packed{
		DestHash:      destHash,
		SourceHash:    sourceHash,
		PackedPayload: packedPayload,
		Hash:          Hash(destHash, sourceHash, packedPayload),
	}
	return &Unpacked{Packed: packed, Payload: payload, SignatureValidated: false}, nil
}

// SelectRepresentation derives PACKET vs. RESOURCE from the packed payload
// size, per the inclusive-on-PACKET-side threshold in spec §4.1.
func SelectRepresentation(packedPayload []byte) Representation {
	contentSize := len(packedPayload) - TimestampSize - StructOverhead
	if contentSize <= LinkPacketMaxContent {
		return Packet
	}
	return Resource
}
