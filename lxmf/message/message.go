// Package message implements the in-memory LXMF message model: state
// machine, representation selection, and delivery-method-specific packing.
// It owns no transport state; the delivery engine and propagation client
// look up links by destination hash on demand (design note in spec.md §9).
package message

import (
	"sync"

	"github.com/torlando-tech/reticulum-go/lxmf/fields"
	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// State is the message delivery state machine (spec §3, §4.3).
type State int

const (
	Generating State = iota
	Outbound
	Sending
	Sent
	Delivered
	Failed
	Rejected
)

func (s State) String() string {
	switch s {
	case Generating:
		return "GENERATING"
	case Outbound:
		return "OUTBOUND"
	case Sending:
		return "SENDING"
	case Sent:
		return "SENT"
	case Delivered:
		return "DELIVERED"
	case Failed:
		return "FAILED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the terminal states.
func (s State) Terminal() bool {
	return s == Delivered || s == Failed || s == Rejected
}

// Method is the desired delivery method.
type Method int

const (
	Direct Method = iota
	Opportunistic
	Propagated
)

// Message is the central entity described in spec.md §3. All mutation goes
// through its methods so that hash-freezing and state-transition invariants
// hold; callbacks are plain function values, never back-references to a
// Router (design note in spec.md §9).
type Message struct {
	mu sync.Mutex

	DestinationHash [16]byte
	SourceHash      [16]byte
	Timestamp       float64
	Title           []byte
	Content         []byte
	Fields          fields.Fields

	DesiredMethod Method
	state         State

	packed             bool
	packedPayload      []byte
	signature          [64]byte
	hash               [32]byte
	representation     wirecodec.Representation
	signatureValidated bool

	Stamp []byte

	// TransientID is populated once PackForPropagation has run.
	TransientID [32]byte

	deliveryCallback func(*Message)
	failedCallback   func(*Message)
}

// Create constructs a new Message in state GENERATING. fields may be nil;
// it is normalized to an empty map so the wire codec always emits an empty
// map rather than omitting the element.
func Create(destHash, sourceHash [16]byte, content, title []byte, f fields.Fields, desired Method) *Message {
	if f == nil {
		f = fields.Fields{}
	}
	return &Message{
		DestinationHash: destHash,
		SourceHash:      sourceHash,
		Title:           title,
		Content:         content,
		Fields:          f,
		DesiredMethod:   desired,
		state:           Generating,
	}
}

// State returns the current delivery state.
func (m *Message) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Hash returns the frozen message hash; it is only meaningful after Pack.
func (m *Message) Hash() [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hash
}

// Representation returns PACKET or RESOURCE; only meaningful after Pack.
func (m *Message) Representation() wirecodec.Representation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.representation
}

// SignatureValidated reports whether Unpack (not Pack) verified this
// message's signature against a known source identity.
func (m *Message) SignatureValidated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signatureValidated
}

// OnDelivered registers the callback fired on entry to DELIVERED (or SENT,
// for methods with no positive delivery confirmation).
func (m *Message) OnDelivered(fn func(*Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryCallback = fn
}

// OnFailed registers the callback fired on entry to FAILED or REJECTED.
func (m *Message) OnFailed(fn func(*Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedCallback = fn
}

// Pack idempotently populates hash, the packed payload, representation, and
// signature. Calling Pack twice returns identical bytes (spec invariant 1);
// after the first call, Hash is frozen.
func (m *Message) Pack(id transport.Identity) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.packed {
		return m.rebuildWire(), nil
	}
	packed, wire, err := wirecodec.Pack(id, m.DestinationHash, m.SourceHash, wirecodec.Payload{
		Timestamp: m.Timestamp,
		Title:     m.Title,
		Content:   m.Content,
		Fields:    m.Fields,
	})
	if err != nil {
		return nil, err
	}
	m.packedPayload = packed.PackedPayload
	m.signature = packed.Signature
	m.hash = packed.Hash
	m.representation = wirecodec.SelectRepresentation(packed.PackedPayload)
	m.packed = true
	return wire, nil
}

func (m *Message) rebuildWire() []byte {
	out := make([]byte, 0, 16+16+64+len(m.packedPayload))
	out = append(out, m.DestinationHash[:]...)
	out = append(out, m.SourceHash[:]...)
	out = append(out, m.signature[:]...)
	out = append(out, m.packedPayload...)
	return out
}

// transition moves the message to next and fires the matching callback
// (delivery on Delivered/Sent-with-no-confirmation, failed on
// Failed/Rejected). It does not validate that the transition is legal
// beyond the terminal check: callers (delivery engine, propagation client)
// own the state machine's edge logic per method.
func (m *Message) transition(next State) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = next
	dcb, fcb := m.deliveryCallback, m.failedCallback
	m.mu.Unlock()

	switch next {
	case Delivered, Sent:
		if dcb != nil {
			dcb(m)
		}
	case Failed, Rejected:
		if fcb != nil {
			fcb(m)
		}
	}
}

// MarkOutbound transitions GENERATING -> OUTBOUND on dispatch.
func (m *Message) MarkOutbound() { m.transition(Outbound) }

// MarkSending transitions to SENDING on wire activity.
func (m *Message) MarkSending() { m.transition(Sending) }

// MarkSent transitions to SENT.
func (m *Message) MarkSent() { m.transition(Sent) }

// MarkDelivered transitions to DELIVERED on positive acknowledgement.
func (m *Message) MarkDelivered() { m.transition(Delivered) }

// MarkFailed transitions to FAILED.
func (m *Message) MarkFailed() { m.transition(Failed) }

// MarkRejected transitions to REJECTED (explicit negative acknowledgement
// only: bad stamp, unauthorized).
func (m *Message) MarkRejected() { m.transition(Rejected) }

// PackedPayload returns the packed [timestamp,title,content,fields] bytes;
// only meaningful after Pack.
func (m *Message) PackedPayload() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packedPayload
}

// adoptUnpacked fills in an already-decoded message's derived fields,
// used by FromUnpacked below.
func (m *Message) adoptUnpacked(u *wirecodec.Unpacked) {
	m.DestinationHash = u.Packed.DestHash
	m.SourceHash = u.Packed.SourceHash
	m.Timestamp = u.Payload.Timestamp
	m.Title = u.Payload.Title
	m.Content = u.Payload.Content
	m.Fields = u.Payload.Fields
	m.packedPayload = u.Packed.PackedPayload
	m.signature = u.Packed.Signature
	m.hash = u.Packed.Hash
	m.representation = wirecodec.SelectRepresentation(u.Packed.PackedPayload)
	m.signatureValidated = u.SignatureValidated
	m.packed = true
	m.state = Sent
}

// FromUnpacked constructs a Message from a wirecodec.Unpack result, for the
// inbound path (spec §4.1 unpack contract).
func FromUnpacked(u *wirecodec.Unpacked) *Message {
	m := &Message{}
	m.adoptUnpacked(u)
	return m
}
