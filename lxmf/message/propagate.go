package message

import (
	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/wirecodec"
)

// Encryptor encrypts plaintext for a specific recipient, abstracting over
// whichever destination-encryption scheme the transport provides.
type Encryptor func(plaintext []byte) ([]byte, error)

// PackForPropagation implements spec §4.3's pack_for_propagation: it
// encrypts the packed payload (without the destination/source/signature
// prefix, just [timestamp,title,content,fields]) for the recipient,
// prepends destination_hash, computes transient_id, optionally appends a
// propagation stamp, and wraps the result as
// msgpack([now_f64, [lxmf_data]]) — a single-entry batch for this message.
//
// Pack must have already run; PackForPropagation does not itself freeze the
// message hash.
func (m *Message) PackForPropagation(encrypt Encryptor, now float64, stamp []byte) (wire []byte, transientID [32]byte, err error) {
	m.mu.Lock()
	if !m.packed {
		m.mu.Unlock()
		return nil, transientID, lxerr.New(lxerr.InvalidArgument, "message: Pack must run before PackForPropagation")
	}
	payloadWithoutPrefix := append([]byte(nil), m.packedPayload...)
	destHash := m.DestinationHash
	m.mu.Unlock()

	ciphertext, err := encrypt(payloadWithoutPrefix)
	if err != nil {
		return nil, transientID, lxerr.Wrap(lxerr.InvalidArgument, "propagation: encrypt", err)
	}

	entry, tid, err := wirecodec.PackPropagationEntry(destHash, ciphertext, stamp)
	if err != nil {
		return nil, transientID, err
	}

	batch, err := wirecodec.PackPropagationBatch(now, [][]byte{entry})
	if err != nil {
		return nil, transientID, err
	}

	m.mu.Lock()
	m.TransientID = tid
	if len(stamp) == wirecodec.HashSize {
		m.Stamp = append([]byte(nil), stamp...)
	}
	m.mu.Unlock()

	return batch, tid, nil
}
