package wirecodec

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
)

// PackPropagationEntry assembles a single propagation-payload entry:
// destination_hash ‖ ciphertext ‖ stamp(0 or 32 bytes), and its transient_id
// — SHA-256(destination_hash ‖ ciphertext), computed before the stamp is
// appended so stamp presence never affects it (spec invariant 6).
func PackPropagationEntry(destHash [16]byte, ciphertext []byte, stamp []byte) (entry []byte, transientID [32]byte, err error) {
	if len(stamp) != 0 && len(stamp) != HashSize {
		return nil, transientID, lxerr.New(lxerr.InvalidArgument, fmt.Sprintf("propagation stamp: expected 0 or %d bytes, got %d", HashSize, len(stamp)))
	}

	idInput := make([]byte, 0, 16+len(ciphertext))
	idInput = append(idInput, destHash[:]...)
	idInput = append(idInput, ciphertext...)
	transientID = sha256.Sum256(idInput)

	entry = make([]byte, 0, 16+len(ciphertext)+len(stamp))
	entry = append(entry, destHash[:]...)
	entry = append(entry, ciphertext...)
	entry = append(entry, stamp...)
	return entry, transientID, nil
}

// SplitPropagationEntry recovers destination_hash, ciphertext, and (if
// present) the trailing 32-byte stamp from a single lxmf_data entry.
func SplitPropagationEntry(entry []byte) (destHash [16]byte, ciphertext []byte, stamp []byte, err error) {
	if len(entry) < DestHashSize {
		return destHash, nil, nil, lxerr.New(lxerr.StructuralDecode, "propagation entry: too short")
	}
	copy(destHash[:], entry[:DestHashSize])
	rest := entry[DestHashSize:]
	if len(rest) >= HashSize {
		// The reference wire does not length-prefix the ciphertext or the
		// stamp, so stamped and unstamped entries cannot be told apart from
		// bytes alone: every entry with at least HashSize bytes after the
		// destination hash is split as if its last HashSize bytes were a
		// stamp. Callers that know whether a stamp is present should use
		// SplitPropagationEntryN with an explicit stamp length instead.
		ciphertext = rest[:len(rest)-HashSize]
		stamp = rest[len(rest)-HashSize:]
		return destHash, ciphertext, stamp, nil
	}
	return destHash, rest, nil, nil
}

// SplitPropagationEntryN splits with an explicit, caller-known stamp length
// (0 or HashSize), avoiding the ambiguity SplitPropagationEntry has to guess
// around.
func SplitPropagationEntryN(entry []byte, stampLen int) (destHash [16]byte, ciphertext []byte, stamp []byte, err error) {
	if stampLen != 0 && stampLen != HashSize {
		return destHash, nil, nil, lxerr.New(lxerr.InvalidArgument, "stampLen must be 0 or 32")
	}
	if len(entry) < DestHashSize+stampLen {
		return destHash, nil, nil, lxerr.New(lxerr.StructuralDecode, "propagation entry: too short")
	}
	copy(destHash[:], entry[:DestHashSize])
	body := entry[DestHashSize : len(entry)-stampLen]
	if stampLen > 0 {
		stamp = entry[len(entry)-stampLen:]
	}
	return destHash, body, stamp, nil
}

// PackPropagationBatch wraps one or more lxmf_data entries as
// msgpack([now_f64, [lxmf_data...]]).
func PackPropagationBatch(now float64, entries [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, err
	}
	if err := enc.EncodeFloat64(now); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(entries)); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := enc.EncodeBytes(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnpackPropagationBatch parses msgpack([now_f64, [lxmf_data...]]).
func UnpackPropagationBatch(b []byte) (now float64, entries [][]byte, err error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, nil, lxerr.Wrap(lxerr.StructuralDecode, "propagation batch: not an array", err)
	}
	if n != 2 {
		return 0, nil, lxerr.New(lxerr.StructuralDecode, fmt.Sprintf("propagation batch: expected arity 2, got %d", n))
	}
	now, err = dec.DecodeFloat64()
	if err != nil {
		return 0, nil, lxerr.Wrap(lxerr.StructuralDecode, "propagation batch: timebase", err)
	}
	m, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, nil, lxerr.Wrap(lxerr.StructuralDecode, "propagation batch: entries", err)
	}
	entries = make([][]byte, 0, m)
	for i := 0; i < m; i++ {
		e, err := dec.DecodeBytes()
		if err != nil {
			return 0, nil, lxerr.Wrap(lxerr.StructuralDecode, "propagation batch: entry", err)
		}
		entries = append(entries, e)
	}
	return now, entries, nil
}

// PackTransientIDList encodes the REQUESTING_LIST response: the bare list of
// transient ids a propagation node currently holds, ahead of the follow-up
// /get that actually retrieves entries (spec.md §4.5).
func PackTransientIDList(ids [][32]byte) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeHashList(enc, ids); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackTransientIDList decodes a REQUESTING_LIST response.
func UnpackTransientIDList(b []byte) ([][32]byte, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	ids, err := decodeHashList(dec)
	if err != nil {
		return nil, lxerr.Wrap(lxerr.StructuralDecode, "transient id list", err)
	}
	return ids, nil
}

// GetRequest is the /get protocol request: either [null, null] to list all
// pending transient ids, or [wants, haves, limit_kb] to request specific
// entries with an optional size cap.
type GetRequest struct {
	ListAll bool
	Wants   [][32]byte
	Haves   [][32]byte
	LimitKB *int
}

// PackGetRequest encodes a GetRequest as msgpack([wants|null, haves|null,
// limit_kb|null]).
func PackGetRequest(req GetRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	if req.ListAll {
		if err := enc.EncodeNil(); err != nil {
			return nil, err
		}
		if err := enc.EncodeNil(); err != nil {
			return nil, err
		}
	} else {
		if err := encodeHashList(enc, req.Wants); err != nil {
			return nil, err
		}
		if err := encodeHashList(enc, req.Haves); err != nil {
			return nil, err
		}
	}
	if req.LimitKB == nil {
		if err := enc.EncodeNil(); err != nil {
			return nil, err
		}
	} else {
		if err := enc.EncodeInt(int64(*req.LimitKB)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeHashList(enc *msgpack.Encoder, hs [][32]byte) error {
	if err := enc.EncodeArrayLen(len(hs)); err != nil {
		return err
	}
	for _, h := range hs {
		if err := enc.EncodeBytes(h[:]); err != nil {
			return err
		}
	}
	return nil
}

// UnpackGetRequest decodes a /get request.
func UnpackGetRequest(b []byte) (GetRequest, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return GetRequest{}, lxerr.Wrap(lxerr.StructuralDecode, "get request: not an array", err)
	}
	if n != 3 {
		return GetRequest{}, lxerr.New(lxerr.StructuralDecode, fmt.Sprintf("get request: expected arity 3, got %d", n))
	}
	wantsNil, err := dec.PeekCode()
	if err != nil {
		return GetRequest{}, err
	}
	req := GetRequest{}
	if wantsNil == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return GetRequest{}, err
		}
		if err := dec.DecodeNil(); err != nil {
			return GetRequest{}, err
		}
		req.ListAll = true
	} else {
		req.Wants, err = decodeHashList(dec)
		if err != nil {
			return GetRequest{}, err
		}
		req.Haves, err = decodeHashList(dec)
		if err != nil {
			return GetRequest{}, err
		}
	}
	limitCode, err := dec.PeekCode()
	if err != nil {
		return GetRequest{}, err
	}
	if limitCode == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return GetRequest{}, err
		}
	} else {
		v, err := dec.DecodeInt()
		if err != nil {
			return GetRequest{}, err
		}
		req.LimitKB = &v
	}
	return req, nil
}

func decodeHashList(dec *msgpack.Decoder) ([][32]byte, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		var h [32]byte
		copy(h[:], b)
		out = append(out, h)
	}
	return out, nil
}
