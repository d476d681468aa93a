// Package stamp implements the LXMF proof-of-work subsystem: HKDF-expanded
// workblock derivation, randomized stamp search, and cost validation. The
// search loop's cancellation shape is grounded on the reference node's
// miner (node/miner.go MineOne): a tight loop that checks for cancellation
// every checkInterval iterations and otherwise spends its time hashing.
package stamp

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	blockSize = 256

	// WorkblockExpandRounds is the expand-round count for DIRECT/regular
	// messages.
	WorkblockExpandRounds = 3000
	// WorkblockExpandRoundsPN is the expand-round count for propagation-node
	// stamps, bound to transient_id rather than message_id.
	WorkblockExpandRoundsPN = 1000
)

// Workblock derives expandRounds*256 bytes via iterated HKDF-SHA-256
// expansion seeded by messageID. It is deterministic and prefix-stable:
// Workblock(id, n)[:k*256] == Workblock(id, k) for any k <= n (spec
// invariant 5), because round n's 256-byte block depends only on messageID
// and n: HKDF over messageID, salted with SHA-256(messageID ‖ msgpack(n)).
func Workblock(messageID [32]byte, expandRounds int) []byte {
	if expandRounds <= 0 {
		return nil
	}
	out := make([]byte, expandRounds*blockSize)
	for n := 0; n < expandRounds; n++ {
		var idx bytes.Buffer
		_ = msgpack.NewEncoder(&idx).EncodeInt(int64(n))
		salt := sha256.Sum256(append(messageID[:], idx.Bytes()...))
		r := hkdf.New(newSHA256, messageID[:], salt[:], nil)
		if _, err := io.ReadFull(r, out[n*blockSize:(n+1)*blockSize]); err != nil {
			// Each round reads 256 bytes, well under hkdf's 255*32-byte limit.
			panic("stamp: hkdf expansion exhausted: " + err.Error())
		}
	}
	return out
}
