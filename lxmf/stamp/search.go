package stamp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"sync"
)

// StampSize is the fixed width of a stamp.
const StampSize = 32

// checkInterval bounds how often a search goroutine checks for cancellation
// against how much hashing it does between checks, so the check itself
// costs far less than 1% of the work (design note in spec.md §9).
const checkInterval = 2048

// Value returns the number of leading zero bits of SHA-256(workblock ‖
// stamp), i.e. 256 minus the bit length of the hash read as a big-endian
// unsigned integer.
func Value(workblock, candidate []byte) int {
	h := sha256Of(workblock, candidate)
	n := new(big.Int).SetBytes(h[:])
	return 256 - n.BitLen()
}

func sha256Of(workblock, candidate []byte) [32]byte {
	buf := make([]byte, 0, len(workblock)+len(candidate))
	buf = append(buf, workblock...)
	buf = append(buf, candidate...)
	return sha256.Sum256(buf)
}

// Valid reports whether candidate satisfies targetCost against workblock.
// Truncated or empty stamps are rejected before hashing. Cost 0 accepts any
// well-formed 32-byte stamp.
func Valid(workblock, candidate []byte, targetCost int) bool {
	if len(candidate) != StampSize {
		return false
	}
	if targetCost <= 0 {
		return true
	}
	return Value(workblock, candidate) >= targetCost
}

// Find searches for a stamp satisfying cost over workblock using workers
// concurrent goroutines, each trying independently randomized candidates.
// It returns (nil, false) if ctx is canceled before any goroutine finds a
// qualifying stamp; cancellation is checked every checkInterval trials per
// worker and releases the workblock reference on return.
func Find(ctx context.Context, workblock []byte, cost int, workers int) ([]byte, bool) {
	if workers <= 0 {
		workers = 1
	}
	if cost <= 0 {
		return randomStamp(), true
	}

	found := make(chan []byte, workers)
	var wg sync.WaitGroup
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidate := make([]byte, StampSize)
			trials := 0
			for {
				if trials%checkInterval == 0 {
					select {
					case <-searchCtx.Done():
						return
					default:
					}
				}
				trials++
				if _, err := rand.Read(candidate); err != nil {
					return
				}
				if Value(workblock, candidate) >= cost {
					select {
					case found <- append([]byte(nil), candidate...):
						cancel()
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case stamp, ok := <-found:
		if !ok {
			return nil, false
		}
		return stamp, true
	case <-ctx.Done():
		cancel()
		return nil, false
	}
}

func randomStamp() []byte {
	b := make([]byte, StampSize)
	_, _ = rand.Read(b)
	return b
}
