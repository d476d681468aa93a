// Package propagation implements the propagation client described in
// spec.md §4.5: the known-node registry, submission, and the sync/retrieval
// state machine. Persistence follows the reference node's bbolt
// bucket-per-concern layout (node/store/db.go): one bucket for known nodes,
// one for transient ids already retrieved.
package propagation

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/torlando-tech/reticulum-go/lxmf/lxerr"
	"github.com/torlando-tech/reticulum-go/lxmf/transport"
)

var (
	bucketNodes        = []byte("propagation_nodes")
	bucketSeenTransient = []byte("seen_transient_ids")
)

// NodeRecord describes a known propagation node (spec §4.5a).
type NodeRecord struct {
	DestHash    [16]byte `json:"-"`
	DisplayName string   `json:"display_name"`
	StampCost   int      `json:"stamp_cost"`
	Flexibility int      `json:"flexibility"`
	Active      bool     `json:"active"`
}

// AcceptsCost reports whether a stamp generated at cost satisfies this
// node's acceptance band: stamp_cost down to stamp_cost - flexibility.
func (n NodeRecord) AcceptsCost(cost int) bool {
	floor := n.StampCost - n.Flexibility
	if floor < 0 {
		floor = 0
	}
	return cost >= floor
}

// Registry persists known propagation nodes and a local record of transient
// ids already retrieved, guarded by a single mutex matching the Router's
// node-registry locking granularity (spec.md §5).
type Registry struct {
	mu sync.Mutex

	db     *bolt.DB
	active transport.DestHash

	cache map[transport.DestHash]NodeRecord
	seen  map[[32]byte]bool // only populated when db == nil (OpenMemoryRegistry)
}

// OpenRegistry opens (creating if absent) a bbolt-backed registry rooted at
// dataDir/propagation.db.
func OpenRegistry(dataDir string) (*Registry, error) {
	path := filepath.Join(dataDir, "propagation.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, lxerr.Wrap(lxerr.InvalidArgument, "propagation: open registry", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSeenTransient); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, lxerr.Wrap(lxerr.InvalidArgument, "propagation: init buckets", err)
	}

	r := &Registry{db: db, cache: make(map[transport.DestHash]NodeRecord)}
	if err := r.loadAll(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// OpenMemoryRegistry constructs a registry with no persistence, for tests
// and in-process use.
func OpenMemoryRegistry() *Registry {
	return &Registry{cache: make(map[transport.DestHash]NodeRecord), seen: make(map[[32]byte]bool)}
}

func (r *Registry) loadAll() error {
	return r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var rec NodeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("propagation: decode node record: %w", err)
			}
			var h transport.DestHash
			copy(h[:], k)
			rec.DestHash = h
			r.cache[h] = rec
			if rec.Active {
				r.active = h
			}
			return nil
		})
	})
}

// Close releases the underlying database, if any.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Add registers a node directly, without requiring an announce (spec
// §4.6's add_propagation_node). Re-adding an existing hash updates its
// record.
func (r *Registry) Add(rec NodeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[rec.DestHash] = rec
	return r.persist(rec)
}

func (r *Registry) persist(rec NodeRecord) error {
	if r.db == nil {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put(rec.DestHash[:], b)
	})
}

// SetActive marks hash as the active propagation node; others remain
// registered (spec §4.4 tie-break: most-recently-selected wins).
func (r *Registry) SetActive(hash transport.DestHash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cache[hash]
	if !ok {
		return lxerr.New(lxerr.InvalidArgument, "propagation: unknown node")
	}
	if prev, ok := r.cache[r.active]; ok && r.active != hash {
		prev.Active = false
		r.cache[r.active] = prev
		if err := r.persist(prev); err != nil {
			return err
		}
	}
	rec.Active = true
	r.cache[hash] = rec
	r.active = hash
	return r.persist(rec)
}

// Active returns the currently selected node, if any.
func (r *Registry) Active() (NodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cache[r.active]
	return rec, ok
}

// Get returns a known node by hash.
func (r *Registry) Get(hash transport.DestHash) (NodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cache[hash]
	return rec, ok
}

// HasSeen reports whether transientID was already recorded as retrieved.
func (r *Registry) HasSeen(transientID [32]byte) (bool, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.seen[transientID], nil
	}
	var seen bool
	err := r.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(bucketSeenTransient).Get(transientID[:]) != nil
		return nil
	})
	return seen, err
}

// MarkSeen records transientID as retrieved, so a stale redelivery from a
// node that has not yet pruned its store is not handed to the application
// twice (spec.md §4.5 deletion semantics, defended locally across restarts).
func (r *Registry) MarkSeen(transientID [32]byte) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen[transientID] = true
		return nil
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeenTransient).Put(transientID[:], []byte{1})
	})
}
