package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisSeed = "cdpledger:genesis:v1"

// StateHasher maintains the event log's hash chain:
// state_hash[n] = SHA-256(state_hash[n-1] || sequence || digest).
// Any divergence between two replicas replaying the same log surfaces as a
// chain mismatch at the first differing event.
type StateHasher struct {
	prev [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prev: sha256.Sum256([]byte(genesisSeed))}
}

// Compute extends the chain by one link and returns the new tip.
func (h *StateHasher) Compute(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prev[:])

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(sequence))
	hasher.Write(seq[:])
	hasher.Write(digest)

	copy(h.prev[:], hasher.Sum(nil))
	return h.prev
}

// Tip returns the current chain head.
func (h *StateHasher) Tip() [32]byte {
	return h.prev
}

// SetTip rewinds or fast-forwards the chain, used on snapshot restore.
func (h *StateHasher) SetTip(hash [32]byte) {
	h.prev = hash
}
