package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "Parimutuel:genesis:v1"

// StateHasher chains a hash over every committed change set
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(h.prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip from a snapshot
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// VerifyChain recomputes a chain segment starting at prev and reports the first
// sequence whose stored hash does not match, or -1.
func VerifyChain(prev [32]byte, links []ChainLink) int64 {
	h := &StateHasher{prevHash: prev}
	for _, l := range links {
		if h.ComputeHash(l.Sequence, l.Digest) != l.StateHash {
			return l.Sequence
		}
	}
	return -1
}

// ChainLink is one stored (sequence, digest, hash) triple
type ChainLink struct {
	Sequence  int64
	Digest    []byte
	StateHash [32]byte
}
