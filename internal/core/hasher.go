package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"VaultLedger/internal/event"
)

const GenesisHashSeed = "VaultLedger:genesis:v1"

// GenesisHash is the chain tip before the first operation.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher maintains the operation hash chain.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Restore resets the chain tip, used when resuming from the journal.
func (h *StateHasher) Restore(tip [32]byte) {
	h.prevHash = tip
}

// OperationDigest builds the canonical bytes hashed for one envelope: the
// operation fields followed by the before/after state of each touched account
// in sorted order. Strings are length-prefixed.
func OperationDigest(env *event.Envelope) []byte {
	digest := make([]byte, 0, 256)
	digest = appendString(digest, env.Op.String())
	digest = appendString(digest, env.Account)
	digest = appendString(digest, env.Counterparty)
	digest = appendString(digest, env.Amount)
	digest = appendString(digest, env.Price)
	if env.OK {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}

	accounts := make([]string, 0, len(env.After))
	for a := range env.After {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	for _, a := range accounts {
		digest = appendString(digest, a)
		before := env.Before[a]
		after := env.After[a]
		digest = appendString(digest, before.Collateral)
		digest = appendString(digest, before.Debt)
		digest = appendString(digest, after.Collateral)
		digest = appendString(digest, after.Debt)
	}
	return digest
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}
