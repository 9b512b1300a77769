package cryptoprovider

import (
	"crypto/rand"
	"math/rand/v2"
)

// Rand implements spdm.RandProvider over crypto/rand, the production
// default (ericlagergren-dr turns out, on inspection, to be a Double
// Ratchet session-chaining library rather than an RNG/DRBG — see
// DESIGN.md — so citing it here would be ungrounded; crypto/rand is the
// universal stdlib CSPRNG source used the same way across the pack).
type Rand struct{}

// Read fills out with cryptographically strong random bytes.
func (Rand) Read(out []byte) (int, error) {
	return rand.Read(out)
}

// DeterministicRand is a test-mode spdm.RandProvider seeded from a fixed
// key, used so the values the core draws through its RandProvider
// (session_id allocation, nonces, random and context fields) are
// reproducible across runs. DHE key generation and signing in this package
// read crypto/rand directly and are not affected by it. Backed by
// math/rand/v2's ChaCha8 source rather than a third-party DRBG, since
// this provider exists purely for deterministic test fixtures.
type DeterministicRand struct {
	src *rand.ChaCha8
}

// NewDeterministicRand seeds a reproducible RandProvider from a 32-byte
// key.
func NewDeterministicRand(seed [32]byte) *DeterministicRand {
	return &DeterministicRand{src: rand.NewChaCha8(seed)}
}

// Read fills out with the deterministic stream's next bytes.
func (d *DeterministicRand) Read(out []byte) (int, error) {
	return d.src.Read(out)
}
