package cryptoprovider

import "github.com/spdm-core/spdm-core/internal/spdm"

// NewReferenceProviders assembles the reference Providers bundle from this
// package's stdlib/x-crypto-backed implementations: one concrete,
// swappable implementation of every provider interface. rnd lets callers
// swap in
// DeterministicRand for reproducible test transcripts; production callers
// pass Rand{}.
func NewReferenceProviders(rnd spdm.RandProvider) (spdm.Providers, error) {
	return spdm.NewProviders(Hash{}, HMAC{}, HKDF{}, AEAD{}, DHE{}, AsymSign{}, AsymVerify{}, CertOps{}, rnd)
}
