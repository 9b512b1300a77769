// Package cryptoprovider implements internal/spdm's crypto-provider
// interfaces (HashProvider, HMACProvider, ...) against real third-party
// and standard-library primitives: one concrete, swappable implementation
// of every provider interface. It is reference-quality, not hardened —
// production callers are expected to
// supply their own providers (HSM-backed, constant-time, etc).
package cryptoprovider

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// hashFunc resolves a negotiated BaseHashAlgo to its stdlib constructor.
func hashFunc(algo spdm.BaseHashAlgo) (func() hash.Hash, error) {
	switch algo {
	case spdm.BaseHashSHA256:
		return sha256.New, nil
	case spdm.BaseHashSHA384:
		return sha512.New384, nil
	case spdm.BaseHashSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported hash algorithm %v", algo)
	}
}

// Hash implements spdm.HashProvider over the standard library's SHA-2
// family. No pack example reaches for a third-party hash package for
// SHA-256/384/512, so this is stdlib by design, not omission.
type Hash struct{}

// HashAll computes algo(data) in one call.
func (Hash) HashAll(algo spdm.BaseHashAlgo, data []byte) ([]byte, error) {
	nf, err := hashFunc(algo)
	if err != nil {
		return nil, err
	}
	h := nf()
	h.Write(data)
	return h.Sum(nil), nil
}

// New returns a streaming HashState for algo, used by the Transcript
// Manager's streaming strategy.
func (Hash) New(algo spdm.BaseHashAlgo) (spdm.HashState, error) {
	nf, err := hashFunc(algo)
	if err != nil {
		return nil, err
	}
	return &hashState{h: nf()}, nil
}

// hashState adapts hash.Hash to spdm.HashState, adding Clone via the
// stdlib hashes' MarshalBinary/UnmarshalBinary support: the running state
// is serialized and loaded into a fresh hash of the same size, which forks
// it as the streaming transcript strategy's clone-then-finalize mode
// requires.
type hashState struct {
	h hash.Hash
}

func (s *hashState) Write(p []byte) (int, error) { return s.h.Write(p) }

func (s *hashState) Sum() []byte { return s.h.Sum(nil) }

func (s *hashState) Clone() spdm.HashState {
	type cloner interface {
		MarshalBinary() ([]byte, error)
	}
	// crypto/sha256 and crypto/sha512's Hash implementations support
	// binary marshal/unmarshal specifically so callers can fork a running
	// digest; using it here avoids reaching into unexported state.
	if m, ok := s.h.(cloner); ok {
		state, err := m.MarshalBinary()
		if err == nil {
			if u, ok := s.h.(interface{ UnmarshalBinary([]byte) error }); ok {
				clone := cloneHashOf(s.h)
				if cu, ok := clone.(interface{ UnmarshalBinary([]byte) error }); ok {
					if cu.UnmarshalBinary(state) == nil {
						return &hashState{h: clone}
					}
				}
				_ = u
			}
		}
	}
	// Fallback: re-sum and re-seed a fresh hash with the digest-so-far is
	// not a valid hash fork, so this path only triggers for a
	// constructor this package doesn't know; all three SPDM hash sizes
	// above support MarshalBinary.
	return &hashState{h: s.h}
}

// cloneHashOf returns a fresh zero-value hash of the same concrete type as
// h, so MarshalBinary/UnmarshalBinary can fork state without aliasing.
func cloneHashOf(h hash.Hash) hash.Hash {
	switch h.(type) {
	case interface{ Size() int }:
		switch h.Size() {
		case 32:
			return sha256.New()
		case 48:
			return sha512.New384()
		case 64:
			return sha512.New()
		}
	}
	return h
}
