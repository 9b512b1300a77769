package spdm

import (
	"crypto"
	"crypto/x509"
	"io"
)

// This file defines the external-collaborator interfaces the core depends
// on but never implements itself: small, narrowly-scoped interfaces the
// FSMs call through, with exactly one registered implementation per
// process (see Providers below).

// HashProvider computes or streams a base hash algorithm.
type HashProvider interface {
	HashAll(algo BaseHashAlgo, data []byte) ([]byte, error)
	New(algo BaseHashAlgo) (HashState, error)
}

// HashState is a running hash context. Clone lets the Transcript Manager's
// streaming strategy fork a hash-so-far without disturbing the live
// accumulator so the streaming transcript strategy can fork a hash-so-far
// via clone-then-finalize.
type HashState interface {
	io.Writer
	Sum() []byte
	Clone() HashState
}

// HMACProvider computes an HMAC over a base hash algorithm.
type HMACProvider interface {
	HMAC(algo BaseHashAlgo, key, data []byte) ([]byte, error)
}

// HKDFProvider expands a pseudorandom key into output key material.
// This core only ever uses HKDF-Expand (the PRK is always already
// uniformly random, coming from an HMAC or a provisioned PSK).
type HKDFProvider interface {
	Expand(algo BaseHashAlgo, prk, info []byte, outLen int) ([]byte, error)
}

// AEADProvider performs authenticated encryption/decryption for a
// negotiated AEAD algorithm.
type AEADProvider interface {
	Encrypt(algo AEADAlgo, key, iv, aad, pt []byte) (ct, tag []byte, err error)
	Decrypt(algo AEADAlgo, key, iv, aad, ct, tag []byte) ([]byte, error)
}

// DHEProvider generates ephemeral (or finite-field) Diffie-Hellman key
// pairs for a negotiated group.
type DHEProvider interface {
	GenerateKeyPair(algo DHEGroup) (DHEKeyPair, error)
}

// DHEKeyPair is a single ephemeral key pair. ComputeSharedSecret consumes
// the peer's public value and the pair's private material; callers must
// not reuse a DHEKeyPair across more than one shared-secret computation.
type DHEKeyPair interface {
	Public() []byte
	ComputeSharedSecret(peerPublic []byte) ([]byte, error)
}

// AsymSignProvider produces a raw asymmetric signature over already-hashed
// or raw transcript data, per asymAlgo's padding/encoding convention.
type AsymSignProvider interface {
	Sign(hashAlgo BaseHashAlgo, asymAlgo BaseAsymAlgo, key crypto.Signer, data []byte) ([]byte, error)
}

// AsymVerifyProvider verifies a raw asymmetric signature against a leaf
// certificate extracted from a chain.
type AsymVerifyProvider interface {
	Verify(hashAlgo BaseHashAlgo, asymAlgo BaseAsymAlgo, certDER, data, sig []byte) error
}

// CertOperationProvider implements chain traversal and chain-of-trust
// verification. GetCertFromChain returns the byte offset/length of the
// index'th DER certificate within chain.Certs; VerifyChain validates the
// chain against the provisioned roots and returns the parsed leaf.
type CertOperationProvider interface {
	GetCertFromChain(chain []byte, index int) (offset, length int, err error)
	VerifyChain(chain []byte, roots [][]byte) (leaf *x509.Certificate, err error)
}

// RandProvider supplies cryptographically strong randomness for nonces,
// random/context fields, and session_id allocation. DHE key generation
// does not draw from it.
type RandProvider interface {
	Read(out []byte) (int, error)
}

// Providers is the process-wide, write-once bundle of crypto
// collaborators: readers never lock. Every field is set exactly once by
// NewProviders and never
// mutated afterward; there is deliberately no package-level mutable
// registry anywhere in this package, so the "write-once" property holds
// by construction rather than by convention.
type Providers struct {
	Hash       HashProvider
	HMAC       HMACProvider
	HKDF       HKDFProvider
	AEAD       AEADProvider
	DHE        DHEProvider
	AsymSign   AsymSignProvider
	AsymVerify AsymVerifyProvider
	CertOps    CertOperationProvider
	Rand       RandProvider
}

// NewProviders assembles an immutable Providers bundle. Any nil field is
// rejected so a Context can assume every provider is callable.
func NewProviders(hash HashProvider, hmac HMACProvider, hkdf HKDFProvider, aead AEADProvider,
	dhe DHEProvider, asymSign AsymSignProvider, asymVerify AsymVerifyProvider,
	certOps CertOperationProvider, rnd RandProvider) (Providers, error) {
	p := Providers{
		Hash:       hash,
		HMAC:       hmac,
		HKDF:       hkdf,
		AEAD:       aead,
		DHE:        dhe,
		AsymSign:   asymSign,
		AsymVerify: asymVerify,
		CertOps:    certOps,
		Rand:       rnd,
	}
	if hash == nil || hmac == nil || hkdf == nil || aead == nil || dhe == nil ||
		asymSign == nil || asymVerify == nil || certOps == nil || rnd == nil {
		return Providers{}, wrapf(ErrorKindFault, "spdm: NewProviders: all nine providers are required")
	}
	return p, nil
}

// SecretProvider is the Responder-side collaborator for locally-owned
// secret material: measurement collection, measurement-summary hashing,
// signing over the Responder's own transcript digests, and PSK-root
// expansion for PSK_EXCHANGE.
type SecretProvider interface {
	// Measurements returns the raw measurement blocks to include in a
	// MEASUREMENTS response, already encoded per DSP0274 §10.11.1.
	Measurements(indices []uint8) ([]byte, error)
	// MeasurementSummaryHash hashes the requested measurement set (or all
	// measurements) with algo, per the requested summary type.
	MeasurementSummaryHash(algo MeasurementHashAlgo, all bool, indices []uint8) ([]byte, error)
	// SigningKey returns the Responder's private key and the certificate
	// chain rooted at slotID, for CHALLENGE_AUTH / KEY_EXCHANGE_RSP
	// signing.
	SigningKey(slotID uint8) (crypto.Signer, *CertChain, error)
	// PSKHandshakeSecret returns the PSK-derived root secret for the given
	// PSK hint, used in place of a DHE shared secret for PSK_EXCHANGE.
	PSKHandshakeSecret(pskHint []byte) ([]byte, error)
}
