package cryptoprovider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// AsymSign implements spdm.AsymSignProvider over stdlib crypto/ecdsa and
// crypto/rsa. No pack example imports a third-party ECDSA/RSA stack for
// certificate-style signing (SAGE-X's secp256k1/circl dependencies cover
// curves outside SPDM's base-asym table; see DESIGN.md) — stdlib is the
// grounded choice here.
type AsymSign struct{}

// Sign hashes data under hashAlgo and produces a raw signature: r||s
// (fixed-width, zero-padded) for ECDSA, or the raw RSA signature bytes for
// RSASSA/RSAPSS, per DSP0274's fixed-size signature encoding.
func (AsymSign) Sign(hashAlgo spdm.BaseHashAlgo, asymAlgo spdm.BaseAsymAlgo, key crypto.Signer, data []byte) ([]byte, error) {
	nf, err := hashFunc(hashAlgo)
	if err != nil {
		return nil, err
	}
	h := nf()
	h.Write(data)
	digest := h.Sum(nil)

	switch asymAlgo {
	case spdm.BaseAsymECDSAP256, spdm.BaseAsymECDSAP384, spdm.BaseAsymECDSAP521:
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("cryptoprovider: asym sign: key is not an ECDSA private key")
		}
		r, s, err := ecdsa.Sign(rand.Reader, ecKey, digest)
		if err != nil {
			return nil, fmt.Errorf("cryptoprovider: ecdsa sign: %w", err)
		}
		size := asymAlgo.SignatureSize() / 2
		out := make([]byte, 2*size)
		r.FillBytes(out[:size])
		s.FillBytes(out[size:])
		return out, nil
	case spdm.BaseAsymRSASSA2048, spdm.BaseAsymRSASSA3072, spdm.BaseAsymRSASSA4096:
		return key.Sign(rand.Reader, digest, cryptoHashOf(hashAlgo))
	case spdm.BaseAsymRSAPSS2048, spdm.BaseAsymRSAPSS3072, spdm.BaseAsymRSAPSS4096:
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: cryptoHashOf(hashAlgo)}
		return key.Sign(rand.Reader, digest, opts)
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported asym algorithm %v", asymAlgo)
	}
}

func cryptoHashOf(algo spdm.BaseHashAlgo) crypto.Hash {
	switch algo {
	case spdm.BaseHashSHA256:
		return crypto.SHA256
	case spdm.BaseHashSHA384:
		return crypto.SHA384
	case spdm.BaseHashSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// AsymVerify implements spdm.AsymVerifyProvider, parsing the leaf
// certificate from certDER and verifying a raw signature against it.
type AsymVerify struct{}

// Verify checks sig over data, hashed under hashAlgo, against the public
// key embedded in certDER.
func (AsymVerify) Verify(hashAlgo spdm.BaseHashAlgo, asymAlgo spdm.BaseAsymAlgo, certDER, data, sig []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("cryptoprovider: asym verify: parse leaf cert: %w", err)
	}

	nf, err := hashFunc(hashAlgo)
	if err != nil {
		return err
	}
	h := nf()
	h.Write(data)
	digest := h.Sum(nil)

	switch asymAlgo {
	case spdm.BaseAsymECDSAP256, spdm.BaseAsymECDSAP384, spdm.BaseAsymECDSAP521:
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("cryptoprovider: asym verify: certificate key is not ECDSA")
		}
		size := asymAlgo.SignatureSize() / 2
		if len(sig) != 2*size {
			return fmt.Errorf("cryptoprovider: asym verify: signature size mismatch")
		}
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if !ecdsa.Verify(pub, digest, r, s) {
			return fmt.Errorf("cryptoprovider: ecdsa signature did not verify")
		}
		return nil
	case spdm.BaseAsymRSASSA2048, spdm.BaseAsymRSASSA3072, spdm.BaseAsymRSASSA4096:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("cryptoprovider: asym verify: certificate key is not RSA")
		}
		return rsa.VerifyPKCS1v15(pub, cryptoHashOf(hashAlgo), digest, sig)
	case spdm.BaseAsymRSAPSS2048, spdm.BaseAsymRSAPSS3072, spdm.BaseAsymRSAPSS4096:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("cryptoprovider: asym verify: certificate key is not RSA")
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: cryptoHashOf(hashAlgo)}
		return rsa.VerifyPSS(pub, cryptoHashOf(hashAlgo), digest, sig, opts)
	default:
		return fmt.Errorf("cryptoprovider: unsupported asym algorithm %v", asymAlgo)
	}
}
