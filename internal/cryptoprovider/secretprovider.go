package cryptoprovider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// ReferenceSecretProvider is a reference spdm.SecretProvider backed by an
// in-memory self-signed ECDSA-P256 root + leaf chain and a set of static
// measurement blocks, used by the emulator binaries and test suite. It is
// explicitly not a provisioning system — certificate provisioning remains
// an external collaborator; production Responders supply their own
// SecretProvider backed by real provisioned identities.
type ReferenceSecretProvider struct {
	signer       *ecdsa.PrivateKey
	chain        spdm.CertChain
	measurements [][]byte
	pskRoot      []byte
}

// NewReferenceSecretProvider generates a fresh self-signed root+leaf chain
// and returns a ready-to-use SecretProvider. measurements are raw,
// already-DSP0274-§10.11.1-encoded blocks; pskRoot is the static PSK for
// PSK_EXCHANGE.
func NewReferenceSecretProvider(measurements [][]byte, pskRoot []byte) (*ReferenceSecretProvider, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: generate root key: %w", err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "spdm-core reference root"},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).AddDate(30, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: self-sign root: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: generate leaf key: %w", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "spdm-core reference responder"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: sign leaf: %w", err)
	}

	certs := append(append([]byte(nil), leafDER...), rootDER...)
	chain := spdm.CertChain{RootHash: nil, Certs: certs}
	chain.Length = uint16(chain.TotalLen())

	return &ReferenceSecretProvider{
		signer:       leafKey,
		chain:        chain,
		measurements: measurements,
		pskRoot:      append([]byte(nil), pskRoot...),
	}, nil
}

// RootDER returns the self-signed root certificate, for a caller (the
// requester emulator) to provision as a trusted root.
func (p *ReferenceSecretProvider) RootDER() []byte {
	// The root is the second concatenated certificate in p.chain.Certs.
	offset, length, err := (CertOps{}).GetCertFromChain(p.chain.Certs, 1)
	if err != nil {
		return nil
	}
	return p.chain.Certs[offset : offset+length]
}

// Measurements returns the raw measurement blocks named by indices, or
// all blocks if indices is nil/empty.
func (p *ReferenceSecretProvider) Measurements(indices []uint8) ([]byte, error) {
	if len(indices) == 0 {
		var out []byte
		for _, m := range p.measurements {
			out = append(out, m...)
		}
		return out, nil
	}
	var out []byte
	for _, idx := range indices {
		if int(idx) == 0 || int(idx) > len(p.measurements) {
			return nil, fmt.Errorf("cryptoprovider: measurement index %d out of range", idx)
		}
		out = append(out, p.measurements[idx-1]...)
	}
	return out, nil
}

// MeasurementSummaryHash hashes the requested measurement set under algo.
func (p *ReferenceSecretProvider) MeasurementSummaryHash(algo spdm.MeasurementHashAlgo, all bool, indices []uint8) ([]byte, error) {
	var hashAlgo spdm.BaseHashAlgo
	switch algo {
	case spdm.MeasurementHashSHA256:
		hashAlgo = spdm.BaseHashSHA256
	case spdm.MeasurementHashSHA384:
		hashAlgo = spdm.BaseHashSHA384
	case spdm.MeasurementHashSHA512:
		hashAlgo = spdm.BaseHashSHA512
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported measurement summary hash %v", algo)
	}
	var data []byte
	var err error
	if all {
		data, err = p.Measurements(nil)
	} else {
		data, err = p.Measurements(indices)
	}
	if err != nil {
		return nil, err
	}
	return (Hash{}).HashAll(hashAlgo, data)
}

// SigningKey returns the reference leaf signer and chain for slot 0; this
// reference provider provisions exactly one identity slot.
func (p *ReferenceSecretProvider) SigningKey(slotID uint8) (crypto.Signer, *spdm.CertChain, error) {
	if slotID != 0 {
		return nil, nil, fmt.Errorf("cryptoprovider: no identity provisioned in slot %d", slotID)
	}
	return p.signer, &p.chain, nil
}

// PSKHandshakeSecret returns the static PSK root regardless of hint,
// since this reference provider has exactly one provisioned PSK.
func (p *ReferenceSecretProvider) PSKHandshakeSecret(pskHint []byte) ([]byte, error) {
	if len(p.pskRoot) == 0 {
		return nil, fmt.Errorf("cryptoprovider: no PSK provisioned")
	}
	return p.pskRoot, nil
}
