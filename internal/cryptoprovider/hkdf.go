package cryptoprovider

import (
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// HKDF implements spdm.HKDFProvider over golang.org/x/crypto/hkdf,
// Expand-only (the PRK here is always already uniformly random).
// Grounded on SAGE-X-project-sage's session package, which imports the
// same library for the same RFC 5869 construction.
type HKDF struct{}

// Expand derives outLen bytes of output key material from prk and info.
func (HKDF) Expand(algo spdm.BaseHashAlgo, prk, info []byte, outLen int) ([]byte, error) {
	nf, err := hashFunc(algo)
	if err != nil {
		return nil, err
	}
	r := hkdf.Expand(nf, prk, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
