package cryptoprovider

import (
	"crypto/hmac"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// HMAC implements spdm.HMACProvider over stdlib crypto/hmac, matching the
// hash-family constructors Hash uses.
type HMAC struct{}

// HMAC computes HMAC(algo, key, data).
func (HMAC) HMAC(algo spdm.BaseHashAlgo, key, data []byte) ([]byte, error) {
	nf, err := hashFunc(algo)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(nf, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}
