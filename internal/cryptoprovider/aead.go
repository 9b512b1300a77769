package cryptoprovider

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// AEAD implements spdm.AEADProvider for the three session AEAD algorithms
// SPDM negotiates: AES-128/256-GCM via stdlib crypto/aes+crypto/cipher
// (no pack example reaches for a third-party AES-GCM; this is the
// universal stdlib choice across the retrieval pack), and
// ChaCha20-Poly1305 via golang.org/x/crypto/chacha20poly1305, grounded on
// wireguard-go's noise-protocol transport records in other_examples,
// which use the same package for the same purpose.
type AEAD struct{}

func (AEAD) aeadFor(algo spdm.AEADAlgo, key []byte) (cipher.AEAD, error) {
	switch algo {
	case spdm.AEADAES128GCM, spdm.AEADAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("cryptoprovider: aes-gcm: %w", err)
		}
		return cipher.NewGCM(block)
	case spdm.AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported AEAD algorithm %v", algo)
	}
}

// Encrypt seals pt under key/iv/aad, returning the ciphertext and
// authentication tag as separate slices matching the record layer's
// "app_data ‖ pad ‖ MAC" layout.
func (a AEAD) Encrypt(algo spdm.AEADAlgo, key, iv, aad, pt []byte) (ct, tag []byte, err error) {
	aead, err := a.aeadFor(algo, key)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, iv, pt, aad)
	tagSize := aead.Overhead()
	return sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:], nil
}

// Decrypt opens ct/tag under key/iv/aad, failing if the tag does not
// verify.
func (a AEAD) Decrypt(algo spdm.AEADAlgo, key, iv, aad, ct, tag []byte) ([]byte, error) {
	aead, err := a.aeadFor(algo, key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	return aead.Open(nil, iv, sealed, aad)
}
