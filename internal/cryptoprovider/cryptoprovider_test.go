package cryptoprovider_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"go.uber.org/goleak"

	"github.com/spdm-core/spdm-core/internal/cryptoprovider"
	"github.com/spdm-core/spdm-core/internal/spdm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHashAllSizes(t *testing.T) {
	cases := []struct {
		algo spdm.BaseHashAlgo
		size int
	}{
		{spdm.BaseHashSHA256, 32},
		{spdm.BaseHashSHA384, 48},
		{spdm.BaseHashSHA512, 64},
	}
	for _, c := range cases {
		digest, err := (cryptoprovider.Hash{}).HashAll(c.algo, []byte("spdm-core reference hash input"))
		if err != nil {
			t.Fatalf("HashAll(%v): %v", c.algo, err)
		}
		if len(digest) != c.size {
			t.Fatalf("HashAll(%v) length = %d, want %d", c.algo, len(digest), c.size)
		}
	}
}

func TestHashStateCloneDivergesIndependently(t *testing.T) {
	state, err := (cryptoprovider.Hash{}).New(spdm.BaseHashSHA256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	state.Write([]byte("shared prefix"))

	clone := state.Clone()

	state.Write([]byte("-original-suffix"))
	clone.Write([]byte("-clone-suffix"))

	if bytes.Equal(state.Sum(), clone.Sum()) {
		t.Fatalf("diverged clone and original produced the same digest")
	}
}

func TestHKDFExpandDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x5a}, 32)
	info := []byte("test-info")
	a, err := (cryptoprovider.HKDF{}).Expand(spdm.BaseHashSHA256, secret, info, 32)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	b, err := (cryptoprovider.HKDF{}).Expand(spdm.BaseHashSHA256, secret, info, 32)
	if err != nil {
		t.Fatalf("Expand (second): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("HKDF-Expand not deterministic for identical inputs")
	}

	c, err := (cryptoprovider.HKDF{}).Expand(spdm.BaseHashSHA256, secret, []byte("different-info"), 32)
	if err != nil {
		t.Fatalf("Expand (different info): %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("HKDF-Expand with different info produced the same output")
	}
}

func TestHMACDetectsTamperedData(t *testing.T) {
	key := bytes.Repeat([]byte{0x7f}, 32)
	tag, err := (cryptoprovider.HMAC{}).HMAC(spdm.BaseHashSHA256, key, []byte("verify-data input"))
	if err != nil {
		t.Fatalf("HMAC: %v", err)
	}
	other, err := (cryptoprovider.HMAC{}).HMAC(spdm.BaseHashSHA256, key, []byte("verify-data inpuu"))
	if err != nil {
		t.Fatalf("HMAC (tampered): %v", err)
	}
	if bytes.Equal(tag, other) {
		t.Fatalf("HMAC over different data produced the same tag")
	}
}

func TestAEADEncryptDecryptRoundTrip(t *testing.T) {
	cases := []spdm.AEADAlgo{spdm.AEADAES128GCM, spdm.AEADAES256GCM, spdm.AEADChaCha20Poly1305}
	for _, algo := range cases {
		key := make([]byte, algo.KeySize())
		iv := make([]byte, algo.IVSize())
		if _, err := rand.Read(key); err != nil {
			t.Fatalf("rand key: %v", err)
		}
		if _, err := rand.Read(iv); err != nil {
			t.Fatalf("rand iv: %v", err)
		}
		aad := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
		plain := []byte("secured application record payload")

		ct, tag, err := (cryptoprovider.AEAD{}).Encrypt(algo, key, iv, aad, plain)
		if err != nil {
			t.Fatalf("%v Encrypt: %v", algo, err)
		}
		if len(tag) != algo.TagSize() {
			t.Fatalf("%v tag length = %d, want %d", algo, len(tag), algo.TagSize())
		}
		got, err := (cryptoprovider.AEAD{}).Decrypt(algo, key, iv, aad, ct, tag)
		if err != nil {
			t.Fatalf("%v Decrypt: %v", algo, err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("%v decrypted = %q, want %q", algo, got, plain)
		}

		badAAD := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x07}
		if _, err := (cryptoprovider.AEAD{}).Decrypt(algo, key, iv, badAAD, ct, tag); err == nil {
			t.Fatalf("%v Decrypt with mismatched AAD should fail", algo)
		}
	}
}

func TestDHEKeyExchangeAgreement(t *testing.T) {
	cases := []spdm.DHEGroup{
		spdm.DHESECP256R1, spdm.DHESECP384R1, spdm.DHESECP521R1,
		spdm.DHEFFDHE2048, spdm.DHEFFDHE3072,
	}
	for _, group := range cases {
		dhe := cryptoprovider.DHE{}
		a, err := dhe.GenerateKeyPair(group)
		if err != nil {
			t.Fatalf("%v GenerateKeyPair (a): %v", group, err)
		}
		b, err := dhe.GenerateKeyPair(group)
		if err != nil {
			t.Fatalf("%v GenerateKeyPair (b): %v", group, err)
		}

		if len(a.Public()) != group.PublicKeySize() {
			t.Fatalf("%v public key size = %d, want %d", group, len(a.Public()), group.PublicKeySize())
		}

		secretA, err := a.ComputeSharedSecret(b.Public())
		if err != nil {
			t.Fatalf("%v ComputeSharedSecret (a): %v", group, err)
		}
		secretB, err := b.ComputeSharedSecret(a.Public())
		if err != nil {
			t.Fatalf("%v ComputeSharedSecret (b): %v", group, err)
		}
		if !bytes.Equal(secretA, secretB) {
			t.Fatalf("%v: shared secrets disagree", group)
		}
	}
}

func TestAsymSignVerifyRoundTrip(t *testing.T) {
	secrets, err := cryptoprovider.NewReferenceSecretProvider(nil, nil)
	if err != nil {
		t.Fatalf("NewReferenceSecretProvider: %v", err)
	}
	signer, chain, err := secrets.SigningKey(0)
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	offset, length, err := (cryptoprovider.CertOps{}).GetCertFromChain(chain.Certs, 0)
	if err != nil {
		t.Fatalf("GetCertFromChain: %v", err)
	}
	leafCert := chain.Certs[offset : offset+length]

	data := []byte("transcript hash standing in for TH1/TH2")
	sig, err := (cryptoprovider.AsymSign{}).Sign(spdm.BaseHashSHA256, spdm.BaseAsymECDSAP256, signer, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != spdm.BaseAsymECDSAP256.SignatureSize() {
		t.Fatalf("signature length = %d, want %d", len(sig), spdm.BaseAsymECDSAP256.SignatureSize())
	}
	if err := (cryptoprovider.AsymVerify{}).Verify(spdm.BaseHashSHA256, spdm.BaseAsymECDSAP256, leafCert, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tamperedSig := append([]byte(nil), sig...)
	tamperedSig[0] ^= 0xFF
	if err := (cryptoprovider.AsymVerify{}).Verify(spdm.BaseHashSHA256, spdm.BaseAsymECDSAP256, leafCert, data, tamperedSig); err == nil {
		t.Fatalf("Verify of tampered signature succeeded")
	}
}

func TestCertOpsVerifyChain(t *testing.T) {
	secrets, err := cryptoprovider.NewReferenceSecretProvider(nil, nil)
	if err != nil {
		t.Fatalf("NewReferenceSecretProvider: %v", err)
	}
	_, chain, err := secrets.SigningKey(0)
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	root := secrets.RootDER()
	if root == nil {
		t.Fatalf("RootDER returned nil")
	}

	leaf, err := (cryptoprovider.CertOps{}).VerifyChain(chain.Certs, [][]byte{root})
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if leaf == nil {
		t.Fatalf("VerifyChain returned a nil leaf")
	}

	untrustedRoot, err := newUntrustedRootDER()
	if err != nil {
		t.Fatalf("newUntrustedRootDER: %v", err)
	}
	if _, err := (cryptoprovider.CertOps{}).VerifyChain(chain.Certs, [][]byte{untrustedRoot}); err == nil {
		t.Fatalf("VerifyChain against an unrelated root should fail")
	}
}

func newUntrustedRootDER() ([]byte, error) {
	secrets, err := cryptoprovider.NewReferenceSecretProvider(nil, nil)
	if err != nil {
		return nil, err
	}
	return secrets.RootDER(), nil
}

func TestRandProviderFillsBuffer(t *testing.T) {
	var buf [32]byte
	n, err := (cryptoprovider.Rand{}).Read(buf[:])
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Read returned n=%d, want %d", n, len(buf))
	}
}

func TestDeterministicRandReproducible(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("fixed-seed-for-reproducible-test"))

	a := cryptoprovider.NewDeterministicRand(seed)
	b := cryptoprovider.NewDeterministicRand(seed)

	bufA := make([]byte, 16)
	bufB := make([]byte, 16)
	if _, err := a.Read(bufA); err != nil {
		t.Fatalf("Read (a): %v", err)
	}
	if _, err := b.Read(bufB); err != nil {
		t.Fatalf("Read (b): %v", err)
	}
	if !bytes.Equal(bufA, bufB) {
		t.Fatalf("two DeterministicRand instances with the same seed diverged")
	}
}

func TestReferenceProvidersAssembled(t *testing.T) {
	providers, err := cryptoprovider.NewReferenceProviders(cryptoprovider.Rand{})
	if err != nil {
		t.Fatalf("NewReferenceProviders: %v", err)
	}
	if providers.Hash == nil || providers.HMAC == nil || providers.HKDF == nil || providers.AEAD == nil ||
		providers.DHE == nil || providers.AsymSign == nil || providers.AsymVerify == nil ||
		providers.CertOps == nil || providers.Rand == nil {
		t.Fatalf("NewReferenceProviders left a nil provider field")
	}
}
