package spdm_test

import (
	"bytes"
	"testing"

	"github.com/spdm-core/spdm-core/internal/cryptoprovider"
	"github.com/spdm-core/spdm-core/internal/spdm"
)

func testKeySchedule() spdm.KeySchedule {
	return spdm.KeySchedule{Hash: cryptoprovider.Hash{}, HKDF: cryptoprovider.HKDF{}, HMAC: cryptoprovider.HMAC{}}
}

// TestKeyScheduleDeterministic checks that two independent derivations of
// the same inputs produce byte-identical output at every step, since
// nothing in the schedule may read from process-global state.
func TestKeyScheduleDeterministic(t *testing.T) {
	ks := testKeySchedule()
	shared := bytes.Repeat([]byte{0x11}, 32)
	th1 := bytes.Repeat([]byte{0x22}, 48)

	a, err := ks.DeriveHandshakeSecrets(spdm.BaseHashSHA384, spdm.Version12, shared, th1)
	if err != nil {
		t.Fatalf("DeriveHandshakeSecrets: %v", err)
	}
	b, err := ks.DeriveHandshakeSecrets(spdm.BaseHashSHA384, spdm.Version12, shared, th1)
	if err != nil {
		t.Fatalf("DeriveHandshakeSecrets (second): %v", err)
	}
	if !bytes.Equal(a.HandshakeSecret, b.HandshakeSecret) {
		t.Fatalf("handshake_secret not deterministic")
	}
	if !bytes.Equal(a.ReqHandshakeSecret, b.ReqHandshakeSecret) {
		t.Fatalf("req_handshake_secret not deterministic")
	}
	if bytes.Equal(a.ReqHandshakeSecret, a.RspHandshakeSecret) {
		t.Fatalf("req/rsp handshake secrets must differ (distinct labels)")
	}

	master, err := ks.DeriveMasterSecret(spdm.BaseHashSHA384, spdm.Version12, a.HandshakeSecret)
	if err != nil {
		t.Fatalf("DeriveMasterSecret: %v", err)
	}
	if len(master) != spdm.BaseHashSHA384.Size() {
		t.Fatalf("master_secret length = %d, want %d", len(master), spdm.BaseHashSHA384.Size())
	}

	finReq, err := ks.DeriveFinishedKey(spdm.BaseHashSHA384, spdm.Version12, a.ReqHandshakeSecret)
	if err != nil {
		t.Fatalf("DeriveFinishedKey: %v", err)
	}
	finRsp, err := ks.DeriveFinishedKey(spdm.BaseHashSHA384, spdm.Version12, a.RspHandshakeSecret)
	if err != nil {
		t.Fatalf("DeriveFinishedKey: %v", err)
	}
	if bytes.Equal(finReq, finRsp) {
		t.Fatalf("req/rsp finished keys derived from distinct secrets must differ")
	}
}

// TestDeriveRecordKeysSizing checks the AEAD key/salt length matches the
// negotiated cipher for every supported AEAD algorithm.
func TestDeriveRecordKeysSizing(t *testing.T) {
	ks := testKeySchedule()
	secret := bytes.Repeat([]byte{0x33}, 32)

	cases := []spdm.AEADAlgo{spdm.AEADAES128GCM, spdm.AEADAES256GCM, spdm.AEADChaCha20Poly1305}
	for _, aead := range cases {
		keys, err := ks.DeriveRecordKeys(spdm.BaseHashSHA256, aead, spdm.Version12, secret)
		if err != nil {
			t.Fatalf("DeriveRecordKeys(%v): %v", aead, err)
		}
		if len(keys.Key) != aead.KeySize() {
			t.Fatalf("%v: key length = %d, want %d", aead, len(keys.Key), aead.KeySize())
		}
		if len(keys.Salt) != aead.IVSize() {
			t.Fatalf("%v: salt length = %d, want %d", aead, len(keys.Salt), aead.IVSize())
		}
	}
}

// TestDeriveUpdatedTrafficSecretChanges checks KEY_UPDATE's rekey always
// moves to a new value and never reproduces the prior secret.
func TestDeriveUpdatedTrafficSecretChanges(t *testing.T) {
	ks := testKeySchedule()
	secret := bytes.Repeat([]byte{0x44}, 48)

	updated, err := ks.DeriveUpdatedTrafficSecret(spdm.BaseHashSHA384, spdm.Version12, secret)
	if err != nil {
		t.Fatalf("DeriveUpdatedTrafficSecret: %v", err)
	}
	if bytes.Equal(updated, secret) {
		t.Fatalf("updated traffic secret must differ from the prior one")
	}

	updatedAgain, err := ks.DeriveUpdatedTrafficSecret(spdm.BaseHashSHA384, spdm.Version12, updated)
	if err != nil {
		t.Fatalf("DeriveUpdatedTrafficSecret (second rotation): %v", err)
	}
	if bytes.Equal(updatedAgain, updated) {
		t.Fatalf("second rotation must differ from the first")
	}
}
