package spdm_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/spdm-core/spdm-core/internal/cryptoprovider"
	"github.com/spdm-core/spdm-core/internal/spdm"
	"github.com/spdm-core/spdm-core/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// offer is the single algorithm combination both sides in this suite
// advertise; a real deployment would offer a wider mask and let
// NegotiateAlgorithms pick the mutually preferred value.
func offer() spdm.AlgorithmOffer {
	return spdm.AlgorithmOffer{
		BaseHash:        spdm.BaseHashSHA384,
		BaseAsym:        spdm.BaseAsymECDSAP256,
		DHE:             spdm.DHESECP256R1,
		AEAD:            spdm.AEADAES256GCM,
		KeySchedule:     spdm.KeyScheduleSPDM,
		MeasurementHash: spdm.MeasurementHashSHA384,
		MeasurementSpec: spdm.MeasurementSpecDMTF,
	}
}

const localCaps = spdm.CapCert | spdm.CapChal | spdm.CapMeas |
	spdm.CapEncrypt | spdm.CapMAC | spdm.CapKeyEx | spdm.CapPSK |
	spdm.CapHBeat | spdm.CapKeyUpd

func newPeerContexts(t *testing.T, secrets *cryptoprovider.ReferenceSecretProvider) (*spdm.Context, *spdm.Context) {
	t.Helper()
	providers, err := cryptoprovider.NewReferenceProviders(cryptoprovider.Rand{})
	if err != nil {
		t.Fatalf("new reference providers: %v", err)
	}

	reqCtx, err := spdm.NewContext(providers, []spdm.Version{spdm.Version11, spdm.Version12}, localCaps,
		offer(), spdm.TranscriptBuffered, [][]byte{secrets.RootDER()})
	if err != nil {
		t.Fatalf("new requester context: %v", err)
	}
	rspCtx, err := spdm.NewContext(providers, []spdm.Version{spdm.Version11, spdm.Version12}, localCaps,
		offer(), spdm.TranscriptBuffered, nil)
	if err != nil {
		t.Fatalf("new responder context: %v", err)
	}
	return reqCtx, rspCtx
}

// runHandshake drives a full connection-establishment + KEY_EXCHANGE
// session lifecycle over an in-memory pipe and returns both the
// established session handles for further exercise by the caller.
func runHandshake(t *testing.T) (req *spdm.Requester, rsp *spdm.Responder, reqSession, rspSession *spdm.Session, done func()) {
	t.Helper()
	measurements := [][]byte{[]byte("measurement-block-one"), []byte("measurement-block-two")}
	secrets, err := cryptoprovider.NewReferenceSecretProvider(measurements, []byte("static-psk-root-material"))
	if err != nil {
		t.Fatalf("new reference secret provider: %v", err)
	}

	reqCtx, rspCtx := newPeerContexts(t, secrets)
	reqTransport, rspTransport := transport.PipePair()

	requester := spdm.NewRequester(reqCtx, reqTransport, transport.TagEncapper{})
	responder := spdm.NewResponder(rspCtx, secrets, transport.TagEncapper{})

	dispatchErr := make(chan error, 1)
	go func() { dispatchErr <- responder.Dispatch(rspTransport) }()

	version, err := requester.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if err := reqCtx.SetVersion(version); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	if _, err := requester.GetCapabilities(10); err != nil {
		t.Fatalf("GetCapabilities: %v", err)
	}
	negotiated, err := requester.NegotiateAlgorithms()
	if err != nil {
		t.Fatalf("NegotiateAlgorithms: %v", err)
	}
	if negotiated.BaseHash != spdm.BaseHashSHA384 {
		t.Fatalf("unexpected negotiated hash: %v", negotiated.BaseHash)
	}
	if _, err := requester.GetDigests(); err != nil {
		t.Fatalf("GetDigests: %v", err)
	}
	if _, err := requester.GetCertificate(0); err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if _, err := requester.Challenge(0, 0); err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	session, err := requester.StartSessionKeyExchange(0, 0)
	if err != nil {
		t.Fatalf("StartSessionKeyExchange: %v", err)
	}
	if err := requester.Finish(session, false, nil, 0); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rspSess, err := rspCtx.Sessions().Lookup(session.SessionID())
	if err != nil {
		t.Fatalf("responder has no session %#x after FINISH: %v", session.SessionID(), err)
	}

	cleanup := func() {
		reqTransport.Close()
		rspTransport.Close()
		select {
		case <-dispatchErr:
		case <-time.After(time.Second):
			t.Fatalf("responder Dispatch did not return after transport close")
		}
	}
	return requester, responder, session, rspSess, cleanup
}

func TestFullConnectionAndSessionLifecycle(t *testing.T) {
	requester, _, session, rspSession, done := runHandshake(t)
	defer done()

	if session.State() != spdm.SessionEstablished {
		t.Fatalf("requester session state = %v, want Established", session.State())
	}
	if rspSession.State() != spdm.SessionEstablished {
		t.Fatalf("responder session state = %v, want Established", rspSession.State())
	}

	if err := requester.Heartbeat(session); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := requester.KeyUpdate(session, spdm.KeyUpdateOpUpdateAllKeys, 0x42); err != nil {
		t.Fatalf("KeyUpdate: %v", err)
	}
	if err := requester.EndSession(session, false); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
}

func TestApplicationDataRoundTripAfterEstablishment(t *testing.T) {
	_, _, session, rspSession, done := runHandshake(t)
	defer done()

	plain := []byte("application record exercised after FINISH")
	ciphertext, err := session.Encrypt(true, plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := rspSession.Decrypt(true, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plain) {
		t.Fatalf("decrypted = %q, want %q", decrypted, plain)
	}

	second, err := session.Encrypt(true, []byte("second record"))
	if err != nil {
		t.Fatalf("Encrypt (second): %v", err)
	}
	tampered := append([]byte(nil), second...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := rspSession.Decrypt(true, tampered); err == nil {
		t.Fatalf("Decrypt of tampered ciphertext succeeded, want AEAD failure")
	}
	if rspSession.State() != spdm.SessionDestroyed {
		t.Fatalf("responder session state after tamper = %v, want Destroyed", rspSession.State())
	}
}
