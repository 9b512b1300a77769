package transport_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/spdm-core/spdm-core/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPipePairRoundTrip(t *testing.T) {
	req, rsp := transport.PipePair()
	defer req.Close()
	defer rsp.Close()

	want := []byte("GET_VERSION request bytes")
	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := rsp.RecvRequest()
		if err != nil {
			t.Errorf("RecvRequest: %v", err)
			return
		}
		if string(got) != string(want) {
			t.Errorf("RecvRequest = %q, want %q", got, want)
		}
		if err := rsp.SendResponse([]byte("VERSION response bytes")); err != nil {
			t.Errorf("SendResponse: %v", err)
		}
	}()

	reply, err := req.RoundTrip(want)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if string(reply) != "VERSION response bytes" {
		t.Fatalf("RoundTrip reply = %q, want %q", reply, "VERSION response bytes")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("responder goroutine did not finish")
	}
}

func TestPipePairEmptyFrame(t *testing.T) {
	req, rsp := transport.PipePair()
	defer req.Close()
	defer rsp.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		got, err := rsp.RecvRequest()
		if err != nil {
			t.Errorf("RecvRequest: %v", err)
			return
		}
		if len(got) != 0 {
			t.Errorf("RecvRequest = %v, want empty", got)
		}
		if err := rsp.SendResponse(nil); err != nil {
			t.Errorf("SendResponse: %v", err)
		}
	}()

	reply, err := req.RoundTrip(nil)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if len(reply) != 0 {
		t.Fatalf("RoundTrip reply = %v, want empty", reply)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("responder goroutine did not finish")
	}
}

func TestTagEncapperRoundTrip(t *testing.T) {
	enc := transport.TagEncapper{}

	wire, err := enc.Encap([]byte("handshake payload"), false)
	if err != nil {
		t.Fatalf("Encap (handshake): %v", err)
	}
	plain, isApp, err := enc.Decap(wire)
	if err != nil {
		t.Fatalf("Decap (handshake): %v", err)
	}
	if isApp {
		t.Fatalf("handshake frame decoded as application data")
	}
	if string(plain) != "handshake payload" {
		t.Fatalf("decap = %q, want %q", plain, "handshake payload")
	}

	appWire, err := enc.Encap([]byte("secured record"), true)
	if err != nil {
		t.Fatalf("Encap (app): %v", err)
	}
	appPlain, isApp, err := enc.Decap(appWire)
	if err != nil {
		t.Fatalf("Decap (app): %v", err)
	}
	if !isApp {
		t.Fatalf("application frame decoded as handshake data")
	}
	if string(appPlain) != "secured record" {
		t.Fatalf("decap = %q, want %q", appPlain, "secured record")
	}
}

func TestTagEncapperRejectsUnknownTag(t *testing.T) {
	enc := transport.TagEncapper{}
	if _, _, err := enc.Decap([]byte{0xFF, 0x01, 0x02}); err == nil {
		t.Fatalf("Decap of an unknown type tag should fail")
	}
	if _, _, err := enc.Decap(nil); err == nil {
		t.Fatalf("Decap of an empty frame should fail")
	}
}
