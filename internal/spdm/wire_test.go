package spdm_test

import (
	"bytes"
	"testing"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

func TestDigestSetBytesRejectsOversize(t *testing.T) {
	var d spdm.Digest
	if err := d.SetBytes(bytes.Repeat([]byte{0x01}, spdm.MaxDigestSize)); err != nil {
		t.Fatalf("SetBytes at capacity: %v", err)
	}
	if d.Size != spdm.MaxDigestSize {
		t.Fatalf("Size = %d, want %d", d.Size, spdm.MaxDigestSize)
	}
	if err := d.SetBytes(bytes.Repeat([]byte{0x01}, spdm.MaxDigestSize+1)); err == nil {
		t.Fatalf("SetBytes beyond capacity should fail")
	}
}

func TestSignatureSliceRoundTrip(t *testing.T) {
	var s spdm.Signature
	raw := bytes.Repeat([]byte{0xAB}, 64) // ECDSA-P256 r||s
	if err := s.SetBytes(raw); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if !bytes.Equal(s.Slice(), raw) {
		t.Fatalf("Slice() = %x, want %x", s.Slice(), raw)
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := spdm.Header{SPDMVersion: spdm.Version12, Code: spdm.CodeGetVersion, Param1: 0x01, Param2: 0x02}
	var buf bytes.Buffer
	spdm.EncodeHeader(&buf, h)
	if buf.Len() != spdm.HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", buf.Len(), spdm.HeaderSize)
	}
	got, err := spdm.DecodeHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("DecodeHeader = %+v, want %+v", got, h)
	}
}

func TestGetVersionVersionRspRoundTrip(t *testing.T) {
	req := spdm.GetVersionReq{Header: spdm.Header{SPDMVersion: spdm.Version10}}
	var buf bytes.Buffer
	spdm.EncodeGetVersionReq(&buf, req)

	reader := bytes.NewReader(buf.Bytes())
	h, err := spdm.DecodeHeader(reader)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if _, err := spdm.DecodeGetVersionReq(spdm.CodecContext{}, h, reader); err != nil {
		t.Fatalf("DecodeGetVersionReq: %v", err)
	}

	rsp := spdm.VersionRsp{
		Header:   spdm.Header{SPDMVersion: spdm.Version10},
		Versions: []spdm.VersionEntry{{Version: spdm.Version10}, {Version: spdm.Version11}, {Version: spdm.Version12}},
	}
	var rspBuf bytes.Buffer
	spdm.EncodeVersionRsp(&rspBuf, rsp)

	rspReader := bytes.NewReader(rspBuf.Bytes())
	rspHeader, err := spdm.DecodeHeader(rspReader)
	if err != nil {
		t.Fatalf("DecodeHeader (rsp): %v", err)
	}
	got, err := spdm.DecodeVersionRsp(spdm.CodecContext{}, rspHeader, rspReader)
	if err != nil {
		t.Fatalf("DecodeVersionRsp: %v", err)
	}
	if len(got.Versions) != len(rsp.Versions) {
		t.Fatalf("decoded %d versions, want %d", len(got.Versions), len(rsp.Versions))
	}
	for i, v := range rsp.Versions {
		if got.Versions[i].Version != v.Version {
			t.Fatalf("version[%d] = %v, want %v", i, got.Versions[i].Version, v.Version)
		}
	}
}

func TestCapabilityFlagsHas(t *testing.T) {
	flags := spdm.CapCert | spdm.CapChal | spdm.CapHBeat
	if !flags.Has(spdm.CapCert) {
		t.Fatalf("Has(CapCert) = false, want true")
	}
	if flags.Has(spdm.CapKeyEx) {
		t.Fatalf("Has(CapKeyEx) = true, want false")
	}
	if !flags.Has(spdm.CapCert | spdm.CapChal) {
		t.Fatalf("Has(CapCert|CapChal) = false, want true")
	}
}
