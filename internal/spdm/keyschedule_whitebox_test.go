package spdm

import (
	"bytes"
	"testing"
)

// TestBuildInfoLayout checks the HKDF "info" parameter's fixed prefix
// (uint16_le length || "spdm M.m " || label || context), independent of
// any crypto provider.
func TestBuildInfoLayout(t *testing.T) {
	info, err := buildInfo(32, Version12, labelKey, nil)
	if err != nil {
		t.Fatalf("buildInfo: %v", err)
	}
	if info[0] != 32 || info[1] != 0 {
		t.Fatalf("length prefix = %v, want little-endian 32", info[:2])
	}
	wantPrefix := []byte("spdm 1.2 key")
	if !bytes.Equal(info[2:], wantPrefix) {
		t.Fatalf("info = %q, want prefix %q", info[2:], wantPrefix)
	}
}

func TestBuildInfoOverflow(t *testing.T) {
	longContext := bytes.Repeat([]byte{0}, maxBinConcatSize)
	if _, err := buildInfo(32, Version12, labelReqHsData, longContext); err == nil {
		t.Fatalf("buildInfo with an oversized context should fail")
	}
}
