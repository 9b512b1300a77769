// Package transport provides the transport-encap interface the core
// treats as an external collaborator (PCI DOE / MCTP framing is out of
// core scope), plus two concrete, swappable transports built from real
// net.Conn plumbing: a loopback-TCP transport and an in-memory pipe —
// used by the test suite and the two emulator binaries
// (cmd/spdm-requester-emu, cmd/spdm-responder-emu).
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encapper wraps an already-encoded SPDM message (handshake or secured
// application record) for one hop over the underlying transport, and
// unwraps it on the receiving side. isApp distinguishes a secured-session
// application-data record from a handshake/connection message, mirroring
// DSP0274's MCTP message-type discrimination without committing to MCTP
// itself.
type Encapper interface {
	Encap(plain []byte, isApp bool) ([]byte, error)
	Decap(wire []byte) (plain []byte, isApp bool, err error)
}

// TagEncapper is the reference Encapper: a single leading type-tag byte,
// 0x00 for a connection/handshake message and 0x01 for a secured
// application-data record, ahead of the raw payload. Real transports
// (PCI DOE, MCTP) carry this distinction in their own header fields
// instead; this is a stand-in so the two emulator binaries and the test
// suite can exercise the seam end-to-end.
type TagEncapper struct{}

const (
	tagHandshake byte = 0x00
	tagApp       byte = 0x01
)

// Encap prefixes plain with the one-byte type tag.
func (TagEncapper) Encap(plain []byte, isApp bool) ([]byte, error) {
	tag := tagHandshake
	if isApp {
		tag = tagApp
	}
	out := make([]byte, 0, 1+len(plain))
	out = append(out, tag)
	out = append(out, plain...)
	return out, nil
}

// Decap strips the leading type tag and reports whether it marked an
// application record.
func (TagEncapper) Decap(wire []byte) ([]byte, bool, error) {
	if len(wire) < 1 {
		return nil, false, fmt.Errorf("transport: decap: empty frame")
	}
	switch wire[0] {
	case tagHandshake:
		return wire[1:], false, nil
	case tagApp:
		return wire[1:], true, nil
	default:
		return nil, false, fmt.Errorf("transport: decap: unknown type tag 0x%02x", wire[0])
	}
}

// maxFrameSize bounds a single length-prefixed frame, generous enough for
// the largest SPDM message (a full MaxCertChainDataSize certificate
// chain) plus header and AEAD overhead.
const maxFrameSize = 1 << 20

// writeFrame writes a uint32-length-prefixed frame to w, the same
// length-delimited framing idiom used for every byte-stream transport in
// this reference package.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("transport: frame too large: %d bytes", len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one uint32-length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("transport: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("transport: frame too large: %d bytes", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return payload, nil
}
