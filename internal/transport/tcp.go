package transport

import (
	"fmt"
	"net"
)

// TCPRequesterTransport drives a loopback TCP connection from the
// Requester side: RoundTrip writes one length-prefixed frame and blocks
// for the matching response frame, satisfying spdm.RawTransport by shape
// (package spdm depends on this structurally, not by importing
// package transport, keeping the core free of a transport dependency).
type TCPRequesterTransport struct {
	conn net.Conn
}

// DialTCP connects to addr and returns a ready Requester-side transport.
func DialTCP(addr string) (*TCPRequesterTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &TCPRequesterTransport{conn: conn}, nil
}

// RoundTrip sends req and waits for the paired response frame.
func (t *TCPRequesterTransport) RoundTrip(req []byte) ([]byte, error) {
	if err := writeFrame(t.conn, req); err != nil {
		return nil, err
	}
	return readFrame(t.conn)
}

// Close releases the underlying connection.
func (t *TCPRequesterTransport) Close() error { return t.conn.Close() }

// TCPResponderTransport is the Responder-side half of a loopback TCP
// connection: RecvRequest blocks for the next inbound frame, SendResponse
// writes the paired reply.
type TCPResponderTransport struct {
	conn net.Conn
}

// NewTCPResponderTransport wraps an already-accepted connection.
func NewTCPResponderTransport(conn net.Conn) *TCPResponderTransport {
	return &TCPResponderTransport{conn: conn}
}

// ListenTCP opens a listener on addr for a single Responder connection.
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return ln, nil
}

// RecvRequest blocks for the next inbound request frame.
func (t *TCPResponderTransport) RecvRequest() ([]byte, error) {
	return readFrame(t.conn)
}

// SendResponse writes rsp as the paired response frame.
func (t *TCPResponderTransport) SendResponse(rsp []byte) error {
	return writeFrame(t.conn, rsp)
}

// Close releases the underlying connection.
func (t *TCPResponderTransport) Close() error { return t.conn.Close() }
