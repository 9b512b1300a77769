package transport

import "net"

// PipePair returns two connected in-memory transports (via net.Pipe),
// one Requester-side and one Responder-side, for tests and short-lived
// local exercises that don't need a real socket.
func PipePair() (*TCPRequesterTransport, *TCPResponderTransport) {
	a, b := net.Pipe()
	return &TCPRequesterTransport{conn: a}, &TCPResponderTransport{conn: b}
}
