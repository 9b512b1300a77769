package spdm

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Codec (C1). Bit-exact encode/decode of every SPDM payload, little-
// endian throughout. CodecContext resolves runtime-sized fields (e.g.
// digest size = negotiated hash output length) that a payload's own
// bytes don't carry. One file per message family keeps a "several
// focused files inside one package" texture: this file holds shared
// primitives, codec_negotiation.go/codec_certs.go/codec_session.go hold
// the per-family message types.

// CodecContext resolves algorithm-dependent field widths during decode.
// It is distinct from the connection Context: a codec context is a tiny
// read-only value threaded through decode calls, not the full aggregate.
type CodecContext struct {
	HashSize int
	SigSize  int
	DHESize  int
	Version  Version
}

// Message is implemented by every decoded payload type, identifying
// which request_response_code it corresponds to.
type Message interface {
	Code() RequestResponseCode
}

func writeU8(w *bytes.Buffer, v uint8)   { w.WriteByte(v) }
func writeU16(w *bytes.Buffer, v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); w.Write(b[:]) }
func writeU32(w *bytes.Buffer, v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); w.Write(b[:]) }

func readU8(r *bytes.Reader) (uint8, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, wrapErr(ErrorKindInvalidMsgField, ErrPacketTooShort)
	}
	return b, nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapErr(ErrorKindInvalidMsgField, ErrPacketTooShort)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapErr(ErrorKindInvalidMsgField, ErrPacketTooShort)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, wrapErr(ErrorKindInvalidMsgField, ErrPacketTooShort)
	}
	return buf, nil
}

// readTail captures every remaining byte in r, used to preserve unknown
// optional opaque-data tails verbatim into the transcript: any trailing
// field a decoder doesn't recognize must still be hashed exactly as
// received.
func readTail(r *bytes.Reader) []byte {
	rest := make([]byte, r.Len())
	_, _ = io.ReadFull(r, rest)
	return rest
}

// EncodeHeader writes the 4-byte SPDM message header.
func EncodeHeader(w *bytes.Buffer, h Header) {
	writeU8(w, uint8(h.SPDMVersion))
	writeU8(w, uint8(h.Code))
	writeU8(w, h.Param1)
	writeU8(w, h.Param2)
}

// DecodeHeader reads the 4-byte SPDM message header.
func DecodeHeader(r *bytes.Reader) (Header, error) {
	ver, err := readU8(r)
	if err != nil {
		return Header{}, err
	}
	code, err := readU8(r)
	if err != nil {
		return Header{}, err
	}
	p1, err := readU8(r)
	if err != nil {
		return Header{}, err
	}
	p2, err := readU8(r)
	if err != nil {
		return Header{}, err
	}
	return Header{SPDMVersion: Version(ver), Code: RequestResponseCode(code), Param1: p1, Param2: p2}, nil
}

// ErrorMessage is the ERROR response payload (DSP0274 §15.7).
type ErrorMessage struct {
	Header        Header
	ErrorCode     ErrorResponseCode
	ErrorData     uint8
	ExtendedError []byte
}

func (ErrorMessage) Code() RequestResponseCode { return CodeError }

// EncodeErrorMessage writes an ERROR response.
func EncodeErrorMessage(w *bytes.Buffer, m ErrorMessage) {
	h := m.Header
	h.Code = CodeError
	h.Param1 = uint8(m.ErrorCode)
	h.Param2 = m.ErrorData
	EncodeHeader(w, h)
	w.Write(m.ExtendedError)
}

// DecodeErrorMessage reads an ERROR response body (header already
// consumed by the caller's dispatch).
func DecodeErrorMessage(ctx CodecContext, h Header, r *bytes.Reader) (ErrorMessage, error) {
	return ErrorMessage{
		Header:        h,
		ErrorCode:     ErrorResponseCode(h.Param1),
		ErrorData:     h.Param2,
		ExtendedError: readTail(r),
	}, nil
}
