package spdm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the reason an SPDM operation failed. Values mirror
// the abstract error kinds a conforming implementation must distinguish
// between (DSP0274 Table 28, "Error Codes").
type ErrorKind uint8

const (
	// ErrorKindInvalidMsgField indicates a decoded field held a reserved or
	// otherwise unsupported value.
	ErrorKindInvalidMsgField ErrorKind = iota + 1

	// ErrorKindInvalidState indicates a request arrived in a connection or
	// session state that does not permit it.
	ErrorKindInvalidState

	// ErrorKindUnsupportedVersion indicates no common SPDM version could be
	// negotiated, or a caller asked for session establishment on a version
	// this core does not support for that purpose.
	ErrorKindUnsupportedVersion

	// ErrorKindNegotiationFail indicates algorithm negotiation produced an
	// empty intersection for some required category.
	ErrorKindNegotiationFail

	// ErrorKindInvalidCertChain indicates a certificate chain failed
	// structural validation or chain-of-trust verification.
	ErrorKindInvalidCertChain

	// ErrorKindInvalidSignature indicates an asymmetric signature did not
	// verify against the expected transcript digest.
	ErrorKindInvalidSignature

	// ErrorKindInvalidMAC indicates an HMAC verify-data comparison failed.
	ErrorKindInvalidMAC

	// ErrorKindDecryptFail indicates AEAD tag verification failed on an
	// inbound secured record.
	ErrorKindDecryptFail

	// ErrorKindSequenceExhausted indicates a direction's sequence number
	// would overflow on the next encrypt.
	ErrorKindSequenceExhausted

	// ErrorKindTranscriptOverflow indicates a transcript buffer exceeded
	// its protocol-bounded capacity.
	ErrorKindTranscriptOverflow

	// ErrorKindSessionNotFound indicates a session_id did not resolve to a
	// live table entry.
	ErrorKindSessionNotFound

	// ErrorKindSessionLimit indicates the session table has no free slot.
	ErrorKindSessionLimit

	// ErrorKindBusy indicates the responder is temporarily unable to
	// service the request.
	ErrorKindBusy

	// ErrorKindIOTimeout indicates the transport receive timeout (ST1)
	// elapsed without a response.
	ErrorKindIOTimeout

	// ErrorKindIOSend indicates the transport failed to send a frame.
	ErrorKindIOSend

	// ErrorKindIORecv indicates the transport failed to deliver a frame.
	ErrorKindIORecv

	// ErrorKindUnexpected indicates a request code was valid but not
	// expected in the current context (RFC term: UnexpectedRequest).
	ErrorKindUnexpected

	// ErrorKindFault is a catch-all for internal invariant violations that
	// should never occur in correct operation.
	ErrorKindFault
)

// String returns the DSP0274 ERROR-code-flavored name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindInvalidMsgField:
		return "INVALID_MSG_FIELD"
	case ErrorKindInvalidState:
		return "INVALID_STATE"
	case ErrorKindUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case ErrorKindNegotiationFail:
		return "NEGOTIATION_FAIL"
	case ErrorKindInvalidCertChain:
		return "INVALID_CERT_CHAIN"
	case ErrorKindInvalidSignature:
		return "INVALID_SIGNATURE"
	case ErrorKindInvalidMAC:
		return "INVALID_MAC"
	case ErrorKindDecryptFail:
		return "DECRYPT_FAIL"
	case ErrorKindSequenceExhausted:
		return "SEQUENCE_EXHAUSTED"
	case ErrorKindTranscriptOverflow:
		return "TRANSCRIPT_OVERFLOW"
	case ErrorKindSessionNotFound:
		return "SESSION_NOT_FOUND"
	case ErrorKindSessionLimit:
		return "SESSION_LIMIT"
	case ErrorKindBusy:
		return "BUSY"
	case ErrorKindIOTimeout:
		return "IO_TIMEOUT"
	case ErrorKindIOSend:
		return "IO_SEND"
	case ErrorKindIORecv:
		return "IO_RECV"
	case ErrorKindUnexpected:
		return "UNEXPECTED"
	case ErrorKindFault:
		return "FAULT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// SPDMError wraps a lower-level error with the ErrorKind a caller needs to
// decide on ERROR-response mapping or session teardown. It always carries a
// non-nil Err so %w unwrapping chains down to the originating sentinel.
type SPDMError struct {
	Kind ErrorKind
	Err  error
}

func (e *SPDMError) Error() string {
	return fmt.Sprintf("spdm: %s: %v", e.Kind, e.Err)
}

func (e *SPDMError) Unwrap() error {
	return e.Err
}

// wrapErr builds an *SPDMError, tagging err with kind. Never called with a
// nil err.
func wrapErr(kind ErrorKind, err error) error {
	return &SPDMError{Kind: kind, Err: err}
}

// wrapf is wrapErr plus fmt.Errorf-style context, using Go's standard
// "%s: %w" wrapping convention.
func wrapf(kind ErrorKind, format string, args ...any) error {
	return &SPDMError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or ErrorKindFault if err does not
// carry one. Used by the Responder's dispatch loop to pick the ERROR
// response's param1 code.
func KindOf(err error) ErrorKind {
	var se *SPDMError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindFault
}

// Sentinel errors. These are the leaves wrapped by SPDMError; callers that
// only care about "was this the specific failure" use errors.Is against
// these rather than against SPDMError's Kind.
var (
	ErrPacketTooShort       = errors.New("message shorter than its fixed header")
	ErrReservedField        = errors.New("reserved field set to a non-zero value")
	ErrUnsupportedEnumValue = errors.New("field holds an unsupported enumerant")
	ErrLengthMismatch       = errors.New("declared length does not match payload size")
	ErrBufTooSmall          = errors.New("destination buffer too small")
	ErrNoCommonVersion      = errors.New("no common SPDM version in offered sets")
	ErrEmptyIntersection    = errors.New("algorithm category has empty offer intersection")
	ErrUnexpectedCode       = errors.New("request_response_code not valid in current state")
	ErrChainTooLarge        = errors.New("certificate chain exceeds maximum size")
	ErrChainRootMismatch    = errors.New("certificate chain root hash does not match provisioned root")
	ErrSigVerifyFailed      = errors.New("asymmetric signature verification failed")
	ErrVerifyDataMismatch   = errors.New("HMAC verify-data does not match")
	ErrTagMismatch          = errors.New("AEAD authentication tag mismatch")
	ErrSeqNumExhausted      = errors.New("direction sequence number would overflow")
	ErrTranscriptFull       = errors.New("transcript buffer capacity exceeded")
	ErrNoSuchSession        = errors.New("no session with this session_id")
	ErrTableFull            = errors.New("session table has no free slot")
	ErrDHEKeySizeMismatch   = errors.New("peer DHE public key length does not match the negotiated group size")
	ErrBinConcatOverflow    = errors.New("HKDF info concatenation exceeds the bounded buffer")
	ErrUnsupportedVersion   = errors.New("version does not support the requested operation")
)
