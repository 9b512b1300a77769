package spdm

import (
	"encoding/binary"
)

// Session (C4). Per-session state: keys, IV salts, sequence numbers, and
// AEAD encode/decode of application records on top of an authenticated
// connection.

// SessionState tracks a session's lifecycle, which advances monotonically
// and never regresses.
type SessionState uint8

const (
	SessionNotStarted SessionState = iota
	SessionHandshaking
	SessionEstablished
	// SessionDestroyed is terminal: all key material has been zeroed and
	// the entry is eligible for table reuse.
	SessionDestroyed
)

func (s SessionState) String() string {
	switch s {
	case SessionNotStarted:
		return "NotStarted"
	case SessionHandshaking:
		return "Handshaking"
	case SessionEstablished:
		return "Established"
	case SessionDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// directionKeys holds one direction's live AEAD key material and its
// strictly monotonic sequence number.
type directionKeys struct {
	key    AEADKey
	salt   AEADSalt
	seqNum uint64
}

// nextIV computes iv_salt XOR be64(sequence_number) without mutating
// seqNum.
func (d *directionKeys) nextIV() [MaxAEADIVSize]byte {
	var iv [MaxAEADIVSize]byte
	copy(iv[:], d.salt.Bytes[:])
	var seqBE [8]byte
	binary.BigEndian.PutUint64(seqBE[:], d.seqNum)
	// The sequence number occupies the low 8 bytes of the 12-byte IV,
	// XORed against the trailing 8 bytes of the salt.
	for i := 0; i < 8; i++ {
		iv[4+i] ^= seqBE[i]
	}
	return iv
}

func (d *directionKeys) zero() {
	for i := range d.key.Bytes {
		d.key.Bytes[i] = 0
	}
	d.key.Size = 0
	for i := range d.salt.Bytes {
		d.salt.Bytes[i] = 0
	}
	d.seqNum = 0
}

// NegotiatedAlgos is the value-type snapshot frozen into a Session when
// it is allocated: copying a value (never storing a pointer to the live
// Context's selection) enforces that freeze by construction.
type NegotiatedAlgos struct {
	Version         Version
	BaseHash        BaseHashAlgo
	BaseAsym        BaseAsymAlgo
	DHE             DHEGroup
	AEAD            AEADAlgo
	KeySchedule     KeyScheduleAlgo
	MeasurementHash MeasurementHashAlgo
	MeasurementSpec MeasurementSpec
}

// Session is one per-session record.
type Session struct {
	sessionID        uint32
	state            SessionState
	usePSK           bool
	mutAuthRequested bool
	algos            NegotiatedAlgos

	dheSecret       []byte
	handshakeSecret []byte
	masterSecret    []byte

	reqDirection directionKeys
	rspDirection directionKeys

	finishedKeyReq []byte
	finishedKeyRsp []byte
	exportMaster   []byte

	aead AEADProvider
}

// setup initializes both directions' sequence numbers to zero. Called
// once when a session is allocated.
func (s *Session) setup(sessionID uint32, algos NegotiatedAlgos, usePSK bool, aead AEADProvider) {
	s.sessionID = sessionID
	s.state = SessionNotStarted
	s.algos = algos
	s.usePSK = usePSK
	s.aead = aead
	s.reqDirection.seqNum = 0
	s.rspDirection.seqNum = 0
}

// setDHESecret records the raw DHE shared secret. Legal only in
// NotStarted or Handshaking.
func (s *Session) setDHESecret(secret []byte) error {
	if s.state != SessionHandshaking && s.state != SessionNotStarted {
		return wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	s.dheSecret = append([]byte(nil), secret...)
	return nil
}

// setRecordKeys installs the AEAD key/salt for both directions and resets
// both sequence numbers, called
// whenever the key schedule re-derives traffic keys (initial handshake,
// FINISH_RSP data-key switch, or KEY_UPDATE).
func (s *Session) setRecordKeys(reqKeys, rspKeys RecordKeys) error {
	if err := s.reqDirection.key.SetBytes(reqKeys.Key); err != nil {
		return err
	}
	copy(s.reqDirection.salt.Bytes[:], reqKeys.Salt)
	if err := s.rspDirection.key.SetBytes(rspKeys.Key); err != nil {
		return err
	}
	copy(s.rspDirection.salt.Bytes[:], rspKeys.Salt)
	s.reqDirection.seqNum = 0
	s.rspDirection.seqNum = 0
	return nil
}

// Encrypt produces one secured record for appBytes traveling in the
// given direction (true = requester->responder). It increments the
// direction's sequence number only after a successful encrypt, and
// fails with SEQUENCE_EXHAUSTED before the counter would overflow.
func (s *Session) Encrypt(fromRequester bool, appBytes []byte) ([]byte, error) {
	dir := s.directionFor(fromRequester)
	if dir.seqNum == ^uint64(0) {
		return nil, wrapErr(ErrorKindSequenceExhausted, ErrSeqNumExhausted)
	}

	length := uint16(len(appBytes))
	aad := make([]byte, 6)
	binary.LittleEndian.PutUint32(aad[0:4], s.sessionID)
	binary.LittleEndian.PutUint16(aad[4:6], length)

	iv := dir.nextIV()
	ct, tag, err := s.aead.Encrypt(s.algos.AEAD, dir.key.Slice(), iv[:], aad, appBytes)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "session: encrypt: %w", err)
	}

	dir.seqNum++

	record := make([]byte, 0, 6+len(ct)+len(tag))
	record = append(record, aad...)
	record = append(record, ct...)
	record = append(record, tag...)
	return record, nil
}

// Decrypt verifies and opens one secured record traveling in the given
// direction. On tag mismatch the session is destroyed (keys zeroed)
// before returning ErrorKindDecryptFail, satisfying the "session absent
// from the table" testable property once the caller removes it from the
// SessionTable.
func (s *Session) Decrypt(fromRequester bool, record []byte) ([]byte, error) {
	if len(record) < 6+s.algos.AEAD.TagSize() {
		s.Destroy()
		return nil, wrapErr(ErrorKindDecryptFail, ErrPacketTooShort)
	}

	aad := record[0:6]
	sessionID := binary.LittleEndian.Uint32(aad[0:4])
	length := binary.LittleEndian.Uint16(aad[4:6])
	if sessionID != s.sessionID {
		s.Destroy()
		return nil, wrapErr(ErrorKindDecryptFail, ErrLengthMismatch)
	}

	tagSize := s.algos.AEAD.TagSize()
	ctAndTag := record[6:]
	if int(length)+tagSize != len(ctAndTag) {
		s.Destroy()
		return nil, wrapErr(ErrorKindDecryptFail, ErrLengthMismatch)
	}
	ct := ctAndTag[:length]
	tag := ctAndTag[length:]

	dir := s.directionFor(fromRequester)
	iv := dir.nextIV()

	pt, err := s.aead.Decrypt(s.algos.AEAD, dir.key.Slice(), iv[:], aad, ct, tag)
	if err != nil {
		s.Destroy()
		return nil, wrapErr(ErrorKindDecryptFail, ErrTagMismatch)
	}

	dir.seqNum++
	return pt, nil
}

func (s *Session) directionFor(fromRequester bool) *directionKeys {
	if fromRequester {
		return &s.reqDirection
	}
	return &s.rspDirection
}

// ExportKeys returns copies of both directions' live key material, for
// diagnostic use. Legal only in Established.
func (s *Session) ExportKeys() (reqKey, reqSalt, rspKey, rspSalt []byte, err error) {
	if s.state != SessionEstablished {
		return nil, nil, nil, nil, wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	return append([]byte(nil), s.reqDirection.key.Slice()...),
		append([]byte(nil), s.reqDirection.salt.Bytes[:]...),
		append([]byte(nil), s.rspDirection.key.Slice()...),
		append([]byte(nil), s.rspDirection.salt.Bytes[:]...),
		nil
}

// Destroy zeroes all key material and moves the session to the terminal
// SessionDestroyed state. Idempotent.
func (s *Session) Destroy() {
	s.reqDirection.zero()
	s.rspDirection.zero()
	for _, b := range [][]byte{s.dheSecret, s.handshakeSecret, s.masterSecret, s.finishedKeyReq, s.finishedKeyRsp, s.exportMaster} {
		for i := range b {
			b[i] = 0
		}
	}
	s.dheSecret = nil
	s.handshakeSecret = nil
	s.masterSecret = nil
	s.finishedKeyReq = nil
	s.finishedKeyRsp = nil
	s.exportMaster = nil
	s.state = SessionDestroyed
}

// SessionID returns the session's 32-bit identifier.
func (s *Session) SessionID() uint32 { return s.sessionID }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState { return s.state }
