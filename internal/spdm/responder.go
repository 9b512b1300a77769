package spdm

import (
	"bytes"
)

// Responder (C5/C6 responding side). Each On* method is the mirror image
// of the matching Requester method: decode, perform the crypto/transcript
// work, encode, and drive the relevant FSM. Dispatch wraps these into a
// single request-in/response-out loop over a ResponderTransport,
// converting any internal error into an ERROR response instead of
// propagating it to the caller.
type Responder struct {
	ctx     *Context
	secrets SecretProvider
	encap   Encapper

	// pendingSession is the session most recently created by KEY_EXCHANGE
	// or PSK_EXCHANGE. Dispatch's simplified single-in-flight-handshake
	// model resolves FINISH/HEARTBEAT/KEY_UPDATE/END_SESSION against it,
	// since
	// none of those messages carry a session_id field on the wire in this
	// core's framing. Callers needing true multi-session concurrency call
	// the On* methods directly with their own *Session handles instead of
	// going through Dispatch.
	pendingSession *Session
}

// NewResponder binds a Context, SecretProvider, and Encapper for a fresh
// connection.
func NewResponder(ctx *Context, secrets SecretProvider, encap Encapper) *Responder {
	return &Responder{ctx: ctx, secrets: secrets, encap: encap}
}

// OnGetVersion handles GET_VERSION, advertising this side's full version
// list and advancing the connection FSM on success.
func (s *Responder) OnGetVersion(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeGetVersionReq(s.ctx.codecContext(), h, reader); err != nil {
		return nil, err
	}

	next, err := connectionTransition(s.ctx.connState, ConnEventVersionExchanged)
	if err != nil {
		return nil, err
	}
	s.ctx.connState = next

	entries := make([]VersionEntry, 0, len(s.ctx.localVersions))
	for _, v := range s.ctx.localVersions {
		entries = append(entries, VersionEntry{Version: v})
	}
	rsp := VersionRsp{Header: Header{SPDMVersion: Version10}, Versions: entries}
	var buf bytes.Buffer
	EncodeVersionRsp(&buf, rsp)
	rspBytes := buf.Bytes()

	s.ctx.RecordVCABytes(reqBytes)
	s.ctx.RecordVCABytes(rspBytes)
	return rspBytes, nil
}

// OnGetCapabilities handles GET_CAPABILITIES. The common SPDM version is
// learned here, from the request header, since the Requester alone
// resolves the version intersection and then carries its choice on every
// subsequent header.
func (s *Responder) OnGetCapabilities(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	if s.ctx.version == 0 {
		bound := false
		for _, lv := range s.ctx.localVersions {
			if lv == h.SPDMVersion {
				bound = true
				break
			}
		}
		if !bound {
			return nil, wrapErr(ErrorKindUnsupportedVersion, ErrUnsupportedVersion)
		}
		s.ctx.version = h.SPDMVersion
	}

	req, err := DecodeGetCapabilitiesReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}
	if err := s.ctx.SetCapabilities(req.Flags); err != nil {
		return nil, err
	}

	rsp := CapabilitiesRsp{Header: Header{SPDMVersion: s.ctx.version}, Flags: s.ctx.localCaps}
	var buf bytes.Buffer
	EncodeCapabilitiesRsp(&buf, rsp)
	rspBytes := buf.Bytes()

	s.ctx.RecordVCABytes(reqBytes)
	s.ctx.RecordVCABytes(rspBytes)
	return rspBytes, nil
}

// OnNegotiateAlgorithms handles NEGOTIATE_ALGORITHMS, fixing the selected
// algorithm set from the intersection of the two offered sets.
func (s *Responder) OnNegotiateAlgorithms(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeNegotiateAlgorithmsReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	peerOffer := AlgorithmOffer{
		BaseHash:        req.BaseHash,
		BaseAsym:        req.BaseAsym,
		DHE:             req.DHE,
		AEAD:            req.AEAD,
		KeySchedule:     req.KeySchedule,
		MeasurementHash: req.MeasurementHash,
		MeasurementSpec: req.MeasurementSpec,
	}
	negotiated, err := s.ctx.NegotiateAlgorithms(peerOffer)
	if err != nil {
		return nil, err
	}

	rsp := AlgorithmsRsp{
		Header:          Header{SPDMVersion: s.ctx.version},
		MeasurementSpec: negotiated.MeasurementSpec,
		BaseAsym:        negotiated.BaseAsym,
		BaseHash:        negotiated.BaseHash,
		DHE:             negotiated.DHE,
		AEAD:            negotiated.AEAD,
		KeySchedule:     negotiated.KeySchedule,
		MeasurementHash: negotiated.MeasurementHash,
	}
	var buf bytes.Buffer
	EncodeAlgorithmsRsp(&buf, rsp)
	rspBytes := buf.Bytes()

	if err := s.ctx.transcript.CombinedAppend(BufferA, reqBytes); err != nil {
		return nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferA, rspBytes); err != nil {
		return nil, err
	}
	return rspBytes, nil
}

// encodeCertChainBytes serializes chain into the DSP0274 §10.6.1 wire
// structure decodeCertChain expects back (Length||Reserved||RootHash||
// Certs, with RootHash folded into the opaque tail exactly as
// requester.decodeCertChain leaves it).
func encodeCertChainBytes(chain *CertChain) []byte {
	var buf bytes.Buffer
	writeU16(&buf, uint16(chain.TotalLen()))
	writeU16(&buf, 0)
	buf.Write(chain.RootHash)
	buf.Write(chain.Certs)
	return buf.Bytes()
}

// OnGetDigests handles GET_DIGESTS, hashing every populated slot's chain.
func (s *Responder) OnGetDigests(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeGetDigestsReq(s.ctx.codecContext(), h, reader); err != nil {
		return nil, err
	}

	var mask uint8
	var digests [][]byte
	for slot := uint8(0); slot < MaxSlots; slot++ {
		_, chain, err := s.secrets.SigningKey(slot)
		if err != nil {
			continue
		}
		digest, err := s.ctx.providers.Hash.HashAll(s.ctx.negotiated.BaseHash, encodeCertChainBytes(chain))
		if err != nil {
			return nil, err
		}
		mask |= 1 << slot
		digests = append(digests, digest)
	}

	rsp := DigestsRsp{Header: Header{SPDMVersion: s.ctx.version}, SlotMask: mask, Digests: digests}
	var buf bytes.Buffer
	EncodeDigestsRsp(&buf, rsp)
	rspBytes := buf.Bytes()

	next, err := connectionTransition(s.ctx.connState, ConnEventDigestsExchanged)
	if err != nil {
		return nil, err
	}
	s.ctx.connState = next
	if err := s.ctx.transcript.CombinedAppend(BufferB, reqBytes); err != nil {
		return nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferB, rspBytes); err != nil {
		return nil, err
	}
	return rspBytes, nil
}

// OnGetCertificate handles one GET_CERTIFICATE chunk request.
func (s *Responder) OnGetCertificate(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeGetCertificateReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	_, chain, err := s.secrets.SigningKey(req.SlotID)
	if err != nil {
		return nil, wrapf(ErrorKindInvalidCertChain, "responder: no chain in slot %d: %w", req.SlotID, err)
	}
	full := encodeCertChainBytes(chain)
	if int(req.Offset) > len(full) {
		return nil, wrapErr(ErrorKindInvalidMsgField, ErrLengthMismatch)
	}
	end := int(req.Offset) + int(req.Length)
	if end > len(full) {
		end = len(full)
	}
	portion := full[req.Offset:end]
	remainder := len(full) - end

	rsp := CertificateRsp{
		Header:          Header{SPDMVersion: s.ctx.version},
		SlotID:          req.SlotID,
		PortionLength:   uint16(len(portion)),
		RemainderLength: uint16(remainder),
		Portion:         portion,
	}
	var buf bytes.Buffer
	EncodeCertificateRsp(&buf, rsp)
	rspBytes := buf.Bytes()

	if err := s.ctx.transcript.CombinedAppend(BufferB, reqBytes); err != nil {
		return nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferB, rspBytes); err != nil {
		return nil, err
	}

	if remainder == 0 {
		next, err := connectionTransition(s.ctx.connState, ConnEventCertificateExchanged)
		if err != nil {
			return nil, err
		}
		s.ctx.connState = next
	}
	return rspBytes, nil
}

// OnChallenge handles CHALLENGE, signing over message_a||message_b||
// message_c-minus-signature and advancing the connection to Authenticated.
func (s *Responder) OnChallenge(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeChallengeReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	signer, chain, err := s.secrets.SigningKey(req.SlotID)
	if err != nil {
		return nil, wrapf(ErrorKindInvalidCertChain, "responder: no chain in slot %d: %w", req.SlotID, err)
	}
	chainHash, err := s.ctx.providers.Hash.HashAll(s.ctx.negotiated.BaseHash, encodeCertChainBytes(chain))
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := s.ctx.providers.Rand.Read(nonce[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "responder: challenge_auth nonce: %w", err)
	}
	hasMeasSummary := req.MeasurementSummaryHashType != 0
	var measSummary []byte
	if hasMeasSummary {
		measSummary, err = s.secrets.MeasurementSummaryHash(s.ctx.negotiated.MeasurementHash,
			req.MeasurementSummaryHashType == MeasurementOperationAll, nil)
		if err != nil {
			return nil, err
		}
	}

	rsp := ChallengeAuthRsp{
		Header:                 Header{SPDMVersion: s.ctx.version},
		SlotID:                 req.SlotID,
		SlotMask:               1 << req.SlotID,
		CertChainHash:          chainHash,
		Nonce:                  nonce,
		MeasurementSummaryHash: measSummary,
	}

	if err := s.ctx.transcript.CombinedAppend(BufferC, reqBytes); err != nil {
		return nil, err
	}
	var preSig bytes.Buffer
	EncodeChallengeAuthRsp(&preSig, rsp)
	if err := s.ctx.transcript.CombinedAppend(BufferC, preSig.Bytes()); err != nil {
		return nil, err
	}
	digest, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC)
	if err != nil {
		return nil, err
	}
	sig, err := s.ctx.providers.AsymSign.Sign(s.ctx.negotiated.BaseHash, s.ctx.negotiated.BaseAsym, signer, digest)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "responder: challenge_auth signature: %w", err)
	}
	rsp.Signature = sig
	if err := s.ctx.transcript.CombinedAppend(BufferC, sig); err != nil {
		return nil, err
	}

	var full bytes.Buffer
	EncodeChallengeAuthRsp(&full, rsp)
	rspBytes := full.Bytes()

	next, err := connectionTransition(s.ctx.connState, ConnEventChallengeCompleted)
	if err != nil {
		return nil, err
	}
	s.ctx.connState = next
	return rspBytes, nil
}

// countMeasurementBlocks walks a concatenated run of DSP0274 §10.11.1
// Table 53 measurement blocks (Index(1)||MeasurementSpecification(1)||
// MeasurementSize(2)||MeasurementValue) and reports how many are present.
func countMeasurementBlocks(record []byte) (uint8, error) {
	var n uint8
	r := bytes.NewReader(record)
	for r.Len() > 0 {
		if _, err := readBytes(r, 2); err != nil { // Index, MeasurementSpecification
			return 0, err
		}
		size, err := readU16(r)
		if err != nil {
			return 0, err
		}
		if _, err := readBytes(r, int(size)); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// OnGetMeasurements handles GET_MEASUREMENTS.
func (s *Responder) OnGetMeasurements(reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeGetMeasurementsReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	if err := s.ctx.transcript.Reset(BufferM); err != nil {
		return nil, err
	}

	var record []byte
	var numBlocks uint8
	switch req.Operation {
	case MeasurementOperationTotalNumber:
		all, err := s.secrets.Measurements(nil)
		if err != nil {
			return nil, err
		}
		numBlocks, err = countMeasurementBlocks(all)
		if err != nil {
			return nil, err
		}
	case MeasurementOperationAll:
		record, err = s.secrets.Measurements(nil)
		if err != nil {
			return nil, err
		}
		numBlocks, err = countMeasurementBlocks(record)
		if err != nil {
			return nil, err
		}
	default:
		record, err = s.secrets.Measurements([]uint8{req.Operation})
		if err != nil {
			return nil, err
		}
		numBlocks = 1
	}

	var nonce [NonceSize]byte
	if _, err := s.ctx.providers.Rand.Read(nonce[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "responder: measurements nonce: %w", err)
	}
	rsp := MeasurementsRsp{
		Header:            Header{SPDMVersion: s.ctx.version},
		NumberOfBlocks:    numBlocks,
		MeasurementRecord: record,
		Nonce:             nonce,
	}

	if err := s.ctx.transcript.CombinedAppend(BufferM, reqBytes); err != nil {
		return nil, err
	}
	var preSig bytes.Buffer
	EncodeMeasurementsRsp(&preSig, rsp, false)
	if err := s.ctx.transcript.CombinedAppend(BufferM, preSig.Bytes()); err != nil {
		return nil, err
	}

	if req.SignatureRequested {
		digest, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferM)
		if err != nil {
			return nil, err
		}
		signer, _, err := s.secrets.SigningKey(req.SlotIDParam)
		if err != nil {
			return nil, err
		}
		sig, err := s.ctx.providers.AsymSign.Sign(s.ctx.negotiated.BaseHash, s.ctx.negotiated.BaseAsym, signer, digest)
		if err != nil {
			return nil, wrapf(ErrorKindFault, "responder: measurements signature: %w", err)
		}
		rsp.Signature = sig
	}

	var full bytes.Buffer
	EncodeMeasurementsRsp(&full, rsp, req.SignatureRequested)
	rspBytes := full.Bytes()

	next, err := connectionTransition(s.ctx.connState, ConnEventMeasurementsExchanged)
	if err != nil {
		return nil, err
	}
	s.ctx.connState = next
	return rspBytes, nil
}

// OnKeyExchange handles KEY_EXCHANGE, allocating a fresh session and
// deriving its handshake secrets. The returned session is also recorded as
// s.pendingSession for Dispatch's FINISH resolution.
func (s *Responder) OnKeyExchange(reqBytes []byte) (*Session, []byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ctx.transcript.Reset(BufferK); err != nil {
		return nil, nil, err
	}
	req, err := DecodeKeyExchangeReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferK, reqBytes); err != nil {
		return nil, nil, err
	}

	session, err := s.ctx.sessions.Allocate(false, s.ctx.version, false, s.ctx.negotiated, s.ctx.providers.AEAD)
	if err != nil {
		return nil, nil, err
	}
	s.ctx.sessions.CompleteID(session, uint32(req.ReqSessionIDHalf)<<16, true)

	pair, err := s.ctx.providers.DHE.GenerateKeyPair(s.ctx.negotiated.DHE)
	if err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: generate DHE key pair: %w", err)
	}
	var random [RandomSize]byte
	if _, err := s.ctx.providers.Rand.Read(random[:]); err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: key exchange random: %w", err)
	}

	hasMeasSummary := req.MeasurementSummaryHashType != 0
	var measSummary []byte
	if hasMeasSummary {
		measSummary, err = s.secrets.MeasurementSummaryHash(s.ctx.negotiated.MeasurementHash,
			req.MeasurementSummaryHashType == MeasurementOperationAll, nil)
		if err != nil {
			return nil, nil, err
		}
	}

	rsp := KeyExchangeRsp{
		Header:                 Header{SPDMVersion: s.ctx.version},
		SlotID:                 req.SlotID,
		SessionID:              session.sessionID,
		RandomData:             random,
		ExchangeData:           pair.Public(),
		MeasurementSummaryHash: measSummary,
	}

	var preSig bytes.Buffer
	encodeKeyExchangeRspPreSignature(&preSig, rsp, hasMeasSummary)
	if err := s.ctx.transcript.CombinedAppend(BufferK, preSig.Bytes()); err != nil {
		return nil, nil, err
	}
	th1PreSig, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, nil, err
	}

	signer, _, err := s.secrets.SigningKey(req.SlotID)
	if err != nil {
		return nil, nil, err
	}
	sig, err := s.ctx.providers.AsymSign.Sign(s.ctx.negotiated.BaseHash, s.ctx.negotiated.BaseAsym, signer, th1PreSig)
	if err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: key_exchange_rsp signature: %w", err)
	}
	rsp.Signature = sig
	if err := s.ctx.transcript.CombinedAppend(BufferK, sig); err != nil {
		return nil, nil, err
	}

	shared, err := pair.ComputeSharedSecret(req.ExchangeData)
	if err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: DHE shared secret: %w", err)
	}
	if err := session.setDHESecret(shared); err != nil {
		return nil, nil, err
	}

	th1Final, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, nil, err
	}
	if err := deriveHandshakeKeys(s.ctx, session, shared, th1Final); err != nil {
		return nil, nil, err
	}
	verify, err := s.ctx.providers.HMAC.HMAC(s.ctx.negotiated.BaseHash, session.finishedKeyRsp, th1Final)
	if err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: key_exchange_rsp verify-data: %w", err)
	}
	rsp.ResponderVerifyData = verify

	var full bytes.Buffer
	EncodeKeyExchangeRsp(&full, rsp)
	rspBytes := full.Bytes()

	if _, err := sessionTransition(session.state, SessionEventExchangeStarted); err != nil {
		return nil, nil, err
	}
	session.state = SessionHandshaking
	s.pendingSession = session

	return session, rspBytes, nil
}

// OnPSKExchange handles PSK_EXCHANGE. PSK sessions skip a separate FINISH
// round trip entirely (no certificate chain to sign with): both sides
// derive data secrets and reach Established deterministically off the
// same two-message transcript, mirroring Requester.StartSessionPSK's tail.
func (s *Responder) OnPSKExchange(reqBytes []byte) (*Session, []byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ctx.transcript.Reset(BufferK); err != nil {
		return nil, nil, err
	}
	req, err := DecodePSKExchangeReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferK, reqBytes); err != nil {
		return nil, nil, err
	}

	pskRoot, err := s.secrets.PSKHandshakeSecret(req.PSKHint)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.ctx.sessions.Allocate(false, s.ctx.version, true, s.ctx.negotiated, s.ctx.providers.AEAD)
	if err != nil {
		return nil, nil, err
	}
	s.ctx.sessions.CompleteID(session, uint32(req.ReqSessionIDHalf)<<16, true)

	var rspCtx [RandomSize]byte
	if _, err := s.ctx.providers.Rand.Read(rspCtx[:]); err != nil {
		return nil, nil, wrapf(ErrorKindFault, "responder: psk exchange context: %w", err)
	}
	hasMeasSummary := req.MeasurementSummaryHashType != 0
	var measSummary []byte
	if hasMeasSummary {
		measSummary, err = s.secrets.MeasurementSummaryHash(s.ctx.negotiated.MeasurementHash,
			req.MeasurementSummaryHashType == MeasurementOperationAll, nil)
		if err != nil {
			return nil, nil, err
		}
	}

	rsp := PSKExchangeRsp{
		Header:                 Header{SPDMVersion: s.ctx.version},
		SessionID:              session.sessionID,
		ResponderContext:       rspCtx[:],
		MeasurementSummaryHash: measSummary,
	}
	var preVerify bytes.Buffer
	encodePSKExchangeRspPreVerifyData(&preVerify, rsp)
	if err := s.ctx.transcript.CombinedAppend(BufferK, preVerify.Bytes()); err != nil {
		return nil, nil, err
	}

	th1, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, nil, err
	}
	if err := deriveHandshakeKeys(s.ctx, session, pskRoot, th1); err != nil {
		return nil, nil, err
	}
	verify, err := s.ctx.providers.HMAC.HMAC(s.ctx.negotiated.BaseHash, session.finishedKeyRsp, th1)
	if err != nil {
		return nil, nil, err
	}
	rsp.ResponderVerifyData = verify
	if err := s.ctx.transcript.CombinedAppend(BufferK, verify); err != nil {
		return nil, nil, err
	}

	var full bytes.Buffer
	EncodePSKExchangeRsp(&full, rsp)
	rspBytes := full.Bytes()

	if _, err := sessionTransition(session.state, SessionEventExchangeStarted); err != nil {
		return nil, nil, err
	}
	session.state = SessionHandshaking

	th2, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.ctx.keySched.DeriveDataSecrets(s.ctx.negotiated.BaseHash, s.ctx.version, session.masterSecret, th2)
	if err != nil {
		return nil, nil, err
	}
	reqKeys, err := s.ctx.keySched.DeriveRecordKeys(s.ctx.negotiated.BaseHash, s.ctx.negotiated.AEAD, s.ctx.version, data.ReqDataSecret)
	if err != nil {
		return nil, nil, err
	}
	rspKeys, err := s.ctx.keySched.DeriveRecordKeys(s.ctx.negotiated.BaseHash, s.ctx.negotiated.AEAD, s.ctx.version, data.RspDataSecret)
	if err != nil {
		return nil, nil, err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return nil, nil, err
	}
	next, err := sessionTransition(session.state, SessionEventFinishCompleted)
	if err != nil {
		return nil, nil, err
	}
	session.state = next
	s.pendingSession = session

	return session, rspBytes, nil
}

// OnFinish handles FINISH, verifying the Requester's verify-data (and, for
// mutual authentication, its signature) before deriving application data
// keys.
func (s *Responder) OnFinish(session *Session, reqBytes []byte) ([]byte, error) {
	th2PreFinish, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeFinishReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	if req.SignatureIncluded {
		if err := s.ctx.providers.AsymVerify.Verify(s.ctx.negotiated.BaseHash, s.ctx.negotiated.BaseAsym,
			s.ctx.peerLeafCert, th2PreFinish, req.RequesterSignature); err != nil {
			return nil, wrapf(ErrorKindInvalidSignature, "responder: finish signature: %w", err)
		}
	}

	var preVerify bytes.Buffer
	encodeFinishReqPreVerifyData(&preVerify, req)
	if err := s.ctx.transcript.CombinedAppend(BufferF, preVerify.Bytes()); err != nil {
		return nil, err
	}
	th2, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return nil, err
	}
	if err := verifyHMACData(s.ctx.providers.HMAC, s.ctx.negotiated.BaseHash, session.finishedKeyReq, th2, req.RequesterVerifyData); err != nil {
		session.Destroy()
		return nil, err
	}
	if err := s.ctx.transcript.CombinedAppend(BufferF, req.RequesterVerifyData); err != nil {
		return nil, err
	}

	verifyPresent := !s.ctx.localCaps.Has(CapHandshakeInTheClear)
	rsp := FinishRsp{Header: Header{SPDMVersion: s.ctx.version}}
	if verifyPresent {
		th2Final, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
		if err != nil {
			return nil, err
		}
		verify, err := s.ctx.providers.HMAC.HMAC(s.ctx.negotiated.BaseHash, session.finishedKeyRsp, th2Final)
		if err != nil {
			return nil, err
		}
		rsp.ResponderVerifyData = verify
	}

	var buf bytes.Buffer
	EncodeFinishRsp(&buf, rsp)
	rspBytes := buf.Bytes()
	if err := s.ctx.transcript.CombinedAppend(BufferF, rspBytes); err != nil {
		return nil, err
	}

	th2AfterFinish, err := s.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return nil, err
	}
	data, err := s.ctx.keySched.DeriveDataSecrets(s.ctx.negotiated.BaseHash, s.ctx.version, session.masterSecret, th2AfterFinish)
	if err != nil {
		return nil, err
	}
	reqKeys, err := s.ctx.keySched.DeriveRecordKeys(s.ctx.negotiated.BaseHash, s.ctx.negotiated.AEAD, s.ctx.version, data.ReqDataSecret)
	if err != nil {
		return nil, err
	}
	rspKeys, err := s.ctx.keySched.DeriveRecordKeys(s.ctx.negotiated.BaseHash, s.ctx.negotiated.AEAD, s.ctx.version, data.RspDataSecret)
	if err != nil {
		return nil, err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return nil, err
	}
	exportMaster, err := s.ctx.keySched.DeriveExportMaster(s.ctx.negotiated.BaseHash, s.ctx.version, session.masterSecret)
	if err != nil {
		return nil, err
	}
	session.exportMaster = exportMaster

	next, err := sessionTransition(session.state, SessionEventFinishCompleted)
	if err != nil {
		return nil, err
	}
	session.state = next
	return rspBytes, nil
}

// OnHeartbeat handles HEARTBEAT over an established session. The
// acknowledgement is returned as an AEAD-sealed record (sealed with the
// keys live at call time): like every exchange after FINISH_RSP,
// HEARTBEAT/HEARTBEAT_ACK travel as secured records, not plain SPDM
// messages.
func (s *Responder) OnHeartbeat(session *Session, reqBytes []byte) ([]byte, error) {
	if session.state != SessionEstablished {
		return nil, wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeHeartbeatReq(s.ctx.codecContext(), h, reader); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	EncodeHeartbeatAckRsp(&buf, HeartbeatAckRsp{Header: Header{SPDMVersion: s.ctx.version}})
	record, err := session.Encrypt(false, buf.Bytes())
	if err != nil {
		return nil, err
	}

	next, err := sessionTransition(session.state, SessionEventHeartbeat)
	if err != nil {
		return nil, err
	}
	session.state = next
	return record, nil
}

// OnKeyUpdate handles KEY_UPDATE, rotating one or both traffic secrets via
// bin_str9 ("traffic upd"), mirroring Requester.KeyUpdate's rotation
// logic. The acknowledgement is sealed with the traffic keys live at
// call time *before* any rotation below replaces them, since the
// Requester still holds the pre-rotation keys until it has itself
// processed this ack.
func (s *Responder) OnKeyUpdate(session *Session, reqBytes []byte) ([]byte, error) {
	if session.state != SessionEstablished {
		return nil, wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	req, err := DecodeKeyUpdateReq(s.ctx.codecContext(), h, reader)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	EncodeKeyUpdateAckRsp(&buf, KeyUpdateAckRsp{Header: Header{SPDMVersion: s.ctx.version}, Op: req.Op, Tag: req.Tag})
	record, err := session.Encrypt(false, buf.Bytes())
	if err != nil {
		return nil, err
	}

	if req.Op == KeyUpdateOpVerifyNewKey {
		next, err := sessionTransition(session.state, SessionEventKeyUpdateVerified)
		if err != nil {
			return nil, err
		}
		session.state = next
		return record, nil
	}

	algo := s.ctx.negotiated.BaseHash
	newReqSecret, err := s.ctx.keySched.DeriveUpdatedTrafficSecret(algo, s.ctx.version, session.reqDirection.key.Slice())
	if err != nil {
		return nil, err
	}
	newRspSecret := newReqSecret
	if req.Op == KeyUpdateOpUpdateAllKeys {
		newRspSecret, err = s.ctx.keySched.DeriveUpdatedTrafficSecret(algo, s.ctx.version, session.rspDirection.key.Slice())
		if err != nil {
			return nil, err
		}
	}
	reqKeys, err := s.ctx.keySched.DeriveRecordKeys(algo, s.ctx.negotiated.AEAD, s.ctx.version, newReqSecret)
	if err != nil {
		return nil, err
	}
	rspKeys, err := s.ctx.keySched.DeriveRecordKeys(algo, s.ctx.negotiated.AEAD, s.ctx.version, newRspSecret)
	if err != nil {
		return nil, err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return nil, err
	}
	return record, nil
}

// OnEndSession handles END_SESSION, tearing the session down after the
// ack is sealed (the table entry is freed once the secured response is
// ready to send, so a transport failure still leaves the table
// consistent). The ack is encrypted with the session's live keys before
// Remove zeroes them.
func (s *Responder) OnEndSession(session *Session, reqBytes []byte) ([]byte, error) {
	reader := bytes.NewReader(reqBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, err
	}
	if _, err := DecodeEndSessionReq(s.ctx.codecContext(), h, reader); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	EncodeEndSessionAckRsp(&buf, EndSessionAckRsp{Header: Header{SPDMVersion: s.ctx.version}})
	record, err := session.Encrypt(false, buf.Bytes())
	if err != nil {
		return nil, err
	}

	next, err := sessionTransition(session.state, SessionEventEndSession)
	if err != nil {
		return nil, err
	}
	session.state = next
	if err := s.ctx.sessions.Remove(session.sessionID); err != nil {
		return nil, err
	}
	if s.pendingSession == session {
		s.pendingSession = nil
	}
	return record, nil
}

// buildErrorResponse encodes err as an ERROR message, mapping its
// ErrorKind to the wire ErrorResponseCode.
func buildErrorResponse(version Version, err error) []byte {
	var buf bytes.Buffer
	EncodeErrorMessage(&buf, ErrorMessage{
		Header:    Header{SPDMVersion: version},
		ErrorCode: errorCodeForKind(KindOf(err)),
	})
	return buf.Bytes()
}

// Dispatch drives one full request/response exchange over transport: it
// decaps the incoming frame, opens it with the pending session's keys if
// the Encapper marked it as a secured record, decodes the header to find
// the request code, routes to the matching On* method, and sends back
// either the success response or an ERROR. It returns only on a
// transport-level failure (e.g. RecvRequest returning io.EOF on
// connection close); protocol-level failures are reported to the peer as
// ERROR and the loop continues.
//
// OnHeartbeat/OnKeyUpdate/OnEndSession already return their success
// response AEAD-sealed (they hold the session and must seal with its
// keys before any rotation/teardown they perform), so Dispatch only
// tags the outgoing frame as secured in that case — it never seals a
// response itself.
func (s *Responder) Dispatch(transport ResponderTransport) error {
	for {
		reqWire, err := transport.RecvRequest()
		if err != nil {
			return err
		}

		reqBytes, secured, decapErr := s.encap.Decap(reqWire)
		if decapErr != nil {
			if sendErr := s.sendWire(transport, buildErrorResponse(s.ctx.version, decapErr), false); sendErr != nil {
				return sendErr
			}
			continue
		}

		if secured {
			if s.pendingSession == nil {
				if sendErr := s.sendWire(transport, buildErrorResponse(s.ctx.version, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)), false); sendErr != nil {
					return sendErr
				}
				continue
			}
			plain, decErr := s.pendingSession.Decrypt(true, reqBytes)
			if decErr != nil {
				// Decrypt has already destroyed the session on failure;
				// there is no longer a key to seal the ERROR with.
				if sendErr := s.sendWire(transport, buildErrorResponse(s.ctx.version, decErr), false); sendErr != nil {
					return sendErr
				}
				continue
			}
			reqBytes = plain
		}

		h, decErr := DecodeHeader(bytes.NewReader(reqBytes))
		if decErr != nil {
			if sendErr := s.sendWire(transport, buildErrorResponse(s.ctx.version, decErr), false); sendErr != nil {
				return sendErr
			}
			continue
		}

		rspBytes, handleErr := s.route(h.Code, reqBytes)
		if handleErr != nil {
			if sendErr := s.sendWire(transport, buildErrorResponse(s.ctx.version, handleErr), false); sendErr != nil {
				return sendErr
			}
			continue
		}
		if sendErr := s.sendWire(transport, rspBytes, secured); sendErr != nil {
			return sendErr
		}
	}
}

// sendWire tags rspBytes as a secured record or a plain connection
// message and sends it. When secured is true, rspBytes is already the
// AEAD ciphertext the handler produced; sendWire never encrypts.
func (s *Responder) sendWire(transport ResponderTransport, rspBytes []byte, secured bool) error {
	wire, err := s.encap.Encap(rspBytes, secured)
	if err != nil {
		return err
	}
	return transport.SendResponse(wire)
}

// route dispatches one decoded request to its handler.
func (s *Responder) route(code RequestResponseCode, reqBytes []byte) ([]byte, error) {
	switch code {
	case CodeGetVersion:
		return s.OnGetVersion(reqBytes)
	case CodeGetCapabilities:
		return s.OnGetCapabilities(reqBytes)
	case CodeNegotiateAlgorithms:
		return s.OnNegotiateAlgorithms(reqBytes)
	case CodeGetDigests:
		return s.OnGetDigests(reqBytes)
	case CodeGetCertificate:
		return s.OnGetCertificate(reqBytes)
	case CodeChallenge:
		return s.OnChallenge(reqBytes)
	case CodeGetMeasurements:
		return s.OnGetMeasurements(reqBytes)
	case CodeKeyExchange:
		_, rspBytes, err := s.OnKeyExchange(reqBytes)
		return rspBytes, err
	case CodePSKExchange:
		_, rspBytes, err := s.OnPSKExchange(reqBytes)
		return rspBytes, err
	case CodeFinish:
		if s.pendingSession == nil {
			return nil, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
		}
		return s.OnFinish(s.pendingSession, reqBytes)
	case CodeHeartbeat:
		if s.pendingSession == nil {
			return nil, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
		}
		return s.OnHeartbeat(s.pendingSession, reqBytes)
	case CodeKeyUpdate:
		if s.pendingSession == nil {
			return nil, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
		}
		return s.OnKeyUpdate(s.pendingSession, reqBytes)
	case CodeEndSession:
		if s.pendingSession == nil {
			return nil, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
		}
		return s.OnEndSession(s.pendingSession, reqBytes)
	default:
		return nil, wrapf(ErrorKindUnexpected, "responder: unsupported request code %#x", code)
	}
}
