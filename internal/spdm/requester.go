package spdm

import (
	"bytes"
	"crypto"
)

// Requester (C5/C6 driving side). Each exported method performs one
// complete request/response exchange: encode, round-trip, decode, append
// to the transcript, and drive the relevant FSM. Callers invoke these in
// the fixed order DSP0274 mandates; an out-of-order call surfaces
// ErrorKindInvalidState from the FSM rather than corrupting the
// transcript.
type Requester struct {
	ctx       *Context
	transport RawTransport
	encap     Encapper
}

// NewRequester binds a Context to the transport it drives and the
// Encapper that marks each outbound frame as a plain connection message
// or a secured session record.
func NewRequester(ctx *Context, transport RawTransport, encap Encapper) *Requester {
	return &Requester{ctx: ctx, transport: transport, encap: encap}
}

// roundTrip performs one plain (unsecured) request/response exchange,
// used for every connection-establishment and handshake message up
// through FINISH.
func (r *Requester) roundTrip(reqBytes []byte) (*bytes.Reader, Header, error) {
	wire, err := r.encap.Encap(reqBytes, false)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindFault, "requester: encap: %w", err)
	}
	rspWire, err := r.transport.RoundTrip(wire)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindIORecv, "requester: round trip: %w", err)
	}
	rspBytes, _, err := r.encap.Decap(rspWire)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindIORecv, "requester: decap: %w", err)
	}
	return r.decodeResponse(rspBytes)
}

// securedRoundTrip performs one request/response exchange over an
// established session: reqBytes is AEAD-sealed into a secured record via
// Session.Encrypt, tagged as such by the Encapper, and the paired
// response is decapped and opened via Session.Decrypt back to plain
// SPDM bytes before header decode — every post-FINISH_RSP exchange
// (HEARTBEAT, KEY_UPDATE, END_SESSION, and any other session traffic) is
// secured this way, not just ad hoc application-data records.
func (r *Requester) securedRoundTrip(session *Session, reqBytes []byte) (*bytes.Reader, Header, error) {
	record, err := session.Encrypt(true, reqBytes)
	if err != nil {
		return nil, Header{}, err
	}
	wire, err := r.encap.Encap(record, true)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindFault, "requester: encap secured record: %w", err)
	}
	rspWire, err := r.transport.RoundTrip(wire)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindIORecv, "requester: round trip: %w", err)
	}
	rspRecord, _, err := r.encap.Decap(rspWire)
	if err != nil {
		return nil, Header{}, wrapf(ErrorKindIORecv, "requester: decap secured record: %w", err)
	}
	rspBytes, err := session.Decrypt(false, rspRecord)
	if err != nil {
		return nil, Header{}, err
	}
	return r.decodeResponse(rspBytes)
}

// decodeResponse decodes a plain (already-decrypted, if applicable)
// response message's header and surfaces a peer-reported ERROR as a Go
// error.
func (r *Requester) decodeResponse(rspBytes []byte) (*bytes.Reader, Header, error) {
	reader := bytes.NewReader(rspBytes)
	h, err := DecodeHeader(reader)
	if err != nil {
		return nil, Header{}, err
	}
	if h.Code == CodeError {
		em, err := DecodeErrorMessage(r.ctx.codecContext(), h, reader)
		if err != nil {
			return nil, Header{}, err
		}
		return nil, Header{}, wrapf(ErrorKindUnexpected, "requester: peer returned ERROR %#x", em.ErrorCode)
	}
	return reader, h, nil
}

// GetVersion performs GET_VERSION/VERSION and resolves the common SPDM
// version between r's offered set and the peer's advertised list.
func (r *Requester) GetVersion() (Version, error) {
	var buf bytes.Buffer
	EncodeGetVersionReq(&buf, GetVersionReq{Header: Header{SPDMVersion: Version10}})
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return 0, err
	}
	rsp, err := DecodeVersionRsp(r.ctx.codecContext(), h, reader)
	if err != nil {
		return 0, err
	}

	peerVersions := make([]Version, 0, len(rsp.Versions))
	for _, v := range rsp.Versions {
		peerVersions = append(peerVersions, v.Version)
	}
	r.ctx.peerVersions = peerVersions

	common, err := ResolveCommonVersion(r.ctx.localVersions, peerVersions)
	if err != nil {
		return 0, err
	}
	if err := r.ctx.SetVersion(common); err != nil {
		return 0, err
	}

	var rspBuf bytes.Buffer
	EncodeVersionRsp(&rspBuf, rsp)
	r.ctx.RecordVCABytes(reqBytes)
	r.ctx.RecordVCABytes(rspBuf.Bytes())

	return common, nil
}

// GetCapabilities performs GET_CAPABILITIES/CAPABILITIES.
func (r *Requester) GetCapabilities(ctExponent uint8) (CapabilityFlags, error) {
	var buf bytes.Buffer
	req := GetCapabilitiesReq{
		Header:     Header{SPDMVersion: r.ctx.version},
		CTExponent: ctExponent,
		Flags:      r.ctx.localCaps,
	}
	EncodeGetCapabilitiesReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return 0, err
	}
	rsp, err := DecodeCapabilitiesRsp(r.ctx.codecContext(), h, reader)
	if err != nil {
		return 0, err
	}

	if err := r.ctx.SetCapabilities(rsp.Flags); err != nil {
		return 0, err
	}

	var rspBuf bytes.Buffer
	EncodeCapabilitiesRsp(&rspBuf, rsp)
	r.ctx.RecordVCABytes(reqBytes)
	r.ctx.RecordVCABytes(rspBuf.Bytes())

	return rsp.Flags, nil
}

// NegotiateAlgorithms performs NEGOTIATE_ALGORITHMS/ALGORITHMS and fixes
// the selected algorithm set for the remainder of the connection.
func (r *Requester) NegotiateAlgorithms() (NegotiatedAlgos, error) {
	var buf bytes.Buffer
	req := NegotiateAlgorithmsReq{
		Header:          Header{SPDMVersion: r.ctx.version},
		MeasurementSpec: r.ctx.localOffer.MeasurementSpec,
		BaseAsym:        r.ctx.localOffer.BaseAsym,
		BaseHash:        r.ctx.localOffer.BaseHash,
		DHE:             r.ctx.localOffer.DHE,
		AEAD:            r.ctx.localOffer.AEAD,
		KeySchedule:     r.ctx.localOffer.KeySchedule,
		MeasurementHash: r.ctx.localOffer.MeasurementHash,
	}
	EncodeNegotiateAlgorithmsReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return NegotiatedAlgos{}, err
	}
	rsp, err := DecodeAlgorithmsRsp(r.ctx.codecContext(), h, reader)
	if err != nil {
		return NegotiatedAlgos{}, err
	}

	peerOffer := AlgorithmOffer{
		BaseHash:        rsp.BaseHash,
		BaseAsym:        rsp.BaseAsym,
		DHE:             rsp.DHE,
		AEAD:            rsp.AEAD,
		KeySchedule:     rsp.KeySchedule,
		MeasurementHash: rsp.MeasurementHash,
		MeasurementSpec: rsp.MeasurementSpec,
	}
	negotiated, err := r.ctx.NegotiateAlgorithms(peerOffer)
	if err != nil {
		return NegotiatedAlgos{}, err
	}

	var rspBuf bytes.Buffer
	EncodeAlgorithmsRsp(&rspBuf, rsp)
	if err := r.ctx.transcript.CombinedAppend(BufferA, reqBytes); err != nil {
		return NegotiatedAlgos{}, err
	}
	if err := r.ctx.transcript.CombinedAppend(BufferA, rspBuf.Bytes()); err != nil {
		return NegotiatedAlgos{}, err
	}

	return negotiated, nil
}

// GetDigests performs GET_DIGESTS/DIGESTS.
func (r *Requester) GetDigests() (DigestsRsp, error) {
	var buf bytes.Buffer
	EncodeGetDigestsReq(&buf, GetDigestsReq{Header: Header{SPDMVersion: r.ctx.version}})
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return DigestsRsp{}, err
	}
	rsp, err := DecodeDigestsRsp(r.ctx.codecContext(), h, reader)
	if err != nil {
		return DigestsRsp{}, err
	}

	next, err := connectionTransition(r.ctx.connState, ConnEventDigestsExchanged)
	if err != nil {
		return DigestsRsp{}, err
	}
	r.ctx.connState = next
	var rspBuf bytes.Buffer
	EncodeDigestsRsp(&rspBuf, rsp)
	if err := r.ctx.transcript.CombinedAppend(BufferB, reqBytes); err != nil {
		return DigestsRsp{}, err
	}
	if err := r.ctx.transcript.CombinedAppend(BufferB, rspBuf.Bytes()); err != nil {
		return DigestsRsp{}, err
	}

	return rsp, nil
}

// getCertificateChunkSize bounds a single GET_CERTIFICATE round trip
// (DSP0274 §10.7 leaves the chunk size to the implementation).
const getCertificateChunkSize = 1024

// GetCertificate retrieves and reassembles the full certificate chain in
// slotID, looping GET_CERTIFICATE/CERTIFICATE until RemainderLength
// reaches zero, then verifies it against the provisioned roots.
func (r *Requester) GetCertificate(slotID uint8) (*CertChain, error) {
	var portions []byte
	offset := uint16(0)
	for {
		var buf bytes.Buffer
		req := GetCertificateReq{
			Header: Header{SPDMVersion: r.ctx.version},
			SlotID: slotID,
			Offset: offset,
			Length: getCertificateChunkSize,
		}
		EncodeGetCertificateReq(&buf, req)
		reqBytes := buf.Bytes()

		reader, h, err := r.roundTrip(reqBytes)
		if err != nil {
			return nil, err
		}
		rsp, err := DecodeCertificateRsp(r.ctx.codecContext(), h, reader)
		if err != nil {
			return nil, err
		}

		var rspBuf bytes.Buffer
		EncodeCertificateRsp(&rspBuf, rsp)
		if err := r.ctx.transcript.CombinedAppend(BufferB, reqBytes); err != nil {
			return nil, err
		}
		if err := r.ctx.transcript.CombinedAppend(BufferB, rspBuf.Bytes()); err != nil {
			return nil, err
		}

		if len(portions)+len(rsp.Portion) > MaxCertChainDataSize {
			return nil, wrapErr(ErrorKindInvalidCertChain, ErrChainTooLarge)
		}
		portions = append(portions, rsp.Portion...)
		offset += rsp.PortionLength
		if rsp.RemainderLength == 0 {
			break
		}
	}

	next, err := connectionTransition(r.ctx.connState, ConnEventCertificateExchanged)
	if err != nil {
		return nil, err
	}
	r.ctx.connState = next

	chain, err := decodeCertChain(portions)
	if err != nil {
		return nil, err
	}
	leaf, err := r.ctx.providers.CertOps.VerifyChain(chain.Certs, r.ctx.provisionedRoots)
	if err != nil {
		return nil, wrapf(ErrorKindInvalidCertChain, "requester: verify chain: %w", err)
	}
	r.ctx.peerCertChain = chain
	r.ctx.peerLeafCert = leaf.Raw
	return chain, nil
}

// decodeCertChain parses the DSP0274 §10.6.1 Table 28 chain structure out
// of the reassembled portions.
func decodeCertChain(portions []byte) (*CertChain, error) {
	r := bytes.NewReader(portions)
	length, err := readU16(r)
	if err != nil {
		return nil, err
	}
	if _, err := readU16(r); err != nil { // reserved
		return nil, err
	}
	rest := readTail(r)
	if int(length) < 4 || int(length)-4 > len(rest) {
		return nil, wrapErr(ErrorKindInvalidCertChain, ErrLengthMismatch)
	}
	return &CertChain{Length: length, Certs: rest}, nil
}

// Challenge performs CHALLENGE/CHALLENGE_AUTH, verifying the Responder's
// signature over message_a||message_b||message_c-minus-signature, and
// advances the connection to Authenticated.
func (r *Requester) Challenge(slotID uint8, measSummaryType uint8) (*ChallengeAuthRsp, error) {
	var nonce [NonceSize]byte
	if _, err := r.ctx.providers.Rand.Read(nonce[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "requester: challenge nonce: %w", err)
	}

	var buf bytes.Buffer
	req := ChallengeReq{
		Header:                     Header{SPDMVersion: r.ctx.version},
		SlotID:                     slotID,
		MeasurementSummaryHashType: measSummaryType,
		Nonce:                      nonce,
	}
	EncodeChallengeReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return nil, err
	}
	hasMeasSummary := measSummaryType != 0
	rsp, preSig, err := DecodeChallengeAuthRsp(r.ctx.codecContext(), h, reader, hasMeasSummary)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.transcript.CombinedAppend(BufferC, reqBytes); err != nil {
		return nil, err
	}
	if err := r.ctx.transcript.CombinedAppend(BufferC, preSig); err != nil {
		return nil, err
	}
	digest, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.providers.AsymVerify.Verify(r.ctx.negotiated.BaseHash, r.ctx.negotiated.BaseAsym,
		r.ctx.peerLeafCert, digest, rsp.Signature); err != nil {
		return nil, wrapf(ErrorKindInvalidSignature, "requester: challenge_auth signature: %w", err)
	}
	if err := r.ctx.transcript.CombinedAppend(BufferC, rsp.Signature); err != nil {
		return nil, err
	}

	next, err := connectionTransition(r.ctx.connState, ConnEventChallengeCompleted)
	if err != nil {
		return nil, err
	}
	r.ctx.connState = next

	return &rsp, nil
}

// GetMeasurements performs GET_MEASUREMENTS/MEASUREMENTS. When
// signatureRequested is true, slotID identifies the chain the signature
// must verify against.
func (r *Requester) GetMeasurements(operation uint8, signatureRequested bool, slotID uint8) (*MeasurementsRsp, error) {
	var nonce [NonceSize]byte
	if _, err := r.ctx.providers.Rand.Read(nonce[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "requester: measurements nonce: %w", err)
	}

	var buf bytes.Buffer
	req := GetMeasurementsReq{
		Header:             Header{SPDMVersion: r.ctx.version},
		SignatureRequested: signatureRequested,
		Operation:          operation,
		Nonce:              nonce,
		SlotIDParam:        slotID,
	}
	EncodeGetMeasurementsReq(&buf, req)
	reqBytes := buf.Bytes()

	if err := r.ctx.transcript.Reset(BufferM); err != nil {
		return nil, err
	}

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return nil, err
	}
	rsp, err := DecodeMeasurementsRsp(r.ctx.codecContext(), h, reader, signatureRequested)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.transcript.CombinedAppend(BufferM, reqBytes); err != nil {
		return nil, err
	}
	var preSig bytes.Buffer
	EncodeMeasurementsRsp(&preSig, rsp, false)
	if err := r.ctx.transcript.CombinedAppend(BufferM, preSig.Bytes()); err != nil {
		return nil, err
	}

	if signatureRequested {
		digest, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferM)
		if err != nil {
			return nil, err
		}
		if err := r.ctx.providers.AsymVerify.Verify(r.ctx.negotiated.BaseHash, r.ctx.negotiated.BaseAsym,
			r.ctx.peerLeafCert, digest, rsp.Signature); err != nil {
			return nil, wrapf(ErrorKindInvalidSignature, "requester: measurements signature: %w", err)
		}
	}

	next, err := connectionTransition(r.ctx.connState, ConnEventMeasurementsExchanged)
	if err != nil {
		return nil, err
	}
	r.ctx.connState = next

	return &rsp, nil
}

// StartSessionKeyExchange performs KEY_EXCHANGE/KEY_EXCHANGE_RSP: it
// generates an ephemeral DHE key pair, verifies the Responder's signature
// and verify-data, and derives the handshake secrets into a freshly
// allocated Session in SessionHandshaking state.
func (r *Requester) StartSessionKeyExchange(slotID uint8, measSummaryType uint8) (*Session, error) {
	pair, err := r.ctx.providers.DHE.GenerateKeyPair(r.ctx.negotiated.DHE)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "requester: generate DHE key pair: %w", err)
	}

	var random [RandomSize]byte
	if _, err := r.ctx.providers.Rand.Read(random[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "requester: key exchange random: %w", err)
	}

	if err := r.ctx.transcript.Reset(BufferK); err != nil {
		return nil, err
	}

	// Allocate the session before sending so the Requester's high-16-bit
	// id contribution can be carried on the wire; the Responder's low 16
	// bits are merged in once its response arrives.
	session, err := r.ctx.sessions.Allocate(true, r.ctx.version, false, r.ctx.negotiated, r.ctx.providers.AEAD)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	req := KeyExchangeReq{
		Header:                     Header{SPDMVersion: r.ctx.version},
		MeasurementSummaryHashType: measSummaryType,
		SlotID:                     slotID,
		ReqSessionIDHalf:           uint16(session.sessionID >> 16),
		RandomData:                 random,
		ExchangeData:               pair.Public(),
	}
	EncodeKeyExchangeReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return nil, err
	}
	hasMeasSummary := measSummaryType != 0
	rsp, err := DecodeKeyExchangeRsp(r.ctx.codecContext(), h, reader, hasMeasSummary)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.transcript.CombinedAppend(BufferK, reqBytes); err != nil {
		return nil, err
	}
	var preSig bytes.Buffer
	encodeKeyExchangeRspPreSignature(&preSig, rsp, hasMeasSummary)
	if err := r.ctx.transcript.CombinedAppend(BufferK, preSig.Bytes()); err != nil {
		return nil, err
	}

	th1, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.providers.AsymVerify.Verify(r.ctx.negotiated.BaseHash, r.ctx.negotiated.BaseAsym,
		r.ctx.peerLeafCert, th1, rsp.Signature); err != nil {
		return nil, wrapf(ErrorKindInvalidSignature, "requester: key_exchange_rsp signature: %w", err)
	}
	if err := r.ctx.transcript.CombinedAppend(BufferK, rsp.Signature); err != nil {
		return nil, err
	}

	r.ctx.sessions.CompleteID(session, rsp.SessionID, false)

	shared, err := pair.ComputeSharedSecret(rsp.ExchangeData)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "requester: DHE shared secret: %w", err)
	}
	if err := session.setDHESecret(shared); err != nil {
		return nil, err
	}

	th1AfterRand, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, err
	}
	if err := deriveHandshakeKeys(r.ctx, session, shared, th1AfterRand); err != nil {
		return nil, err
	}

	if err := verifyHMACData(r.ctx.providers.HMAC, r.ctx.negotiated.BaseHash, session.finishedKeyRsp, th1AfterRand, rsp.ResponderVerifyData); err != nil {
		session.Destroy()
		return nil, err
	}

	if _, err := sessionTransition(session.state, SessionEventExchangeStarted); err != nil {
		return nil, err
	}
	session.state = SessionHandshaking

	return session, nil
}

// deriveHandshakeKeys runs key-schedule steps 1-3 and installs the
// handshake-phase AEAD keys into session. Shared by both Requester and
// Responder: the derivation only depends on ctx's negotiated algorithms
// and version, not on which side is driving.
func deriveHandshakeKeys(ctx *Context, session *Session, sharedSecret, th1 []byte) error {
	ks := ctx.keySched
	algo := ctx.negotiated.BaseHash
	version := ctx.version

	hs, err := ks.DeriveHandshakeSecrets(algo, version, sharedSecret, th1)
	if err != nil {
		return err
	}
	session.handshakeSecret = hs.HandshakeSecret

	reqKeys, err := ks.DeriveRecordKeys(algo, ctx.negotiated.AEAD, version, hs.ReqHandshakeSecret)
	if err != nil {
		return err
	}
	rspKeys, err := ks.DeriveRecordKeys(algo, ctx.negotiated.AEAD, version, hs.RspHandshakeSecret)
	if err != nil {
		return err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return err
	}

	finReq, err := ks.DeriveFinishedKey(algo, version, hs.ReqHandshakeSecret)
	if err != nil {
		return err
	}
	finRsp, err := ks.DeriveFinishedKey(algo, version, hs.RspHandshakeSecret)
	if err != nil {
		return err
	}
	session.finishedKeyReq = finReq
	session.finishedKeyRsp = finRsp

	master, err := ks.DeriveMasterSecret(algo, version, hs.HandshakeSecret)
	if err != nil {
		return err
	}
	session.masterSecret = master

	return nil
}

// Finish performs FINISH/FINISH_RSP, deriving the application data keys
// once the Responder's verify-data checks out.
func (r *Requester) Finish(session *Session, includeSignature bool, signer crypto.Signer, slotID uint8) error {
	th2PreFinish, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	req := FinishReq{
		Header:            Header{SPDMVersion: r.ctx.version},
		SignatureIncluded: includeSignature,
		SlotID:            slotID,
	}
	if includeSignature {
		sig, err := r.ctx.providers.AsymSign.Sign(r.ctx.negotiated.BaseHash, r.ctx.negotiated.BaseAsym, signer, th2PreFinish)
		if err != nil {
			return wrapf(ErrorKindFault, "requester: finish signature: %w", err)
		}
		req.RequesterSignature = sig
	}

	var preVerify bytes.Buffer
	encodeFinishReqPreVerifyData(&preVerify, req)
	if err := r.ctx.transcript.CombinedAppend(BufferF, preVerify.Bytes()); err != nil {
		return err
	}
	th2, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return err
	}
	verify, err := r.ctx.providers.HMAC.HMAC(r.ctx.negotiated.BaseHash, session.finishedKeyReq, th2)
	if err != nil {
		return wrapf(ErrorKindFault, "requester: finish verify-data: %w", err)
	}
	req.RequesterVerifyData = verify

	EncodeFinishReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return err
	}
	verifyPresent := !r.ctx.localCaps.Has(CapHandshakeInTheClear)
	rsp, err := DecodeFinishRsp(r.ctx.codecContext(), h, reader, verifyPresent)
	if err != nil {
		return err
	}

	if err := r.ctx.transcript.CombinedAppend(BufferF, verify); err != nil {
		return err
	}
	var rspBuf bytes.Buffer
	EncodeFinishRsp(&rspBuf, rsp)
	if err := r.ctx.transcript.CombinedAppend(BufferF, rspBuf.Bytes()); err != nil {
		return err
	}

	if verifyPresent {
		th2Final, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
		if err != nil {
			return err
		}
		expected, err := r.ctx.providers.HMAC.HMAC(r.ctx.negotiated.BaseHash, session.finishedKeyRsp, th2Final)
		if err != nil {
			return err
		}
		if !constantTimeEqual(expected, rsp.ResponderVerifyData) {
			session.Destroy()
			return wrapErr(ErrorKindInvalidMAC, ErrVerifyDataMismatch)
		}
	}

	th2AfterFinish, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferC, BufferK, BufferF)
	if err != nil {
		return err
	}
	data, err := r.ctx.keySched.DeriveDataSecrets(r.ctx.negotiated.BaseHash, r.ctx.version, session.masterSecret, th2AfterFinish)
	if err != nil {
		return err
	}
	reqKeys, err := r.ctx.keySched.DeriveRecordKeys(r.ctx.negotiated.BaseHash, r.ctx.negotiated.AEAD, r.ctx.version, data.ReqDataSecret)
	if err != nil {
		return err
	}
	rspKeys, err := r.ctx.keySched.DeriveRecordKeys(r.ctx.negotiated.BaseHash, r.ctx.negotiated.AEAD, r.ctx.version, data.RspDataSecret)
	if err != nil {
		return err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return err
	}
	exportMaster, err := r.ctx.keySched.DeriveExportMaster(r.ctx.negotiated.BaseHash, r.ctx.version, session.masterSecret)
	if err != nil {
		return err
	}
	session.exportMaster = exportMaster

	next, err := sessionTransition(session.state, SessionEventFinishCompleted)
	if err != nil {
		return err
	}
	session.state = next
	return nil
}

// StartSessionPSK performs PSK_EXCHANGE/PSK_EXCHANGE_RSP, deriving
// handshake secrets from a provisioned PSK root instead of a DHE shared
// secret.
func (r *Requester) StartSessionPSK(pskHint []byte, measSummaryType uint8, pskRoot []byte) (*Session, error) {
	var reqCtx [RandomSize]byte
	if _, err := r.ctx.providers.Rand.Read(reqCtx[:]); err != nil {
		return nil, wrapf(ErrorKindFault, "requester: psk exchange context: %w", err)
	}

	if err := r.ctx.transcript.Reset(BufferK); err != nil {
		return nil, err
	}

	session, err := r.ctx.sessions.Allocate(true, r.ctx.version, true, r.ctx.negotiated, r.ctx.providers.AEAD)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	req := PSKExchangeReq{
		Header:                     Header{SPDMVersion: r.ctx.version},
		MeasurementSummaryHashType: measSummaryType,
		ReqSessionIDHalf:           uint16(session.sessionID >> 16),
		PSKHint:                    pskHint,
		RequesterContext:           reqCtx[:],
	}
	EncodePSKExchangeReq(&buf, req)
	reqBytes := buf.Bytes()

	reader, h, err := r.roundTrip(reqBytes)
	if err != nil {
		return nil, err
	}
	hasMeasSummary := measSummaryType != 0
	rsp, err := DecodePSKExchangeRsp(r.ctx.codecContext(), h, reader, hasMeasSummary)
	if err != nil {
		return nil, err
	}

	if err := r.ctx.transcript.CombinedAppend(BufferK, reqBytes); err != nil {
		return nil, err
	}
	var preVerify bytes.Buffer
	encodePSKExchangeRspPreVerifyData(&preVerify, rsp)
	if err := r.ctx.transcript.CombinedAppend(BufferK, preVerify.Bytes()); err != nil {
		return nil, err
	}

	r.ctx.sessions.CompleteID(session, rsp.SessionID, false)

	th1, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, err
	}
	if err := deriveHandshakeKeys(r.ctx, session, pskRoot, th1); err != nil {
		return nil, err
	}

	expected, err := r.ctx.providers.HMAC.HMAC(r.ctx.negotiated.BaseHash, session.finishedKeyRsp, th1)
	if err != nil {
		return nil, err
	}
	if !constantTimeEqual(expected, rsp.ResponderVerifyData) {
		session.Destroy()
		return nil, wrapErr(ErrorKindInvalidMAC, ErrVerifyDataMismatch)
	}
	if err := r.ctx.transcript.CombinedAppend(BufferK, rsp.ResponderVerifyData); err != nil {
		return nil, err
	}

	if _, err := sessionTransition(session.state, SessionEventExchangeStarted); err != nil {
		return nil, err
	}
	session.state = SessionHandshaking

	// PSK sessions skip a signed FINISH (no certificate chain to sign
	// with); the data-secret derivation mirrors Finish's tail directly.
	th2, err := r.ctx.transcript.SnapshotHash(BufferA, BufferB, BufferK)
	if err != nil {
		return nil, err
	}
	data, err := r.ctx.keySched.DeriveDataSecrets(r.ctx.negotiated.BaseHash, r.ctx.version, session.masterSecret, th2)
	if err != nil {
		return nil, err
	}
	reqKeys, err := r.ctx.keySched.DeriveRecordKeys(r.ctx.negotiated.BaseHash, r.ctx.negotiated.AEAD, r.ctx.version, data.ReqDataSecret)
	if err != nil {
		return nil, err
	}
	rspKeys, err := r.ctx.keySched.DeriveRecordKeys(r.ctx.negotiated.BaseHash, r.ctx.negotiated.AEAD, r.ctx.version, data.RspDataSecret)
	if err != nil {
		return nil, err
	}
	if err := session.setRecordKeys(reqKeys, rspKeys); err != nil {
		return nil, err
	}
	next, err := sessionTransition(session.state, SessionEventFinishCompleted)
	if err != nil {
		return nil, err
	}
	session.state = next

	return session, nil
}

// Heartbeat performs HEARTBEAT/HEARTBEAT_ACK over an established
// session. Like all post-FINISH_RSP session traffic, the exchange is
// AEAD-sealed via securedRoundTrip rather than sent in the clear.
func (r *Requester) Heartbeat(session *Session) error {
	if session.state != SessionEstablished {
		return wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	var buf bytes.Buffer
	EncodeHeartbeatReq(&buf, HeartbeatReq{Header: Header{SPDMVersion: r.ctx.version}})
	reader, h, err := r.securedRoundTrip(session, buf.Bytes())
	if err != nil {
		return err
	}
	if _, err := DecodeHeartbeatAckRsp(r.ctx.codecContext(), h, reader); err != nil {
		return err
	}
	next, err := sessionTransition(session.state, SessionEventHeartbeat)
	if err != nil {
		return err
	}
	session.state = next
	return nil
}

// KeyUpdate performs KEY_UPDATE/KEY_UPDATE_ACK, rotating one or both
// traffic secrets via bin_str9 ("traffic upd").
func (r *Requester) KeyUpdate(session *Session, op KeyUpdateOperation, tag uint8) error {
	if session.state != SessionEstablished {
		return wrapErr(ErrorKindInvalidState, ErrUnexpectedCode)
	}
	var buf bytes.Buffer
	EncodeKeyUpdateReq(&buf, KeyUpdateReq{Header: Header{SPDMVersion: r.ctx.version}, Op: op, Tag: tag})
	reader, h, err := r.securedRoundTrip(session, buf.Bytes())
	if err != nil {
		return err
	}
	ack, err := DecodeKeyUpdateAckRsp(r.ctx.codecContext(), h, reader)
	if err != nil {
		return err
	}
	if ack.Op != op || ack.Tag != tag {
		return wrapf(ErrorKindInvalidMsgField, "requester: key update ack mismatch")
	}

	if op == KeyUpdateOpVerifyNewKey {
		next, err := sessionTransition(session.state, SessionEventKeyUpdateVerified)
		if err != nil {
			return err
		}
		session.state = next
		return nil
	}

	algo := r.ctx.negotiated.BaseHash
	// Re-derive both directions' traffic secrets and install fresh record
	// keys; DeriveUpdatedTrafficSecret is transcript-independent by design,
	// so no TH recomputation is needed here.
	newReqSecret, err := r.ctx.keySched.DeriveUpdatedTrafficSecret(algo, r.ctx.version, session.reqDirection.key.Slice())
	if err != nil {
		return err
	}
	newRspSecret := newReqSecret
	if op == KeyUpdateOpUpdateAllKeys {
		newRspSecret, err = r.ctx.keySched.DeriveUpdatedTrafficSecret(algo, r.ctx.version, session.rspDirection.key.Slice())
		if err != nil {
			return err
		}
	}
	reqKeys, err := r.ctx.keySched.DeriveRecordKeys(algo, r.ctx.negotiated.AEAD, r.ctx.version, newReqSecret)
	if err != nil {
		return err
	}
	rspKeys, err := r.ctx.keySched.DeriveRecordKeys(algo, r.ctx.negotiated.AEAD, r.ctx.version, newRspSecret)
	if err != nil {
		return err
	}
	return session.setRecordKeys(reqKeys, rspKeys)
}

// EndSession performs END_SESSION/END_SESSION_ACK and removes the session
// from the table.
func (r *Requester) EndSession(session *Session, preserveState bool) error {
	var attrs uint8
	if preserveState {
		attrs = EndSessionAttributePreserveNegotiatedState
	}
	var buf bytes.Buffer
	EncodeEndSessionReq(&buf, EndSessionReq{Header: Header{SPDMVersion: r.ctx.version}, Attributes: attrs})
	reader, h, err := r.securedRoundTrip(session, buf.Bytes())
	if err != nil {
		return err
	}
	if _, err := DecodeEndSessionAckRsp(r.ctx.codecContext(), h, reader); err != nil {
		return err
	}
	next, err := sessionTransition(session.state, SessionEventEndSession)
	if err != nil {
		return err
	}
	session.state = next
	return r.ctx.sessions.Remove(session.sessionID)
}
