package spdm

import "bytes"

// Session-establishment and session-control message codecs (DSP0274
// §10.9, §10.10, §10.16-10.19; DSP0277 key-exchange/finish framing).

// RandomSize is the random-nonce length carried in KEY_EXCHANGE.
const RandomSize = 32

// KeyExchangeReq is KEY_EXCHANGE (DSP0274 §10.9). ReqSessionIDHalf carries
// the Requester's high-16-bit session_id contribution explicitly on the
// wire rather than inferring it, since DSP0274 leaves the exact transport
// of the Requester's half to the allocation convention each
// implementation picks.
type KeyExchangeReq struct {
	Header                     Header
	MeasurementSummaryHashType uint8 // wire Param1
	SlotID                     uint8 // wire Param2, low 4 bits
	ReqSessionIDHalf           uint16
	RandomData                 [RandomSize]byte
	ExchangeData               []byte // DHE public key, DHESize bytes
	OpaqueData                 []byte
}

func (KeyExchangeReq) Code() RequestResponseCode { return CodeKeyExchange }

func EncodeKeyExchangeReq(w *bytes.Buffer, m KeyExchangeReq) {
	h := m.Header
	h.Code = CodeKeyExchange
	h.Param1 = m.MeasurementSummaryHashType
	h.Param2 = m.SlotID & 0x0f
	EncodeHeader(w, h)
	writeU16(w, m.ReqSessionIDHalf)
	w.Write(m.RandomData[:])
	w.Write(m.ExchangeData)
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.OpaqueData)
}

func DecodeKeyExchangeReq(ctx CodecContext, h Header, r *bytes.Reader) (KeyExchangeReq, error) {
	reqHalf, err := readU16(r)
	if err != nil {
		return KeyExchangeReq{}, err
	}
	random, err := readBytes(r, RandomSize)
	if err != nil {
		return KeyExchangeReq{}, err
	}
	exch, err := readBytes(r, ctx.DHESize)
	if err != nil {
		return KeyExchangeReq{}, err
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return KeyExchangeReq{}, err
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return KeyExchangeReq{}, err
	}
	m := KeyExchangeReq{
		Header: h, MeasurementSummaryHashType: h.Param1, SlotID: h.Param2 & 0x0f,
		ReqSessionIDHalf: reqHalf, ExchangeData: exch, OpaqueData: opaque,
	}
	copy(m.RandomData[:], random)
	return m, nil
}

// encodeKeyExchangeRspPreSignature writes everything up to and including
// OpaqueData, matching what DecodeKeyExchangeRsp already splits off the
// signature/verify-data tail from. The driver feeds this into message_k
// ahead of recording Signature and ResponderVerifyData separately.
func encodeKeyExchangeRspPreSignature(w *bytes.Buffer, m KeyExchangeRsp, hasMeasSummary bool) {
	h := m.Header
	h.Code = CodeKeyExchangeRsp
	if m.MutAuthRequested {
		h.Param1 = KeyExchangeRspMutAuthRequested
	} else {
		h.Param1 = 0
	}
	h.Param2 = m.SlotID & 0x0f
	EncodeHeader(w, h)
	writeU32(w, m.SessionID)
	w.Write(m.RandomData[:])
	w.Write(m.ExchangeData)
	if hasMeasSummary {
		w.Write(m.MeasurementSummaryHash)
	}
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.OpaqueData)
}

// KeyExchangeRspMutAuthRequested is the Responder's MUT_AUTH request bit
// (DSP0274 §10.9 Table 46, Param1 bit0), carried here instead of a deeper
// sub-bitfield type since this core's mutual-auth support is binary
// (request-or-not), not the full slot-id/basic/encap taxonomy DSP0274
// allows.
const KeyExchangeRspMutAuthRequested uint8 = 1 << 0

// KeyExchangeRsp is KEY_EXCHANGE_RSP. Signature and ResponderVerifyData are
// computed over/after the transcript point the rest of this struct
// defines, so the drivers record the pre-signature encoding
// (encodeKeyExchangeRspPreSignature) separately; EncodeKeyExchangeRsp and
// DecodeKeyExchangeRsp still carry both fields.
type KeyExchangeRsp struct {
	Header         Header
	MutAuthRequested bool // wire Param1
	SlotID         uint8  // wire Param2 when MutAuthRequested
	SessionID      uint32
	RandomData     [RandomSize]byte
	ExchangeData   []byte // DHE public key, DHESize bytes
	MeasurementSummaryHash []byte // HashSize, empty if not requested
	OpaqueData     []byte
	Signature              []byte // SigSize
	ResponderVerifyData    []byte // HashSize
}

func (KeyExchangeRsp) Code() RequestResponseCode { return CodeKeyExchangeRsp }

func EncodeKeyExchangeRsp(w *bytes.Buffer, m KeyExchangeRsp) {
	h := m.Header
	h.Code = CodeKeyExchangeRsp
	if m.MutAuthRequested {
		h.Param1 = KeyExchangeRspMutAuthRequested
	} else {
		h.Param1 = 0
	}
	h.Param2 = m.SlotID & 0x0f
	EncodeHeader(w, h)
	writeU32(w, m.SessionID)
	w.Write(m.RandomData[:])
	w.Write(m.ExchangeData)
	w.Write(m.MeasurementSummaryHash)
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.OpaqueData)
	w.Write(m.Signature)
	w.Write(m.ResponderVerifyData)
}

// DecodeKeyExchangeRsp decodes the whole response, Signature and
// ResponderVerifyData included; the driver re-encodes the pre-signature
// part to split the transcript bytes from the signature and verify-data.
// hasMeasSummary reflects the corresponding KeyExchangeReq field.
func DecodeKeyExchangeRsp(ctx CodecContext, h Header, r *bytes.Reader, hasMeasSummary bool) (KeyExchangeRsp, error) {
	sessionID, err := readU32(r)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	random, err := readBytes(r, RandomSize)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	exch, err := readBytes(r, ctx.DHESize)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	var measHash []byte
	if hasMeasSummary {
		measHash, err = readBytes(r, ctx.HashSize)
		if err != nil {
			return KeyExchangeRsp{}, err
		}
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	sig, err := readBytes(r, ctx.SigSize)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	verify, err := readBytes(r, ctx.HashSize)
	if err != nil {
		return KeyExchangeRsp{}, err
	}
	m := KeyExchangeRsp{
		Header: h, MutAuthRequested: h.Param1&KeyExchangeRspMutAuthRequested != 0, SlotID: h.Param2 & 0x0f,
		SessionID: sessionID, ExchangeData: exch, MeasurementSummaryHash: measHash,
		OpaqueData: opaque, Signature: sig, ResponderVerifyData: verify,
	}
	copy(m.RandomData[:], random)
	return m, nil
}

// FinishReq is FINISH (DSP0274 §10.10). RequesterSignature is present only
// when mutual authentication was negotiated and requested, per DSP0274
// §10.8.
type FinishReq struct {
	Header             Header
	SignatureIncluded  bool // wire Param1 bit0
	SlotID             uint8 // wire Param2
	RequesterSignature []byte // SigSize, present iff SignatureIncluded
	RequesterVerifyData []byte // HashSize
}

func (FinishReq) Code() RequestResponseCode { return CodeFinish }

func EncodeFinishReq(w *bytes.Buffer, m FinishReq) {
	h := m.Header
	h.Code = CodeFinish
	if m.SignatureIncluded {
		h.Param1 = 1
	} else {
		h.Param1 = 0
	}
	h.Param2 = m.SlotID & 0x0f
	EncodeHeader(w, h)
	if m.SignatureIncluded {
		w.Write(m.RequesterSignature)
	}
	w.Write(m.RequesterVerifyData)
}

func DecodeFinishReq(ctx CodecContext, h Header, r *bytes.Reader) (FinishReq, error) {
	sigIncluded := h.Param1&0x01 != 0
	var sig []byte
	var err error
	if sigIncluded {
		sig, err = readBytes(r, ctx.SigSize)
		if err != nil {
			return FinishReq{}, err
		}
	}
	verify, err := readBytes(r, ctx.HashSize)
	if err != nil {
		return FinishReq{}, err
	}
	return FinishReq{
		Header: h, SignatureIncluded: sigIncluded, SlotID: h.Param2 & 0x0f,
		RequesterSignature: sig, RequesterVerifyData: verify,
	}, nil
}

// encodeFinishReqPreVerifyData writes everything up to but excluding
// RequesterVerifyData, letting the driver hash it before computing and
// appending the verify-data itself.
func encodeFinishReqPreVerifyData(w *bytes.Buffer, m FinishReq) {
	h := m.Header
	h.Code = CodeFinish
	if m.SignatureIncluded {
		h.Param1 = 1
	} else {
		h.Param1 = 0
	}
	h.Param2 = m.SlotID & 0x0f
	EncodeHeader(w, h)
	if m.SignatureIncluded {
		w.Write(m.RequesterSignature)
	}
}

// FinishRsp is FINISH_RSP. ResponderVerifyData is present only when
// HANDSHAKE_IN_THE_CLEAR was not negotiated (it is redundant once the
// session is already encrypting, per DSP0274 §10.10).
type FinishRsp struct {
	Header              Header
	ResponderVerifyData []byte // HashSize, empty if omitted
}

func (FinishRsp) Code() RequestResponseCode { return CodeFinishRsp }

func EncodeFinishRsp(w *bytes.Buffer, m FinishRsp) {
	h := m.Header
	h.Code = CodeFinishRsp
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
	w.Write(m.ResponderVerifyData)
}

func DecodeFinishRsp(ctx CodecContext, h Header, r *bytes.Reader, verifyDataPresent bool) (FinishRsp, error) {
	var verify []byte
	if verifyDataPresent {
		var err error
		verify, err = readBytes(r, ctx.HashSize)
		if err != nil {
			return FinishRsp{}, err
		}
	}
	return FinishRsp{Header: h, ResponderVerifyData: verify}, nil
}

// PSKExchangeReq is PSK_EXCHANGE (DSP0274 §10.16): identical in shape to
// KEY_EXCHANGE minus DHE, carrying a PSK hint instead of a slot id.
type PSKExchangeReq struct {
	Header                     Header
	MeasurementSummaryHashType uint8
	ReqSessionIDHalf           uint16
	PSKHint                    []byte
	RequesterContext           []byte
	OpaqueData                 []byte
}

func (PSKExchangeReq) Code() RequestResponseCode { return CodePSKExchange }

func EncodePSKExchangeReq(w *bytes.Buffer, m PSKExchangeReq) {
	h := m.Header
	h.Code = CodePSKExchange
	h.Param1 = m.MeasurementSummaryHashType
	h.Param2 = 0
	EncodeHeader(w, h)
	writeU16(w, m.ReqSessionIDHalf)
	writeU16(w, uint16(len(m.PSKHint)))
	writeU16(w, uint16(len(m.RequesterContext)))
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.PSKHint)
	w.Write(m.RequesterContext)
	w.Write(m.OpaqueData)
}

func DecodePSKExchangeReq(_ CodecContext, h Header, r *bytes.Reader) (PSKExchangeReq, error) {
	reqHalf, err := readU16(r)
	if err != nil {
		return PSKExchangeReq{}, err
	}
	hintLen, err := readU16(r)
	if err != nil {
		return PSKExchangeReq{}, err
	}
	ctxLen, err := readU16(r)
	if err != nil {
		return PSKExchangeReq{}, err
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return PSKExchangeReq{}, err
	}
	hint, err := readBytes(r, int(hintLen))
	if err != nil {
		return PSKExchangeReq{}, err
	}
	reqCtx, err := readBytes(r, int(ctxLen))
	if err != nil {
		return PSKExchangeReq{}, err
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return PSKExchangeReq{}, err
	}
	return PSKExchangeReq{
		Header: h, MeasurementSummaryHashType: h.Param1, ReqSessionIDHalf: reqHalf,
		PSKHint: hint, RequesterContext: reqCtx, OpaqueData: opaque,
	}, nil
}

// PSKExchangeRsp is PSK_EXCHANGE_RSP.
type PSKExchangeRsp struct {
	Header               Header
	SessionID            uint32
	ResponderContext     []byte
	MeasurementSummaryHash []byte
	OpaqueData           []byte
	ResponderVerifyData  []byte
}

func (PSKExchangeRsp) Code() RequestResponseCode { return CodePSKExchangeRsp }

func EncodePSKExchangeRsp(w *bytes.Buffer, m PSKExchangeRsp) {
	h := m.Header
	h.Code = CodePSKExchangeRsp
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
	writeU32(w, m.SessionID)
	writeU16(w, uint16(len(m.ResponderContext)))
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.ResponderContext)
	w.Write(m.MeasurementSummaryHash)
	w.Write(m.OpaqueData)
	w.Write(m.ResponderVerifyData)
}

func DecodePSKExchangeRsp(ctx CodecContext, h Header, r *bytes.Reader, hasMeasSummary bool) (PSKExchangeRsp, error) {
	sessionID, err := readU32(r)
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	rspCtxLen, err := readU16(r)
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	rspCtx, err := readBytes(r, int(rspCtxLen))
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	var measHash []byte
	if hasMeasSummary {
		measHash, err = readBytes(r, ctx.HashSize)
		if err != nil {
			return PSKExchangeRsp{}, err
		}
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	verify, err := readBytes(r, ctx.HashSize)
	if err != nil {
		return PSKExchangeRsp{}, err
	}
	return PSKExchangeRsp{
		Header: h, SessionID: sessionID, ResponderContext: rspCtx,
		MeasurementSummaryHash: measHash, OpaqueData: opaque, ResponderVerifyData: verify,
	}, nil
}

// encodePSKExchangeRspPreVerifyData writes everything up to but excluding
// ResponderVerifyData.
func encodePSKExchangeRspPreVerifyData(w *bytes.Buffer, m PSKExchangeRsp) {
	h := m.Header
	h.Code = CodePSKExchangeRsp
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
	writeU32(w, m.SessionID)
	writeU16(w, uint16(len(m.ResponderContext)))
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.ResponderContext)
	w.Write(m.MeasurementSummaryHash)
	w.Write(m.OpaqueData)
}

// HeartbeatReq/HeartbeatAckRsp (DSP0274 §10.17) carry no body beyond the
// header.
type HeartbeatReq struct{ Header Header }

func (HeartbeatReq) Code() RequestResponseCode { return CodeHeartbeat }

func EncodeHeartbeatReq(w *bytes.Buffer, m HeartbeatReq) {
	h := m.Header
	h.Code, h.Param1, h.Param2 = CodeHeartbeat, 0, 0
	EncodeHeader(w, h)
}

func DecodeHeartbeatReq(_ CodecContext, h Header, _ *bytes.Reader) (HeartbeatReq, error) {
	return HeartbeatReq{Header: h}, nil
}

type HeartbeatAckRsp struct{ Header Header }

func (HeartbeatAckRsp) Code() RequestResponseCode { return CodeHeartbeatAck }

func EncodeHeartbeatAckRsp(w *bytes.Buffer, m HeartbeatAckRsp) {
	h := m.Header
	h.Code, h.Param1, h.Param2 = CodeHeartbeatAck, 0, 0
	EncodeHeader(w, h)
}

func DecodeHeartbeatAckRsp(_ CodecContext, h Header, _ *bytes.Reader) (HeartbeatAckRsp, error) {
	return HeartbeatAckRsp{Header: h}, nil
}

// Key update operations (DSP0274 §10.18 Table 59).
type KeyUpdateOperation uint8

const (
	KeyUpdateOpUpdateKey     KeyUpdateOperation = 1
	KeyUpdateOpUpdateAllKeys KeyUpdateOperation = 2
	KeyUpdateOpVerifyNewKey  KeyUpdateOperation = 3
)

// KeyUpdateReq is KEY_UPDATE.
type KeyUpdateReq struct {
	Header Header
	Op     KeyUpdateOperation // wire Param1
	Tag    uint8              // wire Param2, echoed back by the ack
}

func (KeyUpdateReq) Code() RequestResponseCode { return CodeKeyUpdate }

func EncodeKeyUpdateReq(w *bytes.Buffer, m KeyUpdateReq) {
	h := m.Header
	h.Code = CodeKeyUpdate
	h.Param1 = uint8(m.Op)
	h.Param2 = m.Tag
	EncodeHeader(w, h)
}

func DecodeKeyUpdateReq(_ CodecContext, h Header, _ *bytes.Reader) (KeyUpdateReq, error) {
	return KeyUpdateReq{Header: h, Op: KeyUpdateOperation(h.Param1), Tag: h.Param2}, nil
}

// KeyUpdateAckRsp is KEY_UPDATE_ACK, echoing the operation and tag.
type KeyUpdateAckRsp struct {
	Header Header
	Op     KeyUpdateOperation
	Tag    uint8
}

func (KeyUpdateAckRsp) Code() RequestResponseCode { return CodeKeyUpdateAck }

func EncodeKeyUpdateAckRsp(w *bytes.Buffer, m KeyUpdateAckRsp) {
	h := m.Header
	h.Code = CodeKeyUpdateAck
	h.Param1 = uint8(m.Op)
	h.Param2 = m.Tag
	EncodeHeader(w, h)
}

func DecodeKeyUpdateAckRsp(_ CodecContext, h Header, _ *bytes.Reader) (KeyUpdateAckRsp, error) {
	return KeyUpdateAckRsp{Header: h, Op: KeyUpdateOperation(h.Param1), Tag: h.Param2}, nil
}

// EndSessionReq is END_SESSION (DSP0274 §10.19).
const EndSessionAttributePreserveNegotiatedState uint8 = 1 << 0

type EndSessionReq struct {
	Header     Header
	Attributes uint8 // wire Param1
}

func (EndSessionReq) Code() RequestResponseCode { return CodeEndSession }

func EncodeEndSessionReq(w *bytes.Buffer, m EndSessionReq) {
	h := m.Header
	h.Code = CodeEndSession
	h.Param1 = m.Attributes
	h.Param2 = 0
	EncodeHeader(w, h)
}

func DecodeEndSessionReq(_ CodecContext, h Header, _ *bytes.Reader) (EndSessionReq, error) {
	return EndSessionReq{Header: h, Attributes: h.Param1}, nil
}

type EndSessionAckRsp struct{ Header Header }

func (EndSessionAckRsp) Code() RequestResponseCode { return CodeEndSessionAck }

func EncodeEndSessionAckRsp(w *bytes.Buffer, m EndSessionAckRsp) {
	h := m.Header
	h.Code, h.Param1, h.Param2 = CodeEndSessionAck, 0, 0
	EncodeHeader(w, h)
}

func DecodeEndSessionAckRsp(_ CodecContext, h Header, _ *bytes.Reader) (EndSessionAckRsp, error) {
	return EndSessionAckRsp{Header: h}, nil
}
