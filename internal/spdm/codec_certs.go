package spdm

import "bytes"

// Digests/Certificate, Challenge, and Measurement message codecs
// (DSP0274 §10.6-10.8, §10.11). Kept in their own file from
// codec_negotiation.go, continuing the "several focused files inside one
// package" split.

// NonceSize is the fixed nonce length used by CHALLENGE and
// GET_MEASUREMENTS (DSP0274 §10.7/§10.11).
const NonceSize = 32

// MaxSlots is the number of certificate-chain slots DSP0274 defines
// (0..7).
const MaxSlots = 8

// GetDigestsReq is GET_DIGESTS (DSP0274 §10.6). No body beyond the header.
type GetDigestsReq struct {
	Header Header
}

func (GetDigestsReq) Code() RequestResponseCode { return CodeGetDigests }

func EncodeGetDigestsReq(w *bytes.Buffer, m GetDigestsReq) {
	h := m.Header
	h.Code = CodeGetDigests
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
}

func DecodeGetDigestsReq(_ CodecContext, h Header, _ *bytes.Reader) (GetDigestsReq, error) {
	return GetDigestsReq{Header: h}, nil
}

// DigestsRsp is DIGESTS (DSP0274 §10.6). SlotMask (wire Param2) has one bit
// set per populated slot; Digests holds one HashSize digest per set bit, in
// ascending slot order.
type DigestsRsp struct {
	Header   Header
	SlotMask uint8
	Digests  [][]byte
}

func (DigestsRsp) Code() RequestResponseCode { return CodeDigests }

func EncodeDigestsRsp(w *bytes.Buffer, m DigestsRsp) {
	h := m.Header
	h.Code = CodeDigests
	h.Param1 = 0
	h.Param2 = m.SlotMask
	EncodeHeader(w, h)
	for _, d := range m.Digests {
		w.Write(d)
	}
}

func DecodeDigestsRsp(ctx CodecContext, h Header, r *bytes.Reader) (DigestsRsp, error) {
	mask := h.Param2
	count := popcount8(mask)
	digests := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		d, err := readBytes(r, ctx.HashSize)
		if err != nil {
			return DigestsRsp{}, err
		}
		digests = append(digests, d)
	}
	return DigestsRsp{Header: h, SlotMask: mask, Digests: digests}, nil
}

func popcount8(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// GetCertificateReq is GET_CERTIFICATE (DSP0274 §10.7), one chunk of a
// (possibly multi-round-trip) chain reassembly.
type GetCertificateReq struct {
	Header Header
	SlotID uint8 // wire Param1, low 4 bits
	Offset uint16
	Length uint16
}

func (GetCertificateReq) Code() RequestResponseCode { return CodeGetCertificate }

func EncodeGetCertificateReq(w *bytes.Buffer, m GetCertificateReq) {
	h := m.Header
	h.Code = CodeGetCertificate
	h.Param1 = m.SlotID & 0x0f
	h.Param2 = 0
	EncodeHeader(w, h)
	writeU16(w, m.Offset)
	writeU16(w, m.Length)
}

func DecodeGetCertificateReq(_ CodecContext, h Header, r *bytes.Reader) (GetCertificateReq, error) {
	off, err := readU16(r)
	if err != nil {
		return GetCertificateReq{}, err
	}
	length, err := readU16(r)
	if err != nil {
		return GetCertificateReq{}, err
	}
	return GetCertificateReq{Header: h, SlotID: h.Param1 & 0x0f, Offset: off, Length: length}, nil
}

// CertificateRsp is CERTIFICATE (DSP0274 §10.7): one chunk of the chain,
// with the total chain length so the Connection FSM knows when every
// chunk has arrived, reassembling the chain across chunked transfers.
type CertificateRsp struct {
	Header          Header
	SlotID          uint8
	PortionLength   uint16
	RemainderLength uint16
	Portion         []byte
}

func (CertificateRsp) Code() RequestResponseCode { return CodeCertificate }

func EncodeCertificateRsp(w *bytes.Buffer, m CertificateRsp) {
	h := m.Header
	h.Code = CodeCertificate
	h.Param1 = m.SlotID & 0x0f
	h.Param2 = 0
	EncodeHeader(w, h)
	writeU16(w, m.PortionLength)
	writeU16(w, m.RemainderLength)
	w.Write(m.Portion)
}

func DecodeCertificateRsp(_ CodecContext, h Header, r *bytes.Reader) (CertificateRsp, error) {
	portionLen, err := readU16(r)
	if err != nil {
		return CertificateRsp{}, err
	}
	remainderLen, err := readU16(r)
	if err != nil {
		return CertificateRsp{}, err
	}
	portion, err := readBytes(r, int(portionLen))
	if err != nil {
		return CertificateRsp{}, err
	}
	return CertificateRsp{
		Header: h, SlotID: h.Param1 & 0x0f,
		PortionLength: portionLen, RemainderLength: remainderLen, Portion: portion,
	}, nil
}

// ChallengeReq is CHALLENGE (DSP0274 §10.8).
type ChallengeReq struct {
	Header                     Header
	SlotID                     uint8 // wire Param1
	MeasurementSummaryHashType uint8 // wire Param2: 0=none, 1=TCB, 0xFF=all
	Nonce                      [NonceSize]byte
}

func (ChallengeReq) Code() RequestResponseCode { return CodeChallenge }

func EncodeChallengeReq(w *bytes.Buffer, m ChallengeReq) {
	h := m.Header
	h.Code = CodeChallenge
	h.Param1 = m.SlotID
	h.Param2 = m.MeasurementSummaryHashType
	EncodeHeader(w, h)
	w.Write(m.Nonce[:])
}

func DecodeChallengeReq(_ CodecContext, h Header, r *bytes.Reader) (ChallengeReq, error) {
	nonce, err := readBytes(r, NonceSize)
	if err != nil {
		return ChallengeReq{}, err
	}
	var m ChallengeReq
	m.Header, m.SlotID, m.MeasurementSummaryHashType = h, h.Param1, h.Param2
	copy(m.Nonce[:], nonce)
	return m, nil
}

// ChallengeAuthRsp is CHALLENGE_AUTH (DSP0274 §10.8). Signature and the
// bytes it covers (everything up to Signature) are appended to message_c
// separately by the driver, which never hashes the signature itself.
type ChallengeAuthRsp struct {
	Header                 Header
	SlotID                 uint8
	SlotMask               uint8
	CertChainHash          []byte // HashSize
	Nonce                  [NonceSize]byte
	MeasurementSummaryHash []byte // HashSize, empty if not requested
	OpaqueData             []byte
	Signature              []byte // SigSize
}

func (ChallengeAuthRsp) Code() RequestResponseCode { return CodeChallengeAuth }

func EncodeChallengeAuthRsp(w *bytes.Buffer, m ChallengeAuthRsp) {
	h := m.Header
	h.Code = CodeChallengeAuth
	h.Param1 = m.SlotID
	h.Param2 = m.SlotMask
	EncodeHeader(w, h)
	w.Write(m.CertChainHash)
	w.Write(m.Nonce[:])
	w.Write(m.MeasurementSummaryHash)
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.OpaqueData)
	w.Write(m.Signature)
}

// DecodeChallengeAuthRsp decodes the whole response including Signature,
// and also returns the signature on its own so the caller can record the
// pre-signature transcript bytes and the signature separately (spec
// §3/§4.5). hasMeasSummary must reflect whether the original request asked
// for one.
func DecodeChallengeAuthRsp(ctx CodecContext, h Header, r *bytes.Reader, hasMeasSummary bool) (ChallengeAuthRsp, []byte, error) {
	certHash, err := readBytes(r, ctx.HashSize)
	if err != nil {
		return ChallengeAuthRsp{}, nil, err
	}
	nonce, err := readBytes(r, NonceSize)
	if err != nil {
		return ChallengeAuthRsp{}, nil, err
	}
	var measHash []byte
	if hasMeasSummary {
		measHash, err = readBytes(r, ctx.HashSize)
		if err != nil {
			return ChallengeAuthRsp{}, nil, err
		}
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return ChallengeAuthRsp{}, nil, err
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return ChallengeAuthRsp{}, nil, err
	}
	sig, err := readBytes(r, ctx.SigSize)
	if err != nil {
		return ChallengeAuthRsp{}, nil, err
	}
	m := ChallengeAuthRsp{
		Header: h, SlotID: h.Param1, SlotMask: h.Param2,
		CertChainHash: certHash, MeasurementSummaryHash: measHash,
		OpaqueData: opaque, Signature: sig,
	}
	copy(m.Nonce[:], nonce)
	return m, sig, nil
}

// Measurement summary/selection values used by GET_MEASUREMENTS Param2
// (DSP0274 Table 54).
const (
	MeasurementOperationTotalNumber uint8 = 0xFE
	MeasurementOperationAll         uint8 = 0xFF
)

// GetMeasurementsReq is GET_MEASUREMENTS (DSP0274 §10.11.1).
type GetMeasurementsReq struct {
	Header             Header
	SignatureRequested bool  // wire Param1 bit0
	Operation          uint8 // wire Param2: index, TotalNumber, or All
	Nonce              [NonceSize]byte
	SlotIDParam        uint8 // present only when SignatureRequested
}

func (GetMeasurementsReq) Code() RequestResponseCode { return CodeGetMeasurements }

func EncodeGetMeasurementsReq(w *bytes.Buffer, m GetMeasurementsReq) {
	h := m.Header
	h.Code = CodeGetMeasurements
	if m.SignatureRequested {
		h.Param1 = 1
	} else {
		h.Param1 = 0
	}
	h.Param2 = m.Operation
	EncodeHeader(w, h)
	if m.SignatureRequested {
		w.Write(m.Nonce[:])
		writeU8(w, m.SlotIDParam&0x0f)
	}
}

func DecodeGetMeasurementsReq(_ CodecContext, h Header, r *bytes.Reader) (GetMeasurementsReq, error) {
	m := GetMeasurementsReq{Header: h, SignatureRequested: h.Param1&0x01 != 0, Operation: h.Param2}
	if m.SignatureRequested {
		nonce, err := readBytes(r, NonceSize)
		if err != nil {
			return GetMeasurementsReq{}, err
		}
		copy(m.Nonce[:], nonce)
		slot, err := readU8(r)
		if err != nil {
			return GetMeasurementsReq{}, err
		}
		m.SlotIDParam = slot & 0x0f
	}
	return m, nil
}

// MeasurementsRsp is MEASUREMENTS (DSP0274 §10.11.1). Signature is decoded
// separately, mirroring ChallengeAuthRsp, so the driver can record the
// pre-signature bytes into message_m before appending the signature.
type MeasurementsRsp struct {
	Header              Header
	NumberOfBlocks      uint8
	MeasurementRecord    []byte // pre-encoded measurement blocks (opaque to the codec)
	Nonce               [NonceSize]byte
	OpaqueData          []byte
	Signature           []byte
}

func (MeasurementsRsp) Code() RequestResponseCode { return CodeMeasurements }

// writeU24 writes a 3-byte little-endian length, per DSP0274's
// MeasurementRecordLength field width.
func writeU24(w *bytes.Buffer, v uint32) {
	w.WriteByte(byte(v))
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v >> 16))
}

func readU24(r *bytes.Reader) (uint32, error) {
	b, err := readBytes(r, 3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func EncodeMeasurementsRsp(w *bytes.Buffer, m MeasurementsRsp, signatureRequested bool) {
	h := m.Header
	h.Code = CodeMeasurements
	h.Param1 = m.NumberOfBlocks
	h.Param2 = 0
	EncodeHeader(w, h)
	writeU8(w, m.NumberOfBlocks)
	writeU24(w, uint32(len(m.MeasurementRecord)))
	w.Write(m.MeasurementRecord)
	w.Write(m.Nonce[:])
	writeU16(w, uint16(len(m.OpaqueData)))
	w.Write(m.OpaqueData)
	if signatureRequested {
		w.Write(m.Signature)
	}
}

func DecodeMeasurementsRsp(ctx CodecContext, h Header, r *bytes.Reader, signatureRequested bool) (MeasurementsRsp, error) {
	numBlocks, err := readU8(r)
	if err != nil {
		return MeasurementsRsp{}, err
	}
	recLen, err := readU24(r)
	if err != nil {
		return MeasurementsRsp{}, err
	}
	record, err := readBytes(r, int(recLen))
	if err != nil {
		return MeasurementsRsp{}, err
	}
	nonce, err := readBytes(r, NonceSize)
	if err != nil {
		return MeasurementsRsp{}, err
	}
	opaqueLen, err := readU16(r)
	if err != nil {
		return MeasurementsRsp{}, err
	}
	opaque, err := readBytes(r, int(opaqueLen))
	if err != nil {
		return MeasurementsRsp{}, err
	}
	var sig []byte
	if signatureRequested {
		sig, err = readBytes(r, ctx.SigSize)
		if err != nil {
			return MeasurementsRsp{}, err
		}
	}
	m := MeasurementsRsp{Header: h, NumberOfBlocks: numBlocks, MeasurementRecord: record, OpaqueData: opaque, Signature: sig}
	copy(m.Nonce[:], nonce)
	return m, nil
}
