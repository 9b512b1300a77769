package spdm

import "bytes"

// GetVersionReq is GET_VERSION (DSP0274 §10.2). Param1/Param2 reserved.
type GetVersionReq struct {
	Header Header
}

func (GetVersionReq) Code() RequestResponseCode { return CodeGetVersion }

func EncodeGetVersionReq(w *bytes.Buffer, m GetVersionReq) {
	h := m.Header
	h.Code = CodeGetVersion
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
}

func DecodeGetVersionReq(_ CodecContext, h Header, r *bytes.Reader) (GetVersionReq, error) {
	if h.Param1 != 0 || h.Param2 != 0 {
		return GetVersionReq{}, wrapErr(ErrorKindInvalidMsgField, ErrReservedField)
	}
	return GetVersionReq{Header: h}, nil
}

// VersionEntry is one entry in the VERSION response's version list.
type VersionEntry struct {
	Version     Version
	UpdateCode  uint8 // alpha/beta build tag; 0 for released versions
}

// VersionRsp is VERSION (DSP0274 §10.2).
type VersionRsp struct {
	Header   Header
	Versions []VersionEntry
}

func (VersionRsp) Code() RequestResponseCode { return CodeVersion }

func EncodeVersionRsp(w *bytes.Buffer, m VersionRsp) {
	h := m.Header
	h.Code = CodeVersion
	EncodeHeader(w, h)
	writeU8(w, 0) // reserved
	writeU8(w, uint8(len(m.Versions)))
	for _, v := range m.Versions {
		writeU8(w, v.UpdateCode)
		writeU8(w, uint8(v.Version))
	}
}

func DecodeVersionRsp(_ CodecContext, h Header, r *bytes.Reader) (VersionRsp, error) {
	if _, err := readU8(r); err != nil { // reserved
		return VersionRsp{}, err
	}
	count, err := readU8(r)
	if err != nil {
		return VersionRsp{}, err
	}
	entries := make([]VersionEntry, 0, count)
	for i := uint8(0); i < count; i++ {
		update, err := readU8(r)
		if err != nil {
			return VersionRsp{}, err
		}
		ver, err := readU8(r)
		if err != nil {
			return VersionRsp{}, err
		}
		entries = append(entries, VersionEntry{Version: Version(ver), UpdateCode: update})
	}
	return VersionRsp{Header: h, Versions: entries}, nil
}

// GetCapabilitiesReq is GET_CAPABILITIES (DSP0274 §10.3).
type GetCapabilitiesReq struct {
	Header       Header
	CTExponent   uint8
	Flags        CapabilityFlags
}

func (GetCapabilitiesReq) Code() RequestResponseCode { return CodeGetCapabilities }

func EncodeGetCapabilitiesReq(w *bytes.Buffer, m GetCapabilitiesReq) {
	h := m.Header
	h.Code = CodeGetCapabilities
	h.Param1, h.Param2 = 0, 0
	EncodeHeader(w, h)
	writeU8(w, 0) // reserved
	writeU8(w, m.CTExponent)
	writeU16(w, 0) // reserved
	writeU32(w, uint32(m.Flags))
}

func DecodeGetCapabilitiesReq(_ CodecContext, h Header, r *bytes.Reader) (GetCapabilitiesReq, error) {
	if _, err := readU8(r); err != nil {
		return GetCapabilitiesReq{}, err
	}
	ctExp, err := readU8(r)
	if err != nil {
		return GetCapabilitiesReq{}, err
	}
	if _, err := readU16(r); err != nil {
		return GetCapabilitiesReq{}, err
	}
	flags, err := readU32(r)
	if err != nil {
		return GetCapabilitiesReq{}, err
	}
	return GetCapabilitiesReq{Header: h, CTExponent: ctExp, Flags: CapabilityFlags(flags)}, nil
}

// CapabilitiesRsp is CAPABILITIES (DSP0274 §10.3).
type CapabilitiesRsp struct {
	Header     Header
	CTExponent uint8
	Flags      CapabilityFlags
}

func (CapabilitiesRsp) Code() RequestResponseCode { return CodeCapabilities }

func EncodeCapabilitiesRsp(w *bytes.Buffer, m CapabilitiesRsp) {
	h := m.Header
	h.Code = CodeCapabilities
	EncodeHeader(w, h)
	writeU8(w, 0)
	writeU8(w, m.CTExponent)
	writeU16(w, 0)
	writeU32(w, uint32(m.Flags))
}

func DecodeCapabilitiesRsp(_ CodecContext, h Header, r *bytes.Reader) (CapabilitiesRsp, error) {
	if _, err := readU8(r); err != nil {
		return CapabilitiesRsp{}, err
	}
	ctExp, err := readU8(r)
	if err != nil {
		return CapabilitiesRsp{}, err
	}
	if _, err := readU16(r); err != nil {
		return CapabilitiesRsp{}, err
	}
	flags, err := readU32(r)
	if err != nil {
		return CapabilitiesRsp{}, err
	}
	return CapabilitiesRsp{Header: h, CTExponent: ctExp, Flags: CapabilityFlags(flags)}, nil
}

// NegotiateAlgorithmsReq is NEGOTIATE_ALGORITHMS (DSP0274 §10.4),
// trimmed to the algorithm categories this core negotiates.
type NegotiateAlgorithmsReq struct {
	Header          Header
	MeasurementSpec MeasurementSpec
	BaseAsym        BaseAsymAlgo
	BaseHash        BaseHashAlgo
	DHE             DHEGroup
	AEAD            AEADAlgo
	KeySchedule     KeyScheduleAlgo
	MeasurementHash MeasurementHashAlgo
}

func (NegotiateAlgorithmsReq) Code() RequestResponseCode { return CodeNegotiateAlgorithms }

func EncodeNegotiateAlgorithmsReq(w *bytes.Buffer, m NegotiateAlgorithmsReq) {
	h := m.Header
	h.Code = CodeNegotiateAlgorithms
	EncodeHeader(w, h)
	writeU8(w, uint8(m.MeasurementSpec))
	writeU8(w, 0) // reserved
	writeU32(w, uint32(m.BaseAsym))
	writeU32(w, uint32(m.BaseHash))
	writeU16(w, uint16(m.DHE))
	writeU16(w, uint16(m.AEAD))
	writeU16(w, uint16(m.KeySchedule))
	writeU32(w, uint32(m.MeasurementHash))
}

func DecodeNegotiateAlgorithmsReq(_ CodecContext, h Header, r *bytes.Reader) (NegotiateAlgorithmsReq, error) {
	spec, err := readU8(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	if _, err := readU8(r); err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	asym, err := readU32(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	hash, err := readU32(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	dhe, err := readU16(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	aead, err := readU16(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	keysched, err := readU16(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	measHash, err := readU32(r)
	if err != nil {
		return NegotiateAlgorithmsReq{}, err
	}
	return NegotiateAlgorithmsReq{
		Header:          h,
		MeasurementSpec: MeasurementSpec(spec),
		BaseAsym:        BaseAsymAlgo(asym),
		BaseHash:        BaseHashAlgo(hash),
		DHE:             DHEGroup(dhe),
		AEAD:            AEADAlgo(aead),
		KeySchedule:     KeyScheduleAlgo(keysched),
		MeasurementHash: MeasurementHashAlgo(measHash),
	}, nil
}

// AlgorithmsRsp is ALGORITHMS (DSP0274 §10.4): the selected single value
// per category, not a mask.
type AlgorithmsRsp struct {
	Header          Header
	MeasurementSpec MeasurementSpec
	BaseAsym        BaseAsymAlgo
	BaseHash        BaseHashAlgo
	DHE             DHEGroup
	AEAD            AEADAlgo
	KeySchedule     KeyScheduleAlgo
	MeasurementHash MeasurementHashAlgo
}

func (AlgorithmsRsp) Code() RequestResponseCode { return CodeAlgorithms }

func EncodeAlgorithmsRsp(w *bytes.Buffer, m AlgorithmsRsp) {
	h := m.Header
	h.Code = CodeAlgorithms
	EncodeHeader(w, h)
	writeU8(w, uint8(m.MeasurementSpec))
	writeU8(w, 0)
	writeU32(w, uint32(m.BaseAsym))
	writeU32(w, uint32(m.BaseHash))
	writeU16(w, uint16(m.DHE))
	writeU16(w, uint16(m.AEAD))
	writeU16(w, uint16(m.KeySchedule))
	writeU32(w, uint32(m.MeasurementHash))
}

func DecodeAlgorithmsRsp(_ CodecContext, h Header, r *bytes.Reader) (AlgorithmsRsp, error) {
	spec, err := readU8(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	if _, err := readU8(r); err != nil {
		return AlgorithmsRsp{}, err
	}
	asym, err := readU32(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	hash, err := readU32(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	dhe, err := readU16(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	aead, err := readU16(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	keysched, err := readU16(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	measHash, err := readU32(r)
	if err != nil {
		return AlgorithmsRsp{}, err
	}
	return AlgorithmsRsp{
		Header:          h,
		MeasurementSpec: MeasurementSpec(spec),
		BaseAsym:        BaseAsymAlgo(asym),
		BaseHash:        BaseHashAlgo(hash),
		DHE:             DHEGroup(dhe),
		AEAD:            AEADAlgo(aead),
		KeySchedule:     KeyScheduleAlgo(keysched),
		MeasurementHash: MeasurementHashAlgo(measHash),
	}, nil
}
