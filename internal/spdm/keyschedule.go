package spdm

import (
	"encoding/binary"
	"fmt"
)

// Key Schedule (C3). Every method is a pure function of its arguments —
// no hidden state — so two independent derivations given identical
// inputs always produce byte-identical output.

// HKDF labels, fixed by the DMTF key schedule label table.
const (
	labelDerived     = "derived"
	labelReqHsData   = "req hs data"
	labelRspHsData   = "rsp hs data"
	labelReqAppData  = "req app data"
	labelRspAppData  = "rsp app data"
	labelKey         = "key"
	labelIV          = "iv"
	labelFinished    = "finished"
	labelExpMaster   = "exp master"
	labelTrafficUpd  = "traffic upd"
)

// maxBinConcatSize bounds the HKDF info buffer; buildInfo fails once the
// whole info (2-byte length + 9-byte "spdm M.m " prefix + label + context)
// exceeds this minus 10.
const maxBinConcatSize = 256

// buildInfo constructs the HKDF-Expand "info" parameter:
// uint16_le(outLen) || "spdm M.m " || label || context.
func buildInfo(outLen uint16, version Version, label string, context []byte) ([]byte, error) {
	total := 2 + 9 + len(label) + len(context)
	if total > maxBinConcatSize-10 {
		return nil, wrapErr(ErrorKindFault, ErrBinConcatOverflow)
	}

	buf := make([]byte, 0, total)
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], outLen)
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, fmt.Sprintf("spdm %d.%d ", version.Major(), version.Minor())...)
	buf = append(buf, label...)
	buf = append(buf, context...)
	return buf, nil
}

// KeySchedule derives session secrets from a DHE shared secret (or PSK
// root) per the fixed label table and derivation order below.
type KeySchedule struct {
	Hash HashProvider
	HKDF HKDFProvider
	HMAC HMACProvider
}

// HandshakeSecrets holds the outputs of step 1-2 of the derivation order.
type HandshakeSecrets struct {
	HandshakeSecret    []byte
	ReqHandshakeSecret []byte
	RspHandshakeSecret []byte
}

// DeriveHandshakeSecrets computes handshake_secret = HMAC(salt_0,
// sharedSecret) where salt_0 is hashSize zero bytes, then expands the
// requester/responder handshake secrets over TH1.
func (ks *KeySchedule) DeriveHandshakeSecrets(algo BaseHashAlgo, version Version, sharedSecret, th1 []byte) (HandshakeSecrets, error) {
	size := algo.Size()
	salt0 := make([]byte, size)

	handshakeSecret, err := ks.HMAC.HMAC(algo, salt0, sharedSecret)
	if err != nil {
		return HandshakeSecrets{}, wrapf(ErrorKindFault, "keyschedule: handshake_secret: %w", err)
	}

	reqInfo, err := buildInfo(uint16(size), version, labelReqHsData, th1)
	if err != nil {
		return HandshakeSecrets{}, err
	}
	reqSecret, err := ks.HKDF.Expand(algo, handshakeSecret, reqInfo, size)
	if err != nil {
		return HandshakeSecrets{}, wrapf(ErrorKindFault, "keyschedule: req_handshake_secret: %w", err)
	}

	rspInfo, err := buildInfo(uint16(size), version, labelRspHsData, th1)
	if err != nil {
		return HandshakeSecrets{}, err
	}
	rspSecret, err := ks.HKDF.Expand(algo, handshakeSecret, rspInfo, size)
	if err != nil {
		return HandshakeSecrets{}, wrapf(ErrorKindFault, "keyschedule: rsp_handshake_secret: %w", err)
	}

	return HandshakeSecrets{
		HandshakeSecret:    handshakeSecret,
		ReqHandshakeSecret: reqSecret,
		RspHandshakeSecret: rspSecret,
	}, nil
}

// DeriveMasterSecret computes salt_1 = HKDF-Expand(handshake_secret,
// info(derived, nil), hashSize), then master_secret = HMAC(salt_1,
// hashSize zero bytes).
func (ks *KeySchedule) DeriveMasterSecret(algo BaseHashAlgo, version Version, handshakeSecret []byte) ([]byte, error) {
	size := algo.Size()
	info, err := buildInfo(uint16(size), version, labelDerived, nil)
	if err != nil {
		return nil, err
	}
	salt1, err := ks.HKDF.Expand(algo, handshakeSecret, info, size)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "keyschedule: salt_1: %w", err)
	}
	zeros := make([]byte, size)
	master, err := ks.HMAC.HMAC(algo, salt1, zeros)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "keyschedule: master_secret: %w", err)
	}
	return master, nil
}

// DataSecrets holds the outputs of step 4.
type DataSecrets struct {
	ReqDataSecret []byte
	RspDataSecret []byte
}

// DeriveDataSecrets expands req/rsp application data secrets from
// master_secret over TH2.
func (ks *KeySchedule) DeriveDataSecrets(algo BaseHashAlgo, version Version, masterSecret, th2 []byte) (DataSecrets, error) {
	size := algo.Size()

	reqInfo, err := buildInfo(uint16(size), version, labelReqAppData, th2)
	if err != nil {
		return DataSecrets{}, err
	}
	reqSecret, err := ks.HKDF.Expand(algo, masterSecret, reqInfo, size)
	if err != nil {
		return DataSecrets{}, wrapf(ErrorKindFault, "keyschedule: req_data_secret: %w", err)
	}

	rspInfo, err := buildInfo(uint16(size), version, labelRspAppData, th2)
	if err != nil {
		return DataSecrets{}, err
	}
	rspSecret, err := ks.HKDF.Expand(algo, masterSecret, rspInfo, size)
	if err != nil {
		return DataSecrets{}, wrapf(ErrorKindFault, "keyschedule: rsp_data_secret: %w", err)
	}

	return DataSecrets{ReqDataSecret: reqSecret, RspDataSecret: rspSecret}, nil
}

// RecordKeys holds the AEAD key and IV salt derived from one traffic
// secret.
type RecordKeys struct {
	Key  []byte
	Salt []byte
}

// DeriveRecordKeys expands the AEAD key and IV salt from a traffic
// secret (a handshake or data secret, whichever phase is live).
func (ks *KeySchedule) DeriveRecordKeys(hashAlgo BaseHashAlgo, aeadAlgo AEADAlgo, version Version, trafficSecret []byte) (RecordKeys, error) {
	keySize := aeadAlgo.KeySize()
	ivSize := aeadAlgo.IVSize()

	keyInfo, err := buildInfo(uint16(keySize), version, labelKey, nil)
	if err != nil {
		return RecordKeys{}, err
	}
	key, err := ks.HKDF.Expand(hashAlgo, trafficSecret, keyInfo, keySize)
	if err != nil {
		return RecordKeys{}, wrapf(ErrorKindFault, "keyschedule: record key: %w", err)
	}

	ivInfo, err := buildInfo(uint16(ivSize), version, labelIV, nil)
	if err != nil {
		return RecordKeys{}, err
	}
	salt, err := ks.HKDF.Expand(hashAlgo, trafficSecret, ivInfo, ivSize)
	if err != nil {
		return RecordKeys{}, wrapf(ErrorKindFault, "keyschedule: record iv salt: %w", err)
	}

	return RecordKeys{Key: key, Salt: salt}, nil
}

// DeriveFinishedKey expands the finished-MAC key from a handshake
// secret.
func (ks *KeySchedule) DeriveFinishedKey(algo BaseHashAlgo, version Version, handshakeSecret []byte) ([]byte, error) {
	size := algo.Size()
	info, err := buildInfo(uint16(size), version, labelFinished, nil)
	if err != nil {
		return nil, err
	}
	key, err := ks.HKDF.Expand(algo, handshakeSecret, info, size)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "keyschedule: finished_key: %w", err)
	}
	return key, nil
}

// DeriveExportMaster expands the export master secret from
// master_secret, for diagnostic channel-binding use outside this core.
// Unlike the data secrets (bin_str3/bin_str4), bin_str8 takes no
// transcript-hash context.
func (ks *KeySchedule) DeriveExportMaster(algo BaseHashAlgo, version Version, masterSecret []byte) ([]byte, error) {
	size := algo.Size()
	info, err := buildInfo(uint16(size), version, labelExpMaster, nil)
	if err != nil {
		return nil, err
	}
	export, err := ks.HKDF.Expand(algo, masterSecret, info, size)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "keyschedule: export_master: %w", err)
	}
	return export, nil
}

// DeriveUpdatedTrafficSecret implements bin_str9 ("traffic upd") for
// KEY_UPDATE: the new traffic secret is expanded from the current one,
// with no transcript context (the update is transcript-independent by
// design, so it can happen any number of times in Established state).
func (ks *KeySchedule) DeriveUpdatedTrafficSecret(algo BaseHashAlgo, version Version, currentTrafficSecret []byte) ([]byte, error) {
	size := algo.Size()
	info, err := buildInfo(uint16(size), version, labelTrafficUpd, nil)
	if err != nil {
		return nil, err
	}
	updated, err := ks.HKDF.Expand(algo, currentTrafficSecret, info, size)
	if err != nil {
		return nil, wrapf(ErrorKindFault, "keyschedule: updated traffic secret: %w", err)
	}
	return updated, nil
}
