package config

import (
	"fmt"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// ResolveVersions converts the configured version strings into spdm.Version
// values, most preferred first.
func ResolveVersions(versions []string) ([]spdm.Version, error) {
	out := make([]spdm.Version, 0, len(versions))
	for _, v := range versions {
		major, minor, err := parseVersion(v)
		if err != nil {
			return nil, err
		}
		out = append(out, spdm.Version(major<<4|minor))
	}
	return out, nil
}

// ResolveCapabilities ORs together the spdm.CapabilityFlags named in names.
func ResolveCapabilities(names []string) (spdm.CapabilityFlags, error) {
	var flags spdm.CapabilityFlags
	for _, n := range names {
		f, ok := capabilityFlagByName[n]
		if !ok {
			return 0, fmt.Errorf("%q: %w", n, ErrUnknownCapability)
		}
		flags |= f
	}
	return flags, nil
}

var capabilityFlagByName = map[string]spdm.CapabilityFlags{
	"cert":                   spdm.CapCert,
	"chal":                   spdm.CapChal,
	"meas":                   spdm.CapMeas,
	"meas_fresh":             spdm.CapMeasFresh,
	"encrypt":                spdm.CapEncrypt,
	"mac":                    spdm.CapMAC,
	"mut_auth":               spdm.CapMutAuth,
	"key_ex":                 spdm.CapKeyEx,
	"psk":                    spdm.CapPSK,
	"encap":                  spdm.CapEncap,
	"hbeat":                  spdm.CapHBeat,
	"key_upd":                spdm.CapKeyUpd,
	"handshake_in_the_clear": spdm.CapHandshakeInTheClear,
	"pub_key_id_exch":        spdm.CapPubKeyIDExch,
}

var baseHashByName = map[string]spdm.BaseHashAlgo{
	"sha256": spdm.BaseHashSHA256,
	"sha384": spdm.BaseHashSHA384,
	"sha512": spdm.BaseHashSHA512,
}

var baseAsymByName = map[string]spdm.BaseAsymAlgo{
	"rsassa_2048": spdm.BaseAsymRSASSA2048,
	"rsapss_2048": spdm.BaseAsymRSAPSS2048,
	"rsassa_3072": spdm.BaseAsymRSASSA3072,
	"rsapss_3072": spdm.BaseAsymRSAPSS3072,
	"ecdsa_p256":  spdm.BaseAsymECDSAP256,
	"rsassa_4096": spdm.BaseAsymRSASSA4096,
	"rsapss_4096": spdm.BaseAsymRSAPSS4096,
	"ecdsa_p384":  spdm.BaseAsymECDSAP384,
	"ecdsa_p521":  spdm.BaseAsymECDSAP521,
}

var dheGroupByName = map[string]spdm.DHEGroup{
	"ffdhe2048": spdm.DHEFFDHE2048,
	"ffdhe3072": spdm.DHEFFDHE3072,
	"ffdhe4096": spdm.DHEFFDHE4096,
	"secp256r1": spdm.DHESECP256R1,
	"secp384r1": spdm.DHESECP384R1,
	"secp521r1": spdm.DHESECP521R1,
}

var aeadAlgoByName = map[string]spdm.AEADAlgo{
	"aes_128_gcm":       spdm.AEADAES128GCM,
	"aes_256_gcm":       spdm.AEADAES256GCM,
	"chacha20_poly1305": spdm.AEADChaCha20Poly1305,
}

var measHashByName = map[string]spdm.MeasurementHashAlgo{
	"raw_bit": spdm.MeasurementHashRawBit,
	"sha256":  spdm.MeasurementHashSHA256,
	"sha384":  spdm.MeasurementHashSHA384,
	"sha512":  spdm.MeasurementHashSHA512,
}

// ResolveAlgorithmOffer builds an spdm.AlgorithmOffer by OR-ing together the
// algorithms named in each of the SPDMConfig algorithm lists.
func (c SPDMConfig) ResolveAlgorithmOffer() (spdm.AlgorithmOffer, error) {
	hash, err := orNames(c.BaseHashAlgos, baseHashByName, "base_hash_algos")
	if err != nil {
		return spdm.AlgorithmOffer{}, err
	}
	asym, err := orNames(c.BaseAsymAlgos, baseAsymByName, "base_asym_algos")
	if err != nil {
		return spdm.AlgorithmOffer{}, err
	}
	dhe, err := orNames(c.DHEGroups, dheGroupByName, "dhe_groups")
	if err != nil {
		return spdm.AlgorithmOffer{}, err
	}
	aead, err := orNames(c.AEADAlgos, aeadAlgoByName, "aead_algos")
	if err != nil {
		return spdm.AlgorithmOffer{}, err
	}
	measHash, err := orNames(c.MeasurementHashAlgos, measHashByName, "measurement_hash_algos")
	if err != nil {
		return spdm.AlgorithmOffer{}, err
	}

	return spdm.AlgorithmOffer{
		BaseHash:        spdm.BaseHashAlgo(hash),
		BaseAsym:        spdm.BaseAsymAlgo(asym),
		DHE:             spdm.DHEGroup(dhe),
		AEAD:            spdm.AEADAlgo(aead),
		KeySchedule:     spdm.KeyScheduleSPDM,
		MeasurementHash: spdm.MeasurementHashAlgo(measHash),
		MeasurementSpec: spdm.MeasurementSpecDMTF,
	}, nil
}

// orNames ORs together the bit values of names looked up in table, returning
// a descriptive error naming field on an unrecognized entry.
func orNames[T ~uint32 | ~uint8 | ~uint16](names []string, table map[string]T, field string) (uint64, error) {
	var out uint64
	for _, n := range names {
		v, ok := table[n]
		if !ok {
			return 0, fmt.Errorf("spdm.%s: %q: %w", field, n, ErrUnknownAlgoName)
		}
		out |= uint64(v)
	}
	return out, nil
}

// ResolveTranscriptMode maps the configured transcript_mode string to
// spdm.TranscriptMode.
func ResolveTranscriptMode(mode string) (spdm.TranscriptMode, error) {
	switch mode {
	case "buffered":
		return spdm.TranscriptBuffered, nil
	case "streaming":
		return spdm.TranscriptStreaming, nil
	default:
		return 0, ErrInvalidTranscriptMode
	}
}
