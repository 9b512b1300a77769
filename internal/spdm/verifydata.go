package spdm

import "crypto/subtle"

// constantTimeEqual reports whether a and b hold the same bytes, in time
// independent of where they first differ. Used everywhere a received
// verify-data or tag is compared against a locally computed one, so a
// timing side channel can't narrow down the correct value byte by byte.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// verifyHMACData recomputes HMAC(key, transcript) under hashAlgo and
// compares it against received in constant time, failing
// ErrorKindInvalidMAC/ErrVerifyDataMismatch on any mismatch.
func verifyHMACData(hmacProvider HMACProvider, hashAlgo BaseHashAlgo, key, transcript, received []byte) error {
	expected, err := hmacProvider.HMAC(hashAlgo, key, transcript)
	if err != nil {
		return err
	}
	if !constantTimeEqual(expected, received) {
		return wrapErr(ErrorKindInvalidMAC, ErrVerifyDataMismatch)
	}
	return nil
}
