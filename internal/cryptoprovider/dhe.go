package cryptoprovider

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spdm-core/spdm-core/internal/spdm"
)

// DHE implements spdm.DHEProvider for both the ephemeral-elliptic-curve
// groups (SECP256R1/384R1/521R1, via stdlib crypto/ecdh, the modern Go API
// for ECDH with no third-party competitor anywhere in the retrieval pack)
// and the finite-field groups (FFDHE2048/3072/4096, via math/big modular
// exponentiation, grounded on other_examples' egorse-ike tkm.go, which
// computes IKE's Diffie-Hellman the same way over *big.Int).
type DHE struct{}

// GenerateKeyPair produces a fresh ephemeral key pair for algo.
func (DHE) GenerateKeyPair(algo spdm.DHEGroup) (spdm.DHEKeyPair, error) {
	switch algo {
	case spdm.DHESECP256R1, spdm.DHESECP384R1, spdm.DHESECP521R1:
		return newECDHKeyPair(algo)
	case spdm.DHEFFDHE2048, spdm.DHEFFDHE3072, spdm.DHEFFDHE4096:
		return newFFDHEKeyPair(algo)
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported DHE group %v", algo)
	}
}

// --- ECDHE ---------------------------------------------------------------

func curveFor(algo spdm.DHEGroup) (ecdh.Curve, error) {
	switch algo {
	case spdm.DHESECP256R1:
		return ecdh.P256(), nil
	case spdm.DHESECP384R1:
		return ecdh.P384(), nil
	case spdm.DHESECP521R1:
		return ecdh.P521(), nil
	default:
		return nil, fmt.Errorf("cryptoprovider: unsupported ECDHE group %v", algo)
	}
}

type ecdhKeyPair struct {
	curve ecdh.Curve
	priv  *ecdh.PrivateKey
}

func newECDHKeyPair(algo spdm.DHEGroup) (*ecdhKeyPair, error) {
	curve, err := curveFor(algo)
	if err != nil {
		return nil, err
	}
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: ecdh keygen: %w", err)
	}
	return &ecdhKeyPair{curve: curve, priv: priv}, nil
}

// Public returns the uncompressed point's X||Y coordinates (stripping the
// leading 0x04 tag crypto/ecdh includes), matching DSP0274's raw
// fixed-width DHE public-value encoding.
func (p *ecdhKeyPair) Public() []byte {
	raw := p.priv.PublicKey().Bytes()
	if len(raw) > 0 && raw[0] == 0x04 {
		return raw[1:]
	}
	return raw
}

// ComputeSharedSecret reconstructs the peer's point from its raw X||Y
// encoding and runs ECDH.
func (p *ecdhKeyPair) ComputeSharedSecret(peerPublic []byte) ([]byte, error) {
	tagged := append([]byte{0x04}, peerPublic...)
	peerKey, err := p.curve.NewPublicKey(tagged)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: invalid peer ECDHE public key: %w", err)
	}
	secret, err := p.priv.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: ecdh: %w", err)
	}
	return secret, nil
}

// --- FFDHE -----------------------------------------------------------------

// ffdheGroup holds a group's modulus (RFC 3526 safe-prime material, used
// here as the FFDHE2048/3072/4096 modulus per this core's reference
// posture) and generator.
type ffdheGroup struct {
	p       *big.Int
	g       *big.Int
	byteLen int
}

var ffdheGroups = map[spdm.DHEGroup]*ffdheGroup{
	spdm.DHEFFDHE2048: {p: mustHexBig(ffdhe2048Hex), g: big.NewInt(2), byteLen: 256},
	spdm.DHEFFDHE3072: {p: mustHexBig(ffdhe3072Hex), g: big.NewInt(2), byteLen: 384},
	spdm.DHEFFDHE4096: {p: mustHexBig(ffdhe4096Hex), g: big.NewInt(2), byteLen: 512},
}

func mustHexBig(hexDigits string) *big.Int {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		panic("cryptoprovider: malformed FFDHE group constant")
	}
	return n
}

type ffdheKeyPair struct {
	group   *ffdheGroup
	private *big.Int
	public  *big.Int
}

func newFFDHEKeyPair(algo spdm.DHEGroup) (*ffdheKeyPair, error) {
	group, ok := ffdheGroups[algo]
	if !ok {
		return nil, fmt.Errorf("cryptoprovider: unsupported FFDHE group %v", algo)
	}
	// Private exponent in [2, p-2]; rand.Int draws from [0, p) so retry on
	// the (astronomically unlikely) degenerate draws.
	var x *big.Int
	for {
		n, err := rand.Int(rand.Reader, group.p)
		if err != nil {
			return nil, fmt.Errorf("cryptoprovider: ffdhe keygen: %w", err)
		}
		if n.Cmp(big.NewInt(1)) > 0 {
			x = n
			break
		}
	}
	pub := new(big.Int).Exp(group.g, x, group.p)
	return &ffdheKeyPair{group: group, private: x, public: pub}, nil
}

// Public returns the fixed-width big-endian public value, zero-padded to
// the group's modulus size per DSP0274's FFDHE encoding.
func (p *ffdheKeyPair) Public() []byte {
	return leftPad(p.public.Bytes(), p.group.byteLen)
}

// ComputeSharedSecret computes peerPublic^private mod p, returned
// zero-padded to the group's modulus size.
func (p *ffdheKeyPair) ComputeSharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != p.group.byteLen {
		return nil, fmt.Errorf("cryptoprovider: FFDHE peer public key size mismatch: got %d want %d", len(peerPublic), p.group.byteLen)
	}
	peer := new(big.Int).SetBytes(peerPublic)
	if peer.Cmp(big.NewInt(1)) <= 0 || peer.Cmp(p.group.p) >= 0 {
		return nil, fmt.Errorf("cryptoprovider: FFDHE peer public key out of range")
	}
	shared := new(big.Int).Exp(peer, p.private, p.group.p)
	return leftPad(shared.Bytes(), p.group.byteLen), nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
