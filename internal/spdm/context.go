package spdm

// Context is the per-connection aggregate: negotiated algorithms, the
// running transcript, the crypto provider bundle, and the fixed-capacity
// session table. It is owned by exactly one of Requester or Responder;
// neither top-level driver's exported methods are safe for concurrent
// use on the same Context: the core is single-threaded and cooperative
// by design, documented here rather than enforced with a mutex.
type Context struct {
	providers Providers

	connState ConnState
	version   Version

	// localVersions/peerVersions record each side's advertised version
	// set, used to resolve the common version.
	localVersions []Version
	peerVersions  []Version

	localCaps CapabilityFlags
	peerCaps  CapabilityFlags

	// Offered algorithm sets, populated before NEGOTIATE_ALGORITHMS.
	localOffer  AlgorithmOffer
	peerOffer   AlgorithmOffer
	negotiated  NegotiatedAlgos

	transcript *Transcript
	keySched   KeySchedule

	// pendingVCABytes holds raw GET_VERSION/VERSION/GET_CAPABILITIES/
	// CAPABILITIES bytes recorded before the hash algorithm (and hence the
	// Transcript) exists. NegotiateAlgorithms drains it into message_a
	// ahead of its own bytes, so message_a still covers the full VCA
	// exchange (DSP0274 Table 32) despite the Transcript itself only
	// coming alive once an algorithm is selected.
	pendingVCABytes [][]byte

	sessions *SessionTable

	// This side's own chain is not stored here (the secret provider
	// supplies it on demand); peerCertChain is the chain retrieved from
	// the remote side during GET_CERTIFICATE.
	peerCertChain *CertChain
	peerLeafCert  []byte // DER, cached after VerifyChain

	provisionedRoots [][]byte

	transcriptMode TranscriptMode
}

// AlgorithmOffer is one side's advertised support, the bitmask
// "offer" representation of a side's advertised algorithm support.
type AlgorithmOffer struct {
	BaseHash        BaseHashAlgo
	BaseAsym        BaseAsymAlgo
	DHE             DHEGroup
	AEAD            AEADAlgo
	KeySchedule     KeyScheduleAlgo
	MeasurementHash MeasurementHashAlgo
	MeasurementSpec MeasurementSpec
}

// NewContext constructs a Context for a fresh connection. localVersions
// must be non-empty; its order is the order VERSION advertises and does
// not affect version resolution; provisionedRoots are the DER
// root certificates trusted for peer chain verification.
func NewContext(providers Providers, localVersions []Version, localCaps CapabilityFlags,
	localOffer AlgorithmOffer, transcriptMode TranscriptMode, provisionedRoots [][]byte) (*Context, error) {
	if len(localVersions) == 0 {
		return nil, wrapf(ErrorKindFault, "context: localVersions must not be empty")
	}

	ctx := &Context{
		providers:        providers,
		connState:        ConnIdle,
		localVersions:    localVersions,
		localCaps:        localCaps,
		localOffer:       localOffer,
		transcriptMode:   transcriptMode,
		provisionedRoots: provisionedRoots,
		sessions:         NewSessionTable(providers.Rand),
		keySched:         KeySchedule{Hash: providers.Hash, HKDF: providers.HKDF, HMAC: providers.HMAC},
	}
	return ctx, nil
}

// RecordVCABytes appends raw bytes exchanged before algorithm negotiation
// (GET_VERSION/VERSION/GET_CAPABILITIES/CAPABILITIES) to the pending
// message_a queue.
func (c *Context) RecordVCABytes(b []byte) {
	c.pendingVCABytes = append(c.pendingVCABytes, append([]byte(nil), b...))
}

// SetVersion records the resolved common SPDM version and advances the
// connection FSM on a successful VERSION exchange.
func (c *Context) SetVersion(v Version) error {
	next, err := connectionTransition(c.connState, ConnEventVersionExchanged)
	if err != nil {
		return err
	}
	c.version = v
	c.connState = next
	return nil
}

// SetCapabilities records the peer's capability flags and advances the
// connection FSM on a successful CAPABILITIES exchange.
func (c *Context) SetCapabilities(peerCaps CapabilityFlags) error {
	next, err := connectionTransition(c.connState, ConnEventCapabilitiesExchanged)
	if err != nil {
		return err
	}
	c.peerCaps = peerCaps
	c.connState = next
	return nil
}

// codecContext builds the CodecContext for the negotiated algorithm
// selection, used by every codec call once algorithms are fixed.
func (c *Context) codecContext() CodecContext {
	return CodecContext{
		HashSize: c.negotiated.BaseHash.Size(),
		SigSize:  c.negotiated.BaseAsym.SignatureSize(),
		DHESize:  c.negotiated.DHE.PublicKeySize(),
		Version:  c.version,
	}
}

// ResolveCommonVersion picks the greatest version present in both
// localVersions and peerVersions. The intersection must be at least
// 1.0, else ErrorKindUnsupportedVersion.
func ResolveCommonVersion(local, peer []Version) (Version, error) {
	var best Version
	found := false
	for _, lv := range local {
		for _, pv := range peer {
			if lv == pv && (!found || lv > best) {
				best = lv
				found = true
			}
		}
	}
	if !found {
		return 0, wrapErr(ErrorKindUnsupportedVersion, ErrNoCommonVersion)
	}
	return best, nil
}

// intersect returns the bitwise AND of two masks, for any of the
// unsigned algorithm-mask types. Go's lack of integer-generic bitwise ops
// on named types means this is invoked via small typed wrappers below
// rather than directly generic; kept as one helper group to avoid
// repeating the "subset of both offers" rule six times differently.
func intersectHash(a, b BaseHashAlgo) BaseHashAlgo           { return a & b }
func intersectAsym(a, b BaseAsymAlgo) BaseAsymAlgo           { return a & b }
func intersectDHE(a, b DHEGroup) DHEGroup                    { return a & b }
func intersectAEAD(a, b AEADAlgo) AEADAlgo                   { return a & b }
func intersectMeasHash(a, b MeasurementHashAlgo) MeasurementHashAlgo { return a & b }

// highestBit returns the numerically highest single set bit in mask, used
// to pick a deterministic preferred algorithm out of an intersection mask;
// highest value is the tie-break convention this core uses throughout.
func highestBit(mask uint64) uint64 {
	var best uint64
	for b := mask; b != 0; b &= b - 1 {
		bit := b & (^b + 1)
		if bit > best {
			best = bit
		}
	}
	return best
}

// NegotiateAlgorithms computes the single selected value per category
// from the intersection of localOffer and peerOffer, failing
// ErrorKindNegotiationFail if any required category's intersection is
// empty: every negotiated algorithm must appear in both offered sets.
func (c *Context) NegotiateAlgorithms(peerOffer AlgorithmOffer) (NegotiatedAlgos, error) {
	next, err := connectionTransition(c.connState, ConnEventAlgorithmsNegotiated)
	if err != nil {
		return NegotiatedAlgos{}, err
	}

	hashMask := intersectHash(c.localOffer.BaseHash, peerOffer.BaseHash)
	asymMask := intersectAsym(c.localOffer.BaseAsym, peerOffer.BaseAsym)
	dheMask := intersectDHE(c.localOffer.DHE, peerOffer.DHE)
	aeadMask := intersectAEAD(c.localOffer.AEAD, peerOffer.AEAD)

	if hashMask == 0 || asymMask == 0 || dheMask == 0 || aeadMask == 0 {
		return NegotiatedAlgos{}, wrapErr(ErrorKindNegotiationFail, ErrEmptyIntersection)
	}

	measHashMask := intersectMeasHash(c.localOffer.MeasurementHash, peerOffer.MeasurementHash)

	c.peerOffer = peerOffer
	c.negotiated = NegotiatedAlgos{
		Version:         c.version,
		BaseHash:        BaseHashAlgo(highestBit(uint64(hashMask))),
		BaseAsym:        BaseAsymAlgo(highestBit(uint64(asymMask))),
		DHE:             DHEGroup(highestBit(uint64(dheMask))),
		AEAD:            AEADAlgo(highestBit(uint64(aeadMask))),
		KeySchedule:     KeyScheduleSPDM,
		MeasurementHash: MeasurementHashAlgo(highestBit(uint64(measHashMask))),
		MeasurementSpec: MeasurementSpecDMTF,
	}

	transcript, err := NewTranscript(c.transcriptMode, c.negotiated.BaseHash, c.providers.Hash)
	if err != nil {
		return NegotiatedAlgos{}, err
	}
	c.transcript = transcript
	for _, chunk := range c.pendingVCABytes {
		if err := c.transcript.CombinedAppend(BufferA, chunk); err != nil {
			return NegotiatedAlgos{}, err
		}
	}
	c.pendingVCABytes = nil

	c.connState = next
	return c.negotiated, nil
}

// Negotiated returns the frozen algorithm selection. Only meaningful
// once ConnState is at or past ConnAfterNegotiateAlgorithms.
func (c *Context) Negotiated() NegotiatedAlgos { return c.negotiated }

// State returns the connection's current phase.
func (c *Context) State() ConnState { return c.connState }

// Sessions exposes the session table for the two top-level drivers.
func (c *Context) Sessions() *SessionTable { return c.sessions }

// Providers exposes the crypto provider bundle.
func (c *Context) Providers() Providers { return c.providers }

// KeySchedule exposes the stateless key-schedule value.
func (c *Context) KeySchedule() KeySchedule { return c.keySched }

// Transcript exposes the running transcript manager.
func (c *Context) Transcript() *Transcript { return c.transcript }
