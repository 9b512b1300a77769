package spdm

// Transcript Manager (C2). Accumulates the running protocol bytes both
// peers must hash identically, across six logical buffers, and produces
// the TH1/TH2 digests the key schedule and signatures consume.
//
// Two backing strategies are supported: buffered (raw bytes, re-hashed
// on every snapshot) and streaming (one running hash per buffer, forked
// via Clone). Appends
// always go through CombinedAppend, which in streaming mode also feeds
// the same bytes into every later buffer's running hash (BufferA..
// BufferF order) so that a buffer's clone already reflects every earlier
// buffer's bytes in the combination a TH digest needs.

// BufferID names one of the six transcript accumulators.
type BufferID int

const (
	BufferA BufferID = iota // message_a: VCA exchange
	BufferB                 // message_b: DIGESTS/CERTIFICATE exchange
	BufferC                 // message_c: CHALLENGE/CHALLENGE_AUTH
	BufferM                 // message_m: GET_MEASUREMENTS/MEASUREMENTS
	BufferK                 // message_k: KEY_EXCHANGE/KEY_EXCHANGE_RSP
	BufferF                 // message_f: FINISH/FINISH_RSP
	numBuffers
)

// maxBufferCapacity bounds each buffer's storage. A malformed or hostile
// peer cannot grow a buffer without bound; overflow is fatal to the
// connection.
const maxBufferCapacity = 64 * 1024

// TranscriptMode selects the Transcript's backing strategy.
type TranscriptMode int

const (
	// TranscriptBuffered stores raw bytes and re-hashes the requested
	// buffers' concatenation on every SnapshotHash call.
	TranscriptBuffered TranscriptMode = iota
	// TranscriptStreaming keeps one running hash context per buffer and
	// forks it (Clone-then-Sum) for SnapshotHash.
	TranscriptStreaming
)

type bufferedBuffer struct {
	data []byte
}

func (b *bufferedBuffer) append(p []byte) error {
	if len(b.data)+len(p) > maxBufferCapacity {
		return wrapErr(ErrorKindTranscriptOverflow, ErrTranscriptFull)
	}
	b.data = append(b.data, p...)
	return nil
}

func (b *bufferedBuffer) reset() {
	b.data = b.data[:0]
}

type streamingBuffer struct {
	hash         HashState
	bytesWritten int
}

func (b *streamingBuffer) append(p []byte) error {
	if b.bytesWritten+len(p) > maxBufferCapacity {
		return wrapErr(ErrorKindTranscriptOverflow, ErrTranscriptFull)
	}
	if _, err := b.hash.Write(p); err != nil {
		return wrapf(ErrorKindFault, "transcript: streaming buffer write: %w", err)
	}
	b.bytesWritten += len(p)
	return nil
}

// Transcript holds the six protocol message buffers for one connection.
type Transcript struct {
	mode     TranscriptMode
	hashAlgo BaseHashAlgo
	hash     HashProvider
	buffered [numBuffers]*bufferedBuffer
	streamed [numBuffers]*streamingBuffer
}

// NewTranscript constructs a Transcript using the requested strategy.
// hashAlgo must already be the negotiated algorithm; it is fixed for the
// lifetime of the Transcript (re-negotiation requires a fresh Context).
func NewTranscript(mode TranscriptMode, hashAlgo BaseHashAlgo, hash HashProvider) (*Transcript, error) {
	t := &Transcript{mode: mode, hashAlgo: hashAlgo, hash: hash}
	switch mode {
	case TranscriptBuffered:
		for i := range t.buffered {
			t.buffered[i] = &bufferedBuffer{}
		}
	case TranscriptStreaming:
		for i := range t.streamed {
			hs, err := hash.New(hashAlgo)
			if err != nil {
				return nil, wrapf(ErrorKindFault, "transcript: init streaming hash: %w", err)
			}
			t.streamed[i] = &streamingBuffer{hash: hs}
		}
	default:
		return nil, wrapf(ErrorKindFault, "transcript: unknown mode %d", mode)
	}
	return t, nil
}

// CombinedAppend adds b to buffer id. In streaming mode it also feeds b
// into every buffer later than id in BufferA..BufferF order, so a later
// buffer's running hash always reflects every earlier buffer's bytes too.
func (t *Transcript) CombinedAppend(id BufferID, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	switch t.mode {
	case TranscriptBuffered:
		if err := t.buffered[id].append(b); err != nil {
			return err
		}
	case TranscriptStreaming:
		if err := t.streamed[id].append(b); err != nil {
			return err
		}
		for later := id + 1; later < numBuffers; later++ {
			if err := t.streamed[later].append(b); err != nil {
				return err
			}
		}
	default:
		return wrapf(ErrorKindFault, "transcript: unknown mode %d", t.mode)
	}
	return nil
}

// Reset clears the named buffer and every later buffer's accumulated
// view of it, discarding bytes/hash state. The drivers call it on
// message_m before each GET_MEASUREMENTS and on message_k before each
// KEY_EXCHANGE/PSK_EXCHANGE.
func (t *Transcript) Reset(id BufferID) error {
	switch t.mode {
	case TranscriptBuffered:
		t.buffered[id].reset()
		return nil
	case TranscriptStreaming:
		for i := id; i < numBuffers; i++ {
			hs, err := t.hash.New(t.hashAlgo)
			if err != nil {
				return wrapf(ErrorKindFault, "transcript: reset streaming hash: %w", err)
			}
			t.streamed[i] = &streamingBuffer{hash: hs}
		}
		return nil
	default:
		return wrapf(ErrorKindFault, "transcript: unknown mode %d", t.mode)
	}
}

// SnapshotHash returns the digest of the concatenation of the named
// buffers, in the order given. In buffered mode this concatenates the
// raw bytes and hashes once; in streaming mode it clones the running hash
// of the last (highest-index) buffer named, which by construction (see
// CombinedAppend) has already observed every earlier buffer's bytes too.
// SnapshotHash is only ever called with buffers in increasing BufferA..
// BufferF order, matching how the FSMs append them.
func (t *Transcript) SnapshotHash(ids ...BufferID) ([]byte, error) {
	switch t.mode {
	case TranscriptBuffered:
		var all []byte
		for _, id := range ids {
			all = append(all, t.buffered[id].data...)
		}
		return t.hash.HashAll(t.hashAlgo, all)
	case TranscriptStreaming:
		last := ids[len(ids)-1]
		clone := t.streamed[last].hash.Clone()
		return clone.Sum(), nil
	default:
		return nil, wrapf(ErrorKindFault, "transcript: unknown mode %d", t.mode)
	}
}
