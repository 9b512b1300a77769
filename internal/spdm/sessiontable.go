package spdm

// SessionTable is a fixed-capacity arena of sessions, searched linearly
// by session_id: slots are pre-allocated once and reused in place rather
// than individually freed to the GC, with session-id allocation done by
// random, unique, nonzero ID generation with a bounded retry loop.

// MaxSessions bounds how many concurrent sessions one Context tracks.
// DSP0274 does not mandate a specific bound; this is a generous
// production-sized ceiling.
const MaxSessions = 4

// maxIDAllocAttempts caps the random session_id generation retry loop.
const maxIDAllocAttempts = 100

// SessionTable owns MaxSessions pre-allocated Session slots.
type SessionTable struct {
	slots [MaxSessions]Session
	used  [MaxSessions]bool
	rand  RandProvider
}

// NewSessionTable constructs an empty table backed by rnd for session_id
// generation.
func NewSessionTable(rnd RandProvider) *SessionTable {
	return &SessionTable{rand: rnd}
}

// Allocate reserves a free slot for a new session, picks a fresh
// session_id, and returns a pointer into the arena. isRequester controls
// which half of the 32-bit id this side contributes: the Responder picks
// the low 16 bits, the Requester picks the high 16 bits on version >= 1.1.
func (t *SessionTable) Allocate(isRequester bool, version Version, usePSK bool, algos NegotiatedAlgos, aead AEADProvider) (*Session, error) {
	if !version.AtLeast(Version11) {
		return nil, wrapErr(ErrorKindUnsupportedVersion, ErrUnsupportedVersion)
	}

	slotIdx := -1
	for i, inUse := range t.used {
		if !inUse {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		return nil, wrapErr(ErrorKindSessionLimit, ErrTableFull)
	}

	id, err := t.allocateID(isRequester)
	if err != nil {
		return nil, err
	}

	slot := &t.slots[slotIdx]
	*slot = Session{}
	slot.setup(id, algos, usePSK, aead)
	t.used[slotIdx] = true

	return slot, nil
}

// allocateID generates a session_id whose half this side owns, retrying
// on collision with any currently-allocated id.
func (t *SessionTable) allocateID(isRequester bool) (uint32, error) {
	var buf [2]byte
	for range maxIDAllocAttempts {
		if _, err := t.rand.Read(buf[:]); err != nil {
			return 0, wrapf(ErrorKindFault, "sessiontable: generate session_id half: %w", err)
		}
		half := uint32(buf[0])<<8 | uint32(buf[1])
		if half == 0 {
			continue
		}

		var candidate uint32
		if isRequester {
			candidate = half<<16 | 0 // responder half filled in once known
		} else {
			candidate = half // low 16 bits
		}

		if !t.idInUse(candidate, isRequester) {
			return candidate, nil
		}
	}
	return 0, wrapErr(ErrorKindSessionLimit, ErrTableFull)
}

// idInUse reports whether candidate's half already collides with a live
// session's corresponding half.
func (t *SessionTable) idInUse(candidate uint32, isRequester bool) bool {
	var mask uint32
	if isRequester {
		mask = 0xFFFF0000
	} else {
		mask = 0x0000FFFF
	}
	for i, inUse := range t.used {
		if !inUse {
			continue
		}
		if t.slots[i].sessionID&mask == candidate&mask {
			return true
		}
	}
	return false
}

// CompleteID merges the peer-contributed half into a session's id once
// it is learned from the wire (e.g. the Responder learns the
// Requester-chosen high 16 bits from the KEY_EXCHANGE request, or vice
// versa for PSK_EXCHANGE responses that echo a full id).
func (t *SessionTable) CompleteID(s *Session, peerHalf uint32, peerIsHigh bool) {
	if peerIsHigh {
		s.sessionID = (peerHalf & 0xFFFF0000) | (s.sessionID & 0x0000FFFF)
	} else {
		s.sessionID = (s.sessionID & 0xFFFF0000) | (peerHalf & 0x0000FFFF)
	}
}

// Lookup finds the live session with the given id, or ErrorKindSessionNotFound.
func (t *SessionTable) Lookup(id uint32) (*Session, error) {
	for i, inUse := range t.used {
		if inUse && t.slots[i].sessionID == id {
			return &t.slots[i], nil
		}
	}
	return nil, wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
}

// Remove destroys and releases the slot holding id. A second Remove for
// the same id (session already gone) reports ErrorKindSessionNotFound.
func (t *SessionTable) Remove(id uint32) error {
	for i, inUse := range t.used {
		if inUse && t.slots[i].sessionID == id {
			t.slots[i].Destroy()
			t.used[i] = false
			return nil
		}
	}
	return wrapErr(ErrorKindSessionNotFound, ErrNoSuchSession)
}

// Count returns the number of live sessions.
func (t *SessionTable) Count() int {
	n := 0
	for _, inUse := range t.used {
		if inUse {
			n++
		}
	}
	return n
}
