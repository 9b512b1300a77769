package spdm

// Session State Machine (C6), the same pure-transition-table shape as
// the connection FSM.

// SessionEvent drives a session's lifecycle.
type SessionEvent uint8

const (
	SessionEventExchangeStarted SessionEvent = iota // KEY_EXCHANGE or PSK_EXCHANGE issued/received
	SessionEventHandshakeKeysDerived
	SessionEventFinishCompleted
	SessionEventHeartbeat
	SessionEventKeyUpdateVerified
	SessionEventEndSession
	SessionEventDecryptFailure
	SessionEventVerifyDataMismatch
)

type sessionStateEvent struct {
	state SessionState
	event SessionEvent
}

// sessionFSMTable is the complete session FSM transition table. A
// session destroyed by decrypt failure moves straight to SessionDestroyed
// from Handshaking or Established, and one destroyed by verify-data
// mismatch from Handshaking; the table lists each origin state explicitly
// for auditability.
var sessionFSMTable = map[sessionStateEvent]SessionState{
	{SessionNotStarted, SessionEventExchangeStarted}: SessionHandshaking,

	{SessionHandshaking, SessionEventHandshakeKeysDerived}: SessionHandshaking,
	{SessionHandshaking, SessionEventFinishCompleted}:      SessionEstablished,

	{SessionEstablished, SessionEventHeartbeat}:          SessionEstablished,
	{SessionEstablished, SessionEventKeyUpdateVerified}:  SessionEstablished,
	{SessionEstablished, SessionEventEndSession}:         SessionDestroyed,

	{SessionHandshaking, SessionEventDecryptFailure}:     SessionDestroyed,
	{SessionEstablished, SessionEventDecryptFailure}:     SessionDestroyed,
	{SessionHandshaking, SessionEventVerifyDataMismatch}: SessionDestroyed,
}

// sessionTransition applies event to state, or reports
// ErrorKindInvalidState if the pair has no table entry (e.g. HEARTBEAT
// before Established).
func sessionTransition(state SessionState, event SessionEvent) (SessionState, error) {
	next, ok := sessionFSMTable[sessionStateEvent{state, event}]
	if !ok {
		return state, wrapf(ErrorKindInvalidState, "session fsm: event %d invalid in state %s", event, state)
	}
	return next, nil
}
