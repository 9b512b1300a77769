package spdm

// Connection State Machine (C5): a pure transition function separate
// from the Context/Requester/Responder methods that perform the actual
// codec/transcript/crypto work and then drive the table.

// ConnState is the connection's negotiation/authentication phase.
type ConnState uint8

const (
	ConnIdle ConnState = iota
	ConnAfterVersion
	ConnAfterCapabilities
	ConnAfterNegotiateAlgorithms
	ConnAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "Idle"
	case ConnAfterVersion:
		return "AfterVersion"
	case ConnAfterCapabilities:
		return "AfterCapabilities"
	case ConnAfterNegotiateAlgorithms:
		return "AfterNegotiateAlgorithms"
	case ConnAuthenticated:
		return "Authenticated"
	default:
		return "Unknown"
	}
}

// ConnEvent is a successfully completed request/response exchange (spec
// §4.5's table rows). Failed exchanges never reach the FSM: the driver
// surfaces the error directly and leaves the state unchanged.
type ConnEvent uint8

const (
	ConnEventVersionExchanged ConnEvent = iota
	ConnEventCapabilitiesExchanged
	ConnEventAlgorithmsNegotiated
	ConnEventDigestsExchanged
	ConnEventCertificateExchanged
	ConnEventChallengeCompleted
	ConnEventMeasurementsExchanged
	ConnEventRequestResynch
)

type connStateEvent struct {
	state ConnState
	event ConnEvent
}

// connFSMTable is the complete connection FSM transition table (spec
// §4.5). Unlisted pairs are invalid and connectionTransition reports
// ErrorKindInvalidState.
var connFSMTable = map[connStateEvent]ConnState{
	{ConnIdle, ConnEventVersionExchanged}: ConnAfterVersion,

	{ConnAfterVersion, ConnEventCapabilitiesExchanged}: ConnAfterCapabilities,

	{ConnAfterCapabilities, ConnEventAlgorithmsNegotiated}: ConnAfterNegotiateAlgorithms,

	// GET_DIGESTS/DIGESTS and GET_CERTIFICATE/CERTIFICATE do not advance
	// the coarse phase; they are legal (and self-looping) once algorithms
	// are negotiated.
	{ConnAfterNegotiateAlgorithms, ConnEventDigestsExchanged}:     ConnAfterNegotiateAlgorithms,
	{ConnAfterNegotiateAlgorithms, ConnEventCertificateExchanged}: ConnAfterNegotiateAlgorithms,

	// CHALLENGE/CHALLENGE_AUTH is the only transition into Authenticated.
	{ConnAfterNegotiateAlgorithms, ConnEventChallengeCompleted}: ConnAuthenticated,

	// GET_MEASUREMENTS/MEASUREMENTS is legal both pre- and
	// post-authentication and never changes the phase.
	{ConnAfterNegotiateAlgorithms, ConnEventMeasurementsExchanged}: ConnAfterNegotiateAlgorithms,
	{ConnAuthenticated, ConnEventMeasurementsExchanged}:            ConnAuthenticated,
	{ConnAuthenticated, ConnEventDigestsExchanged}:                 ConnAuthenticated,
	{ConnAuthenticated, ConnEventCertificateExchanged}:             ConnAuthenticated,

	// RequestResynch is legal from any state and resets to Idle; listed
	// explicitly per state for auditability rather than special-cased in
	// connectionTransition.
	{ConnIdle, ConnEventRequestResynch}:                     ConnIdle,
	{ConnAfterVersion, ConnEventRequestResynch}:             ConnIdle,
	{ConnAfterCapabilities, ConnEventRequestResynch}:        ConnIdle,
	{ConnAfterNegotiateAlgorithms, ConnEventRequestResynch}: ConnIdle,
	{ConnAuthenticated, ConnEventRequestResynch}:            ConnIdle,
}

// connectionTransition applies event to state and returns the resulting
// state, or ErrorKindInvalidState if the pair has no table entry.
func connectionTransition(state ConnState, event ConnEvent) (ConnState, error) {
	next, ok := connFSMTable[connStateEvent{state, event}]
	if !ok {
		return state, wrapf(ErrorKindInvalidState, "connection fsm: event %d invalid in state %s", event, state)
	}
	return next, nil
}
