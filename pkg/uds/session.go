package uds

import (
	log "github.com/sirupsen/logrus"
)

// Session is the active UDS diagnostic session (spec.md §3.8), carrying the
// ISO 14229 session byte returned in DiagnosticSessionControl's positive
// response.
type Session uint8

const (
	SessionDefault     Session = 0x01
	SessionProgramming Session = 0x02
	SessionExtended    Session = 0x03
)

func (s Session) String() string {
	switch s {
	case SessionDefault:
		return "default"
	case SessionProgramming:
		return "programming"
	case SessionExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// SessionMask is a bitmask of [Session] values, gating which sessions a
// [Job] is reachable in (spec.md §3.9's DiagSessionMask).
type SessionMask uint8

func maskBit(s Session) SessionMask { return 1 << (s - 1) }

// AllSessions matches every session DiagnosticSessionControl can switch
// into — the mask most services in §4.6's service list are registered
// with.
const AllSessions SessionMask = SessionMask(maskBit(SessionDefault) | maskBit(SessionProgramming) | maskBit(SessionExtended))

// NewSessionMask builds a mask matching exactly the given sessions.
func NewSessionMask(sessions ...Session) SessionMask {
	var m SessionMask
	for _, s := range sessions {
		m |= maskBit(s)
	}
	return m
}

// Match reports whether s is one of the sessions this mask allows,
// mirroring DiagSessionMask::match in the original source.
func (m SessionMask) Match(s Session) bool {
	return m&maskBit(s) != 0
}

// transition is one row of the session state machine each original
// DiagSession subclass (ApplicationDefaultSession, ApplicationExtendedSession,
// ProgrammingSession) implements as isTransitionPossible/getTransitionResult
// (original_source/.../uds/session/*.cpp). Rendered here as a lookup table
// instead of a class per session — Go has no use for a one-method-override
// subclass per enum value when a map captures the same transition matrix.
type transition struct {
	code   DiagReturnCode
	result Session
}

var transitionTable = map[Session]map[Session]transition{
	SessionDefault: {
		SessionDefault:     {OK, SessionDefault},
		SessionExtended:    {OK, SessionExtended},
		SessionProgramming: {IsoSubfunctionNotSupportedInActiveSession, SessionDefault},
	},
	SessionExtended: {
		SessionDefault:     {OK, SessionDefault},
		SessionExtended:    {OK, SessionExtended},
		SessionProgramming: {OK, SessionProgramming},
	},
	SessionProgramming: {
		SessionDefault:     {OK, SessionDefault},
		SessionProgramming: {OK, SessionProgramming},
	},
}

// isTransitionPossible mirrors DiagSession::isTransitionPossible: whether
// switching from current to target is allowed, and to which session that
// switch actually resolves (getTransitionResult is folded into the same
// table since every branch pair in the original maps 1:1).
func isTransitionPossible(current, target Session) (DiagReturnCode, Session) {
	row, ok := transitionTable[current]
	if !ok {
		return IsoSubfunctionNotSupported, current
	}
	t, ok := row[target]
	if !ok {
		return IsoSubfunctionNotSupported, current
	}
	return t.code, t.result
}

// SessionChangedListener is notified whenever the active session changes
// (spec.md §3.8's "optional listener set"), mirroring the teacher's
// callback-map pattern (pkg/nmt.NMT.AddStateChangeCallback) rather than the
// original's intrusive IDiagSessionChangedListener linked list.
type SessionChangedListener func(session Session)

// Persistence is the session-byte persistence callback pair spec.md §6.4
// describes: consulted only to restore the session across a hard reset
// into programming session, nothing else.
type Persistence interface {
	ReadSession() (Session, bool)
	WriteSession(Session)
}

// noPersistence is the default Persistence: nothing survives a reset.
type noPersistence struct{}

func (noPersistence) ReadSession() (Session, bool) { return SessionDefault, false }
func (noPersistence) WriteSession(Session)         {}

// LifecycleConnector is consulted by the ECUReset/DiagnosticSessionControl
// jobs to actually change the reset/power state of the device — the
// IUdsLifecycleConnector collaborator in
// original_source/.../uds/services/ecureset/*.cpp. It is an external
// collaborator per spec.md §1 (no HAL/watchdog logic lives in this module).
type LifecycleConnector interface {
	// ModeChangePossible reports whether a reset/power-down may proceed now.
	ModeChangePossible() bool
	// RequestShutdown asks the platform to perform the given reset kind.
	// hard distinguishes a full reset from a soft (application-only) one.
	RequestShutdown(hard bool)
}

// SessionManager is the "C9" session half of the UDS core (spec.md §3.8,
// §4.6): it holds the process-wide current session, gates transitions
// through isTransitionPossible, pumps the S3 (tester-present) timeout, and
// implements the acceptedJob/responseSent hooks the job tree's root
// dispatcher calls around every request.
type SessionManager struct {
	current Session

	s3TimeoutMs uint32
	s3Armed     bool
	s3Deadline  uint32
	now         func() uint32

	persistence       Persistence
	lifecycle         LifecycleConnector
	listeners         map[uint64]SessionChangedListener
	listenerNextID    uint64
	testerPresentSeen bool

	// restoreAfterReset is set by RequestTransition on a switch into the
	// programming session; PersistAndRestoreSession writes the persisted
	// byte only once responseSent actually fires (spec.md's SUPPLEMENTED FEATURES:
	// responseSent post-hooks drive session persistence, mirroring
	// DiagnosticSessionControl::responseSent in the original).
	restoreAfterReset bool
}

// NewSessionManager builds a manager starting in the default session. now
// supplies the current time in milliseconds, consistent with the rest of
// this package's timers.
func NewSessionManager(s3TimeoutMs uint32, persistence Persistence, lifecycle LifecycleConnector, now func() uint32) *SessionManager {
	if persistence == nil {
		persistence = noPersistence{}
	}
	sm := &SessionManager{
		current:     SessionDefault,
		s3TimeoutMs: s3TimeoutMs,
		persistence: persistence,
		lifecycle:   lifecycle,
		listeners:   make(map[uint64]SessionChangedListener),
		now:         now,
	}
	if session, ok := persistence.ReadSession(); ok {
		sm.current = session
	}
	return sm
}

// ActiveSession returns the current session.
func (sm *SessionManager) ActiveSession() Session { return sm.current }

// AddSessionChangeListener registers a callback invoked on every session
// switch and returns a function that removes it again — the teacher's
// AddStateChangeCallback/cancel-closure pattern (pkg/nmt/nmt.go).
func (sm *SessionManager) AddSessionChangeListener(cb SessionChangedListener) (cancel func()) {
	id := sm.listenerNextID
	sm.listenerNextID++
	sm.listeners[id] = cb
	return func() { delete(sm.listeners, id) }
}

func (sm *SessionManager) notify() {
	for _, cb := range sm.listeners {
		cb(sm.current)
	}
}

// RequestTransition drives a DiagnosticSessionControl request: validates the
// transition, switches the session, and — only for a switch into
// programming session — defers persistence + reset to responseSent (spec.md
// §4.6: "Switching to programming first persists the session byte and
// requests a hard reset").
func (sm *SessionManager) RequestTransition(target Session) DiagReturnCode {
	code, resolved := isTransitionPossible(sm.current, target)
	if code != OK {
		return code
	}
	sm.switchTo(resolved)
	if resolved == SessionProgramming {
		sm.restoreAfterReset = true
	}
	return OK
}

func (sm *SessionManager) switchTo(session Session) {
	if sm.current == session && session != SessionExtended {
		return
	}
	log.Debugf("uds/session: switching from %v to %v", sm.current, session)
	sm.current = session
	sm.notify()
}

// ResetToDefaultSession forces the default session, e.g. after S3 expiry or
// an ECU reset that doesn't persist a session.
func (sm *SessionManager) ResetToDefaultSession() {
	sm.switchTo(SessionDefault)
	sm.restoreAfterReset = false
}

// AcceptedJob implements IDiagSessionManager::acceptedJob_ext (spec.md's
// SUPPLEMENTED FEATURES): stop the S3 timeout for any accepted job, not only
// TesterPresent, and remember whether this job *was* TesterPresent so
// responseSent can suppress the listener notification for it.
func (sm *SessionManager) AcceptedJob(job *Job) DiagReturnCode {
	sm.testerPresentSeen = job.IsTesterPresent
	sm.StopSessionTimeout()
	return OK
}

// ResponseSent implements IDiagSessionManager::responseSent_local: any
// response except "response pending" restarts the S3 timeout; TesterPresent
// responses don't fire the session-changed-style notification a genuine
// service response would (there is none anyway, kept for symmetry with the
// original).
func (sm *SessionManager) ResponseSent(result DiagReturnCode) {
	if result != IsoResponsePending {
		sm.StartSessionTimeout()
	}
	sm.testerPresentSeen = false
}

// StartSessionTimeout (re)arms the S3 timeout — only meaningful outside the
// default session, matching DiagnosticSessionControl::startTimeout.
func (sm *SessionManager) StartSessionTimeout() {
	if sm.current == SessionDefault {
		sm.s3Armed = false
		return
	}
	sm.s3Deadline = sm.now() + sm.s3TimeoutMs
	sm.s3Armed = true
}

// StopSessionTimeout disarms the S3 timeout for the duration of an
// in-progress request.
func (sm *SessionManager) StopSessionTimeout() {
	sm.s3Armed = false
}

// IsSessionTimeoutActive reports whether the S3 timeout is currently armed —
// i.e. no diagnosis job is running (spec.md §3.8/IDiagSessionManager).
func (sm *SessionManager) IsSessionTimeoutActive() bool { return sm.s3Armed }

// CyclicTask drives S3 expiry: reverts to the default session once the
// tester has been silent for TesterPresentTimeoutMs while in a non-default
// session (spec.md §4.6).
func (sm *SessionManager) CyclicTask() {
	if !sm.s3Armed {
		return
	}
	if int32(sm.now()-sm.s3Deadline) < 0 {
		return
	}
	log.Warnf("uds/session: S3 timeout expired in session %v, reverting to default", sm.current)
	sm.s3Armed = false
	sm.ResetToDefaultSession()
}

// PersistAndRestoreSession is called once the programming-session switch
// response has actually left the wire (responseSent, not process) — see
// SPEC_FULL.md's SUPPLEMENTED FEATURES. It persists the session byte and
// requests a hard reset through the lifecycle connector.
func (sm *SessionManager) PersistAndRestoreSession() bool {
	if !sm.restoreAfterReset {
		return false
	}
	sm.restoreAfterReset = false
	sm.persistence.WriteSession(SessionProgramming)
	if sm.lifecycle != nil {
		sm.lifecycle.RequestShutdown(true)
	}
	return true
}
