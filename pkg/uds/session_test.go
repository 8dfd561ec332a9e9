package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	possible   bool
	shutdowns  []bool
}

func (f *fakeLifecycle) ModeChangePossible() bool { return f.possible }
func (f *fakeLifecycle) RequestShutdown(hard bool) { f.shutdowns = append(f.shutdowns, hard) }

type fakePersistence struct {
	session Session
	ok      bool
	written []Session
}

func (p *fakePersistence) ReadSession() (Session, bool) { return p.session, p.ok }
func (p *fakePersistence) WriteSession(s Session)        { p.written = append(p.written, s) }

func TestSessionManagerTransitions(t *testing.T) {
	now := uint32(0)
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	require.Equal(t, SessionDefault, sm.ActiveSession())

	require.Equal(t, OK, sm.RequestTransition(SessionExtended))
	assert.Equal(t, SessionExtended, sm.ActiveSession())

	require.Equal(t, OK, sm.RequestTransition(SessionProgramming))
	assert.Equal(t, SessionProgramming, sm.ActiveSession())

	// Programming can only go back to default or stay.
	assert.Equal(t, IsoSubfunctionNotSupported, sm.RequestTransition(SessionExtended))
	assert.Equal(t, SessionProgramming, sm.ActiveSession())
}

func TestSessionManagerS3TimeoutRevertsToDefault(t *testing.T) {
	now := uint32(0)
	sm := NewSessionManager(1000, nil, nil, func() uint32 { return now })
	require.Equal(t, OK, sm.RequestTransition(SessionExtended))
	sm.ResponseSent(OK)
	require.True(t, sm.IsSessionTimeoutActive())

	now = 500
	sm.CyclicTask()
	assert.Equal(t, SessionExtended, sm.ActiveSession(), "timeout not yet expired")

	now = 1500
	sm.CyclicTask()
	assert.Equal(t, SessionDefault, sm.ActiveSession())
	assert.False(t, sm.IsSessionTimeoutActive())
}

func TestSessionManagerAcceptedJobStopsTimeout(t *testing.T) {
	now := uint32(0)
	sm := NewSessionManager(1000, nil, nil, func() uint32 { return now })
	require.Equal(t, OK, sm.RequestTransition(SessionExtended))
	sm.ResponseSent(OK)
	require.True(t, sm.IsSessionTimeoutActive())

	sm.AcceptedJob(&Job{Name: "anything"})
	assert.False(t, sm.IsSessionTimeoutActive(), "any accepted job stops S3, not only TesterPresent")
}

func TestSessionManagerPersistAndRestoreSessionOnProgrammingSwitch(t *testing.T) {
	persistence := &fakePersistence{}
	lifecycle := &fakeLifecycle{possible: true}
	now := uint32(0)
	sm := NewSessionManager(1000, persistence, lifecycle, func() uint32 { return now })

	require.Equal(t, OK, sm.RequestTransition(SessionExtended))
	require.Equal(t, OK, sm.RequestTransition(SessionProgramming))
	assert.Empty(t, persistence.written, "persistence deferred until responseSent")

	ok := sm.PersistAndRestoreSession()
	assert.True(t, ok)
	require.Len(t, persistence.written, 1)
	assert.Equal(t, SessionProgramming, persistence.written[0])
	require.Len(t, lifecycle.shutdowns, 1)
	assert.True(t, lifecycle.shutdowns[0])

	// Second call is a no-op: the flag was consumed.
	assert.False(t, sm.PersistAndRestoreSession())
}

func TestSessionManagerRestoresPersistedSessionAtStartup(t *testing.T) {
	persistence := &fakePersistence{session: SessionProgramming, ok: true}
	now := uint32(0)
	sm := NewSessionManager(1000, persistence, nil, func() uint32 { return now })
	assert.Equal(t, SessionProgramming, sm.ActiveSession())
}

func TestSessionChangeListenerFires(t *testing.T) {
	now := uint32(0)
	sm := NewSessionManager(1000, nil, nil, func() uint32 { return now })
	var seen []Session
	cancel := sm.AddSessionChangeListener(func(s Session) { seen = append(seen, s) })

	require.Equal(t, OK, sm.RequestTransition(SessionExtended))
	require.Len(t, seen, 1)
	assert.Equal(t, SessionExtended, seen[0])

	cancel()
	require.Equal(t, OK, sm.RequestTransition(SessionDefault))
	assert.Len(t, seen, 1, "listener must not fire after cancel")
}
