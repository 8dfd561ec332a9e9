package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalwire/docan"
)

func dispatchOnce(t *testing.T, d *Dispatcher, request []byte, source, target uint16) *fakeSender {
	t.Helper()
	msg := newTestRequest(request)
	msg.Source, msg.Target = source, target
	d.MessageProcessed(msg, docan.ProcessingSucceeded)
	return d.sender.(*fakeSender)
}

// TestSessionControlSwitchesToExtendedAndTimesOut covers scenario S6: a
// 0x10 0x03 request switches into extended session, echoing the session
// byte and the P2/P2* timing pair, arms the S3 timeout, and reverts to the
// default session once that timeout expires.
func TestSessionControlSwitchesToExtendedAndTimesOut(t *testing.T) {
	now := uint32(0)
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	job := NewSessionControlService(sm)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)
	d.session = sm

	dispatchOnce(t, d, []byte{0x10, 0x03}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	payload := sender.sent[0].msg.Payload()
	assert.Equal(t, byte(0x50), payload[0])
	assert.Equal(t, byte(SessionExtended), payload[1])
	assert.Equal(t, SessionExtended, sm.ActiveSession())
	assert.True(t, sm.IsSessionTimeoutActive(), "the S3 timeout is armed once the response is sent")

	now = 5000
	sm.CyclicTask()
	assert.Equal(t, SessionDefault, sm.ActiveSession(), "S3 expiry reverts to the default session")
}

func TestSessionControlRejectsUnreachableSession(t *testing.T) {
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return 0 })
	job := NewSessionControlService(sm)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)
	d.session = sm

	// default -> programming directly is not a valid transition.
	dispatchOnce(t, d, []byte{0x10, 0x02}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x10, byte(IsoSubfunctionNotSupportedInActiveSession)}, sender.sent[0].msg.Payload())
	assert.Equal(t, SessionDefault, sm.ActiveSession())
}

// TestMultipleReadDataByIdentifierCombinesAndSkipsUnknownDIDs covers
// scenario S5: a multi-DID request where one DID is unknown must still
// answer positively with the known DIDs, omitting the unknown one.
func TestMultipleReadDataByIdentifierCombinesAndSkipsUnknownDIDs(t *testing.T) {
	data := map[uint16][]byte{
		0xF190: {0x01, 0x02},
		0xF192: {0x03},
	}
	read := func(did uint16) ([]byte, DiagReturnCode) {
		v, ok := data[did]
		if !ok {
			return nil, IsoRequestOutOfRange
		}
		return v, OK
	}
	job := NewMultipleReadDataByIdentifierService(read)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	// F190 (known), F191 (unknown, skipped), F192 (known).
	dispatchOnce(t, d, []byte{0x22, 0xF1, 0x90, 0xF1, 0x91, 0xF1, 0x92}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	payload := sender.sent[0].msg.Payload()
	assert.Equal(t, byte(0x62), payload[0])
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x01, 0x02, 0xF1, 0x92, 0x03}, payload)
}

func TestSingleReadDataByIdentifierUnknownDID(t *testing.T) {
	read := func(did uint16) ([]byte, DiagReturnCode) { return nil, IsoRequestOutOfRange }
	job := NewReadDataByIdentifierService(read)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	dispatchOnce(t, d, []byte{0x22, 0xF1, 0x90}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x22, byte(IsoRequestOutOfRange)}, sender.sent[0].msg.Payload())
}

func TestHardResetRequestsShutdownAfterResponseSent(t *testing.T) {
	lifecycle := &fakeLifecycle{possible: true}
	hardReset := NewHardResetSubfunction(lifecycle)
	ecuReset := NewECUResetService(hardReset)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{ecuReset}, sender)

	dispatchOnce(t, d, []byte{0x11, 0x01}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x51, 0x01}, sender.sent[0].msg.Payload())
	require.Len(t, lifecycle.shutdowns, 1)
	assert.True(t, lifecycle.shutdowns[0])
}

func TestHardResetDeniedWhenModeChangeNotPossible(t *testing.T) {
	lifecycle := &fakeLifecycle{possible: false}
	hardReset := NewHardResetSubfunction(lifecycle)
	ecuReset := NewECUResetService(hardReset)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{ecuReset}, sender)

	dispatchOnce(t, d, []byte{0x11, 0x01}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x11, byte(IsoConditionsNotCorrect)}, sender.sent[0].msg.Payload())
	assert.Empty(t, lifecycle.shutdowns)
}

func TestTesterPresentAnswersZeroSubfunctionOnly(t *testing.T) {
	job := NewTesterPresentService()
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	dispatchOnce(t, d, []byte{0x3E, 0x00}, 0x01, 0xFA)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7E, 0x00}, sender.sent[0].msg.Payload())
}

func TestCommunicationControlEnhancedAddressForm(t *testing.T) {
	var got CommunicationType
	job := NewCommunicationControlService(AllSessions, func(ct CommunicationType) { got = ct })
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	// controlType 0x05 (enable rx+tx with enhanced address info, the
	// ENABLE_RX_AND_TX_WITH_ENHANCED_ADDRESS_INFORMATION control type, not
	// a flag bit on 0x00-0x03), node id 0x10.
	dispatchOnce(t, d, []byte{0x28, 0x05, 0x01, 0x10}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x68, 0x05}, sender.sent[0].msg.Payload())
	assert.True(t, got.Enable)
	assert.True(t, got.Scoped)
	assert.Equal(t, byte(0x10), got.NodeID)
}

func TestCommunicationControlEnhancedAddressFormDisableTx(t *testing.T) {
	var got CommunicationType
	job := NewCommunicationControlService(AllSessions, func(ct CommunicationType) { got = ct })
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	// controlType 0x04, ENABLE_RX_AND_DISABLE_TX_WITH_ENHANCED_ADDRESS_INFORMATION.
	dispatchOnce(t, d, []byte{0x28, 0x04, 0x01, 0x20}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x68, 0x04}, sender.sent[0].msg.Payload())
	assert.False(t, got.Enable)
	assert.True(t, got.Scoped)
	assert.Equal(t, byte(0x20), got.NodeID)
}

func TestControlDTCSettingRejectsUnknownType(t *testing.T) {
	job := NewControlDTCSettingService()
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)
	require.Equal(t, OK, d.session.RequestTransition(SessionExtended))

	dispatchOnce(t, d, []byte{0x85, 0x05}, 0x01, 0xFA)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x85, byte(IsoSubfunctionNotSupported)}, sender.sent[0].msg.Payload())
}

func TestRoutineControlDelegatesToHandler(t *testing.T) {
	handler := func(subfunction byte, routineID uint16, params []byte) ([]byte, DiagReturnCode) {
		assert.Equal(t, SubfunctionStartRoutine, subfunction)
		assert.Equal(t, uint16(0x0203), routineID)
		return []byte{0x00}, OK
	}
	job := NewRoutineControlService(handler)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	dispatchOnce(t, d, []byte{0x31, 0x01, 0x02, 0x03}, 0x01, 0xFA)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x71, 0x01, 0x02, 0x03, 0x00}, sender.sent[0].msg.Payload())
}

func TestSecurityAccessAlwaysDenied(t *testing.T) {
	job := NewSecurityAccessService(AllSessions)
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{job}, sender)

	dispatchOnce(t, d, []byte{0x27, 0x01}, 0x01, 0xFA)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x27, byte(IsoSecurityAccessDenied)}, sender.sent[0].msg.Payload())
}
