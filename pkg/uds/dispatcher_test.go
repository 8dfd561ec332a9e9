package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalwire/docan"
)

func newTestFullDispatcher(roots []*Job, sender *fakeSender) *Dispatcher {
	now := uint32(0)
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	return NewDispatcher(roots, sm, sender, fakeProvider{}, 64, PendingParameters{
		InitialPendingTimeoutMs: 50,
		DefaultPendingTimeoutMs: 100,
		GlobalPendingTimeoutMs:  1000,
	}, func() uint32 { return now })
}

// TestDispatcherTesterPresentSuppressedFunctional covers scenario S1: a
// functionally addressed TesterPresent with suppressPositiveResponse set
// and no S3 timeout running is consumed with no response and no
// Connection ever created.
func TestDispatcherTesterPresentSuppressedFunctional(t *testing.T) {
	tp := NewTesterPresentService()
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{tp}, sender)
	d.IsFunctionalTarget = func(target uint16) bool { return target == 0x1FFF }

	msg := newTestRequest([]byte{0x3E, 0x80})
	msg.Source = 0x01
	msg.Target = 0x1FFF

	d.MessageProcessed(msg, docan.ProcessingSucceeded)

	assert.Empty(t, sender.sent)
	assert.Empty(t, d.active)
}

// TestDispatcherTesterPresentPhysicalStillAnswers ensures the functional
// shortcut never applies to a physically addressed TesterPresent: it is
// dispatched to the job and answered.
func TestDispatcherTesterPresentPhysicalStillAnswers(t *testing.T) {
	tp := NewTesterPresentService()
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{tp}, sender)
	d.IsFunctionalTarget = func(target uint16) bool { return target == 0x1FFF }

	msg := newTestRequest([]byte{0x3E, 0x00})
	msg.Source = 0x01
	msg.Target = 0xFA

	d.MessageProcessed(msg, docan.ProcessingSucceeded)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7E, 0x00}, sender.sent[0].msg.Payload())
}

func TestDispatcherUnknownServiceAnswersNegative(t *testing.T) {
	svc := NewService("svc", 0x22, AllSessions)
	svc.Process = func(conn *Connection, request []byte) DiagReturnCode { return OK }
	sender := &fakeSender{}
	d := newTestFullDispatcher([]*Job{svc}, sender)

	msg := newTestRequest([]byte{0x10, 0x01})
	msg.Source, msg.Target = 0x01, 0xFA
	d.MessageProcessed(msg, docan.ProcessingSucceeded)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x10, byte(IsoServiceNotSupported)}, sender.sent[0].msg.Payload())
}

func TestDispatcherDropsFailedReassembly(t *testing.T) {
	sender := &fakeSender{}
	d := newTestFullDispatcher(nil, sender)
	msg := newTestRequest([]byte{0x22, 0xF1, 0x90})
	d.MessageProcessed(msg, docan.ProcessingFailed)
	assert.Empty(t, sender.sent)
}

func TestDispatcherCyclicTaskSweepsOnGlobalTimeout(t *testing.T) {
	svc := NewService("svc", 0x22, AllSessions)
	svc.Process = func(conn *Connection, request []byte) DiagReturnCode {
		// Intentionally never calls Send*Response: the connection stays open
		// and pending until the global timeout forces it closed.
		return OK
	}
	now := uint32(0)
	sender := &fakeSender{deferSend: true}
	d := newTestFullDispatcher([]*Job{svc}, sender)
	d.now = func() uint32 { return now }
	d.session = NewSessionManager(5000, nil, nil, func() uint32 { return now })
	d.params.GlobalPendingTimeoutMs = 200

	msg := newTestRequest([]byte{0x22})
	msg.Source, msg.Target = 0x01, 0xFA
	d.MessageProcessed(msg, docan.ProcessingSucceeded)

	require.Len(t, d.active, 1, "connection stays tracked while it awaits a response")

	now = 300
	d.CyclicTask()
	assert.Empty(t, d.active, "global timeout must terminate and sweep the connection")
}
