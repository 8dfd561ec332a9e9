package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalwire/docan"
)

type fakeProvider struct{}

func (fakeProvider) ProvideTransportMessage(sizeHint docan.MessageSize) (*docan.TransportMessage, bool) {
	return &docan.TransportMessage{Buffer: make([]byte, sizeHint)}, true
}

func (fakeProvider) ReleaseTransportMessage(msg *docan.TransportMessage) {}

type sentMessage struct {
	pair     docan.TransportAddressPair
	msg      *docan.TransportMessage
	listener docan.ProcessedListener
}

type fakeSender struct {
	sent   []sentMessage
	fail   bool
	deferSend bool // when true, caller must invoke the recorded listener manually
}

func (s *fakeSender) Send(pair docan.TransportAddressPair, msg *docan.TransportMessage, listener docan.ProcessedListener) error {
	if s.fail {
		return assertErr
	}
	s.sent = append(s.sent, sentMessage{pair: pair, msg: msg, listener: listener})
	if !s.deferSend {
		listener.MessageProcessed(msg, docan.ProcessingSucceeded)
	}
	return nil
}

var assertErr = assertError("send failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func newTestDispatcher(sender Sender) *Dispatcher {
	now := uint32(0)
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	return NewDispatcher(nil, sm, sender, fakeProvider{}, 64, PendingParameters{
		InitialPendingTimeoutMs: 50,
		DefaultPendingTimeoutMs: 100,
		GlobalPendingTimeoutMs:  1000,
	}, func() uint32 { return now })
}

func newTestRequest(payload []byte) *docan.TransportMessage {
	return &docan.TransportMessage{Buffer: append([]byte(nil), payload...), ValidBytes: len(payload)}
}

func TestConnectionSendPositiveResponseTerminatesOnImmediateSend(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender)
	pair := docan.NewTransportAddressPair(0x01, 0xFA)
	conn := newConnection(d, SessionDefault, pair, newTestRequest([]byte{0x22, 0xF1, 0x90}))
	conn.open()

	job := NewService("svc", 0x22, AllSessions)
	conn.AppendResponse(0xF1, 0x90, 0x01)
	code := conn.SendPositiveResponse(job)

	assert.Equal(t, OK, code)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x01}, sender.sent[0].msg.Payload())
	assert.True(t, conn.terminated)
}

func TestConnectionSuppressedPositiveResponseSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender)
	pair := docan.NewTransportAddressPair(0x01, 0xFA)
	conn := newConnection(d, SessionDefault, pair, newTestRequest([]byte{0x3E, 0x80}))
	conn.open()

	job := NewTesterPresentService()
	conn.SuppressPositiveResponse()
	code := conn.SendPositiveResponse(job)

	assert.Equal(t, OK, code)
	assert.Empty(t, sender.sent)
	assert.True(t, conn.terminated)
}

func TestConnectionSendNegativeResponse(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender)
	pair := docan.NewTransportAddressPair(0x01, 0xFA)
	conn := newConnection(d, SessionDefault, pair, newTestRequest([]byte{0x22, 0xF1, 0x90}))
	conn.open()

	code := conn.SendNegativeResponse(0x22, IsoRequestOutOfRange, nil)
	assert.Equal(t, IsoRequestOutOfRange, code)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x22, byte(IsoRequestOutOfRange)}, sender.sent[0].msg.Payload())
	assert.True(t, conn.terminated)
}

func TestConnectionGlobalTimeoutForcesTermination(t *testing.T) {
	now := uint32(0)
	sender := &fakeSender{deferSend: true}
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	d := NewDispatcher(nil, sm, sender, fakeProvider{}, 64, PendingParameters{
		InitialPendingTimeoutMs: 50,
		DefaultPendingTimeoutMs: 100,
		GlobalPendingTimeoutMs:  200,
	}, func() uint32 { return now })

	pair := docan.NewTransportAddressPair(0x01, 0xFA)
	conn := newConnection(d, SessionDefault, pair, newTestRequest([]byte{0x22, 0xF1, 0x90}))
	conn.open()

	now = 300
	conn.tick(now, 0x22)
	assert.True(t, conn.terminated)
}

func TestConnectionPendingTimeoutSendsKeepAlive(t *testing.T) {
	now := uint32(0)
	sender := &fakeSender{deferSend: true}
	sm := NewSessionManager(5000, nil, nil, func() uint32 { return now })
	d := NewDispatcher(nil, sm, sender, fakeProvider{}, 64, PendingParameters{
		InitialPendingTimeoutMs: 50,
		DefaultPendingTimeoutMs: 100,
		GlobalPendingTimeoutMs:  5000,
	}, func() uint32 { return now })

	pair := docan.NewTransportAddressPair(0x01, 0xFA)
	conn := newConnection(d, SessionDefault, pair, newTestRequest([]byte{0x22, 0xF1, 0x90}))
	conn.open()

	now = 60
	conn.tick(now, 0x22)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x7F, 0x22, byte(IsoResponsePending)}, sender.sent[0].msg.Payload())
	assert.False(t, conn.terminated)
}
