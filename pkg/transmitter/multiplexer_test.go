package transmitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalwire/docan"
	"github.com/vitalwire/docan/pkg/codec"
)

type fakeListener struct {
	processed []*docan.TransportMessage
	results   []docan.ProcessingResult
}

func (l *fakeListener) MessageProcessed(msg *docan.TransportMessage, result docan.ProcessingResult) {
	l.processed = append(l.processed, msg)
	l.results = append(l.results, result)
}

type fakeSender struct {
	sent [][]byte
	fail bool
}

func (s *fakeSender) SendFrame(conn docan.Connection, data []byte) error {
	if s.fail {
		return assert.AnError
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func testConnection(cl *codec.Classical) docan.Connection {
	return docan.Connection{
		Codec:     cl,
		DataLink:  docan.NewDataLinkAddressPair(0x7E8, 0x7E0),
		Transport: docan.NewTransportAddressPair(0xFA, 0x01),
	}
}

// TestSingleFrameSend covers scenario S1's transmit side: a short message
// goes out as one frame and is reported succeeded immediately, no
// flow-control round trip involved.
func TestSingleFrameSend(t *testing.T) {
	cl := &codec.Classical{}
	listener := &fakeListener{}
	sender := &fakeSender{}
	now := uint32(0)
	mux := NewMultiplexer(2, sender, Parameters{FlowControlTimeoutUs: 1000}, func() uint32 { return now })

	msg := &docan.TransportMessage{Buffer: []byte{1, 2, 3, 4}, ValidBytes: 4}
	require.NoError(t, mux.Send(testConnection(cl), msg, listener))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, byte(0x04), sender.sent[0][0], "single frame PCI must encode the length in the low nibble")
	require.Len(t, listener.processed, 1)
	assert.Equal(t, docan.ProcessingSucceeded, listener.results[0])
}

// TestSegmentedSendWaitsForFlowControl covers scenario S2's transmit side:
// the first frame goes out, then the transmitter blocks in WaitFC until a
// CTS arrives, after which consecutive frames are sent.
func TestSegmentedSendWaitsForFlowControl(t *testing.T) {
	cl := &codec.Classical{}
	listener := &fakeListener{}
	sender := &fakeSender{}
	now := uint32(0)
	mux := NewMultiplexer(2, sender, Parameters{FlowControlTimeoutUs: 1000}, func() uint32 { return now })

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} // 10 bytes: FF carries 6, one CF carries the rest
	msg := &docan.TransportMessage{Buffer: payload, ValidBytes: len(payload)}
	require.NoError(t, mux.Send(testConnection(cl), msg, listener))

	require.Len(t, sender.sent, 1, "only the first frame goes out before flow control arrives")
	require.Len(t, mux.active, 1)
	assert.Equal(t, StateWaitFC, mux.active[0].State())

	fc := docan.DecodedFrame{Kind: docan.FrameKindFlowControl, FlowStatus: docan.FlowStatusContinueToSend, BlockSize: 0, SeparationTime: 0}
	require.NoError(t, mux.FlowControlFrameReceived(0x7E8, fc))

	require.Len(t, sender.sent, 2, "CTS with unlimited block size must release the queued consecutive frame")
	require.Len(t, listener.processed, 1)
	assert.Equal(t, docan.ProcessingSucceeded, listener.results[0])
	assert.Equal(t, byte(0x21), sender.sent[1][0], "consecutive frame PCI nibble 0x2, sequence number 1")
}

// TestFlowControlOverflowAbortsSend covers the OVFLW edge case: the
// receiver rejecting the transfer must fail it, not hang waiting for more
// flow control.
func TestFlowControlOverflowAbortsSend(t *testing.T) {
	cl := &codec.Classical{}
	listener := &fakeListener{}
	sender := &fakeSender{}
	now := uint32(0)
	mux := NewMultiplexer(2, sender, Parameters{FlowControlTimeoutUs: 1000}, func() uint32 { return now })

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	msg := &docan.TransportMessage{Buffer: payload, ValidBytes: len(payload)}
	require.NoError(t, mux.Send(testConnection(cl), msg, listener))

	fc := docan.DecodedFrame{Kind: docan.FrameKindFlowControl, FlowStatus: docan.FlowStatusOverflow}
	require.NoError(t, mux.FlowControlFrameReceived(0x7E8, fc))

	require.Len(t, listener.processed, 1)
	assert.Equal(t, docan.ProcessingFailed, listener.results[0])
	assert.Empty(t, mux.active, "failed transmitter must be swept")
}

// TestTxOverflowRejectsConcurrentSendOnSameAddress covers spec.md §8's
// transmit-side analogue of the single-active-receiver law: at most one
// in-flight transfer per transmission address.
func TestTxOverflowRejectsConcurrentSendOnSameAddress(t *testing.T) {
	cl := &codec.Classical{}
	listener := &fakeListener{}
	sender := &fakeSender{}
	now := uint32(0)
	mux := NewMultiplexer(2, sender, Parameters{FlowControlTimeoutUs: 1000}, func() uint32 { return now })

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	msg1 := &docan.TransportMessage{Buffer: payload, ValidBytes: len(payload)}
	require.NoError(t, mux.Send(testConnection(cl), msg1, listener))

	msg2 := &docan.TransportMessage{Buffer: payload, ValidBytes: len(payload)}
	err := mux.Send(testConnection(cl), msg2, listener)
	assert.Equal(t, docan.ErrTxOverflow, err)
}
