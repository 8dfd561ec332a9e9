// Package transmitter implements the per-message transmit protocol state
// machine (the "C5" component) and the multiplexer that hosts a fixed-size
// pool of them (the "C7" component) — the send-side mirror of
// pkg/receiver. Grounded on the same original-source family
// (docan/transmitter, referenced but not shipped in full by
// DoCanTransportLayer.h's _transmitter field and send()/cyclicTask()/
// isSendingConsecutiveFrames() calls) and on pkg/receiver's own structure
// for everything the header doesn't spell out directly.
package transmitter

import (
	"github.com/vitalwire/docan"
)

// State is one of the four transmit-protocol states.
type State uint8

const (
	// StateSend: a frame (single, first, or the next consecutive frame) is
	// ready to be submitted to the bus.
	StateSend State = iota
	// StateWaitFC: a first or consecutive frame has been sent and the
	// transmitter is waiting for a flow-control frame from the receiver.
	StateWaitFC
	// StateWaitTx: a CTS block is in progress; the transmitter is pacing
	// consecutive frames at the receiver's requested separation time.
	StateWaitTx
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSend:
		return "Send"
	case StateWaitFC:
		return "WaitFC"
	case StateWaitTx:
		return "WaitTx"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

type TimeoutKind uint8

const (
	TimeoutNone TimeoutKind = iota
	TimeoutFlowControl
	TimeoutSeparation
)

type EventKind uint8

const (
	EventNone EventKind = iota
	EventIllegalState
	EventFlowControlTimeout
	EventOverflow
	EventSendFailed
)

type Event struct {
	Kind         EventKind
	IllegalState State
}

// Result mirrors pkg/receiver.Result: Transition true means the
// multiplexer must recompute the timer and keep pumping.
type Result struct {
	Transition bool
	Event      Event
}

// MessageTransmitter is the per-message transmit protocol state machine.
type MessageTransmitter struct {
	Connection docan.Connection
	Message    *docan.TransportMessage
	Listener   docan.ProcessedListener

	MessageSize              docan.MessageSize
	ConsecutiveFrameDataSize docan.FrameSize

	Timer    uint32
	TimerSet bool

	state                State
	timeoutKind          TimeoutKind
	frameCount           docan.FrameIndex
	nextFrameIndex       docan.FrameIndex // 1-based index of the frame about to be sent
	blockSize            uint8
	remainingBlockFrames uint8
	separationTimeUs     uint32
}

// Init (re)initializes a pool slot for a fresh outbound message.
func (t *MessageTransmitter) Init(
	conn docan.Connection,
	msg *docan.TransportMessage,
	listener docan.ProcessedListener,
	frameCount docan.FrameIndex,
	consecutiveFrameDataSize docan.FrameSize,
) {
	*t = MessageTransmitter{
		Connection:               conn,
		Message:                  msg,
		Listener:                 listener,
		MessageSize:              docan.MessageSize(msg.ValidBytes),
		ConsecutiveFrameDataSize: consecutiveFrameDataSize,
		state:                    StateSend,
		frameCount:               frameCount,
		nextFrameIndex:           1,
	}
}

func (t *MessageTransmitter) State() State                    { return t.state }
func (t *MessageTransmitter) NextFrameIndex() docan.FrameIndex { return t.nextFrameIndex }
func (t *MessageTransmitter) IsSegmented() bool                { return t.frameCount > 1 }

func (t *MessageTransmitter) IsSendingConsecutiveFrames() bool {
	return t.state == StateSend && t.nextFrameIndex > 1
}

// NextPayload returns the bytes of the next frame to submit, given the
// codec's size limits, and whether this is the first frame of a
// segmented transfer.
func (t *MessageTransmitter) NextPayload() (payload []byte, isFirst bool) {
	payloadFull := t.Message.Payload()
	if t.frameCount == 1 {
		return payloadFull, false
	}
	if t.nextFrameIndex == 1 {
		maxFirst := int(t.Connection.Codec.MaxFirstFrameDataSize(t.MessageSize))
		if maxFirst > len(payloadFull) {
			maxFirst = len(payloadFull)
		}
		return payloadFull[:maxFirst], true
	}
	start := int(t.Connection.Codec.MaxFirstFrameDataSize(t.MessageSize)) + int(t.nextFrameIndex-2)*int(t.ConsecutiveFrameDataSize)
	if start > len(payloadFull) {
		start = len(payloadFull)
	}
	end := start + int(t.ConsecutiveFrameDataSize)
	if end > len(payloadFull) {
		end = len(payloadFull)
	}
	return payloadFull[start:end], false
}

// SequenceNumber returns the sequence number the next consecutive frame
// must carry — derived from nextFrameIndex exactly as the receiver derives
// its expected sequence number from frameIndex (low nibble, cycling
// 1..15,0,1,...; the first CF, at nextFrameIndex 2, carries 1).
func (t *MessageTransmitter) SequenceNumber() docan.SequenceNumber {
	return docan.SequenceNumber((t.nextFrameIndex - 1) & 0x0F)
}

// FrameSent reports the outcome of submitting the frame NextPayload
// described.
func (t *MessageTransmitter) FrameSent(success bool) Result {
	if t.state != StateSend {
		return Result{Transition: true, Event: Event{Kind: EventIllegalState, IllegalState: t.state}}
	}
	if !success {
		// A failed send ends the transfer; the multiplexer reports it to the
		// listener as a failed transmission.
		t.state = StateDone
		return Result{Transition: true, Event: Event{Kind: EventSendFailed}}
	}

	if t.frameCount == 1 {
		t.state = StateDone
		return Result{Transition: true}
	}

	if t.nextFrameIndex == 1 {
		t.nextFrameIndex = 2
		t.state = StateWaitFC
		t.timeoutKind = TimeoutFlowControl
		return Result{Transition: true}
	}

	t.nextFrameIndex++
	if t.nextFrameIndex > t.frameCount {
		t.state = StateDone
		return Result{Transition: true}
	}

	if t.blockSize > 0 {
		t.remainingBlockFrames--
		if t.remainingBlockFrames == 0 {
			t.state = StateWaitFC
			t.timeoutKind = TimeoutFlowControl
			return Result{Transition: true}
		}
	}
	t.state = StateWaitTx
	t.timeoutKind = TimeoutSeparation
	return Result{Transition: true}
}

// FlowControlFrameReceived processes an inbound flow-control frame. Only
// acted on while waiting for one; otherwise ignored.
func (t *MessageTransmitter) FlowControlFrameReceived(status docan.FlowStatus, blockSize uint8, separationTimeUs uint32) Result {
	if t.state != StateWaitFC {
		return Result{}
	}
	switch status {
	case docan.FlowStatusContinueToSend:
		t.blockSize = blockSize
		t.remainingBlockFrames = blockSize
		t.separationTimeUs = separationTimeUs
		t.state = StateSend
		return Result{Transition: true}
	case docan.FlowStatusWait:
		// Remain WaitFC; caller rearms the timeout.
		return Result{Transition: true}
	case docan.FlowStatusOverflow:
		t.state = StateDone
		return Result{Transition: true, Event: Event{Kind: EventOverflow}}
	default:
		return Result{}
	}
}

// Tick is driven by the multiplexer's separation-time pacer; it only acts
// while waiting out STmin between consecutive frames.
func (t *MessageTransmitter) Tick() Result {
	if t.state != StateWaitTx {
		return Result{}
	}
	t.state = StateSend
	return Result{Transition: true}
}

// Expired is driven by the cyclic task when this transmitter's flow-control
// wait has timed out.
func (t *MessageTransmitter) Expired() Result {
	if t.state == StateWaitFC && t.timeoutKind == TimeoutFlowControl {
		t.state = StateDone
		return Result{Transition: true, Event: Event{Kind: EventFlowControlTimeout}}
	}
	return Result{}
}

// Shutdown cancels the transmitter immediately — unlike the receiver,
// there is no in-flight "processing" call whose completion must be
// allowed to run first.
func (t *MessageTransmitter) Shutdown() Result {
	return t.Cancel(Event{})
}

func (t *MessageTransmitter) Cancel(event Event) Result {
	t.state = StateDone
	return Result{Transition: true, Event: event}
}
