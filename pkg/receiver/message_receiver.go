// Package receiver implements the per-message receive protocol state
// machine (spec.md §4.2, the "C4" component) and the multiplexer that
// hosts a fixed-size pool of them (§4.4, "C6").
package receiver

import (
	"github.com/vitalwire/docan"
)

// MaxFirstFrameData bounds the first-frame payload a [MessageReceiver] can
// hold in its trailing copy slot. The original source carves this slot out
// of the pool block's flexible tail, sized to the pool's block_size at
// construction; Go values can't vary their own size per-instance, so this
// module fixes the bound at the largest payload either shipped codec's
// first frame can carry (pkg/codec.PaddedFD caps at 61) with headroom.
const MaxFirstFrameData = 64

// State is one of the five receive-protocol states (§4.2).
type State uint8

const (
	StateAllocate State = iota
	StateWait
	StateSend
	StateProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAllocate:
		return "Allocate"
	case StateWait:
		return "Wait"
	case StateSend:
		return "Send"
	case StateProcessing:
		return "Processing"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// TimeoutKind selects which deadline a receiver waiting in [StateWait] is
// armed with.
type TimeoutKind uint8

const (
	TimeoutNone TimeoutKind = iota
	TimeoutRx
	TimeoutAllocate
)

// EventKind classifies the observed event returned alongside a transition.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventIllegalState
	EventAllocationRetryCountExceeded
	EventRxTimeoutExpired
	EventBadSequenceNumber
	EventProcessingFailed
)

// Event is the outbound "message" an event-handler call produces (§4.2).
type Event struct {
	Kind           EventKind
	IllegalState   State
	SequenceNumber docan.SequenceNumber
}

// Result is returned by every event-handler method. Transition true means
// the caller (the multiplexer) must recompute this receiver's timer and
// pump it toward its next stable state.
type Result struct {
	Transition bool
	Event      Event
}

// MessageReceiver is the per-message receive protocol state machine
// (spec.md §3.4). It is allocated from a fixed pool (see the sibling
// Multiplexer) and is never moved once constructed — the multiplexer keeps
// *MessageReceiver pointers in its ordered list.
type MessageReceiver struct {
	Connection docan.Connection
	Message    *docan.TransportMessage

	firstFrameData    [MaxFirstFrameData]byte
	firstFrameDataLen  int

	MessageSize              docan.MessageSize
	ConsecutiveFrameDataSize docan.FrameSize
	MaxBlockSize             uint8
	EncodedMinSeparationTime uint8

	Timer    uint32
	TimerSet bool
	// Blocked marks a single-frame receiver admitted behind another receiver
	// still active on the same reception address (spec.md §3.4): while set,
	// the multiplexer's Allocate state never actually queries the message
	// provider, treating every attempt as a failed allocation until the
	// occupant is released and clears it.
	Blocked bool

	state              State
	frameIndex         docan.FrameIndex
	frameCount         docan.FrameIndex
	blockFrameIndex    uint8
	allocateRetryCount uint8
	allocating         bool
	timeoutKind        TimeoutKind
}

// Init (re)initializes a pool slot into a fresh receiver for a newly
// received first frame. The receiver starts in Allocate, expecting frame
// index 1 (the first frame itself already counts). blocked marks a
// single-frame receiver admitted behind another still-active receiver on
// the same reception address (see the Blocked field).
func (r *MessageReceiver) Init(
	conn docan.Connection,
	messageSize docan.MessageSize,
	frameCount docan.FrameIndex,
	consecutiveFrameDataSize docan.FrameSize,
	maxBlockSize uint8,
	encodedMinSeparationTime uint8,
	firstFrameData []byte,
	blocked bool,
) {
	*r = MessageReceiver{
		Connection:               conn,
		MessageSize:              messageSize,
		ConsecutiveFrameDataSize: consecutiveFrameDataSize,
		MaxBlockSize:             maxBlockSize,
		EncodedMinSeparationTime: encodedMinSeparationTime,
		Blocked:                  blocked,
		state:                    StateAllocate,
		frameIndex:               1,
		frameCount:               frameCount,
		allocating:               true,
		timeoutKind:              TimeoutNone,
	}
	r.firstFrameDataLen = copy(r.firstFrameData[:], firstFrameData)
}

// State returns the current protocol state.
func (r *MessageReceiver) State() State { return r.state }

// FrameIndex returns the number of frames received so far, the first frame
// included (invariant: 1 <= it <= FrameCount, spec.md §8 law 1).
func (r *MessageReceiver) FrameIndex() docan.FrameIndex { return r.frameIndex }

// FrameCount returns the total number of frames this transfer comprises.
func (r *MessageReceiver) FrameCount() docan.FrameIndex { return r.frameCount }

// FirstFrameData returns the copy of the first frame's payload bytes.
func (r *MessageReceiver) FirstFrameData() []byte { return r.firstFrameData[:r.firstFrameDataLen] }

// IsAllocating reports whether the receiver is waiting on a buffer
// allocation attempt.
func (r *MessageReceiver) IsAllocating() bool { return r.allocating }

// IsFlowControlWait reports whether the next flow-control frame this
// receiver emits must carry status WAIT rather than CTS — true exactly
// when an allocation retry is outstanding on a segmented transfer
// (spec.md §4.2: "is_flow_control_wait ⇔ (allocate_retry_count > 0 ∧
// frame_count > 1)").
func (r *MessageReceiver) IsFlowControlWait() bool {
	return r.allocateRetryCount > 0 && r.frameCount > 1
}

// IsConsecutiveFrameExpected reports whether this receiver is currently
// waiting to receive a consecutive frame (spec.md §8 law 2 — at most one
// receiver per reception address may answer true at a time; that
// uniqueness is enforced by the multiplexer, not here).
func (r *MessageReceiver) IsConsecutiveFrameExpected() bool {
	return r.state == StateWait && r.timeoutKind == TimeoutRx
}

// RequiresTransmissionAddress reports whether this receiver needs a valid
// (non-broadcast) transmission address to keep running — true while
// state is Allocate, Wait or Send and the transfer is segmented (spec.md
// §3.4 invariant).
func (r *MessageReceiver) RequiresTransmissionAddress() bool {
	switch r.state {
	case StateAllocate, StateWait, StateSend:
		return r.frameCount > 1
	default:
		return false
	}
}

// Allocated reports the result of an attempt to obtain a transport message
// buffer (spec.md §4.2).
func (r *MessageReceiver) Allocated(msg *docan.TransportMessage, maxRetryCount uint8) Result {
	if !r.allocating {
		return Result{Transition: true, Event: Event{Kind: EventIllegalState, IllegalState: r.state}}
	}
	if msg != nil {
		r.Message = msg
		r.allocating = false
		if r.frameCount == 1 {
			r.state = StateProcessing
		} else {
			r.state = StateSend
		}
		return Result{Transition: true}
	}

	r.allocateRetryCount++
	if r.frameCount == 1 {
		if r.allocateRetryCount > 1 {
			r.state = StateDone
			r.allocating = false
			return Result{Transition: true, Event: Event{Kind: EventAllocationRetryCountExceeded}}
		}
		r.state = StateWait
		r.timeoutKind = TimeoutAllocate
		return Result{Transition: true}
	}

	if r.allocateRetryCount > maxRetryCount {
		r.state = StateDone
		r.allocating = false
		return Result{Transition: true, Event: Event{Kind: EventAllocationRetryCountExceeded}}
	}
	// Segmented transfer, retry budget remains: emit another FC, this time
	// WAIT (IsFlowControlWait is now true since allocateRetryCount > 0).
	r.state = StateSend
	return Result{Transition: true}
}

// FrameSent reports the outcome of submitting the flow-control frame this
// receiver emitted while in Send.
func (r *MessageReceiver) FrameSent(success bool) Result {
	if r.state != StateSend {
		return Result{Transition: true, Event: Event{Kind: EventIllegalState, IllegalState: r.state}}
	}
	if !success {
		// No transition: the multiplexer is expected to retry the send.
		return Result{}
	}
	r.state = StateWait
	if r.IsFlowControlWait() {
		r.timeoutKind = TimeoutAllocate
	} else {
		r.timeoutKind = TimeoutRx
	}
	return Result{Transition: true}
}

// ConsecutiveFrameReceived processes an inbound consecutive frame
// (spec.md §4.2). maxBlockSize is the value currently configured for this
// connection (it may differ from the receiver's own field only in tests
// exercising block-size changes mid-transfer; ordinarily they are equal).
func (r *MessageReceiver) ConsecutiveFrameReceived(seq docan.SequenceNumber, maxBlockSize uint8) Result {
	if r.state != StateWait || r.timeoutKind != TimeoutRx {
		return Result{}
	}

	expected := docan.SequenceNumber(r.frameIndex & 0x0F)
	if expected != seq {
		r.state = StateDone
		return Result{Transition: true, Event: Event{Kind: EventBadSequenceNumber, SequenceNumber: seq}}
	}

	r.frameIndex++
	if r.frameIndex == r.frameCount {
		r.state = StateProcessing
		return Result{Transition: true}
	}

	if maxBlockSize > 0 {
		r.blockFrameIndex++
		if r.blockFrameIndex == maxBlockSize {
			r.blockFrameIndex = 0
			r.state = StateSend
			return Result{Transition: true}
		}
	}
	// Still collecting within the current block: remain Wait/Rx but the
	// inter-frame timer must be restarted.
	return Result{Transition: true}
}

// Processed reports the outcome of handing the reassembled message to the
// UDS listener.
func (r *MessageReceiver) Processed(success bool) Result {
	r.state = StateDone
	if success {
		return Result{Transition: true}
	}
	return Result{Transition: true, Event: Event{Kind: EventProcessingFailed}}
}

// Expired is driven by the multiplexer's cyclic task when this receiver's
// timer has elapsed.
func (r *MessageReceiver) Expired() Result {
	switch r.timeoutKind {
	case TimeoutRx:
		r.state = StateDone
		return Result{Transition: true, Event: Event{Kind: EventRxTimeoutExpired}}
	case TimeoutAllocate:
		r.state = StateAllocate
		r.allocating = true
		return Result{Transition: true}
	default:
		return Result{}
	}
}

// Shutdown cancels the receiver, except while Processing, where the
// in-flight call to the UDS listener is allowed to finish naturally
// (spec.md §4.2, §5 "Cancellation").
func (r *MessageReceiver) Shutdown() Result {
	if r.state == StateProcessing {
		return Result{}
	}
	return r.Cancel(Event{})
}

// Cancel forces the receiver to Done with the given event.
func (r *MessageReceiver) Cancel(event Event) Result {
	r.state = StateDone
	r.allocating = false
	return Result{Transition: true, Event: event}
}
