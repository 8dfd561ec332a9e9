// Package docan implements the ISO 15765-2 (DoCAN) transport layer: it
// segments and reassembles diagnostic messages exchanged over a CAN or
// CAN-FD data link. It hosts many concurrent per-message state machines
// (pkg/receiver, pkg/transmitter) from a fixed-size pool (internal/pool)
// behind a single facade (pkg/transport).
package docan

import (
	"fmt"
)

// DataLinkAddress identifies an endpoint at the data-link layer, e.g. a
// classical CAN identifier or a CAN-FD identifier. Width is a deployment
// choice; this module fixes it at 32 bits, wide enough for both classical
// 11/29-bit CAN IDs and any FD addressing extension.
type DataLinkAddress uint32

// InvalidAddress is the reserved sentinel marking "no transmission
// address" in a [DataLinkAddressPair] — used by functional-broadcast
// routing entries, for which only single-frame transfers are legal.
const InvalidAddress DataLinkAddress = 0xFFFFFFFF

// MessageSize is the total byte length of a reassembled diagnostic message.
type MessageSize = uint16

// FrameIndex counts frames within a segmented transfer; frame 1 is the
// first (single or first-segmented) frame.
type FrameIndex = uint16

// FrameSize is a payload byte count within a single CAN frame.
type FrameSize = uint8

// SequenceNumber is the low nibble of a consecutive-frame PCI byte; it
// cycles 0..15, and the first CF after a FF carries sequence number 1.
type SequenceNumber = uint8

// FlowStatus is the status nibble of a flow-control frame.
type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = 0
	FlowStatusWait           FlowStatus = 1
	FlowStatusOverflow       FlowStatus = 2
)

// Frame is a single CAN (or CAN-FD) frame as delivered by or submitted to
// the data-link layer.
type Frame struct {
	ID   DataLinkAddress
	Data []byte
	FD   bool
}

// FrameReceiver is implemented by the transport layer facade (pkg/transport)
// so the data-link layer can hand it inbound frames.
type FrameReceiver interface {
	// HandleFrame dispatches a single inbound frame. The implementation is
	// responsible for PCI-byte decoding (via a [FrameCodec]) and routing to
	// the receiver or transmitter multiplexer as appropriate.
	HandleFrame(frame Frame) error
}

// Bus is the minimal data-link collaborator this module needs: send a
// frame, and deliver inbound frames to a [FrameReceiver]. Concrete
// implementations (e.g. pkg/candev, backed by SocketCAN) and the frame
// codec's exact byte layout are external collaborators — out of scope
// per the transport layer's design (classical vs FD framing is a
// data-link concern, not a protocol-state-machine concern).
type Bus interface {
	Send(frame Frame) error
	Subscribe(receiver FrameReceiver) error
}

// Error is a small integer error code with a human description, following
// the teacher's CANopenError/SDOAbortCode pattern: an integer newtype with
// an Error() method backed by a description lookup table.
type Error int8

const (
	ErrNone             Error = 0
	ErrIllegalArgument  Error = -1
	ErrOutOfMemory      Error = -2
	ErrTimeout          Error = -3
	ErrRxOverflow       Error = -4
	ErrTxOverflow       Error = -5
	ErrTxUnconfigured   Error = -6
	ErrInvalidState     Error = -7
	ErrUnsupportedCodec Error = -8
)

var errorDescriptions = map[Error]string{
	ErrNone:             "operation completed successfully",
	ErrIllegalArgument:  "error in function arguments",
	ErrOutOfMemory:      "message receiver pool exhausted",
	ErrTimeout:          "function timeout",
	ErrRxOverflow:       "previous message on this reception address was not processed yet",
	ErrTxOverflow:       "previous message on this transmission address was not processed yet",
	ErrTxUnconfigured:   "transmission address has no routing entry",
	ErrInvalidState:     "operation not valid in current protocol state",
	ErrUnsupportedCodec: "frame codec does not support the requested operation",
}

func (e Error) Error() string {
	if description, ok := errorDescriptions[e]; ok {
		return description
	}
	return fmt.Sprintf("docan: unknown error code %d", int8(e))
}
