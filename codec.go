package docan

import "fmt"

// FrameKind classifies a decoded ISO 15765-2 frame by its PCI nibble.
type FrameKind uint8

const (
	FrameKindUnknown FrameKind = iota
	FrameKindSingle
	FrameKindFirst
	FrameKindConsecutive
	FrameKindFlowControl
)

// DecodedFrame is the codec-agnostic result of decoding one CAN frame.
// Only the fields relevant to Kind are populated.
type DecodedFrame struct {
	Kind           FrameKind
	MessageSize    MessageSize    // Single / First
	SequenceNumber SequenceNumber // Consecutive
	Data           []byte         // Single / First / Consecutive payload
	FlowStatus     FlowStatus     // FlowControl
	BlockSize      uint8          // FlowControl
	SeparationTime uint8          // FlowControl, encoded per ISO 15765-2 (§6.1)
}

// FrameCodec encodes and decodes the four ISO 15765-2 frame types and
// reports the sizing parameters the receiver/transmitter state machines
// need to drive segmentation. Byte-layout choices (classical vs FD,
// padding, escape sequences) are a pluggable, external concern per spec
// §1/§9 — the core only calls through this seam.
type FrameCodec interface {
	// Name identifies the codec for logging, e.g. "classical-optimized".
	Name() string

	// DecodeFrame classifies and decodes a single inbound frame.
	DecodeFrame(data []byte) (DecodedFrame, error)

	// EncodeSingleFrame encodes a complete message that fits in one frame.
	EncodeSingleFrame(payload []byte) ([]byte, error)

	// EncodeFirstFrame encodes the first frame of a segmented transfer.
	// payload is truncated to MaxFirstFrameDataSize(messageSize) by the
	// caller before this is invoked.
	EncodeFirstFrame(messageSize MessageSize, payload []byte) ([]byte, error)

	// EncodeConsecutiveFrame encodes one consecutive frame.
	EncodeConsecutiveFrame(seq SequenceNumber, payload []byte) ([]byte, error)

	// EncodeFlowControlFrame encodes a flow-control frame.
	EncodeFlowControlFrame(status FlowStatus, blockSize uint8, separationTime uint8) ([]byte, error)

	// FrameCount returns the number of frames (including the first) a
	// message of the given size requires.
	FrameCount(messageSize MessageSize) FrameIndex

	// MaxSingleFrameDataSize is the largest payload a single frame can carry.
	MaxSingleFrameDataSize() FrameSize

	// MaxFirstFrameDataSize is the payload carried by the first frame of a
	// segmented transfer of the given message size.
	MaxFirstFrameDataSize(messageSize MessageSize) FrameSize

	// ConsecutiveFrameDataSize is the payload carried by a regular (i.e.
	// not the final, possibly short) consecutive frame.
	ConsecutiveFrameDataSize() FrameSize
}

// ErrFrameTooShort is returned by DecodeFrame when the supplied frame does
// not contain enough bytes for its declared PCI.
var ErrFrameTooShort = fmt.Errorf("docan: frame shorter than its PCI declares")

// ErrUnknownPCI is returned by DecodeFrame for an unrecognized PCI nibble.
var ErrUnknownPCI = fmt.Errorf("docan: unrecognized PCI nibble")

// ErrPayloadTooLarge is returned by the Encode* methods when the payload
// exceeds what the frame type/codec can carry.
var ErrPayloadTooLarge = fmt.Errorf("docan: payload exceeds codec frame capacity")
