// Package codec provides the two ISO 15765-2 frame-byte-layout presets the
// core transport layer is parametrized over: "optimized classical" (8-byte
// classical CAN, no padding) and "padded FD" (64-byte CAN-FD, padded to the
// DLC boundary). Byte-layout choices are an external, pluggable concern
// per the transport specification — these are reference implementations a
// deployment may swap out entirely.
package codec

import (
	"github.com/vitalwire/docan"
)

const classicalFrameLength = 8

// Classical implements [docan.FrameCodec] for classical (non-FD) CAN: 8
// byte frames, single-frame payload up to 7 bytes, first-frame payload up
// to 6 bytes (12-bit message length in the first two PCI bytes), and
// unpadded consecutive/flow-control frames — the layout produced by most
// classical ISO-TP stacks and the one used in spec.md's worked scenarios.
type Classical struct{}

// NewClassical returns the "optimized classical" codec preset.
func NewClassical() *Classical { return &Classical{} }

func (c *Classical) Name() string { return "classical-optimized" }

func (c *Classical) MaxSingleFrameDataSize() docan.FrameSize { return 7 }

func (c *Classical) MaxFirstFrameDataSize(docan.MessageSize) docan.FrameSize { return 6 }

func (c *Classical) ConsecutiveFrameDataSize() docan.FrameSize { return 7 }

func (c *Classical) FrameCount(messageSize docan.MessageSize) docan.FrameIndex {
	if messageSize <= uint16(c.MaxSingleFrameDataSize()) {
		return 1
	}
	remaining := int(messageSize) - int(c.MaxFirstFrameDataSize(messageSize))
	cfDataSize := int(c.ConsecutiveFrameDataSize())
	frames := 1 + (remaining+cfDataSize-1)/cfDataSize
	return docan.FrameIndex(frames)
}

func (c *Classical) EncodeSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) > int(c.MaxSingleFrameDataSize()) {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(len(payload)) // PCI high nibble 0x0 (SF) | low nibble length
	copy(frame[1:], payload)
	return frame, nil
}

func (c *Classical) EncodeFirstFrame(messageSize docan.MessageSize, payload []byte) ([]byte, error) {
	maxData := int(c.MaxFirstFrameDataSize(messageSize))
	if len(payload) > maxData {
		return nil, docan.ErrPayloadTooLarge
	}
	if messageSize > 0x0FFF {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, classicalFrameLength)
	frame[0] = 0x10 | byte(messageSize>>8)
	frame[1] = byte(messageSize)
	copy(frame[2:], payload)
	return frame[:2+len(payload)], nil
}

func (c *Classical) EncodeConsecutiveFrame(seq docan.SequenceNumber, payload []byte) ([]byte, error) {
	if len(payload) > int(c.ConsecutiveFrameDataSize()) {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = 0x20 | (seq & 0x0F)
	copy(frame[1:], payload)
	return frame, nil
}

func (c *Classical) EncodeFlowControlFrame(status docan.FlowStatus, blockSize uint8, separationTime uint8) ([]byte, error) {
	return []byte{0x30 | byte(status), blockSize, separationTime}, nil
}

func (c *Classical) DecodeFrame(data []byte) (docan.DecodedFrame, error) {
	if len(data) == 0 {
		return docan.DecodedFrame{}, docan.ErrFrameTooShort
	}
	pci := data[0] >> 4
	switch pci {
	case 0x0:
		length := int(data[0] & 0x0F)
		if len(data) < 1+length {
			return docan.DecodedFrame{}, docan.ErrFrameTooShort
		}
		return docan.DecodedFrame{
			Kind:        docan.FrameKindSingle,
			MessageSize: uint16(length),
			Data:        append([]byte(nil), data[1:1+length]...),
		}, nil
	case 0x1:
		if len(data) < 2 {
			return docan.DecodedFrame{}, docan.ErrFrameTooShort
		}
		messageSize := (uint16(data[0]&0x0F) << 8) | uint16(data[1])
		return docan.DecodedFrame{
			Kind:        docan.FrameKindFirst,
			MessageSize: messageSize,
			Data:        append([]byte(nil), data[2:]...),
		}, nil
	case 0x2:
		return docan.DecodedFrame{
			Kind:           docan.FrameKindConsecutive,
			SequenceNumber: data[0] & 0x0F,
			Data:           append([]byte(nil), data[1:]...),
		}, nil
	case 0x3:
		if len(data) < 3 {
			return docan.DecodedFrame{}, docan.ErrFrameTooShort
		}
		return docan.DecodedFrame{
			Kind:           docan.FrameKindFlowControl,
			FlowStatus:     docan.FlowStatus(data[0] & 0x0F),
			BlockSize:      data[1],
			SeparationTime: data[2],
		}, nil
	default:
		return docan.DecodedFrame{}, docan.ErrUnknownPCI
	}
}
