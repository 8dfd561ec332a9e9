package codec

import "github.com/vitalwire/docan"

var fdLengths = []int{8, 12, 16, 20, 24, 32, 48, 64}

const fdPadByte = 0xCC

func fdFrameLength(payloadLength int) int {
	for _, length := range fdLengths {
		if payloadLength <= length {
			return length
		}
	}
	return fdLengths[len(fdLengths)-1]
}

func padTo(frame []byte, length int) []byte {
	if len(frame) >= length {
		return frame
	}
	padded := make([]byte, length)
	copy(padded, frame)
	for i := len(frame); i < length; i++ {
		padded[i] = fdPadByte
	}
	return padded
}

// PaddedFD implements [docan.FrameCodec] for CAN-FD: frames are padded up
// to the next legal FD DLC length (8/12/16/20/24/32/48/64 bytes), giving a
// single frame up to 62 bytes of payload and a first frame up to 61 bytes.
type PaddedFD struct{}

// NewPaddedFD returns the "padded FD" codec preset.
func NewPaddedFD() *PaddedFD { return &PaddedFD{} }

func (c *PaddedFD) Name() string { return "fd-padded" }

func (c *PaddedFD) MaxSingleFrameDataSize() docan.FrameSize { return 62 }

func (c *PaddedFD) MaxFirstFrameDataSize(docan.MessageSize) docan.FrameSize { return 61 }

func (c *PaddedFD) ConsecutiveFrameDataSize() docan.FrameSize { return 63 }

func (c *PaddedFD) FrameCount(messageSize docan.MessageSize) docan.FrameIndex {
	if messageSize <= uint16(c.MaxSingleFrameDataSize()) {
		return 1
	}
	remaining := int(messageSize) - int(c.MaxFirstFrameDataSize(messageSize))
	cfDataSize := int(c.ConsecutiveFrameDataSize())
	frames := 1 + (remaining+cfDataSize-1)/cfDataSize
	return docan.FrameIndex(frames)
}

func (c *PaddedFD) EncodeSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) > int(c.MaxSingleFrameDataSize()) {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, 1+len(payload))
	if len(payload) <= 7 {
		frame[0] = byte(len(payload))
	} else {
		// FD escape: low nibble 0, length in the following byte.
		frame = make([]byte, 2+len(payload))
		frame[0] = 0x00
		frame[1] = byte(len(payload))
		copy(frame[2:], payload)
		return padTo(frame, fdFrameLength(len(frame))), nil
	}
	copy(frame[1:], payload)
	return padTo(frame, fdFrameLength(len(frame))), nil
}

func (c *PaddedFD) EncodeFirstFrame(messageSize docan.MessageSize, payload []byte) ([]byte, error) {
	maxData := int(c.MaxFirstFrameDataSize(messageSize))
	if len(payload) > maxData {
		return nil, docan.ErrPayloadTooLarge
	}
	if messageSize > 0x0FFF {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, 2+len(payload))
	frame[0] = 0x10 | byte(messageSize>>8)
	frame[1] = byte(messageSize)
	copy(frame[2:], payload)
	return padTo(frame, fdFrameLength(len(frame))), nil
}

func (c *PaddedFD) EncodeConsecutiveFrame(seq docan.SequenceNumber, payload []byte) ([]byte, error) {
	if len(payload) > int(c.ConsecutiveFrameDataSize()) {
		return nil, docan.ErrPayloadTooLarge
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = 0x20 | (seq & 0x0F)
	copy(frame[1:], payload)
	return padTo(frame, fdFrameLength(len(frame))), nil
}

func (c *PaddedFD) EncodeFlowControlFrame(status docan.FlowStatus, blockSize uint8, separationTime uint8) ([]byte, error) {
	frame := []byte{0x30 | byte(status), blockSize, separationTime}
	return padTo(frame, fdFrameLength(len(frame))), nil
}

func (c *PaddedFD) DecodeFrame(data []byte) (docan.DecodedFrame, error) {
	if len(data) == 0 {
		return docan.DecodedFrame{}, docan.ErrFrameTooShort
	}
	pci := data[0] >> 4
	switch pci {
	case 0x0:
		length := int(data[0] & 0x0F)
		offset := 1
		if length == 0 && len(data) >= 2 {
			// FD escape form: explicit length byte follows.
			length = int(data[1])
			offset = 2
		}
		if len(data) < offset+length {
			return docan.DecodedFrame{}, docan.ErrFrameTooShort
		}
		return docan.DecodedFrame{
			Kind:        docan.FrameKindSingle,
			MessageSize: uint16(length),
			Data:        append([]byte(nil), data[offset:offset+length]...),
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
