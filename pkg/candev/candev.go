// Package candev is a concrete [docan.Bus] backed by SocketCAN, adapted
// from the teacher's pkg/can/socketcan wrapper around
// github.com/brutella/can. It only speaks classical CAN (8-byte frames);
// brutella/can has no CAN-FD support, so Send rejects any [docan.Frame]
// with FD set rather than silently truncating it.
package candev

import (
	sockcan "github.com/brutella/can"
	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
)

// Bus is a SocketCAN data-link, wrapping github.com/brutella/can the same
// way the teacher's SocketcanBus does: one underlying *can.Bus, one
// registered [docan.FrameReceiver] forwarding every received frame.
type Bus struct {
	name     string
	bus      *sockcan.Bus
	receiver docan.FrameReceiver
}

// NewBus opens the named SocketCAN interface (e.g. "can0", "vcan0") and
// starts its receive loop in the background, mirroring the teacher's
// NewSocketCanBus + Connect split collapsed into one call since this
// module's [docan.Bus] has no separate Connect/Disconnect step.
func NewBus(name string) (*Bus, error) {
	underlying, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	b := &Bus{name: name, bus: underlying}
	go underlying.ConnectAndPublish()
	return b, nil
}

// Close disconnects the underlying SocketCAN socket.
func (b *Bus) Close() error {
	return b.bus.Disconnect()
}

// Send implements [docan.Bus]. FD frames are rejected outright:
// brutella/can's Frame carries a fixed 8-byte Data array with no FD flag of
// its own.
func (b *Bus) Send(frame docan.Frame) error {
	if frame.FD {
		return docan.ErrUnsupportedCodec
	}
	if len(frame.Data) > 8 {
		return docan.ErrIllegalArgument
	}
	var data [8]byte
	copy(data[:], frame.Data)
	return b.bus.Publish(sockcan.Frame{
		ID:     uint32(frame.ID),
		Length: uint8(len(frame.Data)),
		Data:   data,
	})
}

// Subscribe implements [docan.Bus]: every frame brutella/can delivers is
// translated to a [docan.Frame] and handed to receiver.
func (b *Bus) Subscribe(receiver docan.FrameReceiver) error {
	b.receiver = receiver
	b.bus.Subscribe(b)
	return nil
}

// Handle implements github.com/brutella/can's Handler interface — the
// library's own callback shape, distinct from [docan.FrameReceiver].
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.receiver == nil {
		return
	}
	data := append([]byte(nil), frame.Data[:frame.Length]...)
	err := b.receiver.HandleFrame(docan.Frame{
		ID:   docan.DataLinkAddress(frame.ID),
		Data: data,
	})
	if err != nil {
		log.Warnf("candev: %s dropping frame id=0x%X: %v", b.name, frame.ID, err)
	}
}
