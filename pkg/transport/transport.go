// Package transport implements the transport layer facade (the "C8"
// component, spec.md §4.1): it wires the receiver and transmitter
// multiplexers to a [docan.Bus] and an [docan.AddressConverter], giving
// callers a single init/send/cyclic-task/shutdown surface — the role
// DoCanTransportLayer plays over DoCanReceiver+DoCanTransmitter in
// original_source/libs/bsw/docan/include/docan/transport/DoCanTransportLayer.h.
package transport

import (
	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
	"github.com/vitalwire/docan/pkg/receiver"
	"github.com/vitalwire/docan/pkg/transmitter"
)

// Layer is the transport layer facade. It implements [docan.FrameReceiver]
// so a [docan.Bus] can deliver inbound frames directly to it.
type Layer struct {
	bus       docan.Bus
	addresses docan.AddressConverter

	receivers    *receiver.Multiplexer
	transmitters *transmitter.Multiplexer
}

// frameSender adapts Layer to the FrameSender interface both multiplexers
// require, so every outbound frame — flow control or data — funnels
// through the one Bus.Send call site.
type frameSender struct {
	bus docan.Bus
}

func (s frameSender) SendFrame(conn docan.Connection, data []byte) error {
	id := conn.DataLink.TransmissionAddress()
	if id == docan.InvalidAddress {
		return docan.ErrTxUnconfigured
	}
	return s.bus.Send(docan.Frame{ID: id, Data: data, FD: conn.Codec.Name() != "classical-optimized"})
}

// New builds a transport layer over bus, using addresses to resolve
// connections and pools of the given sizes for concurrent receive/send
// state machines.
func New(
	bus docan.Bus,
	addresses docan.AddressConverter,
	provider docan.MessageProvider,
	listener docan.ProcessedListener,
	receiverPoolSize, transmitterPoolSize int,
	receiverParams receiver.Parameters,
	transmitterParams transmitter.Parameters,
	now func() uint32,
) *Layer {
	sender := frameSender{bus: bus}
	return &Layer{
		bus:          bus,
		addresses:    addresses,
		receivers:    receiver.NewMultiplexer(receiverPoolSize, provider, listener, sender, receiverParams, now),
		transmitters: transmitter.NewMultiplexer(transmitterPoolSize, sender, transmitterParams, now),
	}
}

// Init subscribes the layer to the bus (spec.md §4.1's init()).
func (l *Layer) Init() error {
	return l.bus.Subscribe(l)
}

// Shutdown cancels every in-flight receive and transmit (spec.md §5).
func (l *Layer) Shutdown() {
	l.receivers.Shutdown()
	l.transmitters.Shutdown()
}

// Send submits an outbound diagnostic message addressed by transport
// address pair, resolving the connection via the address converter.
func (l *Layer) Send(pair docan.TransportAddressPair, msg *docan.TransportMessage, listener docan.ProcessedListener) error {
	codec, dataLink, ok := l.addresses.TransmissionParameters(pair)
	if !ok {
		return docan.ErrTxUnconfigured
	}
	conn := docan.Connection{Codec: codec, DataLink: dataLink, Transport: pair}
	return l.transmitters.Send(conn, msg, listener)
}

// CyclicTask drives both multiplexers' timeout handling. Call more often
// than the shortest configured timeout (spec.md §4.4).
func (l *Layer) CyclicTask() {
	l.transmitters.CyclicTask()
	l.receivers.CyclicTask()
}

// Tick paces outstanding consecutive-frame transmissions and reports
// whether any transfer is still sending (spec.md §4.5's separation-time
// pacer; mirrors DoCanTransportLayer::tick()).
func (l *Layer) Tick() bool {
	return l.transmitters.Tick()
}

// HandleFrame implements [docan.FrameReceiver]: classify the inbound frame
// via the codec resolved for its reception address, then route it to the
// appropriate multiplexer.
func (l *Layer) HandleFrame(frame docan.Frame) error {
	codec, transportPair, transmissionAddress, ok := l.addresses.ReceptionParameters(frame.ID)
	if !ok {
		log.Debugf("docan/transport: frame on unconfigured address %v, dropped", frame.ID)
		return nil
	}

	decoded, err := codec.DecodeFrame(frame.Data)
	if err != nil {
		log.Warnf("docan/transport: failed to decode frame on %v: %v", frame.ID, err)
		return err
	}

	dataLink := docan.NewDataLinkAddressPair(frame.ID, transmissionAddress)
	conn := docan.Connection{Codec: codec, DataLink: dataLink, Transport: transportPair}

	switch decoded.Kind {
	case docan.FrameKindSingle, docan.FrameKindFirst:
		return l.receivers.FirstFrameReceived(conn, decoded)
	case docan.FrameKindConsecutive:
		return l.receivers.ConsecutiveFrameReceived(frame.ID, decoded)
	case docan.FrameKindFlowControl:
		return l.transmitters.FlowControlFrameReceived(frame.ID, decoded)
	default:
		log.Warnf("docan/transport: unrecognized frame kind on %v", frame.ID)
		return docan.ErrIllegalArgument
	}
}
