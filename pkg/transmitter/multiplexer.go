package transmitter

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
	"github.com/vitalwire/docan/internal/lock"
	"github.com/vitalwire/docan/internal/pool"
)

// Parameters controls transmit-side timing. FlowControlTimeoutUs is read
// off the multiplexer each time a flow-control wait is armed.
type Parameters struct {
	FlowControlTimeoutUs uint32
}

// FrameSender submits an encoded frame on the connection's data link.
type FrameSender interface {
	SendFrame(conn docan.Connection, data []byte) error
}

// Multiplexer owns a fixed pool of [MessageTransmitter] instances — the
// "C7" component. One Multiplexer serves every transmission address
// sharing the same data link.
type Multiplexer struct {
	cs lock.CriticalSection
	rm lock.RemoveLock

	pool   *pool.Pool[MessageTransmitter]
	active []*MessageTransmitter

	sender FrameSender
	params Parameters
	now    func() uint32
}

func NewMultiplexer(capacity int, sender FrameSender, params Parameters, now func() uint32) *Multiplexer {
	return &Multiplexer{
		pool:   pool.New[MessageTransmitter](capacity),
		active: make([]*MessageTransmitter, 0, capacity),
		sender: sender,
		params: params,
		now:    now,
	}
}

func timerExpired(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// Send submits a new outbound message (spec.md §4.1's send() operation).
// It fails with ErrTxOverflow if a transfer is already in flight on this
// connection's transmission address, or ErrOutOfMemory if the pool is
// exhausted.
func (m *Multiplexer) Send(conn docan.Connection, msg *docan.TransportMessage, listener docan.ProcessedListener) error {
	defer m.cs.Enter()()

	transmission := conn.DataLink.TransmissionAddress()
	for _, t := range m.active {
		if t.Connection.DataLink.TransmissionAddress() == transmission {
			log.Warnf("docan/transmitter: tx overflow on transmission address %v", transmission)
			return docan.ErrTxOverflow
		}
	}

	frameCount := conn.Codec.FrameCount(docan.MessageSize(msg.ValidBytes))
	slot, ok := m.pool.Acquire()
	if !ok {
		log.Warnf("docan/transmitter: pool exhausted, dropping send to %v", transmission)
		return docan.ErrOutOfMemory
	}
	slot.Init(conn, msg, listener, frameCount, conn.Codec.ConsecutiveFrameDataSize())
	m.insert(slot)
	m.pump(slot, Result{Transition: true})
	return nil
}

// FlowControlFrameReceived routes an inbound flow-control frame to the
// transmitter waiting on the given reception address.
func (m *Multiplexer) FlowControlFrameReceived(reception docan.DataLinkAddress, decoded docan.DecodedFrame) error {
	defer m.cs.Enter()()

	for _, t := range m.active {
		if t.Connection.DataLink.ReceptionAddress() == reception && t.State() == StateWaitFC {
			separationTimeUs := decodeSeparationTime(decoded.SeparationTime)
			result := t.FlowControlFrameReceived(decoded.FlowStatus, decoded.BlockSize, separationTimeUs)
			m.pump(t, result)
			return nil
		}
	}
	log.Debugf("docan/transmitter: flow-control frame on %v with no transmitter waiting, dropped", reception)
	return nil
}

// decodeSeparationTime converts an ISO 15765-2 encoded STmin byte to
// microseconds (§6.1): 0x00-0x7F are 0-127 ms, 0xF1-0xF9 are 100-900 us,
// other values are reserved and treated as the most conservative (127 ms).
func decodeSeparationTime(encoded uint8) uint32 {
	switch {
	case encoded <= 0x7F:
		return uint32(encoded) * 1000
	case encoded >= 0xF1 && encoded <= 0xF9:
		return uint32(encoded-0xF0) * 100
	default:
		return 127000
	}
}

// CyclicTask drives every transmitter whose flow-control wait has expired.
//
// The ranging loop runs under one remove-lock hold, nesting under each
// inner pump's own Acquire/Release — without it, a transmitter reaching
// Done mid-loop would have pump's own Release trigger sweep() immediately,
// compacting `active`'s backing array out from under the range still in
// progress and silently skipping a transmitter shifted into an
// already-visited index (spec.md §5's remove-lock contract).
func (m *Multiplexer) CyclicTask() {
	defer m.cs.Enter()()

	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	now := m.now()
	for _, t := range m.active {
		if t.TimerSet && t.state == StateWaitFC && timerExpired(now, t.Timer) {
			m.pump(t, t.Expired())
		}
	}
}

// Tick paces consecutive-frame transmission at the receiver's requested
// separation time, and reports whether any transmitter still has frames
// queued (mirroring the original's tick()/isSendingConsecutiveFrames()
// split). Held under one remove-lock hold for the same reason CyclicTask
// is.
func (m *Multiplexer) Tick() bool {
	defer m.cs.Enter()()

	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	now := m.now()
	sending := false
	for _, t := range m.active {
		if t.state == StateWaitTx && t.TimerSet && timerExpired(now, t.Timer) {
			m.pump(t, t.Tick())
		}
		if t.IsSendingConsecutiveFrames() || t.state == StateWaitTx {
			sending = true
		}
	}
	return sending
}

// Shutdown cancels every active transmitter. Held under one remove-lock
// hold for the same reason CyclicTask is: otherwise a transmitter
// cancelled early in the loop is swept out from under the range as soon as
// its own pump call releases, and a transmitter further along the (now
// compacted) slice is skipped entirely.
func (m *Multiplexer) Shutdown() {
	defer m.cs.Enter()()

	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	for _, t := range m.active {
		m.pump(t, t.Shutdown())
	}
}

func (m *Multiplexer) pump(t *MessageTransmitter, result Result) {
	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	for result.Transition {
		logEvent(t, result.Event)
		t.TimerSet = false

		switch t.state {
		case StateSend:
			payload, isFirst := t.NextPayload()
			var frame []byte
			var err error
			switch {
			case t.frameCount == 1:
				frame, err = t.Connection.Codec.EncodeSingleFrame(payload)
			case isFirst:
				frame, err = t.Connection.Codec.EncodeFirstFrame(t.MessageSize, payload)
			default:
				frame, err = t.Connection.Codec.EncodeConsecutiveFrame(t.SequenceNumber(), payload)
			}
			if err == nil {
				err = m.sender.SendFrame(t.Connection, frame)
			}
			result = t.FrameSent(err == nil)

		case StateWaitFC:
			m.arm(t, m.params.FlowControlTimeoutUs)
			result = Result{}

		case StateWaitTx:
			m.arm(t, t.separationTimeUs)
			result = Result{}

		case StateDone:
			if t.Listener != nil && t.Message != nil {
				outcome := docan.ProcessingSucceeded
				if result.Event.Kind == EventFlowControlTimeout || result.Event.Kind == EventOverflow || result.Event.Kind == EventSendFailed {
					outcome = docan.ProcessingFailed
				}
				t.Listener.MessageProcessed(t.Message, outcome)
			}
			result = Result{}
		}
	}
}

func (m *Multiplexer) arm(t *MessageTransmitter, timeoutUs uint32) {
	t.Timer = m.now() + timeoutUs
	t.TimerSet = true
}

func logEvent(t *MessageTransmitter, event Event) {
	switch event.Kind {
	case EventNone:
		return
	case EventIllegalState:
		log.Errorf("docan/transmitter: illegal event in state %v", event.IllegalState)
	case EventFlowControlTimeout:
		log.Warnf("docan/transmitter: flow-control timeout on %v", t.Connection.DataLink.TransmissionAddress())
	case EventOverflow:
		log.Warnf("docan/transmitter: receiver reported overflow on %v", t.Connection.DataLink.TransmissionAddress())
	case EventSendFailed:
		log.Warnf("docan/transmitter: frame send failed on %v", t.Connection.DataLink.TransmissionAddress())
	}
}

func (m *Multiplexer) insert(t *MessageTransmitter) {
	m.active = append(m.active, t)
	m.resort()
}

func (m *Multiplexer) resort() {
	sort.SliceStable(m.active, func(i, j int) bool {
		return m.active[i].Timer < m.active[j].Timer
	})
}

func (m *Multiplexer) sweep() {
	kept := m.active[:0]
	for _, t := range m.active {
		if t.state == StateDone {
			m.pool.Release(t)
			continue
		}
		kept = append(kept, t)
	}
	m.active = kept
	m.resort()
}
