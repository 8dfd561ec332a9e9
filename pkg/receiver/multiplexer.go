package receiver

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
	"github.com/vitalwire/docan/internal/lock"
	"github.com/vitalwire/docan/internal/pool"
)

// Parameters are deployment-tunable via pkg/config.Parameters. The retry
// count and the timeouts are read off the multiplexer on each use;
// MaxBlockSize and EncodedMinSeparationTime are copied into each receiver
// when its first frame arrives.
type Parameters struct {
	MaxAllocateRetryCount    uint8
	MaxBlockSize             uint8
	EncodedMinSeparationTime uint8
	AllocateRetryTimeoutUs   uint32
	RxTimeoutUs              uint32
}

// Multiplexer owns a fixed pool of [MessageReceiver] instances and pumps
// all of them — the "C6" component (spec.md §4.4). One Multiplexer serves
// every reception address sharing the same data link.
type Multiplexer struct {
	cs   lock.CriticalSection
	rm   lock.RemoveLock
	pool *pool.Pool[MessageReceiver]

	// active holds every non-Done receiver, re-sorted by Timer (set timers
	// first) whenever a receiver is inserted or a sweep runs; CyclicTask
	// checks every entry. This is the idiomatic Go
	// rendering of the original intrusive, timer-ordered list (spec.md
	// §3.7): a slice pre-sized to the pool's capacity never reallocates,
	// giving the same "no allocation after init" guarantee an intrusive
	// linked list gives, without hand-threaded next-pointers.
	active []*MessageReceiver

	provider docan.MessageProvider
	listener docan.ProcessedListener
	sender   FrameSender
	params   Parameters
	now      func() uint32
}

// FrameSender submits an encoded frame on the connection's data link. The
// transport facade (pkg/transport) supplies this, backed by a [docan.Bus].
type FrameSender interface {
	SendFrame(conn docan.Connection, data []byte) error
}

// NewMultiplexer constructs a multiplexer with a pool of the given
// capacity. now supplies the current time in microseconds (or whatever
// unit the caller's timers use consistently); it is injected so tests can
// drive time deterministically.
func NewMultiplexer(capacity int, provider docan.MessageProvider, listener docan.ProcessedListener, sender FrameSender, params Parameters, now func() uint32) *Multiplexer {
	return &Multiplexer{
		pool:     pool.New[MessageReceiver](capacity),
		active:   make([]*MessageReceiver, 0, capacity),
		provider: provider,
		listener: listener,
		sender:   sender,
		params:   params,
		now:      now,
	}
}

// timerExpired implements the wrap-around-safe comparison spec.md §9
// mandates: deadline is considered reached once (now - deadline) does not
// exceed half the 32-bit range, so a single wraparound of now is tolerated
// and a deadline far in the "past" due to wraparound is not misread as
// still pending. Intentionally 32-bit per spec — not widened to 64-bit.
func timerExpired(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// FirstFrameReceived handles an inbound frame classified as Single or
// First (spec.md §4.1, §4.4): a new first frame on a reception address that
// already has a receiver active supersedes it if that receiver is a
// segmented transfer (cancelled outright — the new first frame takes over),
// or blocks the new receiver behind it if it is a single-frame transfer
// still waiting on a buffer (spec.md §3.4's `blocked`), mirroring
// DoCanReceiver::handlePendingMessageReceivers. Acquires a pool slot and
// starts pumping the new receiver once any superseded transfer has been
// cancelled.
func (m *Multiplexer) FirstFrameReceived(conn docan.Connection, decoded docan.DecodedFrame) error {
	defer m.cs.Enter()()

	// Cancelling a superseded receiver below calls pump reentrantly, so the
	// whole scan-and-cancel pass must run under one remove-lock hold —
	// otherwise the first cancelled receiver's own pump call would sweep
	// `active` (and its backing array) out from under this loop.
	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	reception := conn.DataLink.ReceptionAddress()
	blocked := false
	for _, r := range m.active {
		if r.Connection.DataLink.ReceptionAddress() != reception {
			continue
		}
		if r.FrameCount() > 1 {
			log.Infof("docan/receiver: segmented transfer on %v cancelled by new first frame", reception)
			m.pump(r, r.Cancel(Event{}))
		} else {
			blocked = true
		}
	}

	frameCount := conn.Codec.FrameCount(decoded.MessageSize)
	consecutiveSize := conn.Codec.ConsecutiveFrameDataSize()

	slot, ok := m.pool.Acquire()
	if !ok {
		log.Warnf("docan/receiver: pool exhausted, dropping first frame from %v", reception)
		return docan.ErrOutOfMemory
	}
	slot.Init(conn, decoded.MessageSize, frameCount, consecutiveSize, m.params.MaxBlockSize, m.params.EncodedMinSeparationTime, decoded.Data, blocked)
	m.insert(slot)
	m.pump(slot, Result{Transition: true})
	return nil
}

// ConsecutiveFrameReceived routes an inbound consecutive frame to the
// receiver currently expecting one on the given reception address,
// appending its payload to the message being reassembled before pumping
// the resulting transition.
func (m *Multiplexer) ConsecutiveFrameReceived(reception docan.DataLinkAddress, decoded docan.DecodedFrame) error {
	defer m.cs.Enter()()

	for _, r := range m.active {
		if r.Connection.DataLink.ReceptionAddress() == reception && r.IsConsecutiveFrameExpected() {
			result := r.ConsecutiveFrameReceived(decoded.SequenceNumber, r.MaxBlockSize)
			if result.Event.Kind != EventBadSequenceNumber && r.Message != nil {
				if !r.Message.Append(decoded.Data) {
					log.Errorf("docan/receiver: message buffer overrun on %v", reception)
					result = r.Cancel(Event{Kind: EventProcessingFailed})
				}
			}
			m.pump(r, result)
			return nil
		}
	}
	log.Debugf("docan/receiver: consecutive frame on %v with no receiver expecting one, dropped", reception)
	return nil
}

// CyclicTask drives every receiver whose timer has elapsed and resubmits
// any flow-control frame whose send failed. It must be called periodically
// and more often than the shortest configured timeout.
//
// The whole ranging loop runs under one remove-lock hold, nesting under
// each inner pump's own Acquire/Release: if it didn't, a receiver reaching
// Done mid-loop would have pump's own Release trigger sweep() immediately,
// compacting `active`'s backing array out from under the range still in
// progress and silently skipping whatever receiver got shifted into an
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
	for _, r := range m.active {
		switch {
		case r.TimerSet && timerExpired(now, r.Timer):
			m.pump(r, r.Expired())
		case r.State() == StateSend:
			// A flow-control frame whose send failed is resubmitted.
			m.pump(r, Result{Transition: true})
		}
	}
}

// Shutdown cancels every active receiver (spec.md §4.2, §5). Held under one
// remove-lock hold for the same reason CyclicTask is: otherwise a receiver
// cancelled early in the loop is swept out from under the range as soon as
// its own pump call releases, and a receiver further along the (now
// compacted) slice is skipped entirely — left uncancelled with its loaned
// buffer never released.
func (m *Multiplexer) Shutdown() {
	defer m.cs.Enter()()

	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	for _, r := range m.active {
		m.pump(r, r.Shutdown())
	}
}

// pump drives a receiver's side effects to a stable rest state, following
// the rule of spec.md §4.4: after every transition, act on the resulting
// state (allocate a buffer, submit a frame, hand off for processing) and
// loop while further transitions keep occurring. The remove-lock ensures a
// receiver that reaches Done mid-reentrant-call isn't spliced out of
// `active` until the outermost pump call returns.
func (m *Multiplexer) pump(r *MessageReceiver, result Result) {
	m.rm.Acquire()
	defer func() {
		if m.rm.Release() {
			m.sweep()
		}
	}()

	for result.Transition {
		logEvent(r, result.Event)
		r.TimerSet = false

		switch r.State() {
		case StateAllocate:
			var msg *docan.TransportMessage
			if !r.Blocked {
				var ok bool
				msg, ok = m.provider.ProvideTransportMessage(r.MessageSize)
				if ok {
					msg.Source = r.Connection.Transport.Source()
					msg.Target = r.Connection.Transport.Target()
					msg.Append(r.FirstFrameData())
				}
			}
			// A blocked receiver never actually queries the provider, but
			// still runs through Allocated with a nil message — the same
			// retry/timeout bookkeeping a real failed allocation would hit,
			// so it keeps retrying (and eventually times out) exactly like
			// one, until release() clears Blocked (spec.md §3.4).
			result = r.Allocated(msg, m.params.MaxAllocateRetryCount)

		case StateSend:
			status := docan.FlowStatusContinueToSend
			if r.IsFlowControlWait() {
				status = docan.FlowStatusWait
			}
			frame, err := r.Connection.Codec.EncodeFlowControlFrame(status, r.MaxBlockSize, r.EncodedMinSeparationTime)
			if err == nil {
				err = m.sender.SendFrame(r.Connection, frame)
			}
			result = r.FrameSent(err == nil)

		case StateWait:
			switch {
			case r.IsConsecutiveFrameExpected():
				m.arm(r, m.params.RxTimeoutUs)
			default:
				m.arm(r, m.params.AllocateRetryTimeoutUs)
			}
			result = Result{}

		case StateProcessing:
			if r.Message != nil {
				m.listener.MessageProcessed(r.Message, docan.ProcessingSucceeded)
			}
			result = r.Processed(true)

		case StateDone:
			if r.Message != nil {
				m.provider.ReleaseTransportMessage(r.Message)
				r.Message = nil
			}
			m.unblockPending(r)
			result = Result{}
		}
	}
}

// unblockPending clears Blocked on the first other active receiver sharing
// r's reception address, mirroring DoCanReceiver::release's find-and-unblock
// scan: exactly one blocked single-frame receiver per reception address can
// exist at a time (it was admitted only because another receiver was
// already occupying that address), so releasing that occupant unblocks it
// to retry its next allocation for real.
func (m *Multiplexer) unblockPending(r *MessageReceiver) {
	reception := r.Connection.DataLink.ReceptionAddress()
	for _, other := range m.active {
		if other == r {
			continue
		}
		if other.Connection.DataLink.ReceptionAddress() == reception && other.Blocked {
			other.Blocked = false
			return
		}
	}
}

func (m *Multiplexer) arm(r *MessageReceiver, timeoutUs uint32) {
	r.Timer = m.now() + timeoutUs
	r.TimerSet = true
}

func logEvent(r *MessageReceiver, event Event) {
	switch event.Kind {
	case EventNone:
		return
	case EventIllegalState:
		log.Errorf("docan/receiver: illegal event in state %v", event.IllegalState)
	case EventAllocationRetryCountExceeded:
		log.Warnf("docan/receiver: allocation retry count exceeded on %v", r.Connection.DataLink.ReceptionAddress())
	case EventRxTimeoutExpired:
		log.Warnf("docan/receiver: rx timeout on %v", r.Connection.DataLink.ReceptionAddress())
	case EventBadSequenceNumber:
		log.Warnf("docan/receiver: bad sequence number %d on %v", event.SequenceNumber, r.Connection.DataLink.ReceptionAddress())
	case EventProcessingFailed:
		log.Warnf("docan/receiver: processing failed on %v", r.Connection.DataLink.ReceptionAddress())
	}
}

// insert adds a freshly acquired receiver to active and re-sorts it:
// receivers with a timer set come first, in Timer order, and receivers
// without one follow them.
func (m *Multiplexer) insert(r *MessageReceiver) {
	m.active = append(m.active, r)
	m.resort()
}

func (m *Multiplexer) resort() {
	sort.SliceStable(m.active, func(i, j int) bool {
		a, b := m.active[i], m.active[j]
		if a.TimerSet != b.TimerSet {
			return a.TimerSet
		}
		return a.Timer < b.Timer
	})
}

// sweep removes every Done receiver from active and returns its pool slot,
// run once the outermost remove-lock guard exits (spec.md §5).
func (m *Multiplexer) sweep() {
	kept := m.active[:0]
	for _, r := range m.active {
		if r.State() == StateDone {
			m.pool.Release(r)
			continue
		}
		kept = append(kept, r)
	}
	m.active = kept
	m.resort()
}
