// Package uds implements the ISO 14229 diagnostic dispatch core (the "C9"
// component, spec.md §4.6): a job tree walked against an incoming request,
// a session manager gating which jobs are reachable, and a response-pending
// pump (IncomingDiagConnection) that keeps the tester alive while a job
// works. It sits on top of pkg/transport/pkg/receiver's reassembled
// [docan.TransportMessage]s and sends responses back through the same
// facade.
package uds

import (
	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
)

// serviceTesterPresent is ISO 14229's TesterPresent service ID (0x3E),
// needed here only for the functional-addressing admission shortcut; the
// rest of the service IDs live alongside their Job constructors in
// services.go.
const serviceTesterPresent = 0x3E

// PendingParameters are the UDS-side timing knobs of spec.md §6.3/§7.2.
type PendingParameters struct {
	InitialPendingTimeoutMs uint32
	DefaultPendingTimeoutMs uint32
	GlobalPendingTimeoutMs  uint32
	TesterPresentTimeoutMs  uint32
}

// Dispatcher is the UDS request-dispatch core: the job tree root, the
// session manager, and the set of [Connection]s currently waiting on a
// response (analogous to original_source's DiagDispatcher2 +
// DiagConnectionManager combined, simplified to this module's
// single-threaded pump model). It implements [docan.ProcessedListener] so
// the transport facade can hand it reassembled messages directly
// (spec.md §2: "on completion C6 forwards the reassembled message to the
// UDS layer C9").
type Dispatcher struct {
	roots   []*Job
	session *SessionManager
	sender  Sender
	provider docan.MessageProvider
	params  PendingParameters
	now     func() uint32

	maxResponseLen int

	// IsFunctionalTarget reports whether target is a functional (broadcast)
	// diagnostic address — used only for the TesterPresent admission rule
	// of spec.md §4.6 step 1. The transport layer (C2, pkg/transport) does
	// not currently carry this classification through to a reassembled
	// [docan.TransportMessage], so it is injected here rather than invented;
	// see DESIGN.md's Open Question note. A nil func means "never
	// functional" — the suppression rule then never fires, which is safe
	// (TesterPresent still dispatches normally, just never silently
	// no-ops).
	IsFunctionalTarget func(target uint16) bool

	active []*Connection
}

// NewDispatcher builds a dispatcher over a fixed set of top-level Service
// job nodes (built once at startup, per spec.md §1's no-dynamic-allocation
// non-goal for the tree shape itself — only Connections come and go).
func NewDispatcher(roots []*Job, session *SessionManager, sender Sender, provider docan.MessageProvider, maxResponseLen int, params PendingParameters, now func() uint32) *Dispatcher {
	return &Dispatcher{
		roots:          roots,
		session:        session,
		sender:         sender,
		provider:       provider,
		params:         params,
		now:            now,
		maxResponseLen: maxResponseLen,
	}
}

// MessageProcessed implements [docan.ProcessedListener]: the transport
// layer calls this once a segmented (or single-frame) inbound message has
// finished reassembling. result == ProcessingFailed means the receiver
// could not finish reassembly (e.g. the listener itself rejected a buffer
// overrun) — such messages are dropped, mirroring spec.md §7's "per-message
// errors are fully local" rule.
func (d *Dispatcher) MessageProcessed(msg *docan.TransportMessage, result docan.ProcessingResult) {
	if result != docan.ProcessingSucceeded {
		d.provider.ReleaseTransportMessage(msg)
		return
	}
	request := msg.Payload()
	if len(request) == 0 {
		d.provider.ReleaseTransportMessage(msg)
		return
	}

	pair := docan.NewTransportAddressPair(msg.Source, msg.Target)

	if d.isSuppressedTesterPresent(pair, request) {
		log.Debugf("uds: functional TesterPresent suppressed-response admitted silently from %v", pair)
		d.provider.ReleaseTransportMessage(msg)
		return
	}

	session := d.session.ActiveSession()
	conn := newConnection(d, session, pair, msg)
	conn.open()
	d.active = append(d.active, conn)

	code := dispatchChildren(session, d.roots, conn, request)
	d.settle(conn, request[0], code)
}

// isSuppressedTesterPresent implements spec.md §4.6 step 1: a functionally
// addressed TesterPresent request with suppressPositiveResponse set and no
// session timeout currently armed is consumed with no response and no
// connection created at all.
func (d *Dispatcher) isSuppressedTesterPresent(pair docan.TransportAddressPair, request []byte) bool {
	if d.IsFunctionalTarget == nil || !d.IsFunctionalTarget(pair.Target()) {
		return false
	}
	if len(request) != 2 || request[0] != serviceTesterPresent {
		return false
	}
	if request[1]&0x80 == 0 {
		return false
	}
	return !d.session.IsSessionTimeoutActive()
}

// settle acts on the job tree's verdict for one freshly dispatched request:
// OK with a response already in flight is left alone (the job called
// Send*Response itself); OK with nothing sent means the job intentionally
// left the connection pending (spec.md §4.6: "If a job returns OK without
// having sent a response, the connection waits"); any other code becomes a
// negative response.
func (d *Dispatcher) settle(conn *Connection, serviceID byte, code DiagReturnCode) {
	if conn.terminated {
		d.removeConnection(conn)
		return
	}
	if code == OK {
		// Job returned OK without sending — it is deliberately pending
		// (e.g. waiting on a long-running routine); the response-pending
		// pump (Dispatcher.CyclicTask) will keep the tester alive.
		return
	}
	if code == NotResponsible {
		code = IsoServiceNotSupported
	}
	conn.SendNegativeResponse(serviceID, code, nil)
	if conn.terminated {
		d.removeConnection(conn)
	}
}

func (d *Dispatcher) removeConnection(conn *Connection) {
	for i, c := range d.active {
		if c == conn {
			d.active[i] = d.active[len(d.active)-1]
			d.active = d.active[:len(d.active)-1]
			return
		}
	}
}

// CyclicTask drives the session manager's S3 timeout and every open
// connection's response-pending/global pump (spec.md §4.6). Call
// periodically, faster than InitialPendingTimeoutMs.
func (d *Dispatcher) CyclicTask() {
	d.session.CyclicTask()

	now := d.now()
	kept := d.active[:0]
	for _, conn := range d.active {
		if conn.isOpen() {
			serviceID := byte(0)
			if req := conn.Request(); len(req) > 0 {
				serviceID = req[0]
			} else if conn.sender != nil && len(conn.sender.ImplementedRequest) > 0 {
				serviceID = conn.sender.ImplementedRequest[0]
			}
			conn.tick(now, serviceID)
		}
		if conn.isOpen() {
			kept = append(kept, conn)
		}
	}
	d.active = kept
}
