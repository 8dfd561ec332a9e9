package uds

import (
	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan"
)

// Sender is the subset of pkg/transport.Layer the UDS core needs to submit
// an outbound response — the role transport::AbstractTransportLayer plays
// for original_source/.../uds/connection/IncomingDiagConnection.h.
type Sender interface {
	Send(pair docan.TransportAddressPair, msg *docan.TransportMessage, listener docan.ProcessedListener) error
}

// negativeResponseLength is the fixed length of a `7F <sid> <nrc>` PDU
// (spec.md §6.2).
const negativeResponseLength = 3

// Connection is one incoming diagnostic request's lifecycle — the
// "IncomingDiagConnection" of spec.md §4.6: response buffer, response-
// pending pump, nested-request state. It implements
// [docan.ProcessedListener] so the transport layer can tell it once the
// outbound response has actually left the wire.
type Connection struct {
	dispatcher *Dispatcher
	session    Session

	pair              docan.TransportAddressPair
	requestMsg        *docan.TransportMessage
	requestServiceID  byte

	response    *docan.TransportMessage
	released    bool
	suppressPos bool

	pendingArmed      bool
	pendingDeadline   uint32
	pendingIntervalMs uint32
	pendingSent       bool

	globalArmed    bool
	globalDeadline uint32

	sender        *Job
	outstanding   int
	terminated    bool
	pendingResult DiagReturnCode

	nested *nestedRequest
}

func newConnection(d *Dispatcher, session Session, pair docan.TransportAddressPair, msg *docan.TransportMessage) *Connection {
	var serviceID byte
	if payload := msg.Payload(); len(payload) > 0 {
		serviceID = payload[0]
	}
	return &Connection{
		dispatcher:        d,
		session:           session,
		pair:              pair,
		requestMsg:        msg,
		requestServiceID:  serviceID,
		pendingIntervalMs: d.params.InitialPendingTimeoutMs,
	}
}

// open arms the global timeout and, unless the job ultimately answers
// synchronously, the response-pending timeout — called once dispatch of the
// initial request has started (IncomingDiagConnection::open).
func (c *Connection) open() {
	c.globalDeadline = c.dispatcher.now() + c.dispatcher.params.GlobalPendingTimeoutMs
	c.globalArmed = true
	c.armPending()
}

func (c *Connection) armPending() {
	c.pendingDeadline = c.dispatcher.now() + c.pendingIntervalMs
	c.pendingArmed = true
}

// SuppressPositiveResponse disables sending of positive responses for this
// request (TesterPresent's suppressPositiveResponse bit, spec.md §6.2).
func (c *Connection) SuppressPositiveResponse() { c.suppressPos = true }

// Request returns the reassembled inbound payload.
func (c *Connection) Request() []byte {
	if c.requestMsg == nil {
		return nil
	}
	return c.requestMsg.Payload()
}

// ReleaseRequestGetResponse returns the incoming request's buffer to the
// provider and switches the connection into response-building mode,
// allocating the response [docan.TransportMessage] on first call — mirrors
// IncomingDiagConnection::releaseRequestGetResponse.
func (c *Connection) ReleaseRequestGetResponse() *docan.TransportMessage {
	if c.released {
		return c.response
	}
	c.released = true
	if c.requestMsg != nil {
		c.dispatcher.provider.ReleaseTransportMessage(c.requestMsg)
		c.requestMsg = nil
	}
	msg, ok := c.dispatcher.provider.ProvideTransportMessage(docan.MessageSize(c.dispatcher.maxResponseLen))
	if !ok {
		log.Errorf("uds: no buffer available to build response on %v", c.pair)
		return nil
	}
	msg.Source = c.pair.Target()
	msg.Target = c.pair.Source()
	msg.Append([]byte{c.requestServiceID | 0x40})
	c.response = msg
	return msg
}

// AppendResponse appends bytes to the response being built, returning false
// if the response buffer would overflow (mirrors PositiveResponse's bounds
// check).
func (c *Connection) AppendResponse(data ...byte) bool {
	if c.response == nil {
		c.ReleaseRequestGetResponse()
	}
	if c.response == nil {
		return false
	}
	return c.response.Append(data)
}

// SendPositiveResponse submits the response built so far, unless
// SuppressPositiveResponse was called, in which case the connection
// terminates without putting anything on the wire — mirrors
// IncomingDiagConnection::sendPositiveResponse.
func (c *Connection) SendPositiveResponse(job *Job) DiagReturnCode {
	if c.response == nil {
		c.ReleaseRequestGetResponse()
	}
	c.sender = job
	if c.suppressPos {
		c.finish(OK)
		return OK
	}
	return c.submit(c.response, OK)
}

// SendNegativeResponse builds and submits a `7F <sid> <nrc>` PDU. code ==
// IsoResponsePending is the keep-alive pump's own path (sendResponsePending)
// and does not terminate the connection.
func (c *Connection) SendNegativeResponse(serviceID byte, code DiagReturnCode, job *Job) DiagReturnCode {
	msg, ok := c.dispatcher.provider.ProvideTransportMessage(negativeResponseLength)
	if !ok {
		log.Errorf("uds: no buffer available to send negative response on %v", c.pair)
		c.finish(code)
		return code
	}
	msg.Source = c.pair.Target()
	msg.Target = c.pair.Source()
	msg.Append([]byte{0x7F, serviceID, byte(code)})

	c.sender = job
	return c.submit(msg, code)
}

// sendResponsePending emits the 0x78 keep-alive and rearms the pending
// timer at DefaultPendingTimeoutMs (spec.md §4.6), without terminating the
// connection — driven by Dispatcher.CyclicTask, not by a job.
func (c *Connection) sendResponsePending(serviceID byte) {
	msg, ok := c.dispatcher.provider.ProvideTransportMessage(negativeResponseLength)
	if !ok {
		return
	}
	msg.Source = c.pair.Target()
	msg.Target = c.pair.Source()
	msg.Append([]byte{0x7F, serviceID, byte(IsoResponsePending)})
	c.pendingSent = true
	c.pendingIntervalMs = c.dispatcher.params.DefaultPendingTimeoutMs
	c.armPending()
	c.outstanding++
	if err := c.dispatcher.sender.Send(c.pair.Invert(), msg, pendingSentListener{c}); err != nil {
		log.Warnf("uds: failed to send response-pending on %v: %v", c.pair, err)
		c.outstanding--
	}
}

// pendingSentListener only decrements the outstanding-callback count; a
// response-pending keep-alive never drives ResponseSent/terminate.
type pendingSentListener struct{ c *Connection }

func (p pendingSentListener) MessageProcessed(msg *docan.TransportMessage, result docan.ProcessingResult) {
	p.c.outstanding--
	p.c.dispatcher.provider.ReleaseTransportMessage(msg)
}

func (c *Connection) submit(msg *docan.TransportMessage, code DiagReturnCode) DiagReturnCode {
	c.outstanding++
	if err := c.dispatcher.sender.Send(c.pair.Invert(), msg, c); err != nil {
		log.Warnf("uds: failed to send response on %v: %v", c.pair, err)
		c.outstanding--
		c.finish(code)
		return code
	}
	c.pendingResult = code
	return code
}

// MessageProcessed implements [docan.ProcessedListener]: once the final
// response has actually left the wire, fire the session manager's and
// job's responseSent hooks and terminate. Mirrors
// IncomingDiagConnection::transportMessageProcessed.
func (c *Connection) MessageProcessed(msg *docan.TransportMessage, result docan.ProcessingResult) {
	c.outstanding--
	c.dispatcher.provider.ReleaseTransportMessage(msg)
	if c.outstanding > 0 {
		return
	}
	c.finish(c.pendingResult)
}

func (c *Connection) finish(code DiagReturnCode) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.dispatcher.session.ResponseSent(code)
	if c.sender != nil {
		c.sender.fireResponseSent(c, code)
	}
	c.pendingArmed = false
	c.globalArmed = false
}

// isOpen reports whether the connection still needs CyclicTask pumping.
func (c *Connection) isOpen() bool { return !c.terminated }

// tick drives the response-pending and global timeouts for one connection
// (Dispatcher.CyclicTask calls this for every connection it still tracks).
// serviceID is needed to build the `7F <sid> 78` keep-alive PDU.
func (c *Connection) tick(now uint32, serviceID byte) {
	if c.terminated {
		return
	}
	if c.globalArmed && int32(now-c.globalDeadline) >= 0 {
		log.Warnf("uds: global pending timeout on %v, forcing termination", c.pair)
		c.finish(IsoGeneralReject)
		return
	}
	if c.pendingArmed && int32(now-c.pendingDeadline) >= 0 {
		c.sendResponsePending(serviceID)
	}
}
