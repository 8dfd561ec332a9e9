package uds

import "bytes"

// Job is one node of the hierarchical dispatch tree (spec.md §3.9, §4.6):
// an AbstractDiagJob rendered as a plain struct with function-valued hooks
// instead of a virtual-method base class, matching this module's existing
// preference (pkg/receiver, pkg/transmitter) for explicit state plus
// closures over an inheritance hierarchy that Go doesn't have a direct
// equivalent for.
type Job struct {
	// ImplementedRequest is the byte prefix this node matches against
	// request[Offset:Offset+len(ImplementedRequest)] (spec.md §3.9). Every
	// node in this tree matches from Offset 0 — a Service's prefix is its
	// 1-byte service ID, a Subfunction's is the 2-byte (service,
	// subfunction) pair — so dispatch really is "successively longer
	// prefixes of the request" (spec.md §4.6 step 2), not an
	// advancing-pointer walk.
	ImplementedRequest []byte
	Offset              int
	MinRequestLength    int
	SessionMask         SessionMask
	// sessionDeniedCode distinguishes IsoServiceNotSupportedInActiveSession
	// (a Service node) from IsoSubfunctionNotSupportedInActiveSession (a
	// Subfunction node) — see NewService/NewSubfunction.
	sessionDeniedCode DiagReturnCode

	// DefaultReturnCode is returned when every child of this node answers
	// NotResponsible — the original's setDefaultDiagReturnCode(...), e.g.
	// ISO_SUBFUNCTION_NOT_SUPPORTED for a Service that dispatches
	// subfunctions none of which matched, or ISO_REQUEST_OUT_OF_RANGE for
	// ReadDataByIdentifier.
	DefaultReturnCode DiagReturnCode

	Children []*Job

	// Process is the node's own action (§4.6's process()). Nil means "walk
	// Children" (the original's AbstractDiagJob::process default body).
	Process func(conn *Connection, request []byte) DiagReturnCode

	// ResponseSent is the post-hook fired once this job's response has left
	// the wire (ECU reset, session persistence, nested-request bookkeeping).
	ResponseSent func(conn *Connection, result DiagReturnCode)

	// IsTesterPresent marks the TesterPresent leaf so the session manager's
	// AcceptedJob can special-case it (spec.md §4.6, SUPPLEMENTED FEATURES).
	IsTesterPresent bool

	Name string
}

// NewService builds a top-level service node (ServiceId at offset 0),
// mirroring uds::Service's constructor: a 1-byte prefix, no minimum request
// length of its own, defaulting to ISO_SUBFUNCTION_NOT_SUPPORTED when none
// of its subfunction children match (original_source/.../uds/base/Service.cpp).
func NewService(name string, serviceID byte, mask SessionMask) *Job {
	return &Job{
		Name:               name,
		ImplementedRequest: []byte{serviceID},
		Offset:             0,
		MinRequestLength:   1,
		SessionMask:        mask,
		sessionDeniedCode:  IsoServiceNotSupportedInActiveSession,
		DefaultReturnCode:  IsoSubfunctionNotSupported,
	}
}

// NewSubfunction builds a subfunction node (2-byte prefix matched from offset 0),
// mirroring uds::Subfunction's constructor
// (original_source/.../uds/base/Subfunction.cpp): requires at least 2 bytes
// of request before even checking the prefix, so a too-short request
// surfaces ISO_INVALID_FORMAT rather than NOT_RESPONSIBLE.
func NewSubfunction(name string, serviceID, subfunction byte, mask SessionMask) *Job {
	return &Job{
		Name:               name,
		ImplementedRequest: []byte{serviceID, subfunction},
		Offset:             0, // successively-longer prefix from byte 0 (spec.md §4.6 step 2)
		MinRequestLength:   2,
		SessionMask:        mask,
		sessionDeniedCode:  IsoSubfunctionNotSupportedInActiveSession,
		DefaultReturnCode:  NotResponsible,
	}
}

// Verify mirrors Service::verify / Subfunction::verify: length check, then
// prefix match (NOT_RESPONSIBLE on mismatch, the internal "keep walking"
// signal), then session-mask gate.
func (j *Job) Verify(session Session, request []byte) DiagReturnCode {
	if len(request) < j.MinRequestLength {
		return IsoInvalidFormat
	}
	end := j.Offset + len(j.ImplementedRequest)
	if len(request) < end {
		return NotResponsible
	}
	if !prefixMatches(request[j.Offset:end], j.ImplementedRequest) {
		return NotResponsible
	}
	if !j.SessionMask.Match(session) {
		return j.sessionDeniedCode
	}
	return OK
}

// prefixMatches compares a candidate prefix against a Job's
// ImplementedRequest. The suppressPositiveResponse bit (0x80) that ISO
// 14229 overlays on every subfunction byte is masked out of the final byte
// before comparing, mirroring the effect of Subfunction::verify's
// request[0] comparison in the original — there, the bit is stripped
// earlier by the caller; here, since every node matches against the
// unsliced request from offset 0, the mask is applied at the last byte of
// a >1-byte prefix instead.
func prefixMatches(got, want []byte) bool {
	if len(got) != len(want) {
		return false
	}
	if len(want) <= 1 {
		return bytes.Equal(got, want)
	}
	n := len(want) - 1
	if !bytes.Equal(got[:n], want[:n]) {
		return false
	}
	return got[n]&0x7F == want[n]&0x7F
}

// execute is verify+process for a single node (§4.6). It does not itself
// apply the "best code so far" ranking across siblings — that is
// dispatchChildren's job, since a single node's own code is always either
// NotResponsible (try the next sibling) or a final verdict for this node.
func (j *Job) execute(session Session, conn *Connection, request []byte) DiagReturnCode {
	code := j.Verify(session, request)
	if code != OK {
		return code
	}
	// A verified node is "responsible" for this request: tell the session
	// manager so it can stop the S3 timeout for the duration of the job,
	// even if the job itself turns out to be an inner node that just walks
	// further into Children (spec.md's acceptedJob SUPPLEMENTED FEATURE).
	if conn != nil && conn.dispatcher != nil {
		conn.dispatcher.session.AcceptedJob(j)
	}
	return j.process(session, conn, request)
}

func (j *Job) process(session Session, conn *Connection, request []byte) DiagReturnCode {
	if j.Process != nil {
		return j.Process(conn, request)
	}
	if len(j.Children) == 0 {
		return j.DefaultReturnCode
	}
	code := dispatchChildren(session, j.Children, conn, request)
	if code == NotResponsible {
		return j.DefaultReturnCode
	}
	return code
}

// fireResponseSent calls this job's ResponseSent hook, if any, after a
// response (positive or negative) has actually left the wire.
func (j *Job) fireResponseSent(conn *Connection, result DiagReturnCode) {
	if j.ResponseSent != nil {
		j.ResponseSent(conn, result)
	}
}

// dispatchChildren is the tree-walk algorithm of spec.md §4.6 step 2: try
// each child in order; NOT_RESPONSIBLE means "not this one, try the next";
// any other code (OK or a negative response code) is this level's verdict
// and the walk stops there. rank() (codes.go) exists to let a *caller*
// compare verdicts bubbling up from different branches of a larger tree;
// within one sibling list the first non-NOT_RESPONSIBLE answer always wins,
// which is what "overrides ... and halts" in the spec means operationally.
func dispatchChildren(session Session, children []*Job, conn *Connection, request []byte) DiagReturnCode {
	for _, child := range children {
		code := child.execute(session, conn, request)
		if code != NotResponsible {
			return code
		}
	}
	return NotResponsible
}
