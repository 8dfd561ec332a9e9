// Package uds implements the ISO 14229 diagnostic dispatch core (the "C9"
// component, spec.md §4.6): a job tree walked against an incoming request,
// a session manager gating which jobs are reachable, and a response-pending
// pump (IncomingDiagConnection) that keeps the tester alive while a job
// works. It sits on top of pkg/transport/pkg/receiver's reassembled
// [docan.TransportMessage]s and sends responses back through the same
// facade.
package uds

import "fmt"

// DiagReturnCode is the job tree's result type: either OK, the internal
// dispatch signal NotResponsible, or one of the ISO 14229 negative response
// codes. Modeled on the teacher's CANopenError/SDOAbortCode pattern
// (docan.Error, pkg/sdo/common.go's SDOAbortCode): an integer newtype with
// an Error() method and a description lookup table.
type DiagReturnCode uint8

const (
	// OK means the job handled the request; a positive response has been
	// sent or the job intentionally left the connection pending.
	OK DiagReturnCode = 0x00

	// NotResponsible is never placed on the wire: it means "this node's
	// prefix didn't match, keep walking the tree" (spec.md §4.6 step 2).
	NotResponsible DiagReturnCode = 0xFF

	IsoGeneralReject                         DiagReturnCode = 0x10
	IsoServiceNotSupported                   DiagReturnCode = 0x11
	IsoSubfunctionNotSupported                DiagReturnCode = 0x12
	IsoInvalidFormat                         DiagReturnCode = 0x13
	IsoResponseTooLong                       DiagReturnCode = 0x14
	IsoConditionsNotCorrect                  DiagReturnCode = 0x22
	IsoRequestOutOfRange                     DiagReturnCode = 0x31
	IsoSecurityAccessDenied                  DiagReturnCode = 0x33
	IsoGeneralProgrammingFailure              DiagReturnCode = 0x72
	IsoSubfunctionNotSupportedInActiveSession DiagReturnCode = 0x7E
	IsoServiceNotSupportedInActiveSession     DiagReturnCode = 0x7F

	// IsoResponsePending (NRC 0x78) is the response-pending keep-alive sent
	// by the connection's pump, never returned by a job directly.
	IsoResponsePending DiagReturnCode = 0x78
)

var diagReturnCodeDescriptions = map[DiagReturnCode]string{
	OK:                                        "request handled",
	NotResponsible:                            "no matching job (internal dispatch signal)",
	IsoGeneralReject:                          "general reject",
	IsoServiceNotSupported:                    "service not supported",
	IsoSubfunctionNotSupported:                 "subfunction not supported",
	IsoInvalidFormat:                          "incorrect message length or invalid format",
	IsoResponseTooLong:                        "response too long",
	IsoConditionsNotCorrect:                   "conditions not correct",
	IsoRequestOutOfRange:                      "request out of range",
	IsoSecurityAccessDenied:                   "security access denied",
	IsoGeneralProgrammingFailure:               "general programming failure",
	IsoSubfunctionNotSupportedInActiveSession:  "subfunction not supported in active session",
	IsoServiceNotSupportedInActiveSession:      "service not supported in active session",
	IsoResponsePending:                        "request correctly received, response pending",
}

func (c DiagReturnCode) Error() string {
	if d, ok := diagReturnCodeDescriptions[c]; ok {
		return d
	}
	return fmt.Sprintf("uds: unknown diag return code 0x%02X", uint8(c))
}

// rank orders negative codes from weakest to strongest: a smaller rank is a
// weaker, more-overridable signal. NotResponsible is weakest; codes absent
// from this table (including OK) rank highest. The dispatch walk
// (dispatchChildren) does not consult it: it stops at the first child code
// other than NotResponsible.
var codeRank = map[DiagReturnCode]int{
	NotResponsible:                             0,
	IsoSubfunctionNotSupported:                 1,
	IsoSubfunctionNotSupportedInActiveSession:  2,
	IsoServiceNotSupportedInActiveSession:      2,
	IsoServiceNotSupported:                     3,
	IsoInvalidFormat:                           4,
	IsoRequestOutOfRange:                       5,
}

func rank(c DiagReturnCode) int {
	if r, ok := codeRank[c]; ok {
		return r
	}
	return len(codeRank) + 1
}
