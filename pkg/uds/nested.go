package uds

// CombineFunc decides, for one nested step's result code, whether to keep
// walking (true) and what the connection's overall combined response code
// should become. Mirrors MultipleReadDataByIdentifier::defaultCheckResponse
// (original_source/.../uds/services/readdata/MultipleReadDataByIdentifier.cpp):
// the default tolerates NotResponsible and IsoRequestOutOfRange (a DID that
// doesn't exist is simply omitted from the combined positive response) and
// otherwise adopts the nested code as the combined one.
type CombineFunc func(code, combined DiagReturnCode) (keepWalking bool, newCombined DiagReturnCode)

// DefaultCombine implements the original's defaultCheckResponse exactly:
// a DID that doesn't exist (NotResponsible/IsoRequestOutOfRange) is
// tolerated and leaves the running combined code untouched; any other code
// becomes the new combined code, and only OK keeps the walk going.
func DefaultCombine(code, combined DiagReturnCode) (bool, DiagReturnCode) {
	if code == NotResponsible || code == IsoRequestOutOfRange {
		return true, combined
	}
	return code == OK, code
}

// nestedRequest holds the bookkeeping for one in-progress nested dispatch
// (spec.md §4.6's "Nested request"): the remaining tail of the stored
// request and the combined response code accumulated so far.
type nestedRequest struct {
	tail     []byte
	stepSize int
	combined DiagReturnCode
}

// RunNestedRequest drives spec.md §4.6's nested-request loop synchronously:
// consume stepSize bytes of tail at a time, dispatch each chunk (prefixed by
// prefix, typically the service ID byte) against child, and fold the result
// through combine. This module renders the original's async, one-step-per-
// triggerNextNestedRequest state machine as a single synchronous loop —
// there is no cooperative-multitasking context to yield to in this port
// (spec.md §5: "the task never yields mid-state-machine"), so the entire
// nested sweep completes before RunNestedRequest returns.
func (c *Connection) RunNestedRequest(job *Job, child *Job, prefix byte, tail []byte, stepSize int, combine CombineFunc) DiagReturnCode {
	if combine == nil {
		combine = DefaultCombine
	}
	combined := IsoRequestOutOfRange
	scratch := make([]byte, 0, stepSize+1)
	for len(tail) >= stepSize {
		chunk := tail[:stepSize]
		tail = tail[stepSize:]

		scratch = append(scratch[:0], prefix)
		scratch = append(scratch, chunk...)

		code := child.execute(c.session, c, scratch)
		keepWalking, newCombined := combine(code, combined)
		combined = newCombined
		if !keepWalking {
			return combined
		}
	}
	return combined
}
