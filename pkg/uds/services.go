package uds

import log "github.com/sirupsen/logrus"

// Service IDs used by the concrete jobs below (ISO 14229-1 Table 1),
// mirroring original_source's uds::ServiceId enum.
const (
	ServiceDiagnosticSessionControl byte = 0x10
	ServiceECUReset                 byte = 0x11
	ServiceSecurityAccess           byte = 0x27
	ServiceCommunicationControl     byte = 0x28
	ServiceTesterPresent            byte = serviceTesterPresent
	ServiceControlDTCSetting        byte = 0x85
	ServiceRoutineControl           byte = 0x31
	ServiceReadDataByIdentifier     byte = 0x22
)

// ECUReset subfunction IDs.
const (
	SubfunctionHardReset                 byte = 0x01
	SubfunctionSoftReset                 byte = 0x03
	SubfunctionEnableRapidPowerShutdown   byte = 0x04
	SubfunctionPowerDown                 byte = 0x41
)

// RoutineControl subfunction IDs (RoutineControl::Subfunction).
const (
	SubfunctionStartRoutine      byte = 0x01
	SubfunctionStopRoutine       byte = 0x02
	SubfunctionRequestRoutineResults byte = 0x03
)

// DiagnosticSessionControl response times, appended after the session byte
// in the positive response (ISO 14229-1 §9.3.1): P2 server max response
// time and P2* enhanced (extended) response time, both in 10ms units for
// the second value per the standard's encoding — kept as plain big-endian
// uint16 milliseconds here, matching original_source's appendUint16 calls.
const (
	defaultDiagResponseTimeMs    uint16 = 50
	defaultDiagResponsePendingMs uint16 = 5000
	extendedDiagResponsePendingMs uint16 = 50000
)

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// NewSessionControlService builds the DiagnosticSessionControl (0x10) job:
// validates the requested session transition through sm, appends the P2/P2*
// timing pair, and switches the session. Mirrors
// original_source's DiagnosticSessionControl::process, flattened into one
// Process func since the original doesn't actually dispatch subfunctions
// through child Subfunction nodes — it switches on request[0] directly.
func NewSessionControlService(sm *SessionManager) *Job {
	job := NewService("DiagnosticSessionControl", ServiceDiagnosticSessionControl, AllSessions)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) != 2 {
			return IsoInvalidFormat
		}
		suppress := request[1]&0x80 != 0
		requested := Session(request[1] & 0x7F)
		code := sm.RequestTransition(requested)
		if code != OK {
			return code
		}

		if suppress {
			conn.SuppressPositiveResponse()
		}
		if !conn.AppendResponse(byte(requested)) {
			return IsoResponseTooLong
		}
		if requested == SessionProgramming {
			conn.AppendResponse(appendUint16(nil, defaultDiagResponseTimeMs)...)
			conn.AppendResponse(appendUint16(nil, extendedDiagResponsePendingMs)...)
		} else {
			conn.AppendResponse(appendUint16(nil, defaultDiagResponseTimeMs)...)
			conn.AppendResponse(appendUint16(nil, defaultDiagResponsePendingMs)...)
		}
		return conn.SendPositiveResponse(job)
	}
	job.ResponseSent = func(conn *Connection, result DiagReturnCode) {
		sm.PersistAndRestoreSession()
	}
	return job
}

// NewTesterPresentService builds the TesterPresent (0x3E) leaf: accepts
// only subfunction 0x00 and echoes it back, mirroring
// original_source's TesterPresent::process exactly. When the request's top
// bit is set, this job itself calls SuppressPositiveResponse on the
// connection.
func NewTesterPresentService() *Job {
	job := NewSubfunction("TesterPresent", ServiceTesterPresent, 0x00, AllSessions)
	job.IsTesterPresent = true
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if request[1]&0x7F != 0x00 {
			return IsoSubfunctionNotSupported
		}
		if request[1]&0x80 != 0 {
			conn.SuppressPositiveResponse()
		}
		conn.AppendResponse(request[1] & 0x7F)
		return conn.SendPositiveResponse(job)
	}
	return job
}

// NewECUResetService builds the ECUReset (0x11) parent node over the given
// subfunction leaves (typically NewHardResetSubfunction,
// NewSoftResetSubfunction, NewEnableRapidPowerShutdownSubfunction,
// NewPowerDownSubfunction), mirroring Service::Service + addChild wiring in
// original_source's DiagDispatcher construction code.
func NewECUResetService(children ...*Job) *Job {
	job := NewService("ECUReset", ServiceECUReset, AllSessions)
	job.Children = children
	return job
}

// NewHardResetSubfunction builds ECUReset's HardReset (0x11 0x01) leaf:
// refuses if lifecycle reports a mode change isn't currently possible,
// otherwise answers and requests a hard reset once the response has
// actually left the wire (original_source's HardReset.cpp).
func NewHardResetSubfunction(lifecycle LifecycleConnector) *Job {
	job := NewSubfunction("HardReset", ServiceECUReset, SubfunctionHardReset, AllSessions)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if lifecycle != nil && !lifecycle.ModeChangePossible() {
			return IsoConditionsNotCorrect
		}
		conn.AppendResponse(request[1] & 0x7F)
		return conn.SendPositiveResponse(job)
	}
	job.ResponseSent = func(conn *Connection, result DiagReturnCode) {
		if lifecycle != nil {
			lifecycle.RequestShutdown(true)
		}
	}
	return job
}

// NewSoftResetSubfunction builds ECUReset's SoftReset (0x11 0x03) leaf: same
// admission rule as HardReset but requests an application-only restart.
func NewSoftResetSubfunction(lifecycle LifecycleConnector) *Job {
	job := NewSubfunction("SoftReset", ServiceECUReset, SubfunctionSoftReset, AllSessions)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if lifecycle != nil && !lifecycle.ModeChangePossible() {
			return IsoConditionsNotCorrect
		}
		conn.AppendResponse(request[1] & 0x7F)
		return conn.SendPositiveResponse(job)
	}
	job.ResponseSent = func(conn *Connection, result DiagReturnCode) {
		if lifecycle != nil {
			lifecycle.RequestShutdown(false)
		}
	}
	return job
}

// NewEnableRapidPowerShutdownSubfunction builds ECUReset's 0x04 leaf. The
// positive response carries the power-down time in seconds; 0xFF means
// "unavailable", matching ISO 14229-1's powerDownTime special value since
// this module doesn't model an actual shutdown timer.
func NewEnableRapidPowerShutdownSubfunction() *Job {
	job := NewSubfunction("EnableRapidPowerShutdown", ServiceECUReset, SubfunctionEnableRapidPowerShutdown, AllSessions)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		conn.AppendResponse(0xFF)
		return conn.SendPositiveResponse(job)
	}
	return job
}

// NewPowerDownSubfunction builds the PowerDown (0x11 0x41) response to a
// rapid-power-shutdown-enabled reset, suppressing its own positive response
// since the tester never solicits it directly in this flow.
func NewPowerDownSubfunction(lifecycle LifecycleConnector) *Job {
	job := NewSubfunction("PowerDown", ServiceECUReset, SubfunctionPowerDown, AllSessions)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		conn.SuppressPositiveResponse()
		conn.AppendResponse(request[1] & 0x7F)
		return conn.SendPositiveResponse(job)
	}
	job.ResponseSent = func(conn *Connection, result DiagReturnCode) {
		if lifecycle != nil {
			lifecycle.RequestShutdown(false)
		}
	}
	return job
}

// CommunicationType classifies a CommunicationControl request (spec.md's
// SUPPLEMENTED FEATURES): control types 0x00-0x03 disable/enable
// transmission on every node; control types 0x04/0x05 are themselves the
// enhanced-address form (not a flag bit on 0x00-0x03) and carry a trailing
// node-id byte scoping the change to one node.
type CommunicationType struct {
	Enable   bool
	SubState byte
	NodeID   byte
	Scoped   bool
}

// CommunicationStateListener is notified of every CommunicationControl
// change (mirrors ICommunicationStateListener).
type CommunicationStateListener func(ct CommunicationType)

// NewCommunicationControlService builds the CommunicationControl (0x28)
// job. Grounded on original_source's CommunicationControl.cpp: controlType
// is the request's own value, not a flag bit — 0x04 and 0x05 are
// themselves the enhanced-address control types
// (ENABLE_RX_AND_DISABLE_TX_WITH_ENHANCED_ADDRESS_INFORMATION and
// ENABLE_RX_AND_TX_WITH_ENHANCED_ADDRESS_INFORMATION), carrying a trailing
// node id byte and requiring a 4-byte request instead of 3.
func NewCommunicationControlService(mask SessionMask, onChange CommunicationStateListener) *Job {
	job := NewService("CommunicationControl", ServiceCommunicationControl, mask)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) < 3 {
			return IsoInvalidFormat
		}
		suppress := request[1]&0x80 != 0
		controlType := request[1] & 0x7F
		enhanced := controlType == 0x04 || controlType == 0x05
		ct := CommunicationType{SubState: controlType}
		if suppress {
			conn.SuppressPositiveResponse()
		}

		switch controlType {
		case 0x00, 0x01, 0x04:
			ct.Enable = false
		case 0x02, 0x03, 0x05:
			ct.Enable = true
		default:
			return IsoSubfunctionNotSupported
		}

		if enhanced {
			if len(request) != 4 {
				return IsoInvalidFormat
			}
			ct.Scoped = true
			ct.NodeID = request[3]
		} else if len(request) != 3 {
			return IsoInvalidFormat
		}

		log.Debugf("uds: CommunicationControl controlType=0x%02X enhanced=%v", controlType, enhanced)
		if onChange != nil {
			onChange(ct)
		}

		conn.AppendResponse(controlType)
		return conn.SendPositiveResponse(job)
	}
	return job
}

// NewControlDTCSettingService builds the ControlDTCSetting (0x85) job,
// restricted to the extended and programming sessions per original_source's
// ControlDTCSetting.cpp. DTC creation on/off is acknowledged but left to an
// external fault-memory collaborator — this module carries none.
func NewControlDTCSettingService() *Job {
	job := NewService("ControlDTCSetting", ServiceControlDTCSetting, NewSessionMask(SessionExtended, SessionProgramming))
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) != 2 {
			return IsoInvalidFormat
		}
		if request[1]&0x80 != 0 {
			conn.SuppressPositiveResponse()
		}
		dtcSettingType := request[1] & 0x7F
		switch dtcSettingType {
		case 0x01, 0x02:
		default:
			return IsoSubfunctionNotSupported
		}
		conn.AppendResponse(dtcSettingType)
		return conn.SendPositiveResponse(job)
	}
	return job
}

// RoutineHandler runs one routine identified by routineID and subfunction
// (start/stop/requestResults), returning the routine-status record to
// append after the echoed identifier, or an ISO negative code.
type RoutineHandler func(subfunction byte, routineID uint16, params []byte) ([]byte, DiagReturnCode)

// NewRoutineControlService builds the RoutineControl (0x31) job: validates
// the fixed `sf, ridHi, ridLo [, params...]` shape
// (original_source's RoutineControl::verify requires at least 4 bytes) and
// delegates to handler, which owns the actual per-routine logic this module
// has no domain knowledge of.
func NewRoutineControlService(handler RoutineHandler) *Job {
	job := NewService("RoutineControl", ServiceRoutineControl, AllSessions)
	job.DefaultReturnCode = IsoSubfunctionNotSupported
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) < 4 {
			return IsoInvalidFormat
		}
		subfunction := request[1]
		switch subfunction {
		case SubfunctionStartRoutine, SubfunctionStopRoutine, SubfunctionRequestRoutineResults:
		default:
			return IsoSubfunctionNotSupported
		}
		routineID := uint16(request[2])<<8 | uint16(request[3])
		if handler == nil {
			return IsoRequestOutOfRange
		}
		status, code := handler(subfunction, routineID, request[4:])
		if code != OK {
			return code
		}
		conn.AppendResponse(subfunction, request[2], request[3])
		conn.AppendResponse(status...)
		return conn.SendPositiveResponse(job)
	}
	return job
}

// DataIdentifierReader resolves one 2-byte DID to its data, or reports it
// doesn't exist / isn't currently readable.
type DataIdentifierReader func(did uint16) (data []byte, code DiagReturnCode)

// NewReadDataByIdentifierService builds the single-DID ReadDataByIdentifier
// (0x22) leaf (original_source's ReadDataByIdentifier.cpp): exactly 3 bytes
// (service + 2-byte DID), default return code ISO_REQUEST_OUT_OF_RANGE when
// the DID is unknown.
func NewReadDataByIdentifierService(read DataIdentifierReader) *Job {
	job := NewService("ReadDataByIdentifier", ServiceReadDataByIdentifier, AllSessions)
	job.DefaultReturnCode = IsoRequestOutOfRange
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) != 3 {
			return IsoInvalidFormat
		}
		if code := readOneDID(conn, read, request); code != OK {
			return code
		}
		return conn.SendPositiveResponse(job)
	}
	return job
}

// readOneDID resolves and appends a single DID's data to the response
// already under construction; it never itself submits the response, so it
// is safe to call both as the terminal step of a single-DID request and as
// one step of a nested multi-DID walk.
func readOneDID(conn *Connection, read DataIdentifierReader, request []byte) DiagReturnCode {
	did := uint16(request[1])<<8 | uint16(request[2])
	if read == nil {
		return IsoRequestOutOfRange
	}
	data, code := read(did)
	if code != OK {
		return code
	}
	conn.AppendResponse(request[1], request[2])
	conn.AppendResponse(data...)
	return OK
}

// NewMultipleReadDataByIdentifierService builds the nested-request variant
// that answers one ReadDataByIdentifier carrying N DIDs
// (original_source's MultipleReadDataByIdentifier.cpp), folding each DID's
// lookup through [Connection.RunNestedRequest] with [DefaultCombine]. Its
// single child (didJob) is dispatched once per 2-byte DID chunk of the
// tail and only appends to the shared response buffer — submitting the
// combined response is this service's job alone, once the whole tail has
// been walked.
func NewMultipleReadDataByIdentifierService(read DataIdentifierReader) *Job {
	didJob := &Job{
		Name:               "did",
		ImplementedRequest: []byte{ServiceReadDataByIdentifier},
		Offset:             0,
		MinRequestLength:   3,
		SessionMask:        AllSessions,
		sessionDeniedCode:  IsoServiceNotSupportedInActiveSession,
		DefaultReturnCode:  IsoRequestOutOfRange,
	}
	didJob.Process = func(conn *Connection, request []byte) DiagReturnCode {
		return readOneDID(conn, read, request)
	}

	job := NewService("MultipleReadDataByIdentifier", ServiceReadDataByIdentifier, AllSessions)
	job.DefaultReturnCode = IsoRequestOutOfRange
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		if len(request) < 3 || (len(request)-1)%2 != 0 {
			return IsoInvalidFormat
		}
		conn.ReleaseRequestGetResponse()
		if len(request) == 3 {
			if code := readOneDID(conn, read, request); code != OK {
				return code
			}
			return conn.SendPositiveResponse(job)
		}
		code := conn.RunNestedRequest(job, didJob, ServiceReadDataByIdentifier, request[1:], 2, DefaultCombine)
		if code != OK {
			return code
		}
		return conn.SendPositiveResponse(job)
	}
	return job
}

// NewSecurityAccessService builds a minimal SecurityAccess (0x27) stub
// (SPEC_FULL.md's SUPPLEMENTED FEATURES): tracks no seed/key state of its
// own, always denying access, since original_source's SecurityAccess.cpp
// delegates the actual seed/key algorithm to a per-ECU subclass this module
// has no equivalent domain knowledge to reproduce.
func NewSecurityAccessService(mask SessionMask) *Job {
	job := NewService("SecurityAccess", ServiceSecurityAccess, mask)
	job.Process = func(conn *Connection, request []byte) DiagReturnCode {
		return IsoSecurityAccessDenied
	}
	return job
}
