package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/vitalwire/docan/pkg/uds"
)

// identificationDID is a read-only demo data identifier this binary
// answers with a fixed string, just enough to exercise
// ReadDataByIdentifier end to end.
const identificationDID = 0xF190

var identificationValue = []byte("docanuds-demo-ecu")

// readDID implements [uds.DataIdentifierReader] over the one DID this
// demo knows about.
func readDID(did uint16) ([]byte, uds.DiagReturnCode) {
	if did != identificationDID {
		return nil, uds.IsoRequestOutOfRange
	}
	return identificationValue, uds.OK
}

// runRoutine implements [uds.RoutineHandler]: a single no-op routine that
// always reports "completed", exercising RoutineControl's start/stop/
// requestResults shape without any real actuator behind it.
func runRoutine(subfunction byte, routineID uint16, params []byte) ([]byte, uds.DiagReturnCode) {
	if routineID != 0x0203 {
		return nil, uds.IsoRequestOutOfRange
	}
	log.Debugf("docanuds: routine 0x%04X subfunction 0x%02X params=%x", routineID, subfunction, params)
	return []byte{0x00}, uds.OK // 0x00: routine completed, no faults
}

// buildJobTree assembles the fixed set of top-level services this demo
// answers, following the teacher's build-the-tree-once-at-startup shape —
// no job is ever added or removed once the dispatcher is running.
func buildJobTree(sessionManager *uds.SessionManager) []*uds.Job {
	lifecycle := processLifecycle{}

	ecuReset := uds.NewECUResetService(
		uds.NewHardResetSubfunction(lifecycle),
		uds.NewSoftResetSubfunction(lifecycle),
		uds.NewEnableRapidPowerShutdownSubfunction(),
		uds.NewPowerDownSubfunction(lifecycle),
	)

	onCommunicationChange := func(ct uds.CommunicationType) {
		log.Infof("docanuds: communication control subState=0x%02X enable=%v scoped=%v node=0x%02X",
			ct.SubState, ct.Enable, ct.Scoped, ct.NodeID)
	}

	return []*uds.Job{
		uds.NewSessionControlService(sessionManager),
		uds.NewTesterPresentService(),
		ecuReset,
		uds.NewCommunicationControlService(uds.AllSessions, onCommunicationChange),
		uds.NewControlDTCSettingService(),
		uds.NewRoutineControlService(runRoutine),
		// NewMultipleReadDataByIdentifierService already answers the
		// single-DID case (request length 3), so it alone covers 0x22 —
		// registering NewReadDataByIdentifierService too would double-root
		// the same service ID.
		uds.NewMultipleReadDataByIdentifierService(readDID),
		uds.NewSecurityAccessService(uds.NewSessionMask(uds.SessionExtended, uds.SessionProgramming)),
	}
}
