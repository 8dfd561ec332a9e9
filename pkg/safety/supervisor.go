package safety

import log "github.com/sirupsen/logrus"

// Supervisor is SafeSupervisor rendered without the original's function-
// local singleton: callers construct one (typically once, at startup) and
// thread it through Manager/Watchdog explicitly instead of reaching a
// getInstance().
type Supervisor struct {
	limpHome bool

	// OnReset is called once handle has latched limpHome — the process-wide
	// "reset the MCU" the original leaves as a trailing comment in
	// SafeSupervisor::handle. Nil is a valid, if inert, choice for hosts
	// that have nowhere to reset to (e.g. unit tests).
	OnReset func()

	ManagerSequence     *SequenceMonitor
	WatchdogStartupCheck *TriggerMonitor
	WatchdogSequence    *SequenceMonitor
	WatchdogConfig      *ValueMonitor
	WatchdogService     *TriggerMonitor
	MPUEnterCheck       *ValueMonitor
	MPUExitCheck        *ValueMonitor
}

// NewSupervisor builds a Supervisor with all seven monitors wired to its
// own Handle, mirroring SafeSupervisor's constructor initializer list.
func NewSupervisor() *Supervisor {
	s := &Supervisor{limpHome: true}
	notify := s.Handle
	s.ManagerSequence = newSequenceMonitor(EventSafetyManagerSequenceDeviation, notify)
	s.WatchdogStartupCheck = newTriggerMonitor(EventWatchdogStartupCheckFailure, notify)
	s.WatchdogSequence = newSequenceMonitor(EventSafeWatchdogSequenceDeviation, notify)
	s.WatchdogConfig = newValueMonitor(EventSafeWatchdogConfigurationError, notify, true)
	s.WatchdogService = newTriggerMonitor(EventSafeWatchdogServiceDeviation, notify)
	s.MPUEnterCheck = newValueMonitor(EventMPUUnlockedOnSafetyManagerEntry, notify, true)
	s.MPUExitCheck = newValueMonitor(EventMPULockedOnSafetyManagerExit, notify, false)
	return s
}

// Handle is the single deviation path every monitor calls into
// (SafeSupervisor::handle): log the event, latch limpHome, request a reset.
// The original's per-event no-init-RAM bookkeeping has no equivalent here —
// there is no persistent RAM region to write to outside a reset — so every
// event just logs and latches.
func (s *Supervisor) Handle(event Event) {
	log.Warnf("safety: event %s, entering limp-home", event)
	s.EnterLimpHome()
	if s.OnReset != nil {
		s.OnReset()
	}
}

// EnterLimpHome latches the degraded-operation flag.
func (s *Supervisor) EnterLimpHome() { s.limpHome = true }

// LeaveLimpHome clears the degraded-operation flag — only valid to call
// after whatever external recovery action (a reset, an operator ack) the
// deviation demanded has actually happened.
func (s *Supervisor) LeaveLimpHome() { s.limpHome = false }

// LimpHome reports whether the supervisor is currently in degraded
// operation.
func (s *Supervisor) LimpHome() bool { return s.limpHome }
