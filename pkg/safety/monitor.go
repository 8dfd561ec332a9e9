package safety

// Phase is the two-state cycle a SequenceMonitor polices: every Hit(Enter)
// must be followed by a Hit(Leave) before the next Hit(Enter), mirroring
// both SafeSupervisor::SafetyManagerSequence and ::EnterLeaveSequence,
// which are the same shape under different names.
type Phase uint8

const (
	PhaseEnter Phase = iota
	PhaseLeave
)

// SequenceMonitor asserts events arrive in the declared cyclic order
// (safeMonitor::Sequence, as used by safetyManagerSequenceMonitor and
// safeWatchdogSequenceMonitor). The very first Hit is accepted
// unconditionally — there is no prior phase to have deviated from.
type SequenceMonitor struct {
	event   Event
	notify  func(Event)
	primed  bool
	expect  Phase
}

func newSequenceMonitor(event Event, notify func(Event)) *SequenceMonitor {
	return &SequenceMonitor{event: event, notify: notify, expect: PhaseEnter}
}

// Hit records one phase transition, invoking the supervisor's handle path
// if phase isn't the one this monitor was expecting next.
func (m *SequenceMonitor) Hit(phase Phase) {
	if m.primed && phase != m.expect {
		m.notify(m.event)
	}
	m.primed = true
	if phase == PhaseEnter {
		m.expect = PhaseLeave
	} else {
		m.expect = PhaseEnter
	}
}

// TriggerMonitor is a one-shot failure path (safeMonitor::Trigger, as used
// by watchdogStartupCheckMonitor and serviceWatchdogMonitor): every call to
// Trigger is itself the deviation, no state to compare against.
type TriggerMonitor struct {
	event  Event
	notify func(Event)
}

func newTriggerMonitor(event Event, notify func(Event)) *TriggerMonitor {
	return &TriggerMonitor{event: event, notify: notify}
}

// Trigger reports the one-shot condition occurred.
func (m *TriggerMonitor) Trigger() { m.notify(m.event) }

// ValueMonitor asserts a boolean equals an expected value whenever checked
// (safeMonitor::Value, as used by safeWatchdogConfigMonitor,
// mpuStatusCheckOnEnterMonitor, mpuStatusCheckOnLeaveMonitor).
type ValueMonitor struct {
	event    Event
	notify   func(Event)
	expected bool
}

func newValueMonitor(event Event, notify func(Event), expected bool) *ValueMonitor {
	return &ValueMonitor{event: event, notify: notify, expected: expected}
}

// Check compares actual against the expected value, invoking the
// supervisor's handle path on mismatch.
func (m *ValueMonitor) Check(actual bool) {
	if actual != m.expected {
		m.notify(m.event)
	}
}
