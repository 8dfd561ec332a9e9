// Package safety implements the cyclic safety supervisor (spec.md §4.7,
// the "C10" component): three monitor kinds (sequence, trigger, value)
// feeding a single `handle` path that latches a process-wide limpHome flag,
// plus the manager/watchdog cyclic that drives them. Grounded on
// original_source/.../safeLifecycle/SafeSupervisor.{h,cpp},
// SafetyManager.cpp and safeWatchdog/SafeWatchdog.{h,cpp} — the
// safeMonitor::Sequence/Trigger/Value template library those files build on
// isn't itself in the example pack, so the three monitor kinds here are
// rebuilt from their call sites rather than ported from a template header.
package safety

import "fmt"

// Event identifies what tripped the supervisor (SafeSupervisor::Event).
type Event uint8

const (
	EventDummy Event = iota
	EventSafetyManagerSequenceDeviation
	EventWatchdogStartupCheckFailure
	EventSafeWatchdogSequenceDeviation
	EventSafeWatchdogConfigurationError
	EventSafeWatchdogServiceDeviation
	EventMPUUnlockedOnSafetyManagerEntry
	EventMPULockedOnSafetyManagerExit
)

var eventNames = map[Event]string{
	EventDummy:                           "dummy",
	EventSafetyManagerSequenceDeviation:  "safety manager sequence deviation",
	EventWatchdogStartupCheckFailure:     "watchdog startup check failure",
	EventSafeWatchdogSequenceDeviation:   "safe watchdog sequence deviation",
	EventSafeWatchdogConfigurationError:  "safe watchdog configuration error",
	EventSafeWatchdogServiceDeviation:    "safe watchdog service deviation",
	EventMPUUnlockedOnSafetyManagerEntry: "MPU unlocked on safety manager entry",
	EventMPULockedOnSafetyManagerExit:    "MPU locked on safety manager exit",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown safety event %d", uint8(e))
}
