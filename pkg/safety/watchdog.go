package safety

// watchdogServiceCounterInit mirrors SafeWatchdog::SERVICE_COUNTER_INIT: a
// sentinel so the very first Cyclic call never looks like a missed service.
const watchdogServiceCounterInit = 0xFFFFFFFF

// WatchdogSource is the hardware watchdog peripheral SafeWatchdog drives
// under PLATFORM_SUPPORT_WATCHDOG: a free-running service counter to detect
// a starved cyclic, the actual kick, and a one-shot config sanity check.
// This module has no MCU watchdog to bind to, so callers either supply a
// real implementation or leave it nil, in which case Watchdog behaves as if
// PLATFORM_SUPPORT_WATCHDOG were undefined — config always reports valid
// and nothing is serviced.
type WatchdogSource interface {
	ServiceCounter() uint32
	Service()
	ConfigValid() bool
}

// Watchdog is SafeWatchdog: a cyclic that services the hardware watchdog
// and reports two distinct deviations to the Supervisor — a bad
// configuration, and a service counter that jumped by more than one tick
// since the last cyclic (the watchdog fired without this code knowing).
type Watchdog struct {
	supervisor     *Supervisor
	source         WatchdogSource
	serviceCounter uint32
}

// NewWatchdog builds a Watchdog reporting into supervisor. source may be
// nil (see WatchdogSource).
func NewWatchdog(supervisor *Supervisor, source WatchdogSource) *Watchdog {
	return &Watchdog{supervisor: supervisor, source: source, serviceCounter: watchdogServiceCounterInit}
}

// Init resets the service-counter baseline (SafeWatchdog::init).
func (w *Watchdog) Init() { w.serviceCounter = watchdogServiceCounterInit }

// Cyclic runs one watchdog service (SafeWatchdog::cyclic). Manager.Cyclic
// calls this every watchdogCyclicCounter cycles, not every cycle.
func (w *Watchdog) Cyclic() {
	w.supervisor.WatchdogConfig.Check(w.configValid())
	if w.source != nil {
		current := w.source.ServiceCounter()
		if w.serviceCounter != watchdogServiceCounterInit && current > w.serviceCounter+1 {
			w.supervisor.WatchdogService.Trigger()
		}
		w.serviceCounter = current
		w.source.Service()
	}
	w.supervisor.WatchdogSequence.Hit(PhaseLeave)
}

func (w *Watchdog) configValid() bool {
	if w.source == nil {
		return true
	}
	return w.source.ConfigValid()
}
