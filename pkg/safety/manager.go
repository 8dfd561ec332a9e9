package safety

import log "github.com/sirupsen/logrus"

// watchdogCyclicCounter is SafetyManager's WATCHDOG_CYCLIC_COUNTER. The
// cyclic task's own rate is a caller concern; cmd/docanuds runs the manager
// cyclic every 10ms, so servicing the watchdog every 8th call hits it
// roughly every 80ms, about three times within each 250ms watchdog window.
const watchdogCyclicCounter = 8

// MemoryProtection is the MPU fuse-gate lock SafetyManager scopes-unlocks
// for the duration of one cyclic (MemoryProtection::fusaGateIsLocked +
// ProtectedRamScopedUnlock). A nil MemoryProtection on Manager means this
// host has no MPU to gate, mirroring PLATFORM_SUPPORT_MPU being undefined:
// both lock checks are skipped.
type MemoryProtection interface {
	IsLocked() bool
	Lock()
	Unlock()
}

// Manager is SafetyManager: the cyclic that drives the Supervisor's
// sequence and MPU checks and services the Watchdog on its own slower
// cadence.
type Manager struct {
	supervisor *Supervisor
	watchdog   *Watchdog
	mpu        MemoryProtection
	counter    uint32
}

// NewManager builds a Manager over the given supervisor, watchdog and
// (optionally nil) MPU gate.
func NewManager(supervisor *Supervisor, watchdog *Watchdog, mpu MemoryProtection) *Manager {
	return &Manager{supervisor: supervisor, watchdog: watchdog, mpu: mpu}
}

// Init mirrors SafetyManager::init: unconditionally logs, then resets the
// watchdog's service-counter baseline. There is no MPU initialization step.
func (m *Manager) Init() {
	log.Warn("safety: manager initialized")
	m.watchdog.Init()
}

// Cyclic runs one safety-manager cycle (SafetyManager::cyclic, spec.md
// §4.7's five-step list): MPU-unlocked entry check, enter-sequence hit,
// watchdog service every watchdogCyclicCounter cycles, leave-sequence hit,
// MPU-still-unlocked exit check — the MPU is re-locked only once this
// function actually returns, via the deferred Lock.
func (m *Manager) Cyclic() {
	lockedOnEnter := true
	if m.mpu != nil {
		lockedOnEnter = m.mpu.IsLocked()
		m.mpu.Unlock()
		defer m.mpu.Lock()
	}
	m.supervisor.MPUEnterCheck.Check(lockedOnEnter)

	m.supervisor.ManagerSequence.Hit(PhaseEnter)
	m.counter++
	if m.counter >= watchdogCyclicCounter {
		m.supervisor.WatchdogSequence.Hit(PhaseEnter)
		m.watchdog.Cyclic()
		m.counter = 0
	}
	m.supervisor.ManagerSequence.Hit(PhaseLeave)

	lockedOnLeave := false
	if m.mpu != nil {
		lockedOnLeave = m.mpu.IsLocked()
	}
	m.supervisor.MPUExitCheck.Check(lockedOnLeave)
}
