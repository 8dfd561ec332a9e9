package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMPU struct {
	locked    bool
	unlocks   int
	lockCalls int
}

func (f *fakeMPU) IsLocked() bool { return f.locked }
func (f *fakeMPU) Unlock()        { f.locked = false; f.unlocks++ }
func (f *fakeMPU) Lock()          { f.locked = true; f.lockCalls++ }

func TestManagerCyclicUnlocksAndRelocksMPUAroundTheCall(t *testing.T) {
	s := NewSupervisor()
	s.LeaveLimpHome()
	mpu := &fakeMPU{locked: true}
	m := NewManager(s, NewWatchdog(s, nil), mpu)
	m.Init()

	m.Cyclic()

	assert.Equal(t, 1, mpu.unlocks)
	assert.Equal(t, 1, mpu.lockCalls)
	assert.True(t, mpu.locked, "relocked by the time Cyclic returns")
	assert.False(t, s.LimpHome(), "MPU was locked on entry, as expected")
}

func TestManagerCyclicFlagsMPUUnlockedOnEntry(t *testing.T) {
	s := NewSupervisor()
	s.LeaveLimpHome()
	mpu := &fakeMPU{locked: false} // already unlocked before Manager ever touches it
	m := NewManager(s, NewWatchdog(s, nil), mpu)
	m.Init()

	m.Cyclic()

	assert.True(t, s.LimpHome())
}

func TestManagerCyclicServicesWatchdogEveryNCycles(t *testing.T) {
	s := NewSupervisor()
	src := &fakeWatchdogSource{configValid: true}
	w := NewWatchdog(s, src)
	m := NewManager(s, w, nil)
	m.Init()

	for i := 0; i < watchdogCyclicCounter-1; i++ {
		m.Cyclic()
	}
	require.Equal(t, 0, src.serviced, "must not service before the Nth cycle")

	m.Cyclic()
	assert.Equal(t, 1, src.serviced, "the Nth cycle must service exactly once")
}

func TestManagerCyclicNoMPUSkipsLockChecks(t *testing.T) {
	s := NewSupervisor()
	s.LeaveLimpHome()
	m := NewManager(s, NewWatchdog(s, nil), nil)
	m.Init()

	m.Cyclic()
	assert.False(t, s.LimpHome())
}
