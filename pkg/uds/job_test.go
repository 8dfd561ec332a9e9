package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobVerifyPrefixAndSession(t *testing.T) {
	job := NewService("Test", 0x22, NewSessionMask(SessionExtended))

	assert.Equal(t, NotResponsible, job.Verify(SessionExtended, []byte{0x10, 0x03}))
	assert.Equal(t, IsoServiceNotSupportedInActiveSession, job.Verify(SessionDefault, []byte{0x22, 0xF1, 0x90}))
	assert.Equal(t, OK, job.Verify(SessionExtended, []byte{0x22, 0xF1, 0x90}))
}

func TestJobVerifyMasksSuppressBitOnSubfunction(t *testing.T) {
	job := NewSubfunction("Test", 0x3E, 0x00, AllSessions)

	assert.Equal(t, OK, job.Verify(SessionDefault, []byte{0x3E, 0x00}))
	assert.Equal(t, OK, job.Verify(SessionDefault, []byte{0x3E, 0x80}), "suppress bit must not affect prefix match")
	assert.Equal(t, NotResponsible, job.Verify(SessionDefault, []byte{0x3E, 0x01}))
}

func TestJobVerifyTooShortRequest(t *testing.T) {
	job := NewSubfunction("Test", 0x10, 0x01, AllSessions)
	assert.Equal(t, IsoInvalidFormat, job.Verify(SessionDefault, []byte{0x10}))
}

func TestDispatchChildrenFirstMatchWins(t *testing.T) {
	var calledA, calledB bool
	a := NewSubfunction("A", 0x10, 0x01, AllSessions)
	a.Process = func(conn *Connection, request []byte) DiagReturnCode {
		calledA = true
		return OK
	}
	b := NewSubfunction("B", 0x10, 0x02, AllSessions)
	b.Process = func(conn *Connection, request []byte) DiagReturnCode {
		calledB = true
		return OK
	}

	code := dispatchChildren(SessionDefault, []*Job{a, b}, nil, []byte{0x10, 0x02})
	assert.Equal(t, OK, code)
	assert.False(t, calledA)
	assert.True(t, calledB)
}

func TestDispatchChildrenDefaultReturnCodeWhenNoneMatch(t *testing.T) {
	parent := NewService("Parent", 0x10, AllSessions)
	child := NewSubfunction("Child", 0x10, 0x01, AllSessions)
	parent.Children = []*Job{child}

	code := parent.process(SessionDefault, nil, []byte{0x10, 0x99})
	assert.Equal(t, IsoSubfunctionNotSupported, code)
}

func TestNewServiceAndSubfunctionSessionDeniedCodesDiffer(t *testing.T) {
	service := NewService("svc", 0x10, NewSessionMask(SessionExtended))
	subfn := NewSubfunction("sub", 0x10, 0x01, NewSessionMask(SessionExtended))

	require.Equal(t, IsoServiceNotSupportedInActiveSession, service.Verify(SessionDefault, []byte{0x10}))
	require.Equal(t, IsoSubfunctionNotSupportedInActiveSession, subfn.Verify(SessionDefault, []byte{0x10, 0x01}))
}
