package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_WakeCycle(t *testing.T) {
	var transitions [][2]string
	m := NewMachine(1, StateAsleep, func(_ int64, from, to string) {
		transitions = append(transitions, [2]string{from, to})
	})

	require.NoError(t, m.Trigger(EventWakeSent))
	assert.Equal(t, StateWaking, m.CurrentState())
	require.NoError(t, m.Trigger(EventCameOnline))
	assert.Equal(t, StateOnline, m.CurrentState())

	// 下一轮同步
	require.NoError(t, m.Trigger(EventWakeSent))
	require.NoError(t, m.Trigger(EventTimedOut))
	assert.Equal(t, StateOffline, m.CurrentState())

	assert.Equal(t, [][2]string{
		{StateAsleep, StateWaking},
		{StateWaking, StateOnline},
		{StateOnline, StateWaking},
		{StateWaking, StateOffline},
	}, transitions)
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := NewMachine(1, "", nil)
	assert.Equal(t, StateUnknown, m.CurrentState())
	assert.False(t, m.CanTransition(EventTimedOut))
	assert.Error(t, m.Trigger(EventTimedOut))
}

func TestManager_GetOrCreate(t *testing.T) {
	mgr := NewManager(nil)
	a := mgr.GetOrCreate(7, StateOffline)
	b := mgr.GetOrCreate(7, StateOnline)
	assert.Same(t, a, b)

	_, ok := mgr.Get(8)
	assert.False(t, ok)

	require.NoError(t, a.Trigger(EventWakeSent))
	got, ok := mgr.Get(7)
	require.True(t, ok)
	snap := got.GetState()
	assert.Equal(t, StateWaking, snap.CurrentState)
	assert.False(t, snap.LastAttempt.IsZero())
}
