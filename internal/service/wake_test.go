package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/state"
)

func TestWake_ComesOnline(t *testing.T) {
	api := &fakeVehicleAPI{getVehicle: func(call int) (*tesla.Vehicle, error) {
		if call < 3 {
			return &tesla.Vehicle{State: "asleep"}, nil
		}
		return &tesla.Vehicle{State: "online"}, nil
	}}
	states := state.NewManager(nil)
	w := NewWakeController(api, states, time.Millisecond, time.Second, zaptest.NewLogger(t), nil)

	res := w.Wake(context.Background(), testVehicle(), "token")
	require.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, api.wakeCalls)
	assert.Equal(t, 3, api.vehicleCalls)

	m, ok := states.Get(testVehicle().ID)
	require.True(t, ok)
	assert.Equal(t, state.StateOnline, m.CurrentState())
}

func TestWake_TimeoutIsBounded(t *testing.T) {
	api := &fakeVehicleAPI{getVehicle: func(int) (*tesla.Vehicle, error) {
		return &tesla.Vehicle{State: "asleep"}, nil
	}}
	states := state.NewManager(nil)
	timeout := 50 * time.Millisecond
	w := NewWakeController(api, states, 10*time.Millisecond, timeout, zaptest.NewLogger(t), nil)

	start := time.Now()
	res := w.Wake(context.Background(), testVehicle(), "token")
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.True(t, res.IsOffline)
	assert.ErrorIs(t, res.Err, errWakeTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	m, _ := states.Get(testVehicle().ID)
	assert.Equal(t, state.StateOffline, m.CurrentState())
}

func TestWake_WakeRequestErrorKeepsPolling(t *testing.T) {
	api := &fakeVehicleAPI{
		wakeErr: errors.New("rate limited"),
		getVehicle: func(int) (*tesla.Vehicle, error) {
			return &tesla.Vehicle{State: "online"}, nil
		},
	}
	w := NewWakeController(api, state.NewManager(nil), time.Millisecond, time.Second, zaptest.NewLogger(t), nil)

	res := w.Wake(context.Background(), testVehicle(), "token")
	assert.True(t, res.Success)
}

func TestWake_ContextCancelled(t *testing.T) {
	api := &fakeVehicleAPI{getVehicle: func(int) (*tesla.Vehicle, error) {
		return nil, errors.New("vehicle unavailable")
	}}
	w := NewWakeController(api, state.NewManager(nil), time.Hour, 2*time.Hour, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := w.Wake(ctx, testVehicle(), "token")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestWake_SlowPollRespectsTimeout(t *testing.T) {
	api := &fakeVehicleAPI{
		vehicleDelay: 2 * time.Second,
		getVehicle: func(int) (*tesla.Vehicle, error) {
			return &tesla.Vehicle{State: "online"}, nil
		},
	}
	timeout := 100 * time.Millisecond
	w := NewWakeController(api, state.NewManager(nil), 10*time.Millisecond, timeout, zaptest.NewLogger(t), nil)

	start := time.Now()
	res := w.Wake(context.Background(), testVehicle(), "token")
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.True(t, res.IsOffline)
	assert.ErrorIs(t, res.Err, errWakeTimeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestWake_AlreadyWaking(t *testing.T) {
	api := &fakeVehicleAPI{}
	states := state.NewManager(nil)
	require.NoError(t, states.GetOrCreate(testVehicle().ID, state.StateAsleep).Trigger(state.EventWakeSent))
	w := NewWakeController(api, states, time.Millisecond, time.Second, zaptest.NewLogger(t), nil)

	res := w.Wake(context.Background(), testVehicle(), "token")
	require.True(t, res.Success)

	m, _ := states.Get(testVehicle().ID)
	assert.Equal(t, state.StateOnline, m.CurrentState())
}
