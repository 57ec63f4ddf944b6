package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 唤醒状态常量
const (
	StateUnknown = "unknown"
	StateAsleep  = "asleep"
	StateOffline = "offline"
	StateWaking  = "waking"
	StateOnline  = "online"
)

// 事件常量
const (
	EventWakeSent   = "wake_sent"
	EventCameOnline = "came_online"
	EventTimedOut   = "timed_out"
)

// WakeState 车辆唤醒状态快照
type WakeState struct {
	VehicleID    int64         `json:"vehicle_id"`
	CurrentState string        `json:"state"`
	Since        time.Time     `json:"since"`
	LastAttempt  time.Time     `json:"last_attempt,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns,omitempty"`
}

// Machine 车辆唤醒状态机
type Machine struct {
	mu            sync.RWMutex
	vehicleID     int64
	fsm           *fsm.FSM
	state         *WakeState
	onStateChange func(vehicleID int64, from, to string)
}

// NewMachine 创建状态机
func NewMachine(vehicleID int64, initialState string, onStateChange func(vehicleID int64, from, to string)) *Machine {
	switch initialState {
	case StateAsleep, StateOffline, StateOnline:
	default:
		initialState = StateUnknown
	}

	m := &Machine{
		vehicleID:     vehicleID,
		onStateChange: onStateChange,
		state: &WakeState{
			VehicleID:    vehicleID,
			CurrentState: initialState,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 每次同步都重新发送唤醒
			{Name: EventWakeSent, Src: []string{StateUnknown, StateAsleep, StateOffline, StateOnline}, Dst: StateWaking},
			{Name: EventCameOnline, Src: []string{StateWaking, StateUnknown, StateAsleep, StateOffline}, Dst: StateOnline},
			{Name: EventTimedOut, Src: []string{StateWaking}, Dst: StateOffline},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.vehicleID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态
func (m *Machine) GetState() *WakeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// 返回副本
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	now := time.Now()
	if event == EventWakeSent {
		m.state.LastAttempt = now
	} else if !m.state.LastAttempt.IsZero() {
		m.state.LastDuration = now.Sub(m.state.LastAttempt)
	}
	m.state.CurrentState = m.fsm.Current()
	m.state.Since = now
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
	onChange func(vehicleID int64, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(vehicleID int64, from, to string)) *Manager {
	return &Manager{
		machines: make(map[int64]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(vehicleID int64, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[vehicleID]; ok {
		return machine
	}

	machine := NewMachine(vehicleID, initialState, m.onChange)
	m.machines[vehicleID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(vehicleID int64) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[vehicleID]
	return machine, ok
}
