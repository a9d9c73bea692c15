package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 同步阶段常量
const (
	StagePending   = "pending"
	StageFetching  = "fetching"
	StageMatching  = "matching"
	StageCreating  = "creating"
	StageUpdating  = "updating"
	StageMeasuring = "measuring"
	StageDone      = "done"
	StageSkipped   = "skipped"
	StageFailed    = "failed"
)

// 事件常量
const (
	EventStart       = "start"
	EventFetched     = "fetched"
	EventSkip        = "skip"
	EventMatchedNone = "matched_none"
	EventMatched     = "matched"
	EventMeasure     = "measure"
	EventFinish      = "finish"
	EventFail        = "fail"
)

var allStages = []string{
	StagePending, StageFetching, StageMatching, StageCreating, StageUpdating,
	StageMeasuring, StageDone, StageSkipped, StageFailed,
}

// SyncState 单车同步状态
type SyncState struct {
	SourceID string    `json:"source_id"`
	Stage    string    `json:"stage"`
	Since    time.Time `json:"since"`
	Name     string    `json:"name,omitempty"`
	VIN      string    `json:"vin,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	Miles    *float64  `json:"miles,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ChangeFunc 阶段变化回调，在状态机锁外调用
type ChangeFunc func(sourceID, from, to string)

// Machine 单车同步状态机
type Machine struct {
	mu       sync.RWMutex
	sourceID string
	fsm      *fsm.FSM
	state    *SyncState
	onChange ChangeFunc
}

// NewMachine 创建状态机
func NewMachine(sourceID string, onChange ChangeFunc) *Machine {
	m := &Machine{
		sourceID: sourceID,
		onChange: onChange,
		state: &SyncState{
			SourceID: sourceID,
			Stage:    StagePending,
			Since:    time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		StagePending,
		fsm.Events{
			// 每轮同步重新开始；上一轮被取消时可能停在任意阶段
			{Name: EventStart, Src: allStages, Dst: StageFetching},

			{Name: EventFetched, Src: []string{StageFetching}, Dst: StageMatching},
			{Name: EventSkip, Src: []string{StageFetching}, Dst: StageSkipped},

			{Name: EventMatchedNone, Src: []string{StageMatching}, Dst: StageCreating},
			{Name: EventMatched, Src: []string{StageMatching}, Dst: StageUpdating},

			// 创建失败不进入 measuring；更新失败仍然写入读数
			{Name: EventMeasure, Src: []string{StageCreating, StageUpdating}, Dst: StageMeasuring},
			{Name: EventFinish, Src: []string{StageMeasuring}, Dst: StageDone},

			{Name: EventFail, Src: []string{StageFetching, StageMatching, StageCreating, StageUpdating, StageMeasuring}, Dst: StageFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.state.Stage = e.Dst
				m.state.Since = time.Now()
			},
		},
	)

	return m
}

// CurrentStage 获取当前阶段
func (m *Machine) CurrentStage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取状态副本
func (m *Machine) GetState() *SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stateCopy := *m.state
	stateCopy.Stage = m.fsm.Current()
	if m.state.Miles != nil {
		miles := *m.state.Miles
		stateCopy.Miles = &miles
	}
	return &stateCopy
}

// UpdateState 更新状态数据
func (m *Machine) UpdateState(update func(s *SyncState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.state)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	from := m.fsm.Current()
	if event == EventStart {
		// fetching → fetching 不会触发 enter_state，上一轮的数据在这里清掉
		m.state.TargetID = ""
		m.state.Miles = nil
		m.state.Error = ""
		m.state.Since = time.Now()
	}
	err := m.fsm.Event(context.Background(), event)
	to := m.fsm.Current()
	m.mu.Unlock()

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	if m.onChange != nil && from != to {
		m.onChange(m.sourceID, from, to)
	}
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
	machines map[string]*Machine
	onChange ChangeFunc
}

// NewManager 创建管理器
func NewManager(onChange ChangeFunc) *Manager {
	return &Manager{
		machines: make(map[string]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(sourceID string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[sourceID]; ok {
		return machine
	}

	machine := NewMachine(sourceID, m.onChange)
	m.machines[sourceID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(sourceID string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[sourceID]
	return machine, ok
}

// GetAllStates 获取所有车辆状态，按 source id 排序
func (m *Manager) GetAllStates() []*SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*SyncState, 0, len(m.machines))
	for _, machine := range m.machines {
		states = append(states, machine.GetState())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SourceID < states[j].SourceID })
	return states
}
