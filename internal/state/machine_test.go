package state

import (
	"testing"
)

type transition struct{ from, to string }

func TestMachineHappyPath(t *testing.T) {
	var seen []transition
	m := NewMachine("v-1", func(id, from, to string) {
		if id != "v-1" {
			t.Errorf("unexpected source id %q", id)
		}
		seen = append(seen, transition{from, to})
	})

	for _, ev := range []string{EventStart, EventFetched, EventMatchedNone, EventMeasure, EventFinish} {
		if err := m.Trigger(ev); err != nil {
			t.Fatalf("trigger %s: %v", ev, err)
		}
	}

	if m.CurrentStage() != StageDone {
		t.Fatalf("expected done, got %s", m.CurrentStage())
	}
	want := []transition{
		{StagePending, StageFetching},
		{StageFetching, StageMatching},
		{StageMatching, StageCreating},
		{StageCreating, StageMeasuring},
		{StageMeasuring, StageDone},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	m := NewMachine("v-1", nil)

	if err := m.Trigger(EventMatched); err == nil {
		t.Fatal("pending -> matched must be rejected")
	}
	_ = m.Trigger(EventStart)
	if m.CanTransition(EventMeasure) {
		t.Fatal("fetching cannot go straight to measuring")
	}
	if err := m.Trigger(EventSkip); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if m.CurrentStage() != StageSkipped {
		t.Fatalf("expected skipped, got %s", m.CurrentStage())
	}
}

func TestMachineRestartClearsRunData(t *testing.T) {
	m := NewMachine("v-1", nil)
	_ = m.Trigger(EventStart)
	miles := 10000.0
	m.UpdateState(func(s *SyncState) {
		s.TargetID = "42"
		s.Miles = &miles
		s.Error = "boom"
	})
	_ = m.Trigger(EventFail)

	if err := m.Trigger(EventStart); err != nil {
		t.Fatalf("restart from failed: %v", err)
	}
	st := m.GetState()
	if st.Stage != StageFetching || st.TargetID != "" || st.Miles != nil || st.Error != "" {
		t.Fatalf("expected clean state after restart, got %+v", st)
	}
}

func TestCallbackMayReadState(t *testing.T) {
	var m *Machine
	m = NewMachine("v-1", func(_, _, to string) {
		if got := m.GetState().Stage; got != to {
			t.Errorf("stage seen in callback = %s, want %s", got, to)
		}
	})
	if err := m.Trigger(EventStart); err != nil {
		t.Fatalf("trigger: %v", err)
	}
}

func TestManagerStatesSorted(t *testing.T) {
	mgr := NewManager(nil)
	mgr.GetOrCreate("b")
	mgr.GetOrCreate("a")
	if mgr.GetOrCreate("a") == nil {
		t.Fatal("expected existing machine")
	}

	states := mgr.GetAllStates()
	if len(states) != 2 || states[0].SourceID != "a" || states[1].SourceID != "b" {
		t.Fatalf("unexpected states %+v", states)
	}
	if _, ok := mgr.Get("c"); ok {
		t.Fatal("unknown id should not exist")
	}
}

func TestMachineRestartFromInterruptedFetchClearsRunData(t *testing.T) {
	m := NewMachine("v-1", nil)
	_ = m.Trigger(EventStart)
	miles := 10000.0
	m.UpdateState(func(s *SyncState) {
		s.TargetID = "42"
		s.Miles = &miles
		s.Error = "context canceled"
	})

	// 上一轮在 fetching 被取消，下一轮直接 start
	if err := m.Trigger(EventStart); err != nil {
		t.Fatalf("restart from fetching: %v", err)
	}
	st := m.GetState()
	if st.Stage != StageFetching || st.TargetID != "" || st.Miles != nil || st.Error != "" {
		t.Fatalf("expected clean state after restart, got %+v", st)
	}
}
