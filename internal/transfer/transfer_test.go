package transfer

import "testing"

func TestHappyPathTransitions(t *testing.T) {
	m := NewMachine()
	if err := m.BeginRegister(1); err != nil {
		t.Fatalf("BeginRegister: %v", err)
	}
	if err := m.BeginTransfer(); err != nil {
		t.Fatalf("BeginTransfer: %v", err)
	}
	if err := m.AdvanceFile(); err != nil {
		t.Fatalf("AdvanceFile: %v", err)
	}
	if err := m.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got := m.State()
	if got.Kind != Completed || got.Completed != 1 || got.TotalFiles != 1 {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestIllegalTransitionReturnsInvalidState(t *testing.T) {
	m := NewMachine()
	if err := m.BeginTransfer(); err == nil {
		t.Fatal("expected InvalidState when skipping BeginRegister")
	}
}

func TestCancelIsAlwaysLegal(t *testing.T) {
	m := NewMachine()
	m.BeginRegister(3)
	m.Cancel("peer unreachable")
	got := m.State()
	if got.Kind != Cancelled || got.Reason != "peer unreachable" {
		t.Fatalf("unexpected state after cancel: %+v", got)
	}
}
