package sfnet

import "testing"

func TestCallbacks_ValidateRequiresSetBodyLength(t *testing.T) {
	cb := Callbacks{DealTask: func(*Task) {}}
	if err := cb.validate(); err == nil {
		t.Error("expected error when SetBodyLength is nil")
	}
}

func TestCallbacks_ValidateRequiresDealTask(t *testing.T) {
	cb := Callbacks{SetBodyLength: func(*Task) {}}
	if err := cb.validate(); err == nil {
		t.Error("expected error when DealTask is nil")
	}
}

func TestCallbacks_ValidateOK(t *testing.T) {
	cb := Callbacks{
		SetBodyLength: func(*Task) {},
		DealTask:      func(*Task) {},
	}
	if err := cb.validate(); err != nil {
		t.Errorf("expected valid callbacks, got %v", err)
	}
}
