package common

import (
	"errors"
	"testing"
)

type keyPauses map[string]bool

func (k keyPauses) IsPaused(key string) bool { return k[key] }

func TestGuardNilView(t *testing.T) {
	if err := GuardAction(nil, "lending", "borrow"); err != nil {
		t.Fatalf("expected nil view to allow, got %v", err)
	}
}

func TestGuardActionChecksModuleThenAction(t *testing.T) {
	view := keyPauses{"lending.borrow": true}
	if err := GuardAction(view, "lending", "borrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected borrow paused, got %v", err)
	}
	if err := GuardAction(view, "lending", "repay"); err != nil {
		t.Fatalf("expected repay allowed, got %v", err)
	}

	view = keyPauses{"lending": true}
	if err := GuardAction(view, "lending", "repay"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected module pause to block repay, got %v", err)
	}
}
