package errs

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("gena", CodeInvalid, WithMessage("bad response"))
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestIsCanonical(t *testing.T) {
	err := New("gena", CodeNotFound, WithCanonicalCode(CanonicalSidNotFound))
	if !IsCanonical(err, CanonicalSidNotFound) {
		t.Error("expected canonical code to match")
	}
	if IsCanonical(err, CanonicalHandleNotFound) {
		t.Error("expected canonical code mismatch")
	}
}

func TestErrorsIsBridge(t *testing.T) {
	sentinel := New("gena", CodeNotFound, WithCanonicalCode(CanonicalSidNotFound))
	wrapped := New("gena", CodeNotFound, WithCanonicalCode(CanonicalSidNotFound), WithCause(errors.New("network blip")))
	if !errors.Is(wrapped, sentinel) {
		t.Error("expected errors.Is to match same canonical code")
	}
}
