package streampool

import (
	"errors"
	"testing"
)

func TestDefaultOptionsValid(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("DefaultOptions() must validate cleanly, got %v", err)
	}
}

func TestOptionsValidateJoinsAllViolations(t *testing.T) {
	o := Options{
		MaximumFreeSmallPoolBytes: -1,
		MaximumFreeLargePoolBytes: -1,
		MaximumStreamCapacity:     -1,
	}
	err := o.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("got %v, want ErrInvalidConfiguration", err)
	}
	if n := len(asJoinedErrors(err)); n != 3 {
		t.Fatalf("got %d joined errors, want 3", n)
	}
}

func asJoinedErrors(err error) []error {
	type joined interface{ Unwrap() []error }
	if j, ok := err.(joined); ok {
		return j.Unwrap()
	}
	return []error{err}
}
