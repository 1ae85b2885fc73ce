package dberrors

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestLogGap_IsAndAs(t *testing.T) {
	err := errors.Wrap(NewLogGap(10, 14), "failed to replay")

	if !errors.Is(err, ErrLogGap) {
		t.Fatalf("Expected ErrLogGap mark on %v", err)
	}

	var gap *LogGapError
	if !errors.As(err, &gap) {
		t.Fatalf("Expected LogGapError in chain of %v", err)
	}
	if gap.Expected != 10 || gap.Got != 14 {
		t.Fatalf("Unexpected gap positions: %+v", gap)
	}
}

func TestInvariantf_IsAssertionFailure(t *testing.T) {
	err := Invariantf("keys out of order: %q >= %q", "b", "a")

	if !errors.Is(err, ErrInvariant) {
		t.Fatal("Expected ErrInvariant mark")
	}
	if !errors.IsAssertionFailure(err) {
		t.Fatal("Expected an assertion failure")
	}
	if errors.Is(err, ErrAllocation) {
		t.Fatal("Invariant violation must not look like an allocation failure")
	}
}

func TestAllocationf(t *testing.T) {
	err := errors.Wrap(Allocationf("no space for %d bytes", 4096), "failed to flush")
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("Expected ErrAllocation mark on %v", err)
	}
}
